package main

import (
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitInvalidArgs   = 2
	ExitMetadataError = 3
	ExitStorageError  = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		return runFetch(cmdArgs)
	case "serve":
		return runServe(cmdArgs)
	case "status":
		return runStatus(cmdArgs)
	case "purge":
		return runPurge(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: hoard <command> [options]

Commands:
  fetch   Download one batch of tasks, resuming partial downloads, and package it
  serve   Run the HTTP API for submitting and watching batches
  status  List partial downloads kept in the store
  purge   Delete partial downloads from the store

Run 'hoard <command> -h' for command-specific help.`)
}
