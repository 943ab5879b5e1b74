package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/ligustah/hoard/internal/blobstore"
	"github.com/ligustah/hoard/internal/progress"
)

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	flags := addConfigFlags(fs, false)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: hoard status [options]

List the partial downloads kept in the store. Each entry is resumed by the
next fetch of the same task id.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := flags.load()
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}

	ctx := context.Background()
	store, err := blobstore.Open(ctx, cfg.Store)
	if err != nil {
		fail(err)
		return ExitStorageError
	}
	defer store.Close()

	return printStatus(ctx, store)
}

func printStatus(ctx context.Context, store blobstore.Store) int {
	entries, err := store.List(ctx)
	if err != nil {
		fail(err)
		return ExitStorageError
	}
	if len(entries) == 0 {
		fmt.Println("No partial downloads")
		return ExitSuccess
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	var total int64
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTORED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.ID, progress.FormatBytes(e.Size))
		total += e.Size
	}
	w.Flush()
	fmt.Printf("\n%d partial downloads, %s\n", len(entries), progress.FormatBytes(total))
	return ExitSuccess
}

func runPurge(args []string) int {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	id := fs.String("id", "", "Task id to purge")
	all := fs.Bool("all", false, "Purge every partial download")
	flags := addConfigFlags(fs, false)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: hoard purge [options]

Delete partial downloads from the store. The next fetch of a purged task
starts from the beginning.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if (*id == "") == !*all {
		fmt.Fprintln(os.Stderr, "Error: exactly one of -id or -all is required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := flags.load()
	if err != nil {
		fail(err)
		return ExitInvalidArgs
	}

	ctx := context.Background()
	store, err := blobstore.Open(ctx, cfg.Store)
	if err != nil {
		fail(err)
		return ExitStorageError
	}
	defer store.Close()

	return purge(ctx, store, *id)
}

// purge deletes the partial of id, or every partial when id is empty.
func purge(ctx context.Context, store blobstore.Store, id string) int {
	ids := []string{id}
	if id == "" {
		entries, err := store.List(ctx)
		if err != nil {
			fail(err)
			return ExitStorageError
		}
		ids = ids[:0]
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}

	for _, id := range ids {
		if err := store.Delete(ctx, id); err != nil {
			fail(err)
			return ExitStorageError
		}
	}
	fmt.Fprintf(os.Stderr, "[hoard] Purged %d partial downloads\n", len(ids))
	return ExitSuccess
}
