// Package progress prints human-readable progress for a running batch.
//
// A Reporter is a task.Observer: hand it to the orchestrator and it keeps
// per-task state, printing an aggregate line periodically plus one line for
// every task that completes or fails.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    BatchID: id,
//	    Tasks:   len(tasks),
//	    Output:  os.Stderr,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// # Output Format
//
//	[hoard] Batch 6f1c...: 12 tasks | chunk size 8.0 MiB | concurrency 10
//	[hoard] Progress: 45.2% | 5/12 completed | 4 active | 1 failed | 3 pending | ETA: 1m 12s
//	[hoard] Task photo-17 failed: fetch: cancelled: http: request aborted
package progress
