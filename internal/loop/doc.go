// Package loop drives a bundle.Manager from a single goroutine.
//
// The Manager is not safe for concurrent use, so every access from
// outside goes through Do or Until, which run on the loop goroutine
// between ticks. Cron jobs (e.g. cache pruning) are kept in a min-heap
// sorted by their next fire time and run on the same goroutine, with a
// 60-second max-sleep-cap so wall-clock jumps are noticed.
package loop
