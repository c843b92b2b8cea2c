// Package scheduler triggers recurring jobs (cron or interval) on a robfig/cron runner.
//
// Every schedule runs with a per-run timeout and panic recovery. A trigger
// that fires while the previous run of the same schedule is still in flight
// is skipped and counted, never queued.
package scheduler
