// Package poller runs the polling cycle: load active subscriptions, group
// them, fetch one snapshot per group, match, deduplicate and dispatch.
//
// Only one cycle runs at a time. A tick that arrives while a cycle is in
// flight is skipped and counted. Failures are contained: a subscriber's
// delivery failure never affects its group, a group's failure (upstream
// error or panic) never affects its siblings, and only a failure to load
// subscriptions aborts the cycle.
package poller
