// Package notifier delivers slot alerts to subscribers.
//
// A Dispatcher renders one alert per (subscription, offer) match, sends it
// through a transport.Sender with pacing and retries, then records the dedup
// marker and retires one-shot subscriptions. Delivery failures are reported in
// the Result and never returned as panics or aborted cycles.
//
// # Transport
//
// Delivery goes through transport.Sender (the Telegram adapter in
// production). Permanent recipient errors (bot blocked, chat gone) are not
// retried; flood-control replies are honored as a minimum retry delay.
package notifier
