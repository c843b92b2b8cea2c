// Package storage persists subscriptions, location names and dedup markers.
//
// Two drivers exist: sqlite for durable state and memory for tests and
// throwaway runs. Engine code depends on the narrow Subscriptions, Locations
// and Dedup interfaces.
package storage
