// Package upstream talks to the marketplace supplies API.
//
// A Client fetches acceptance coefficient snapshots for a set of locations
// and the location catalog. Every request is paced through one shared limiter
// and authenticated with the current credential of a CredentialPool. Rate
// limits and rejected credentials rotate the pool; see FetchSnapshot for the
// retry rules.
package upstream
