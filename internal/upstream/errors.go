package upstream

import "errors"

var (
	// ErrRateLimited is returned once the retry budget is spent on 429 responses.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrUnauthorized is returned when every credential was rejected.
	ErrUnauthorized = errors.New("upstream rejected all credentials")
	// ErrUpstream covers transport failures, unexpected statuses and undecodable bodies.
	ErrUpstream = errors.New("upstream request failed")
)
