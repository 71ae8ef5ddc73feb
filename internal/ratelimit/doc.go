// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries.
//
// The server applies it to mutating requests only: package uploads, content
// saves, library installs and user data writes. Reads of player assets are
// never limited since one play view fans out into dozens of requests.
//
// This is a single-instance, in-memory limiter. It does not protect against
// distributed attacks, and inbound bodies are already accepted by the time
// a request is rejected.
package ratelimit
