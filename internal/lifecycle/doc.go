// Package lifecycle owns the process states, the ephemeral upload directory
// and the single shutdown routine.
//
// States only move forward: Uninitialized, Configuring, Serving,
// Terminating. Readiness passes only while Serving. Every termination
// source (SIGINT, SIGTERM, SIGQUIT, context cancellation or a fatal error
// reported with Fail) funnels into one shutdown that runs the stop hooks
// and then removes the temp directory, bounded by the shutdown timeout.
package lifecycle
