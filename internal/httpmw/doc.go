// Package httpmw provides HTTP middleware for the public-facing server.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request ID, client IP, rate limiting, OTEL tracing, trace
// response headers, platform headers, metrics and request logging, then the
// body pipeline (request context, JSON body, form body, multipart uploads,
// temp-file cleanup, user injection and localization) in front of the chi
// router.
//
// Request logs carry method, path, query and addresses. Bodies and user
// agents are never logged.
package httpmw
