// Package httpapi exposes the engine's client-facing operations as a gin
// router with JSON bodies.
//
// Policy rejections map to generic 401 and 429 answers; a 429 carries
// Retry-After and retry_after_seconds so a client can render a countdown.
// Backend failures map to 503.
package httpapi
