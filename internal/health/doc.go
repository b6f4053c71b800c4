// Package health serves the HTTP liveness and status endpoints.
//
//	GET /health  200 "ok" while the process runs
//	GET /status  JSON snapshot of the stream engine and the IRC side
//
// The endpoint is optional and bound with health.addr.
package health
