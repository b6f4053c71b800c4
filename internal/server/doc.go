// Package server runs the IRC side of the gateway.
//
// # Loop
//
// The server accepts one IRC client at a time. While a client is attached a
// single goroutine owns the session and selects on:
//
//   - lines from the client, read by a helper goroutine
//   - the stream engine becoming readable
//   - a poll ticker
//
// After each wakeup the engine is pumped until it has nothing more to
// deliver. With no client attached the engine is only maintained, so events
// are neither consumed nor lost from the backend's point of view.
//
// # Supervision
//
// A panic or write failure in a session closes only that connection. When
// the listener itself fails, Run reopens it, at most RestartBurst times in a
// row and then at RestartRate.
//
// # Listeners
//
// TCPListener binds a plain address. Tailnet joins a tailnet with tsnet and
// listens there instead.
package server
