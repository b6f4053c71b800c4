// Package stream turns a backend connection into a continuous, pull-driven
// sequence of typed chat events.
//
// # States
//
//	Disconnected -> Connecting -> Connected
//	      ^              |            |
//	      +--------------+------------+  (read or connect failure)
//
// A failed connection attempt schedules the next one after the current
// backoff (1s doubling up to 120s) instead of sleeping, so callers are never
// blocked by a dead backend. A successful attempt resets the backoff.
//
// Maintain runs the same state machine without reading events. It learns
// about a dropped socket from Transport.Err, so a connection lost while no
// client is attached is replaced all the same. Transports cap what they
// buffer at MaxBuffered frames and fail with ErrBufferFull past that; the
// reconnect's backfill then covers the discarded frames.
//
// # Ordering
//
// Synthetic events (replayed history, file announcements, joins discovered by
// the member cache) go through an internal FIFO queue that is always drained
// before live events are read.
//
// # Backfill
//
// After every successful connection the engine replays the history of each
// member channel newer than the last consumed timestamp. Thread replies are
// spliced right after their parent message in chronological order.
package stream
