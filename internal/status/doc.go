// Package status persists the stream watermark between runs.
//
// The status is a small JSON document:
//
//	{"last_timestamp": 1700000000.000200}
//
// Three stores keep it: a plain file replaced atomically, a single-row
// SQLite table, or one Redis key. A missing status loads as the zero value,
// which disables history backfill on the next connect.
package status
