// Package sqlitedb opens SQLite connection handles shaped for the pool:
// every handle is capped at exactly one underlying connection, so a
// handle can be exclusively owned by one worker.
//
// Two drivers are supported: the pure Go modernc.org/sqlite by default,
// and mattn/go-sqlite3 when built with -tags cgo_sqlite (requires
// CGO_ENABLED=1). Use Open or Factory instead of sql.Open so the right
// driver name is used.
//
// PRAGMA tuning (WAL, busy timeout, foreign keys, synchronous level,
// mmap, temp store) is applied at open time through functional options,
// and a TOML-backed Config covers file-based deployment configuration.
package sqlitedb
