//go:build cgo_sqlite

// ABOUTME: Optional CGO driver selection: mattn/go-sqlite3 behind the cgo_sqlite build tag.
// ABOUTME: Build with CGO_ENABLED=1 go build -tags cgo_sqlite.

package sqlitedb

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverName    = "sqlite3"
	driverPackage = "github.com/mattn/go-sqlite3"
)
