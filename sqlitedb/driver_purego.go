//go:build !cgo_sqlite

// ABOUTME: Default driver selection: pure Go modernc.org/sqlite, no CGO required.

package sqlitedb

import (
	_ "modernc.org/sqlite"
)

const (
	driverName    = "sqlite"
	driverPackage = "modernc.org/sqlite"
)
