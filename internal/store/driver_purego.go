//go:build !cgo_sqlite
// +build !cgo_sqlite

package store

// Default build: pure-Go SQLite, no C toolchain required. See
// driver_cgo.go for the cgo alternative.
import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver name Open/OpenMemory register under
// for this build.
const driverName = "sqlite"
