//go:build cgo_sqlite
// +build cgo_sqlite

package store

// Built with `go build -tags cgo_sqlite`: links the cgo SQLite driver
// instead of the pure-Go one in driver_purego.go, grounded on the pack's
// build-tag-gated driver swap (dshills-gocontext-mcp/internal/storage/
// build_cgo.go). Useful when CGO is available and the cgo driver's extra
// SQLite build options (e.g. FTS5) are needed; the pure-Go driver remains
// the default because it requires no C toolchain.
import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver name Open/OpenMemory register under
// for this build.
const driverName = "sqlite3"
