//go:build purego

package storage

// Build with: CGO_ENABLED=0 go build -tags purego ./...

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver used for the local store.
const DriverName = "sqlite"

// BuildMode describes which SQLite implementation was compiled in.
const BuildMode = "purego"
