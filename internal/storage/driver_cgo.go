//go:build !purego

package storage

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used for the local store.
const DriverName = "sqlite3"

// BuildMode describes which SQLite implementation was compiled in.
const BuildMode = "cgo"
