package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalFootprint returns the bytes used by a SQLite database and its WAL sidecar files.
func LocalFootprint(dbPath string) (int64, error) {
	return DiskUsageBytes(dbPath, dbPath+"-wal", dbPath+"-shm")
}

// DiskUsageBytes sums the sizes of files and directory trees. Missing paths count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
