// Package fileid derives content fingerprints and path keys for files.
package fileid

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Fingerprint returns the hex SHA-256 of everything read from r.
func Fingerprint(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintBytes returns the hex SHA-256 of b.
func FingerprintBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FingerprintFile hashes the file at path and returns the fingerprint and the number of bytes read.
func FingerprintFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", n, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// LockKey maps a path to a stable signed 64-bit key, used for per-path advisory locks.
// Paths are cleaned first so equivalent spellings share a key.
func LockKey(path string) int64 {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
