package processor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/hyperjump/wembed/internal/fileid"
)

// sniffBytes is how much of a file is needed for reliable MIME detection.
const sniffBytes = 3072

var errContentChanged = errors.New("content changed since scan")

type fileData struct {
	info    fs.FileInfo
	content []byte // nil above the ceiling
	head    []byte
}

// readFile reads path in full when it fits under ceiling and checks it still has
// fingerprint. Larger files only have their first headBytes read.
func readFile(path, fingerprint string, ceiling int64, headBytes int) (*fileData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	d := &fileData{info: info}

	if info.Size() <= ceiling {
		content, err := io.ReadAll(io.LimitReader(f, ceiling+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if fileid.FingerprintBytes(content) != fingerprint {
			return nil, errContentChanged
		}
		d.content = content
		d.head = content[:min(len(content), max(headBytes, sniffBytes))]
		return d, nil
	}

	head := make([]byte, max(headBytes, sniffBytes))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	d.head = head[:n]
	return d, nil
}
