package process

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Tail returns up to maxBytes from the end of the file at path, starting at
// a line boundary when the file was truncated. A missing file yields "".
func Tail(path string, maxBytes int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	size := info.Size()
	offset := int64(0)
	if maxBytes > 0 && size > int64(maxBytes) {
		offset = size - int64(maxBytes)
	}

	buf := make([]byte, size-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	if offset > 0 {
		if i := bytes.IndexByte(buf, '\n'); i >= 0 && i < len(buf)-1 {
			buf = buf[i+1:]
		}
	}
	return string(buf), nil
}
