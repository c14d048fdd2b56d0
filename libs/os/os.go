package os

import (
	"bytes"
	"fmt"
	"os"

	"github.com/creachadair/atomicfile"
)

// EnsureDir creates dir and any missing parents with the given mode.
func EnsureDir(dir string, mode os.FileMode) error {
	if err := os.MkdirAll(dir, mode); err != nil {
		return fmt.Errorf("could not create directory %q: %w", dir, err)
	}
	return nil
}

// FileExists reports whether filePath exists.
func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}

// WriteFileAtomic writes data to filePath through a temporary file that is
// renamed into place, so readers never observe a partial file.
func WriteFileAtomic(filePath string, data []byte, mode os.FileMode) error {
	_, err := atomicfile.WriteAll(filePath, bytes.NewReader(data), mode)
	return err
}

// WriteFileAtomicFrom is WriteFileAtomic for content produced by a writer
// callback, e.g. a rendered template.
func WriteFileAtomicFrom(filePath string, mode os.FileMode, fill func(*bytes.Buffer) error) error {
	var buf bytes.Buffer
	if err := fill(&buf); err != nil {
		return err
	}
	_, err := atomicfile.WriteAll(filePath, &buf, mode)
	return err
}
