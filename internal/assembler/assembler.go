// Package assembler joins downloaded segment files into one stream.
package assembler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoSegments is returned when the directory holds no segment files.
var ErrNoSegments = errors.New("no segment files to assemble")

// Segments lists the files in dir with extension ext, sorted by name.
func Segments(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ext) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}

	return paths, nil
}

// Concatenate appends the raw bytes of every ext file in dir, in ascending
// name order, to a new file at out. It returns the number of bytes written.
// Nothing is re-encoded. A partially written out is removed on failure.
func Concatenate(dir, ext, out string) (int64, error) {
	paths, err := Segments(dir, ext)
	if err != nil {
		return 0, err
	}
	if len(paths) == 0 {
		return 0, ErrNoSegments
	}

	return ConcatenateFiles(paths, out)
}

// ConcatenateFiles appends paths, in the given order, to a new file at out.
func ConcatenateFiles(paths []string, out string) (n int64, err error) {
	dst, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("failed to create output: %w", err)
	}
	defer func() {
		if cerr := dst.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close output: %w", cerr)
		}
		if err != nil {
			os.Remove(out)
			n = 0
		}
	}()

	for _, p := range paths {
		written, err := appendFile(dst, p)
		n += written
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func appendFile(dst io.Writer, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open segment: %w", err)
	}
	defer src.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, fmt.Errorf("failed to append %s: %w", filepath.Base(path), err)
	}

	return n, nil
}
