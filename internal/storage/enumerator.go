package storage

import (
	"errors"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const readDirBatch = 128

// Snapshot lists the image files below root depth-first and yields their
// references, each prefixed with prefix ("txt2img-images/2024-01-25/x.png").
// The sequence is lazy and restartable: every range starts a new traversal
// and stops reading the disk as soon as the consumer stops.
//
// Entry order is whatever the filesystem reports. A missing root yields
// nothing; unreadable directories are logged and skipped.
func Snapshot(root, prefix, extension string) iter.Seq[string] {
	return func(yield func(string) bool) {
		type pending struct {
			abs string
			rel string
		}
		stack := []pending{{abs: root, rel: prefix}}

		for len(stack) > 0 {
			current := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			subdirs, ok := walkDir(current.abs, current.rel, extension, yield)
			if !ok {
				return
			}
			// Push in reverse so the first subdirectory is visited next.
			for i := len(subdirs) - 1; i >= 0; i-- {
				stack = append(stack, pending{
					abs: filepath.Join(current.abs, subdirs[i]),
					rel: joinReference(current.rel, subdirs[i]),
				})
			}
		}
	}
}

// walkDir yields the matching files of one directory and returns the names of
// its subdirectories. ok is false when the consumer stopped.
func walkDir(dir, rel, extension string, yield func(string) bool) (subdirs []string, ok bool) {
	f, err := os.Open(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("snapshot: directory does not exist", "dir", dir)
		} else {
			slog.Warn("snapshot: failed to open directory, skipping subtree", "dir", dir, "error", err)
		}
		return nil, true
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			slog.Debug("snapshot: failed to close directory", "dir", dir, "error", cerr)
		}
	}()

	for {
		entries, err := f.ReadDir(readDirBatch)
		for _, entry := range entries {
			name := entry.Name()
			switch {
			case entry.IsDir():
				subdirs = append(subdirs, name)
			case entry.Type().IsRegular() && HasExtension(name, extension):
				if !yield(joinReference(rel, name)) {
					return nil, false
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("snapshot: failed to read directory, truncating", "dir", dir, "error", err)
			}
			return subdirs, true
		}
	}
}

// HasExtension reports whether name ends with extension, ignoring case.
// An empty extension matches every name.
func HasExtension(name, extension string) bool {
	if extension == "" {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), extension)
}

func joinReference(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
