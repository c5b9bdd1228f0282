package erase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// TreeResult aggregates the outcome of erasing a path.
type TreeResult struct {
	Files       int
	Erased      int
	Incomplete  int
	Directories int
	Removed     int
	Errors      []error
}

// Err joins every collected error, nil when all steps succeeded.
func (r TreeResult) Err() error {
	return errors.Join(r.Errors...)
}

// EraseTree erases path. Directories are walked with an explicit stack: every
// contained file is erased first, then the directories are removed deepest
// first. Symbolic links are unlinked without touching their target.
//
// A missing path returns an error wrapping fs.ErrNotExist; per-file failures
// are collected in the result rather than aborting the walk.
func (e *Eraser) EraseTree(ctx context.Context, path string) (TreeResult, error) {
	var result TreeResult

	info, err := os.Lstat(path)
	if err != nil {
		return result, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		e.eraseEntry(ctx, path, info.Mode(), &result)
		return result, nil
	}

	var dirs []string
	stack := []string{path}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, err)
			return result, nil
		}
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dirs = append(dirs, dir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("failed to read %s: %w", dir, err))
			continue
		}
		for _, entry := range entries {
			child := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				stack = append(stack, child)
				continue
			}
			e.eraseEntry(ctx, child, entry.Type(), &result)
		}
	}

	result.Directories = len(dirs)
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, fmt.Errorf("failed to remove directory %s: %w", dirs[i], err))
			continue
		}
		result.Removed++
	}
	return result, nil
}

func (e *Eraser) eraseEntry(ctx context.Context, path string, mode fs.FileMode, result *TreeResult) {
	if mode&fs.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Errors = append(result.Errors, fmt.Errorf("failed to unlink %s: %w", path, err))
		}
		return
	}

	result.Files++
	err := e.Erase(ctx, path)
	switch {
	case err == nil:
		result.Erased++
	case errors.Is(err, ErrEraseIncomplete):
		result.Incomplete++
		result.Errors = append(result.Errors, err)
	case errors.Is(err, fs.ErrNotExist):
		// Deleted concurrently; nothing left to erase.
		result.Erased++
	default:
		result.Errors = append(result.Errors, err)
	}
}
