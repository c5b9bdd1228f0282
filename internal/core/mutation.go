package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jo-hoe/gallerysync/internal/backend/commands"
)

var (
	ErrInvalidFilename = errors.New("invalid filename")
	ErrEmptyPaste      = errors.New("empty paste")
	ErrPasteTooLarge   = errors.New("paste exceeds size limit")
)

const pasteExtension = ".png"

// DeleteImage securely erases the file or directory tree behind ref. A
// reference that no longer exists is treated as already deleted.
func (service *CoreService) DeleteImage(ctx context.Context, ref string) error {
	target, err := service.resolver.Resolve(ref)
	if err != nil {
		slog.Warn("delete rejected", "ref", ref, "error", err)
		return err
	}

	result, err := service.eraser.EraseTree(ctx, target)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("delete target already gone", "ref", ref)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}

	attrs := []any{
		"ref", ref,
		"files", result.Files,
		"erased", result.Erased,
		"incomplete", result.Incomplete,
		"directories", result.Directories,
		"directories_removed", result.Removed,
	}
	if err := result.Err(); err != nil {
		slog.Error("delete finished with errors", append(attrs, "error", err)...)
		return fmt.Errorf("failed to delete %s: %w", ref, err)
	}
	slog.Info("delete completed", attrs...)
	return nil
}

// StoreUpload writes an uploaded file unmodified into the pastes bucket under
// the base name of filename and returns its reference. An existing file of
// the same name is replaced.
func (service *CoreService) StoreUpload(filename string, r io.Reader) (string, error) {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == ".." || name == "/" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%q: %w", filename, ErrInvalidFilename)
	}

	ref := path.Join(service.config.PasteDir, name)
	target, err := service.resolver.Resolve(ref)
	if err != nil {
		return "", fmt.Errorf("%q: %w", filename, ErrInvalidFilename)
	}
	if _, err := service.resolver.EnsureDir(service.config.PasteDir); err != nil {
		return "", err
	}

	if err := writeFileAtomic(target, r); err != nil {
		return "", err
	}
	slog.Info("upload stored", "ref", ref)
	return ref, nil
}

// PasteImage converts pasted clipboard bytes with the paste command chain and
// stores the result as pastes/<unix-nanos>.png. Viewers learn about the file
// through the pastes watcher.
func (service *CoreService) PasteImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPaste
	}
	if len(data) > service.config.MaxPasteBytes {
		return "", fmt.Errorf("%d bytes (limit %d): %w", len(data), service.config.MaxPasteBytes, ErrPasteTooLarge)
	}
	// Formats without a registered header decoder (SVG) are sized by the
	// command chain itself.
	if err := commands.CheckImageSize(data, service.config.MaxPastePixels); errors.Is(err, commands.ErrImageTooLarge) {
		return "", err
	}

	converted, err := service.paste.Execute(data)
	if err != nil {
		return "", fmt.Errorf("failed to process paste: %w", err)
	}

	dir, err := service.resolver.EnsureDir(service.config.PasteDir)
	if err != nil {
		return "", err
	}
	name := strconv.FormatInt(service.clock.Now().UnixNano(), 10) + pasteExtension
	if err := writeFileAtomic(filepath.Join(dir, name), bytes.NewReader(converted)); err != nil {
		return "", err
	}

	ref := path.Join(service.config.PasteDir, name)
	slog.Info("paste stored", "ref", ref, "size_bytes", len(converted))
	return ref, nil
}

// writeFileAtomic streams r into a hidden temporary file next to target and
// renames it into place, so watchers only ever see complete files.
func writeFileAtomic(target string, r io.Reader) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		if err := os.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove temporary file", "path", tmpName, "error", err)
		}
	}

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", target, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions on %s: %w", target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("failed to move %s into place: %w", target, err)
	}
	return nil
}
