// Package erase destroys image files before removal: the contents are first
// overwritten with ciphertext under a throwaway key, then an external secure
// delete utility is run on the file.
package erase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrEraseIncomplete reports that the external utility was missing or failed.
// The file may still exist in its encrypted form.
var ErrEraseIncomplete = errors.New("erase incomplete")

// Runner executes the external secure delete utility.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct{}

// Run executes name with args and returns its combined output.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Options configures an Eraser.
type Options struct {
	// Command is the secure delete utility. Default: "sdelete".
	Command string
	// Args precede the file path. Default: -p 3 -s -q.
	Args []string
	// Timeout bounds one utility run. Default: 2 minutes.
	Timeout time.Duration
	// Runner overrides the subprocess runner.
	Runner Runner
}

func (o *Options) defaults() {
	if o.Command == "" {
		o.Command = "sdelete"
		if o.Args == nil {
			o.Args = []string{"-p", "3", "-s", "-q"}
		}
	}
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Minute
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{}
	}
}

// Eraser applies the encrypt-then-delete sequence to files.
type Eraser struct {
	opts Options
}

// New creates an Eraser.
func New(opts Options) *Eraser {
	opts.defaults()
	return &Eraser{opts: opts}
}

// Erase encrypts the file at path in place and then hands it to the external
// utility. A utility failure is returned wrapped in ErrEraseIncomplete; the
// file is left encrypted in that case.
func (e *Eraser) Erase(ctx context.Context, path string) error {
	if err := EncryptInPlace(path); err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", path, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	args := append(append([]string{}, e.opts.Args...), path)
	output, err := e.opts.Runner.Run(runCtx, e.opts.Command, args...)
	if err != nil {
		slog.Error("erase: secure delete utility failed",
			"command", e.opts.Command,
			"path", path,
			"error", err,
			"output", strings.TrimSpace(string(output)))
		return fmt.Errorf("%s %s: %v: %w", e.opts.Command, path, err, ErrEraseIncomplete)
	}

	slog.Debug("erase: file erased", "path", path)
	return nil
}
