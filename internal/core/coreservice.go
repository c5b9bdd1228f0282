package core

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jo-hoe/gallerysync/internal/backend/commandstructure"
	"github.com/jo-hoe/gallerysync/internal/erase"
	"github.com/jo-hoe/gallerysync/internal/storage"
	"github.com/jo-hoe/gallerysync/internal/watch"
)

type CoreService struct {
	config   *ServiceConfig
	resolver *storage.Resolver
	watches  *watch.Registry
	eraser   *erase.Eraser
	paste    *commandstructure.CommandInvoker
	location *time.Location
	clock    clockwork.Clock

	mutations sync.WaitGroup
}

type serviceOptions struct {
	eraseRunner erase.Runner
	clock       clockwork.Clock
}

// Option customizes a CoreService.
type Option func(*serviceOptions)

// WithEraseRunner replaces the subprocess runner used for the secure delete
// utility.
func WithEraseRunner(runner erase.Runner) Option {
	return func(o *serviceOptions) {
		o.eraseRunner = runner
	}
}

// WithClock replaces the real clock used for date buckets and paste names.
func WithClock(clock clockwork.Clock) Option {
	return func(o *serviceOptions) {
		o.clock = clock
	}
}

func NewCoreService(config *ServiceConfig, opts ...Option) (*CoreService, error) {
	options := serviceOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&options)
	}

	location, err := config.Location()
	if err != nil {
		return nil, err
	}
	resolver, err := storage.NewResolver(config.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize output root: %w", err)
	}
	if err := os.MkdirAll(resolver.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output root: %w", err)
	}
	pasteCommands, err := commandstructure.DefaultRegistry.Build(config.Paste.Commands)
	if err != nil {
		return nil, fmt.Errorf("failed to build paste commands: %w", err)
	}

	service := &CoreService{
		config:   config,
		resolver: resolver,
		watches:  watch.NewRegistry(watch.Options{Extension: config.ImageExtension}),
		eraser: erase.New(erase.Options{
			Command: config.Erase.Command,
			Args:    config.Erase.Args,
			Timeout: time.Duration(config.Erase.TimeoutSeconds) * time.Second,
			Runner:  options.eraseRunner,
		}),
		paste:    commandstructure.NewCommandInvoker(pasteCommands),
		location: location,
		clock:    options.clock,
	}

	slog.Info("core service initialized",
		"output_root", resolver.Root(),
		"image_dir", config.ImageDir,
		"paste_dir", config.PasteDir,
		"timezone", location.String(),
		"paste_commands", service.paste.Names())
	return service, nil
}

// OutputRoot returns the absolute output root.
func (service *CoreService) OutputRoot() string {
	return service.resolver.Root()
}

// Today returns the current date bucket name in the configured timezone.
func (service *CoreService) Today() string {
	return service.clock.Now().In(service.location).Format(time.DateOnly)
}

// Close waits for in-flight mutations and stops every directory watcher.
// Sessions should be closed first.
func (service *CoreService) Close() error {
	service.mutations.Wait()
	if err := service.watches.Close(); err != nil {
		return fmt.Errorf("failed to close watchers: %w", err)
	}
	slog.Info("core service closed")
	return nil
}

// runMutation runs fn in its own goroutine; it is not tied to any session.
func (service *CoreService) runMutation(operation string, fn func() error) {
	service.mutations.Add(1)
	go func() {
		defer service.mutations.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("mutation panicked",
					"operation", operation,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()

		start := time.Now()
		if err := fn(); err != nil {
			slog.Warn("mutation failed", "operation", operation, "error", err)
			return
		}
		slog.Debug("mutation completed",
			"operation", operation,
			"duration_ms", time.Since(start).Milliseconds())
	}()
}
