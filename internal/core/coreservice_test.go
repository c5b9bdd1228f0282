package core

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	eventTimeout = 3 * time.Second
	quietPeriod  = 300 * time.Millisecond
)

var testNow = time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC)

// fakeRunner stands in for the secure delete utility.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := args[len(args)-1]
	f.calls = append(f.calls, target)
	if f.err != nil {
		return nil, f.err
	}
	return nil, os.Remove(target)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingSink struct {
	events chan ImageEvent
	err    error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(chan ImageEvent, 1024)}
}

func (s *recordingSink) Send(event ImageEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events <- event
	return nil
}

func (s *recordingSink) next(t *testing.T) ImageEvent {
	t.Helper()
	select {
	case event := <-s.events:
		return event
	case <-time.After(eventTimeout):
		t.Fatal("Timed out waiting for event")
	}
	return ImageEvent{}
}

func (s *recordingSink) collect(t *testing.T, n int) map[string]ImageEvent {
	t.Helper()
	events := make(map[string]ImageEvent, n)
	for len(events) < n {
		event := s.next(t)
		events[event.Ref] = event
	}
	return events
}

// waitFor skips events until one for ref arrives.
func (s *recordingSink) waitFor(t *testing.T, ref string) ImageEvent {
	t.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case event := <-s.events:
			if event.Ref == ref {
				return event
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for event for %s", ref)
		}
	}
}

func (s *recordingSink) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case event := <-s.events:
		t.Fatalf("Expected no event, got %+v", event)
	case <-time.After(quietPeriod):
	}
}

func testConfig(root string) *ServiceConfig {
	config := DefaultConfig()
	config.OutputRoot = root
	config.Timezone = "UTC"
	return config
}

func newTestService(t *testing.T, config *ServiceConfig) (*CoreService, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{}
	service, err := NewCoreService(config,
		WithEraseRunner(runner),
		WithClock(clockwork.NewFakeClockAt(testNow)))
	if err != nil {
		t.Fatalf("NewCoreService failed: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })
	return service, runner
}

func connect(t *testing.T, service *CoreService, sink Sink) *Session {
	t.Helper()
	session, err := service.Connect(sink)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(session.Close)
	return session
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
}

// publish writes data under a temporary name and renames it into place.
func publish(t *testing.T, path string, data []byte) {
	t.Helper()
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	writeFile(t, tmp, data)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Failed to rename into place: %v", err)
	}
}

func TestNewCoreService_InvalidPasteCommands(t *testing.T) {
	config := testConfig(t.TempDir())
	config.Paste.Commands[0].Name = "Unknown"

	if _, err := NewCoreService(config); err == nil {
		t.Error("Expected error for unknown paste command")
	}
}

func TestCoreService_TodayUsesConfiguredTimezone(t *testing.T) {
	config := testConfig(t.TempDir())
	config.Timezone = "Asia/Tokyo"
	late := time.Date(2024, 1, 25, 20, 0, 0, 0, time.UTC)

	service, err := NewCoreService(config, WithClock(clockwork.NewFakeClockAt(late)))
	if err != nil {
		t.Fatalf("NewCoreService failed: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })

	if got := service.Today(); got != "2024-01-26" {
		t.Errorf("Expected 2024-01-26 in Tokyo, got %s", got)
	}
}
