package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jo-hoe/gallerysync/internal/common"
	"github.com/jo-hoe/gallerysync/internal/storage"
	"github.com/jo-hoe/gallerysync/internal/watch"
)

var (
	ErrSessionClosed     = errors.New("session closed")
	ErrSessionBacklogged = errors.New("session backlog full")
)

const (
	EventTypeImage     = "image"
	MessageDeleteImage = "deleteImage"
	MessagePasteImage  = "image-paste"

	outboundQueueSize = 256
	liveQueueSize     = 256
)

// ImageEvent announces one image to a viewer. Src carries the contents as a
// data URI and is only set for files observed by a watcher.
type ImageEvent struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
	Src  string `json:"src,omitempty"`
}

// Message is an inbound request from a viewer.
type Message struct {
	Type string `json:"type" validate:"required"`
	Ref  string `json:"ref,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// Sink delivers events to one connected viewer. Send is only ever called from
// a single goroutine.
type Sink interface {
	Send(event ImageEvent) error
}

// Session is the state of one connected viewer.
type Session struct {
	id      string
	service *CoreService
	sink    Sink
	today   string

	// queue carries snapshot items and may block its producer; live carries
	// watcher events and never does.
	queue     chan ImageEvent
	live      chan ImageEvent
	done      chan struct{}
	closeOnce sync.Once
	tasks     sync.WaitGroup

	mu            sync.Mutex
	subscriptions []*watch.Subscription
}

// Connect opens a session: it creates today's date bucket and the pastes
// bucket, subscribes to both and streams the existing images to sink.
func (service *CoreService) Connect(sink Sink) (*Session, error) {
	today := service.Today()
	dateDir, err := service.resolver.EnsureDir(path.Join(service.config.ImageDir, today))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare date bucket: %w", err)
	}
	pasteDir, err := service.resolver.EnsureDir(service.config.PasteDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare paste bucket: %w", err)
	}

	s := &Session{
		id:      uuid.New().String(),
		service: service,
		sink:    sink,
		today:   today,
		queue:   make(chan ImageEvent, outboundQueueSize),
		live:    make(chan ImageEvent, liveQueueSize),
		done:    make(chan struct{}),
	}
	s.tasks.Add(1)
	go s.write()

	for _, dir := range []string{dateDir, pasteDir} {
		subscription, err := service.watches.Subscribe(dir, s.onImage)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		s.mu.Lock()
		s.subscriptions = append(s.subscriptions, subscription)
		s.mu.Unlock()
		slog.Debug("session subscribed", "session", s.id, "dir", subscription.Dir())
	}

	s.tasks.Add(1)
	go s.streamSnapshots()

	slog.Info("session opened", "session", s.id, "today", today)
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string {
	return s.id
}

// Today returns the date bucket the session watches.
func (s *Session) Today() string {
	return s.today
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Emit queues event for the viewer.
func (s *Session) Emit(event ImageEvent) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.queue <- event:
		return nil
	}
}

// emitLive queues a watcher event without blocking. A viewer that has fallen
// a whole live queue behind is closed rather than stalling the dispatcher
// shared with other sessions.
func (s *Session) emitLive(event ImageEvent) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case s.live <- event:
		return nil
	default:
		go s.Close()
		return ErrSessionBacklogged
	}
}

// EmitSnapshot emits references from refs until limit events were queued and
// returns how many were emitted.
func (s *Session) EmitSnapshot(refs iter.Seq[string], limit int) (int, error) {
	emitted := 0
	if limit <= 0 {
		return 0, nil
	}
	for ref := range refs {
		if err := s.Emit(ImageEvent{Type: EventTypeImage, Ref: ref}); err != nil {
			return emitted, err
		}
		emitted++
		if emitted >= limit {
			break
		}
	}
	return emitted, nil
}

// Handle dispatches an inbound message. Mutations run in the background and
// are not cancelled when the session closes.
func (s *Session) Handle(msg Message) error {
	if err := common.ValidateStruct(msg); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}

	switch msg.Type {
	case MessageDeleteImage:
		ref := msg.Ref
		slog.Info("delete requested", "session", s.id, "ref", ref)
		s.service.runMutation(MessageDeleteImage, func() error {
			return s.service.DeleteImage(context.Background(), ref)
		})
	case MessagePasteImage:
		data := msg.Data
		slog.Info("paste received", "session", s.id, "size_bytes", len(data))
		s.service.runMutation(MessagePasteImage, func() error {
			_, err := s.service.PasteImage(data)
			return err
		})
	default:
		slog.Warn("ignoring unknown message type", "session", s.id, "type", msg.Type)
	}
	return nil
}

// Close releases the subscriptions and stops the writer. It is idempotent
// and returns once nothing of the session is running.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		subscriptions := s.subscriptions
		s.subscriptions = nil
		s.mu.Unlock()
		for _, subscription := range subscriptions {
			subscription.Close()
		}

		s.tasks.Wait()
		slog.Info("session closed", "session", s.id)
	})
}

func (s *Session) write() {
	defer s.tasks.Done()
	for {
		select {
		case <-s.done:
			return
		case event := <-s.live:
			if !s.send(event) {
				return
			}
		case event := <-s.queue:
			if !s.send(event) {
				return
			}
		}
	}
}

func (s *Session) send(event ImageEvent) bool {
	if err := s.sink.Send(event); err != nil {
		slog.Warn("failed to send event, closing session", "session", s.id, "ref", event.Ref, "error", err)
		go s.Close()
		return false
	}
	return true
}

// streamSnapshots sends the whole image tree and then the pastes bucket. Both
// share the configured load limit.
func (s *Session) streamSnapshots() {
	defer s.tasks.Done()

	config := s.service.config
	root := s.service.resolver.Root()
	remaining := config.LoadLimit
	start := time.Now()

	for _, bucket := range []string{config.ImageDir, config.PasteDir} {
		refs := storage.Snapshot(filepath.Join(root, bucket), bucket, config.ImageExtension)
		emitted, err := s.EmitSnapshot(refs, remaining)
		if err != nil {
			slog.Debug("snapshot aborted", "session", s.id, "bucket", bucket, "error", err)
			return
		}
		remaining -= emitted
		slog.Debug("snapshot sent", "session", s.id, "bucket", bucket, "count", emitted)
	}

	if remaining <= 0 {
		slog.Info("snapshot truncated at load limit", "session", s.id, "limit", config.LoadLimit)
	}
	slog.Debug("snapshots completed", "session", s.id, "duration_ms", time.Since(start).Milliseconds())
}

func (s *Session) onImage(event watch.Event) {
	ref, err := s.service.resolver.ToReference(event.Path)
	if err != nil {
		slog.Warn("ignoring watch event outside output root", "session", s.id, "path", event.Path, "error", err)
		return
	}
	err = s.emitLive(ImageEvent{Type: EventTypeImage, Ref: ref, Src: dataURI(event.Name, event.Data)})
	if errors.Is(err, ErrSessionBacklogged) {
		slog.Warn("viewer is not keeping up, closing session", "session", s.id, "ref", ref, "backlog", liveQueueSize)
	}
}

func dataURI(name string, data []byte) string {
	mediaType := mime.TypeByExtension(filepath.Ext(name))
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
