package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// Handler receives the events of a subscribed directory. Handlers of one
// directory are called sequentially from that directory's dispatch goroutine,
// so a handler must not block.
type Handler func(Event)

// Registry shares one DirWatcher per physical directory between all of its
// subscribers. A watcher is created on first interest and closed when the
// last subscriber leaves.
type Registry struct {
	opts Options

	mu      sync.Mutex
	watches map[string]*sharedWatch
	nextID  uint64
}

type sharedWatch struct {
	dir     string
	watcher *DirWatcher
	done    chan struct{}

	mu   sync.RWMutex
	subs map[uint64]*Subscription
}

// Subscription is one subscriber's interest in a directory.
type Subscription struct {
	registry *Registry
	shared   *sharedWatch
	id       uint64
	handler  Handler
	once     sync.Once

	// deliverMu is held while handler runs; closed is only set under it.
	deliverMu sync.Mutex
	closed    bool
}

// NewRegistry creates an empty registry; opts apply to every watcher it starts.
func NewRegistry(opts Options) *Registry {
	opts.defaults()
	return &Registry{
		opts:    opts,
		watches: make(map[string]*sharedWatch),
	}
}

// Subscribe registers handler for new images in dir. A watcher that has
// already terminated is never reused; the subscriber gets a fresh one.
func (r *Registry) Subscribe(dir string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve watch directory %s: %w", dir, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	shared, ok := r.watches[abs]
	if ok && shared.watcher.Terminated() {
		slog.Info("watch registry: replacing terminated watcher", "dir", abs, "error", shared.watcher.Err())
		delete(r.watches, abs)
		ok = false
	}
	if !ok {
		watcher, err := New(abs, r.opts)
		if err != nil {
			return nil, err
		}
		shared = &sharedWatch{
			dir:     abs,
			watcher: watcher,
			done:    make(chan struct{}),
			subs:    make(map[uint64]*Subscription),
		}
		r.watches[abs] = shared
		go r.dispatch(shared)
		slog.Info("watch registry: watching directory", "dir", abs)
	}

	r.nextID++
	subscription := &Subscription{registry: r, shared: shared, id: r.nextID, handler: handler}
	shared.mu.Lock()
	shared.subs[subscription.id] = subscription
	subscribers := len(shared.subs)
	shared.mu.Unlock()

	slog.Debug("watch registry: subscribed", "dir", abs, "subscribers", subscribers)
	return subscription, nil
}

// Subscribers returns the number of subscribers of dir, 0 when unwatched.
func (r *Registry) Subscribers(dir string) int {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	shared, ok := r.watches[abs]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	shared.mu.RLock()
	defer shared.mu.RUnlock()
	return len(shared.subs)
}

// Close stops every watcher. Subscriptions closed afterwards are no-ops.
func (r *Registry) Close() error {
	r.mu.Lock()
	watches := r.watches
	r.watches = make(map[string]*sharedWatch)
	r.mu.Unlock()

	var errs []error
	for _, shared := range watches {
		if err := shared.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close watcher for %s: %w", shared.dir, err))
		}
		<-shared.done
	}
	return errors.Join(errs...)
}

// Dir returns the absolute subscribed directory.
func (s *Subscription) Dir() string {
	return s.shared.dir
}

// Close removes the subscription. It waits for a delivery to this handler
// that is in progress, so the handler is never called once Close has
// returned. Calling it twice is a no-op.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.deliverMu.Lock()
		s.closed = true
		s.deliverMu.Unlock()

		r := s.registry
		shared := s.shared

		r.mu.Lock()
		shared.mu.Lock()
		delete(shared.subs, s.id)
		last := len(shared.subs) == 0
		shared.mu.Unlock()
		if last && r.watches[shared.dir] == shared {
			delete(r.watches, shared.dir)
		}
		r.mu.Unlock()

		if !last {
			return
		}
		if err := shared.watcher.Close(); err != nil {
			slog.Warn("watch registry: failed to close watcher", "dir", shared.dir, "error", err)
		}
		<-shared.done
		slog.Info("watch registry: stopped watching directory", "dir", shared.dir)
	})
}

func (s *Subscription) deliver(event Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.closed {
		return
	}
	s.handler(event)
}

func (r *Registry) dispatch(shared *sharedWatch) {
	defer close(shared.done)

	var subs []*Subscription
	for event := range shared.watcher.Events() {
		shared.mu.RLock()
		subs = subs[:0]
		for _, sub := range shared.subs {
			subs = append(subs, sub)
		}
		shared.mu.RUnlock()

		for _, sub := range subs {
			sub.deliver(event)
		}
	}

	if err := shared.watcher.Err(); err != nil {
		r.mu.Lock()
		if r.watches[shared.dir] == shared {
			delete(r.watches, shared.dir)
		}
		r.mu.Unlock()
	}
}
