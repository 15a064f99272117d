package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/hamalhq/hamal/internal/metrics"
)

// DefaultQueueSize bounds each subscriber's pending events.
const DefaultQueueSize = 1024

// Bus delivers events to subscribers. Publish methods never block on a
// subscriber and never run subscriber code. Publishers share no lock: they
// read an immutable subscriber list and only take each subscription's own
// queue lock. mu guards membership changes.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	list      atomic.Pointer[[]*Subscription]
	queueSize int
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewBus creates a bus. A non-positive queueSize uses DefaultQueueSize.
func NewBus(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
		logger:    logger.With("component", "events"),
	}
}

// Subscribe registers handlers and starts their delivery goroutine.
// Subscribing to a closed bus returns a subscription that is already done.
func (b *Bus) Subscribe(h Handlers) *Subscription {
	s := &Subscription{
		id:     uuid.NewString(),
		bus:    b,
		h:      h,
		limit:  b.queueSize,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: b.logger,
	}
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		s.closed = true
		close(s.done)
		return s
	}
	b.subs[s.id] = s
	b.refreshLocked()
	b.mu.Unlock()
	metrics.SetSubscribers(b.Subscribers())
	go s.deliver()
	return s
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// PublishStatus enqueues a status event for every subscriber.
func (b *Bus) PublishStatus(e StatusEvent) {
	b.publish(item{kind: kindStatus, status: e})
}

// PublishLog enqueues a log event for every subscriber.
func (b *Bus) PublishLog(e LogEvent) {
	b.publish(item{kind: kindLog, log: e})
}

func (b *Bus) publish(it item) {
	if b.closed.Load() {
		return
	}
	list := b.list.Load()
	if list == nil {
		return
	}
	for _, s := range *list {
		s.push(it)
	}
}

// refreshLocked publishes a new copy of the subscriber list.
func (b *Bus) refreshLocked() {
	list := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		list = append(list, s)
	}
	b.list.Store(&list)
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.refreshLocked()
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SetSubscribers(n)
}

// Close stops accepting events and lets every subscriber drain what is
// already queued. It waits for the drain until ctx is done.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil
	}
	b.closed.Store(true)
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
	for _, s := range subs {
		select {
		case <-s.done:
		case <-ctx.Done():
			b.logger.Warn("subscriber did not drain before close", "subscription", s.id)
			return ctx.Err()
		}
	}
	return nil
}

// Subscription is one registered set of handlers.
type Subscription struct {
	id     string
	bus    *Bus
	h      Handlers
	limit  int
	logger *slog.Logger

	mu       sync.Mutex
	queue    []item
	logs     int // log items currently queued
	closed   bool
	draining bool

	wake    chan struct{}
	done    chan struct{}
	dropped atomic.Uint64
}

func (s *Subscription) ID() string { return s.id }

// Dropped returns how many log events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Done is closed once the delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Events still queued are discarded. Close does not wait
// for a callback that is currently running.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.logs = 0
	s.mu.Unlock()
	s.bus.remove(s.id)
	s.signal()
}

// finish asks the delivery goroutine to exit once the queue is empty.
func (s *Subscription) finish() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// push appends an item, applying the drop-oldest-log policy when full.
func (s *Subscription) push(it item) {
	s.mu.Lock()
	if s.closed || s.draining {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.limit {
		if !s.dropOldestLogLocked() && it.kind == kindLog {
			// only status events are queued; the incoming log is the oldest one left to drop
			s.mu.Unlock()
			s.countDrop()
			return
		}
	}
	s.queue = append(s.queue, it)
	if it.kind == kindLog {
		s.logs++
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) dropOldestLogLocked() bool {
	if s.logs == 0 {
		return false
	}
	for i, q := range s.queue {
		if q.kind == kindLog {
			copy(s.queue[i:], s.queue[i+1:])
			s.queue[len(s.queue)-1] = item{}
			s.queue = s.queue[:len(s.queue)-1]
			s.logs--
			s.countDrop()
			return true
		}
	}
	return false
}

func (s *Subscription) countDrop() {
	s.dropped.Add(1)
	metrics.IncDroppedLogEvents()
}

func (s *Subscription) take() ([]item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, true
	}
	batch := s.queue
	s.queue = nil
	s.logs = 0
	return batch, s.draining && len(batch) == 0
}

func (s *Subscription) deliver() {
	defer close(s.done)
	for range s.wake {
		for {
			batch, stop := s.take()
			if stop {
				if !s.isClosed() {
					s.bus.remove(s.id)
				}
				return
			}
			if len(batch) == 0 {
				break
			}
			for _, it := range batch {
				if s.isClosed() {
					return
				}
				s.dispatch(it)
			}
		}
	}
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) dispatch(it item) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber callback panicked", "subscription", s.id, "panic", r)
		}
	}()
	switch it.kind {
	case kindStatus:
		if s.h.OnStatus != nil {
			s.h.OnStatus(it.status)
		}
	case kindLog:
		if s.h.OnLog != nil {
			s.h.OnLog(it.log)
		}
	}
}
