package statusapi

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/kingrea/stepflow/internal/workflow/engine"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// HubOption customizes Hub construction.
type HubOption func(*Hub)

// Hub fans engine transition events out to stream subscribers with bounded
// channels, a replay backlog and deduplication by event id. It implements
// engine.Observer.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[*subscriber]struct{}
	backlog      []engine.Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       *slog.Logger
}

// Subscription represents an active event stream.
type Subscription struct {
	Events <-chan engine.Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewHub constructs a hub with sane defaults.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subscribers:  map[*subscriber]struct{}{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// HubWithLogger injects a logger for drop diagnostics.
func HubWithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// HubWithSubscriberCapacity overrides the buffered channel size per subscriber.
func HubWithSubscriberCapacity(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.channelSize = n
		}
	}
}

// HubWithBacklogLimit overrides how many recent events are replayed to new
// subscribers.
func HubWithBacklogLimit(limit int) HubOption {
	return func(h *Hub) {
		if limit > 0 {
			h.backlogLimit = limit
		}
	}
}

// HubWithDedupeWindow controls how many recent event IDs are retained.
func HubWithDedupeWindow(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.dedupeWindow = size
		}
	}
}

// Subscribe registers for events. When stepIDs is non-empty only events of
// those steps are delivered. Matching backlog events are replayed first.
func (h *Hub) Subscribe(stepIDs ...string) Subscription {
	sub := newSubscriber(h.channelSize, h.logger, stepIDs)
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	for _, evt := range h.backlog {
		sub.deliver(evt)
	}
	h.mu.Unlock()
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			h.removeSubscriber(sub)
		},
	}
}

// Observe records evt in the backlog and delivers it to every matching
// subscriber.
func (h *Hub) Observe(evt engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if evt.ID != "" && h.isDuplicateLocked(evt.ID) {
		return
	}
	if len(h.backlog) >= h.backlogLimit {
		h.backlog = h.backlog[1:]
	}
	h.backlog = append(h.backlog, evt)
	for sub := range h.subscribers {
		sub.deliver(evt)
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = map[*subscriber]struct{}{}
	h.mu.Unlock()
	for sub := range subs {
		sub.close()
	}
}

func (h *Hub) removeSubscriber(sub *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, sub)
	h.mu.Unlock()
	sub.close()
}

func (h *Hub) isDuplicateLocked(eventID string) bool {
	if _, ok := h.recentIDs[eventID]; ok {
		return true
	}
	h.recentIDs[eventID] = struct{}{}
	h.recentOrder = append(h.recentOrder, eventID)
	if len(h.recentOrder) > h.dedupeWindow {
		oldest := h.recentOrder[0]
		h.recentOrder = h.recentOrder[1:]
		delete(h.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch     chan engine.Event
	steps  map[string]struct{}
	logger *slog.Logger
	mu     sync.Mutex
	closed bool
}

func newSubscriber(capacity int, logger *slog.Logger, stepIDs []string) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	sub := &subscriber{
		ch:     make(chan engine.Event, capacity),
		logger: logger,
	}
	for _, id := range stepIDs {
		if id = strings.TrimSpace(id); id != "" {
			if sub.steps == nil {
				sub.steps = map[string]struct{}{}
			}
			sub.steps[id] = struct{}{}
		}
	}
	return sub
}

func (s *subscriber) channel() <-chan engine.Event {
	return s.ch
}

func (s *subscriber) wants(evt engine.Event) bool {
	if len(s.steps) == 0 {
		return true
	}
	_, ok := s.steps[evt.StepID]
	return ok
}

func (s *subscriber) deliver(evt engine.Event) {
	if !s.wants(evt) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
		return
	default:
	}
	var oldest engine.Event
	select {
	case oldest = <-s.ch:
	default:
		// drained concurrently by the reader
		s.ch <- evt
		return
	}
	if shouldDropOldest(oldest, evt) {
		s.logDrop(oldest, "queue overflow")
		s.ch <- evt
	} else {
		s.ch <- oldest
		s.logDrop(evt, "queue overflow:incoming")
	}
}

func (s *subscriber) logDrop(evt engine.Event, reason string) {
	s.logger.Warn("status stream dropped event", "type", evt.Type, "step", evt.StepID, "reason", reason)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Terminal transitions outrank starts and registrations when a slow
// subscriber's queue overflows.
func shouldDropOldest(oldest, incoming engine.Event) bool {
	oldestCritical := isCriticalEvent(oldest.Type)
	incomingCritical := isCriticalEvent(incoming.Type)
	switch {
	case oldestCritical && !incomingCritical:
		return false
	case !oldestCritical && incomingCritical:
		return true
	}
	return true
}

func isCriticalEvent(kind engine.EventType) bool {
	switch kind {
	case engine.EventCompleted, engine.EventFailed, engine.EventReset:
		return true
	default:
		return false
	}
}
