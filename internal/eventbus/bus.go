package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHighWaterMark bounds the async publish queue. Publish blocks
// once the queue is full, applying backpressure to producers instead of
// dropping events.
const DefaultHighWaterMark = 1024

// Bus dispatches events to pattern-matched handlers. The zero value is
// not usable; construct with New.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string][]*Subscription // pattern -> subscriptions, priority sorted
	byID map[string]*Subscription

	queue    chan queuedEvent
	pending  sync.WaitGroup
	drainMu  sync.Mutex
	draining chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithHighWaterMark overrides the async queue capacity.
func WithHighWaterMark(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan queuedEvent, n)
		}
	}
}

// New creates a Bus and starts its async dispatcher goroutine. Callers
// must call Close when done to stop the dispatcher.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger: logger.With("component", "eventbus"),
		subs:   make(map[string][]*Subscription),
		byID:   make(map[string]*Subscription),
		queue:  make(chan queuedEvent, DefaultHighWaterMark),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Close stops the async dispatcher. Pending queued events are still
// delivered before the dispatcher exits.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.queue)
	})
	b.wg.Wait()
}

// Subscribe registers handler for pattern, which is either an exact
// event type ("dialogue.user_message") or a one-level wildcard
// ("dialogue.*", matching "dialogue.user_message" but not
// "dialogue.user_message.extra"). Returns the subscription ID for
// Unsubscribe.
func (b *Bus) Subscribe(pattern string, handler Handler, opts ...SubscribeOption) string {
	sub := &Subscription{
		ID:       uuid.New().String(),
		Pattern:  pattern,
		Priority: PriorityNormal,
		handler:  handler,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[pattern] = append(b.subs[pattern], sub)
	sort.SliceStable(b.subs[pattern], func(i, j int) bool {
		return b.subs[pattern][i].Priority < b.subs[pattern][j].Priority
	})
	b.byID[sub.ID] = sub
	return sub.ID
}

// Unsubscribe removes a subscription by ID. Returns false if not found.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)
	handlers := b.subs[sub.Pattern]
	for i, h := range handlers {
		if h.ID == id {
			b.subs[sub.Pattern] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return true
}

// matches reports whether pattern matches eventType. Wildcards are
// exactly one level: "ns.*" matches "ns.foo" but not "ns.foo.bar" and
// not "ns" itself.
func matches(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if !strings.HasSuffix(pattern, ".*") {
		return false
	}
	prefix := strings.TrimSuffix(pattern, "*")
	if !strings.HasPrefix(eventType, prefix) {
		return false
	}
	rest := eventType[len(prefix):]
	return rest != "" && !strings.Contains(rest, ".")
}

// matchingHandlers returns all subscriptions whose pattern matches
// eventType, merged across exact and wildcard patterns and sorted by
// priority.
func (b *Bus) matchingHandlers(eventType string) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []*Subscription
	for pattern, subs := range b.subs {
		if !matches(pattern, eventType) {
			continue
		}
		matched = append(matched, subs...)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}

// PublishSync dispatches event to all matching handlers synchronously,
// in priority order, on the calling goroutine. A handler panic is
// recovered and logged; it does not prevent other handlers from
// running. Returns the first handler error encountered, if any.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	handlers := b.matchingHandlers(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	var firstErr error
	for _, sub := range handlers {
		if err := b.invoke(ctx, sub, event); err != nil {
			b.logger.Warn("event handler error",
				"event_type", event.Type,
				"handler_id", sub.ID,
				"handler_name", sub.Name,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Publish enqueues event for asynchronous, FIFO-per-call-order
// dispatch by the single dispatcher goroutine. It blocks if the queue
// is at its high-water mark (backpressure) until space frees up or ctx
// is done.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.pending.Add(1)
	select {
	case b.queue <- queuedEvent{ctx: ctx, event: event}:
		return nil
	case <-ctx.Done():
		b.pending.Done()
		return ctx.Err()
	}
}

// WaitEmpty blocks until all events Published before this call have
// been dispatched, or ctx is done.
func (b *Bus) WaitEmpty(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for qe := range b.queue {
		ctx := qe.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		if err := b.PublishSync(ctx, qe.event); err != nil {
			b.logger.Warn("async event dispatch error", "event_type", qe.event.Type, "error", err)
		}
		b.pending.Done()
	}
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, event Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("event handler panic: %v", p)
		}
	}()
	return sub.handler(ctx, event)
}

// RegisteredPatterns returns all patterns with at least one subscription.
func (b *Bus) RegisteredPatterns() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	patterns := make([]string, 0, len(b.subs))
	for p := range b.subs {
		patterns = append(patterns, p)
	}
	return patterns
}

var (
	defaultBusOnce sync.Once
	defaultBus     *Bus
)

// DefaultBus returns a process-wide ambient bus used only by the
// plugin supervisor's notification relay when it is not explicitly
// wired with one. Every other component must receive a *Bus via
// constructor injection rather than calling this.
func DefaultBus() *Bus {
	defaultBusOnce.Do(func() {
		defaultBus = New(slog.Default())
	})
	return defaultBus
}
