// Package event is the in-process plugin.EventBus that carries samples,
// window updates and anomalies between winstat plugins.
package event

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/winstat/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var _ plugin.EventBus = (*Bus)(nil)

var (
	eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "event",
		Name:      "published_total",
		Help:      "Events published on the bus by topic.",
	}, []string{"topic"})

	handlerPanics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "winstat",
		Subsystem: "event",
		Name:      "handler_panics_total",
		Help:      "Event handlers that panicked, by topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(eventsPublished, handlerPanics)
}

// Bus delivers events to subscribers in subscription order. Publish runs
// handlers on the caller's goroutine; PublishAsync gives each handler its
// own goroutine, and Wait blocks until those have returned.
//
// A subscription pattern is an exact topic, a prefix ending in ".*"
// ("insight.*"), or "*" for every topic.
type Bus struct {
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	inflight sync.WaitGroup
}

type subscription struct {
	id      uint64
	pattern string
	handler plugin.EventHandler
}

func (s subscription) matches(topic string) bool {
	switch {
	case s.pattern == "*":
		return true
	case strings.HasSuffix(s.pattern, ".*"):
		return strings.HasPrefix(topic, s.pattern[:len(s.pattern)-1])
	}
	return s.pattern == topic
}

// NewBus returns an empty bus. A nil logger discards panic reports.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger, now: time.Now}
}

// Publish delivers event synchronously. It never fails; the error return
// satisfies plugin.Publisher.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	event, handlers := b.prepare(event)
	for _, h := range handlers {
		b.deliver(ctx, h, event)
	}
	return nil
}

func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	event, handlers := b.prepare(event)
	b.inflight.Add(len(handlers))
	for _, h := range handlers {
		go func() {
			defer b.inflight.Done()
			b.deliver(ctx, h, event)
		}()
	}
}

// Wait blocks until every handler started by PublishAsync has returned or
// ctx is done.
func (b *Bus) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) Subscribe(pattern string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus) SubscribeAll(handler plugin.EventHandler) (unsubscribe func()) {
	return b.Subscribe("*", handler)
}

// HandlerCount reports how many subscriptions match topic.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, s := range b.subs {
		if s.matches(topic) {
			n++
		}
	}
	return n
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// prepare stamps the event and snapshots its handlers so dispatch runs
// without the lock held.
func (b *Bus) prepare(event plugin.Event) (plugin.Event, []plugin.EventHandler) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	eventsPublished.WithLabelValues(event.Topic).Inc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	var handlers []plugin.EventHandler
	for _, s := range b.subs {
		if s.matches(event.Topic) {
			handlers = append(handlers, s.handler)
		}
	}
	return event, handlers
}

func (b *Bus) deliver(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.WithLabelValues(event.Topic).Inc()
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()
	handler(ctx, event)
}
