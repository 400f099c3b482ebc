package event

import (
	"log/slog"
	"sync"
)

// Bus is an in-process publish/subscribe channel keyed by event name.
// Publishing is fire-and-forget: each current subscriber is invoked at most
// once per emission, synchronously, and there is no replay. Subscribers
// must not block; long work belongs in the subscriber's own goroutine.
//
// Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(data any)
	nextID int
	logger *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger used to report panicking subscribers.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) { b.logger = logger }
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[string]map[int]func(any)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn for the given event name and returns a function
// that removes the subscription. fn receives the payload exactly as it was
// published; use On for a typed subscription.
func (b *Bus) Subscribe(name string, fn func(data any)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[name] == nil {
		b.subs[name] = make(map[int]func(any))
	}
	subID := b.nextID
	b.nextID++
	b.subs[name][subID] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[name], subID)
	}
}

// Publish delivers data to every subscriber currently registered for name.
// A panicking subscriber is logged and does not prevent delivery to the
// remaining subscribers or unwind into the publisher.
func (b *Bus) Publish(name string, data any) {
	b.mu.RLock()
	fns := make([]func(any), 0, len(b.subs[name]))
	for _, fn := range b.subs[name] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		b.deliver(name, fn, data)
	}
}

func (b *Bus) deliver(name string, fn func(any), data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				slog.String("event", name),
				slog.Any("panic", r),
			)
		}
	}()
	fn(data)
}

// SubscriberCount returns the number of subscribers for name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// On registers a typed subscription: fn is called only when the published
// payload is of type T. Payloads of any other type are ignored for this
// subscriber.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func On[T any](b *Bus, name string, fn func(T)) (cancel func()) {
	return b.Subscribe(name, func(data any) {
		if v, ok := data.(T); ok {
			fn(v)
		}
	})
}
