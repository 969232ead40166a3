package event

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Bus fans events out to subscribers over buffered channels. Delivery is
// best-effort: a subscriber that falls behind loses events rather than
// blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	logger zerolog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger.With().Str("component", "event_bus").Logger()}
}

// Subscribe registers a new subscriber. The returned channel is closed when
// ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers ev to all current subscribers.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().
				Str("type", string(ev.Type)).
				Msg("subscriber channel full, dropping event")
		}
	}
}
