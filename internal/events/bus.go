// Package events carries document store change events between the writer
// and every cache that needs to hear about them.
package events

import (
	"context"
	"sync"

	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/sirupsen/logrus"
)

type Bus interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
	// Subscribe returns a channel of events that is closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan models.ChangeEvent, error)
}

const subscriberBuffer = 64

// LocalBus fans events out to subscribers in the same process. A slow
// subscriber loses events rather than blocking the writer.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[chan models.ChangeEvent]struct{}
	logger *logrus.Logger
}

func NewLocalBus(logger *logrus.Logger) *LocalBus {
	return &LocalBus{
		subs:   make(map[chan models.ChangeEvent]struct{}),
		logger: logger,
	}
}

func (b *LocalBus) Publish(ctx context.Context, event models.ChangeEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.WithField("path", event.Path).Warn("Subscriber buffer full, dropping change event")
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context) (<-chan models.ChangeEvent, error) {
	ch := make(chan models.ChangeEvent, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}
