package docstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/sirupsen/logrus"
)

type Publisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

// NotifyingStore publishes a put event after every successful write so that
// caches in every process can drop or refresh the affected entry. Publishing
// is best effort: a failed publish is logged and the write still succeeds.
type NotifyingStore struct {
	Store
	pub    Publisher
	logger *logrus.Logger
}

func WithChangeEvents(store Store, pub Publisher, logger *logrus.Logger) *NotifyingStore {
	return &NotifyingStore{Store: store, pub: pub, logger: logger}
}

func (s *NotifyingStore) Set(ctx context.Context, path string, value any) error {
	if err := s.Store.Set(ctx, path, value); err != nil {
		return err
	}
	s.publish(ctx, path, value)
	return nil
}

func (s *NotifyingStore) Update(ctx context.Context, path string, fields map[string]any) error {
	if err := s.Store.Update(ctx, path, fields); err != nil {
		return err
	}
	for k, v := range fields {
		s.publish(ctx, Join(path, k), v)
	}
	return nil
}

func (s *NotifyingStore) Delete(ctx context.Context, path string) error {
	if err := s.Store.Delete(ctx, path); err != nil {
		return err
	}
	s.publish(ctx, path, nil)
	return nil
}

func (s *NotifyingStore) Transaction(ctx context.Context, path string, fn TxFunc) error {
	var written any
	err := s.Store.Transaction(ctx, path, func(current json.RawMessage) (any, error) {
		v, err := fn(current)
		written = v
		return v, err
	})
	if err != nil {
		return err
	}
	s.publish(ctx, path, written)
	return nil
}

func (s *NotifyingStore) publish(ctx context.Context, path string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Failed to encode change event")
		return
	}
	event := models.ChangeEvent{
		Type:       models.ChangeEventPut,
		Path:       path,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
	if err := s.pub.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("path", path).Warn("Failed to publish change event")
	}
}
