package cache

import (
	"context"
	"encoding/json"

	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/sirupsen/logrus"
)

// Invalidator keeps cache entries in line with document store change events.
type Invalidator struct {
	layer  *Layer
	logger *logrus.Logger
}

func NewInvalidator(layer *Layer, logger *logrus.Logger) *Invalidator {
	return &Invalidator{layer: layer, logger: logger}
}

// Run consumes events until the channel closes or ctx is done.
func (i *Invalidator) Run(ctx context.Context, events <-chan models.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			i.Handle(ctx, event)
		}
	}
}

// Handle applies one event:
//
//	locations/{id}            refresh location_{id}, or drop it when deleted
//	locations/{id}/{field}    drop location_{id}
//	user_locations/{uid}/...  drop user_locations_{uid}
//
// A location event does not reach the joined views of users who reference
// that location. Those expire with the cache TTL.
func (i *Invalidator) Handle(ctx context.Context, event models.ChangeEvent) {
	if event.Type != models.ChangeEventPut {
		return
	}

	segs := docstore.Split(event.Path)
	if len(segs) < 2 {
		return
	}

	switch segs[0] {
	case docstore.LocationsRoot:
		key := LocationKey(segs[1])
		if len(segs) > 2 || event.Deleted() {
			i.layer.Delete(ctx, key)
			return
		}
		var doc models.LocationDocument
		if err := json.Unmarshal(event.Data, &doc); err != nil {
			i.logger.WithError(err).WithField("path", event.Path).Warn("Undecodable location event, dropping cache entry")
			i.layer.Delete(ctx, key)
			return
		}
		i.layer.Set(ctx, key, models.StoredLocation{ID: segs[1], LocationDocument: doc})

	case docstore.UserLocationsRoot:
		i.layer.Delete(ctx, UserLocationsKey(segs[1]))
	}
}
