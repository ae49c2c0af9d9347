package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/cache"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/retry"
	"github.com/sirupsen/logrus"
)

const maxRetriesMessage = "max retries reached for optimistic locking"

// errVersionMoved aborts a compare-and-swap whose base version changed
// underneath it. It never leaves this file.
var errVersionMoved = errors.New("stored version changed since read")

// UpdateWithOptimisticLock applies patch so that exactly one writer commits
// each version. Every attempt reads the document, builds version+1 and
// commits only if the stored version is still the one it read. A lost race
// is retried with backoff; running out of attempts is a conflict error.
//
// If patch.Version is set it must equal the stored version, otherwise the
// update is rejected without retrying.
func (s *LocationService) UpdateWithOptimisticLock(ctx context.Context, id, userID string, patch models.LocationPatch) (*models.StoredLocation, error) {
	const op = "update_with_optimistic_lock"

	if err := s.validator.Patch(&patch); err != nil {
		return nil, err
	}

	policy := s.policies.Lock
	policy.Retryable = func(err error) bool { return errors.Is(err, errVersionMoved) }
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.WithFields(logrus.Fields{
			"location_id": id,
			"attempt":     attempt,
			"delay":       delay,
		}).Warn("Optimistic lock lost the race, retrying")
	}

	updated, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*models.StoredLocation, error) {
		return s.tryVersionedUpdate(ctx, op, id, userID, patch)
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		s.logger.WithFields(logrus.Fields{"location_id": id, "attempts": exhausted.Attempts}).
			Error("Optimistic lock gave up")
		return nil, &apperr.Error{Kind: apperr.KindConflict, Op: op, Msg: maxRetriesMessage, Err: exhausted}
	}
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}

	s.cache.Set(ctx, cache.LocationKey(id), updated)
	s.cache.Delete(ctx, cache.UserLocationsKey(userID))

	s.logger.WithFields(logrus.Fields{"location_id": id, "version": updated.Version}).Info("Location updated")
	return updated, nil
}

func (s *LocationService) tryVersionedUpdate(ctx context.Context, op, id, userID string, patch models.LocationPatch) (*models.StoredLocation, error) {
	current, err := s.readLocation(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if current.IsDeleted {
		return nil, apperr.NotFound(op, "location %s not found", id)
	}
	if current.CreatedBy != userID {
		return nil, apperr.Unauthorized(op, "user %s may not update location %s", userID, id)
	}
	if patch.Version != nil && *patch.Version != current.Version {
		return nil, apperr.Conflict(op, "location %s was updated by another user (expected version %d, found %d)",
			id, *patch.Version, current.Version)
	}

	readVersion := current.Version
	next := *current
	patch.Apply(&next)
	next.Version = readVersion + 1
	next.LastModified = s.now()

	err = s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Transaction(ctx, docstore.LocationPath(id), func(raw json.RawMessage) (any, error) {
			if isNull(raw) {
				return nil, apperr.NotFound(op, "location %s not found", id)
			}
			var stored models.LocationDocument
			if err := json.Unmarshal(raw, &stored); err != nil {
				return nil, err
			}
			if stored.Version != readVersion {
				return nil, errVersionMoved
			}
			return next, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &models.StoredLocation{ID: id, LocationDocument: next}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
