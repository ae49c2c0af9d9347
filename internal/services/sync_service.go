package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/repositories"
	"github.com/prudhvinik1/locsync/internal/retry"
	"github.com/sirupsen/logrus"
)

// DocumentSide is what the sync orchestrator needs from the document store.
// LocationService implements it.
type DocumentSide interface {
	PushLocation(ctx context.Context, loc *models.Location) (string, error)
	PushUserLocation(ctx context.Context, ul *models.UserLocation) (string, error)
	GetLocationDocument(ctx context.Context, id string) (*models.LocationDocument, error)
	LocationDocuments(ctx context.Context) (map[string]models.LocationDocument, error)
	UserLocationDocuments(ctx context.Context, userID string) (map[string]models.UserLocationDocument, error)
}

// SyncService moves records between the relational store and the document
// store. Relational writes of a pass share a transaction; the document store
// writes do not, so a pass can leave the two sides apart until the next one.
// Running passes concurrently for the same user is not safe.
type SyncService struct {
	docs   DocumentSide
	repos  repositories.SyncRepositories
	retry  retry.Policy
	logger *logrus.Logger
	now    func() time.Time
}

// NewSyncService builds the orchestrator. fullSync is the policy of
// SyncWithRetry; its Retryable is always the transient check.
func NewSyncService(docs DocumentSide, repos repositories.SyncRepositories, fullSync retry.Policy, logger *logrus.Logger) *SyncService {
	return &SyncService{
		docs:   docs,
		repos:  repos,
		retry:  fullSync,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DefaultFullSyncPolicy waits 1s then 2s between full sync attempts.
func DefaultFullSyncPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Backoff: retry.ExponentialFromZero(time.Second)}
}

// Push writes every pending location and then the user's pending
// user-locations to the document store.
//
// Locations fail fast: the first failed write rolls back the pass, marks
// that row not synced and returns the error. User-locations are handled one
// by one: a failure is logged, the row is marked not synced and the pass
// goes on.
func (s *SyncService) Push(ctx context.Context, userID string) (*models.PushResult, error) {
	const op = "push"

	result := &models.PushResult{}
	var failedID string

	err := s.repos.InTx(ctx, func(ctx context.Context, tx repositories.SyncRepositories) error {
		locations, err := tx.Locations().ListPendingSync(ctx)
		if err != nil {
			return err
		}
		for _, loc := range locations {
			now := s.now()
			if err := tx.Locations().MarkSyncing(ctx, loc.ID, now); err != nil {
				return err
			}
			key, err := s.docs.PushLocation(ctx, loc)
			if err != nil {
				failedID = loc.ID
				return fmt.Errorf("push location %s: %w", loc.ID, err)
			}
			if err := tx.Locations().MarkSynced(ctx, loc.ID, key, loc.Version, now); err != nil {
				return err
			}
			result.Locations++
		}

		userLocations, err := tx.UserLocations().ListPendingSync(ctx, userID)
		if err != nil {
			return err
		}
		for _, ul := range userLocations {
			if err := s.pushUserLocation(ctx, tx, ul); err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"user_location_id": ul.ID,
					"user_id":          userID,
				}).Error("Failed to push user location")
				result.Failed++
				continue
			}
			result.UserLocations++
		}
		return nil
	})
	if err != nil {
		if failedID != "" {
			// The rollback restored the row's previous status, which may be a
			// stale "syncing" left by a crashed pass.
			if markErr := s.repos.Locations().MarkNotSynced(ctx, failedID); markErr != nil {
				s.logger.WithError(markErr).WithField("location_id", failedID).Warn("Failed to reset location sync status")
			}
		}
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"locations":      result.Locations,
		"user_locations": result.UserLocations,
		"failed":         result.Failed,
	}).Info("Push completed")
	return result, nil
}

// pushUserLocation runs in its own savepoint so a failure only undoes this row.
func (s *SyncService) pushUserLocation(ctx context.Context, tx repositories.SyncRepositories, ul *models.UserLocation) error {
	err := tx.InTx(ctx, func(ctx context.Context, sp repositories.SyncRepositories) error {
		now := s.now()
		if err := sp.UserLocations().MarkSyncing(ctx, ul.ID, now); err != nil {
			return err
		}
		key, err := s.docs.PushUserLocation(ctx, ul)
		if err != nil {
			return err
		}
		return sp.UserLocations().MarkSynced(ctx, ul.ID, key, ul.Version, now)
	})
	if err != nil {
		if markErr := tx.UserLocations().MarkNotSynced(ctx, ul.ID); markErr != nil {
			s.logger.WithError(markErr).WithField("user_location_id", ul.ID).Warn("Failed to reset user location sync status")
		}
	}
	return err
}

// Pull upserts every remote location and the user's remote references into
// the relational store, keyed by external id. A record that cannot be
// applied is logged and skipped.
func (s *SyncService) Pull(ctx context.Context, userID string) (*models.PullResult, error) {
	const op = "pull"

	locations, err := s.docs.LocationDocuments(ctx)
	if err != nil {
		return nil, s.fail(op, err, nil)
	}
	refs, err := s.docs.UserLocationDocuments(ctx, userID)
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}

	result := &models.PullResult{}
	count := func(created bool, err error, fields logrus.Fields) {
		switch {
		case err != nil:
			s.logger.WithError(err).WithFields(fields).Error("Failed to apply remote record")
			result.Skipped++
		case created:
			result.Created++
		default:
			result.Updated++
		}
	}

	err = s.repos.InTx(ctx, func(ctx context.Context, tx repositories.SyncRepositories) error {
		for _, id := range sortedKeys(locations) {
			doc := locations[id]
			var created bool
			err := tx.InTx(ctx, func(ctx context.Context, sp repositories.SyncRepositories) error {
				var err error
				created, err = sp.Locations().ApplyRemote(ctx, id, doc, s.now())
				return err
			})
			count(created, err, logrus.Fields{"location_id": id})
		}

		for _, locationID := range sortedKeys(refs) {
			doc := refs[locationID]
			var created bool
			err := tx.InTx(ctx, func(ctx context.Context, sp repositories.SyncRepositories) error {
				var err error
				created, err = sp.UserLocations().ApplyRemote(ctx, userID, locationID, locationID, doc, s.now())
				return err
			})
			count(created, err, logrus.Fields{"user_id": userID, "location_id": locationID})
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": userID,
		"created": result.Created,
		"updated": result.Updated,
		"skipped": result.Skipped,
	}).Info("Pull completed")
	return result, nil
}

// SyncWithConflictResolution pushes each pending location, first checking
// whether the remote copy also changed since the last sync. When both moved
// the resolver picks a winner, which ends up on both sides. Errors are
// counted per record and never stop the pass.
func (s *SyncService) SyncWithConflictResolution(ctx context.Context) (models.SyncStats, error) {
	const op = "sync_with_conflict_resolution"

	var stats models.SyncStats
	pending, err := s.repos.Locations().ListPendingSync(ctx)
	if err != nil {
		return stats, s.fail(op, err, nil)
	}

	for _, loc := range pending {
		conflicted, err := s.syncOne(ctx, loc)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("location_id", loc.ID).Error("Sync error")
			stats.Errors++
		case conflicted:
			stats.Conflicts++
		default:
			stats.Synced++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"synced":    stats.Synced,
		"conflicts": stats.Conflicts,
		"errors":    stats.Errors,
	}).Info("Conflict-aware sync completed")
	return stats, nil
}

func (s *SyncService) syncOne(ctx context.Context, loc *models.Location) (bool, error) {
	key := documentKey(loc.ID, loc.ExternalID)
	remote, err := s.docs.GetLocationDocument(ctx, key)
	if err != nil {
		return false, err
	}

	conflicted := HasConflict(loc.LastSyncedAt, remote)
	err = s.repos.InTx(ctx, func(ctx context.Context, tx repositories.SyncRepositories) error {
		now := s.now()
		if !conflicted {
			return s.pushLocation(ctx, tx, loc, now)
		}

		side := ResolveConflict(locationSyncRecord(loc, remote))
		s.logger.WithFields(logrus.Fields{
			"location_id":    loc.ID,
			"local_version":  loc.Version,
			"remote_version": remote.Version,
			"winner":         side.String(),
		}).Info("Resolved sync conflict")

		if side == RemoteWins {
			_, err := tx.Locations().ApplyRemote(ctx, key, *remote, now)
			return err
		}

		// Local wins: publish it above both versions so every reader moves forward.
		winner := *loc
		winner.Version = max(loc.Version, remote.Version) + 1
		winner.UpdatedAt = now
		return s.pushLocation(ctx, tx, &winner, now)
	})
	return conflicted, err
}

func (s *SyncService) pushLocation(ctx context.Context, tx repositories.SyncRepositories, loc *models.Location, now time.Time) error {
	if err := tx.Locations().MarkSyncing(ctx, loc.ID, now); err != nil {
		return err
	}
	key, err := s.docs.PushLocation(ctx, loc)
	if err != nil {
		return err
	}
	return tx.Locations().MarkSynced(ctx, loc.ID, key, loc.Version, now)
}

// SyncWithRetry runs a full sync (conflict-aware pass, push, pull) and
// retries the whole thing on transient failures only.
func (s *SyncService) SyncWithRetry(ctx context.Context, userID string) (*models.FullSyncResult, error) {
	const op = "sync_with_retry"

	policy := s.retry
	policy.Retryable = apperr.IsTransient
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"attempt": attempt,
			"delay":   delay,
		}).Warn("Sync failed with a connection error, retrying")
	}

	attempts := 0
	result, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*models.FullSyncResult, error) {
		attempts++
		return s.fullSync(ctx, userID)
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return nil, apperr.Transient(op, fmt.Errorf("gave up after %d attempts: %w", exhausted.Attempts, exhausted.Err))
	}
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}
	result.Attempts = attempts
	return result, nil
}

func (s *SyncService) fullSync(ctx context.Context, userID string) (*models.FullSyncResult, error) {
	resolved, err := s.SyncWithConflictResolution(ctx)
	if err != nil {
		return nil, err
	}
	pushed, err := s.Push(ctx, userID)
	if err != nil {
		return nil, err
	}
	pulled, err := s.Pull(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.FullSyncResult{Resolved: resolved, Pushed: *pushed, Pulled: *pulled}, nil
}

// RecoverStuck resets rows left in "syncing" for longer than olderThan, in
// both tables, so the next push picks them up again.
func (s *SyncService) RecoverStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	const op = "recover_stuck"

	cutoff := s.now().Add(-olderThan)
	var total int64
	err := s.repos.InTx(ctx, func(ctx context.Context, tx repositories.SyncRepositories) error {
		n, err := tx.Locations().ResetStuckSyncing(ctx, cutoff)
		if err != nil {
			return err
		}
		m, err := tx.UserLocations().ResetStuckSyncing(ctx, cutoff)
		if err != nil {
			return err
		}
		total = n + m
		return nil
	})
	if err != nil {
		return 0, s.fail(op, err, nil)
	}

	if total > 0 {
		s.logger.WithFields(logrus.Fields{"rows": total, "cutoff": cutoff}).Info("Reset stuck sync rows")
	}
	return total, nil
}

func (s *SyncService) fail(op string, err error, fields logrus.Fields) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindAuthorization, apperr.KindNotFound, apperr.KindConflict:
		return apperr.Boundary(op, err)
	}
	s.logger.WithError(err).WithFields(fields).WithField("operation", op).Error("Sync operation failed")
	return apperr.Boundary(op, err)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
