package services

import (
	"context"
	"sync"
	"testing"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/retry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOptimisticLock_SequentialUpdates tests that each commit bumps the version by one
func TestOptimisticLock_SequentialUpdates(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestLocationService(t, store)
	ctx := context.Background()
	saved := mustSave(t, svc, validInput("owner", "Cafe", 1, 2))

	first, err := svc.UpdateWithOptimisticLock(ctx, saved.ID, "owner", models.LocationPatch{Name: strPtr("Cafe 2")})
	require.NoError(t, err)
	second, err := svc.UpdateWithOptimisticLock(ctx, saved.ID, "owner", models.LocationPatch{Name: strPtr("Cafe 3")})
	require.NoError(t, err)

	assert.Equal(t, int64(2), first.Version)
	assert.Equal(t, int64(3), second.Version)
	doc := readDoc(t, store, saved.ID)
	assert.Equal(t, "Cafe 3", doc.Name)
	assert.Equal(t, int64(3), doc.Version)
}

// TestOptimisticLock_StaleExpectedVersion tests that a stale caller is rejected without damage
func TestOptimisticLock_StaleExpectedVersion(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestLocationService(t, store)
	ctx := context.Background()
	saved := mustSave(t, svc, validInput("owner", "Cafe", 1, 2))
	_, err := svc.UpdateWithOptimisticLock(ctx, saved.ID, "owner", models.LocationPatch{Name: strPtr("Fresh")})
	require.NoError(t, err)

	// ACT: a writer that still holds version 1
	_, err = svc.UpdateWithOptimisticLock(ctx, saved.ID, "owner", models.LocationPatch{
		Name:    strPtr("Stale"),
		Version: int64Ptr(1),
	})

	// ASSERT
	require.ErrorIs(t, err, apperr.ErrConflict)
	doc := readDoc(t, store, saved.ID)
	assert.Equal(t, "Fresh", doc.Name)
	assert.Equal(t, int64(2), doc.Version)
}

// TestOptimisticLock_TerminalErrors tests failures that must not be retried
func TestOptimisticLock_TerminalErrors(t *testing.T) {
	inner := docstore.NewMemoryStore()
	store := newFaultyStore(inner)
	svc, _ := newTestLocationService(t, store)
	ctx := context.Background()
	saved := mustSave(t, svc, validInput("owner", "Cafe", 1, 2))

	_, err := svc.UpdateWithOptimisticLock(ctx, saved.ID, "intruder", models.LocationPatch{Name: strPtr("Mine")})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = svc.UpdateWithOptimisticLock(ctx, "missing", "owner", models.LocationPatch{Name: strPtr("x")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	assert.Zero(t, store.callCount("Transaction"), "nothing was written")
	assert.Equal(t, "Cafe", readDoc(t, inner, saved.ID).Name)
}

// TestOptimisticLock_RetriesLostRace tests recovery from one concurrent writer
func TestOptimisticLock_RetriesLostRace(t *testing.T) {
	// ARRANGE: another writer commits version 2 between our read and write
	inner := docstore.NewMemoryStore()
	store := &racingStore{Store: inner}
	svc, hook := newTestLocationService(t, store)
	ctx := context.Background()
	saved := mustSave(t, svc, validInput("owner", "Cafe", 1, 2))
	store.races = 1

	// ACT
	updated, err := svc.UpdateWithOptimisticLock(ctx, saved.ID, "owner", models.LocationPatch{Description: strPtr("ours")})

	// ASSERT: second attempt builds on the racer's version
	require.NoError(t, err)
	assert.Equal(t, int64(3), updated.Version)
	doc := readDoc(t, inner, saved.ID)
	assert.Equal(t, int64(3), doc.Version)
	assert.Equal(t, "racer", doc.Name, "second attempt re-read the racer's data")
	assert.Equal(t, "ours", doc.Description)

	var warned bool
	for _, e := range hook.AllEntries() {
		warned = warned || e.Level == logrus.WarnLevel
	}
	assert.True(t, warned, "lost race should be logged")
}

// TestOptimisticLock_GivesUp tests the terminal failure after every attempt loses
func TestOptimisticLock_GivesUp(t *testing.T) {
	inner := docstore.NewMemoryStore()
	store := &racingStore{Store: inner}
	svc, _ := newTestLocationService(t, store)
	ctx := context.Background()
	saved := mustSave(t, svc, validInput("owner", "Cafe", 1, 2))
	store.races = -1

	_, err := svc.UpdateWithOptimisticLock(ctx, saved.ID, "owner", models.LocationPatch{Description: strPtr("ours")})

	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), "max retries reached for optimistic locking")
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	doc := readDoc(t, inner, saved.ID)
	assert.Equal(t, int64(4), doc.Version, "only the racer's three commits landed")
	assert.Empty(t, doc.Description)
}

// TestOptimisticLock_ConcurrentWritersGetDistinctVersions tests that no version is committed twice
func TestOptimisticLock_ConcurrentWritersGetDistinctVersions(t *testing.T) {
	// ARRANGE
	store := docstore.NewMemoryStore()
	svc, _ := newTestLocationService(t, store)
	svc.policies.Lock = retry.Policy{MaxAttempts: 100, Backoff: retry.NoDelay}
	ctx := context.Background()
	saved := mustSave(t, svc, validInput("owner", "Cafe", 1, 2))

	const writers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	versions := map[int64]int{}
	committed := 0

	// ACT
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := svc.UpdateWithOptimisticLock(ctx, saved.ID, "owner", models.LocationPatch{Description: strPtr("w")})
			if err != nil {
				return
			}
			mu.Lock()
			versions[updated.Version]++
			committed++
			mu.Unlock()
		}()
	}
	wg.Wait()

	// ASSERT
	assert.Equal(t, writers, committed)
	for v, n := range versions {
		assert.Equal(t, 1, n, "version %d committed more than once", v)
	}
	assert.Equal(t, int64(1+writers), readDoc(t, store, saved.ID).Version)
}
