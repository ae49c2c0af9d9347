package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/locsync/internal/cache"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/repositories"
	"github.com/prudhvinik1/locsync/internal/retry"
	"github.com/prudhvinik1/locsync/internal/validation"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testPolicies() RetryPolicies {
	return RetryPolicies{
		Store: retry.Policy{MaxAttempts: 3, Backoff: retry.NoDelay},
		Lock:  retry.Policy{MaxAttempts: 3, Backoff: retry.NoDelay},
	}
}

// newTestLocationService builds a service over store with no cache, a fixed
// clock and sequential ids.
func newTestLocationService(t *testing.T, store docstore.Store) (*LocationService, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	svc := NewLocationService(store, cache.NewLayer(nil, 0, logger), validation.New(), testPolicies(), logger)
	svc.now = func() time.Time { return testNow }
	var seq int
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("loc-%03d", seq)
	}
	return svc, hook
}

func floatPtr(f float64) *float64 { return &f }

func int64Ptr(i int64) *int64 { return &i }

func strPtr(s string) *string { return &s }

func validInput(userID, name string, lat, lng float64) models.LocationInput {
	return models.LocationInput{
		Name:      name,
		Latitude:  floatPtr(lat),
		Longitude: floatPtr(lng),
		CreatedBy: userID,
		Category:  "food",
	}
}

func mustSave(t *testing.T, svc *LocationService, in models.LocationInput) *models.SavedLocation {
	t.Helper()
	saved, err := svc.SaveLocation(context.Background(), in)
	require.NoError(t, err)
	return saved
}

func readDoc(t *testing.T, store docstore.Store, id string) models.LocationDocument {
	t.Helper()
	var doc models.LocationDocument
	require.NoError(t, store.Get(context.Background(), docstore.LocationPath(id), &doc))
	return doc
}

// faultyStore fails chosen calls before handing them to the wrapped store.
// A rule matches on the method name and a path prefix.
type faultyStore struct {
	docstore.Store

	mu    sync.Mutex
	rules []*fault
	calls map[string]int
}

type fault struct {
	method    string
	path      string
	remaining int // <0 fails forever
	err       error
}

func newFaultyStore(inner docstore.Store) *faultyStore {
	return &faultyStore{Store: inner, calls: map[string]int{}}
}

func (f *faultyStore) failOn(method, path string, times int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &fault{method: method, path: path, remaining: times, err: err})
}

func (f *faultyStore) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *faultyStore) check(method, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	for _, r := range f.rules {
		if r.method != method || !strings.HasPrefix(path, r.path) || r.remaining == 0 {
			continue
		}
		if r.remaining > 0 {
			r.remaining--
		}
		return r.err
	}
	return nil
}

func (f *faultyStore) Get(ctx context.Context, path string, dest any) error {
	if err := f.check("Get", path); err != nil {
		return err
	}
	return f.Store.Get(ctx, path, dest)
}

func (f *faultyStore) Set(ctx context.Context, path string, value any) error {
	if err := f.check("Set", path); err != nil {
		return err
	}
	return f.Store.Set(ctx, path, value)
}

func (f *faultyStore) Delete(ctx context.Context, path string) error {
	if err := f.check("Delete", path); err != nil {
		return err
	}
	return f.Store.Delete(ctx, path)
}

func (f *faultyStore) QueryEqual(ctx context.Context, path, child string, value any, dest any) error {
	if err := f.check("QueryEqual", path); err != nil {
		return err
	}
	return f.Store.QueryEqual(ctx, path, child, value, dest)
}

func (f *faultyStore) Transaction(ctx context.Context, path string, fn docstore.TxFunc) error {
	if err := f.check("Transaction", path); err != nil {
		return err
	}
	return f.Store.Transaction(ctx, path, fn)
}

// racingStore simulates another writer that commits a new version of the
// document between our read and our conditional write.
type racingStore struct {
	docstore.Store
	races int // <0 races forever
}

func (r *racingStore) Transaction(ctx context.Context, path string, fn docstore.TxFunc) error {
	if r.races != 0 {
		if r.races > 0 {
			r.races--
		}
		var doc models.LocationDocument
		if err := r.Store.Get(ctx, path, &doc); err != nil {
			return err
		}
		doc.Version++
		doc.Name = "racer"
		if err := r.Store.Set(ctx, path, doc); err != nil {
			return err
		}
	}
	return r.Store.Transaction(ctx, path, fn)
}

// timeoutError looks like a network timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeSyncRepos is an in-memory relational side. InTx snapshots the tables
// and restores them when fn fails, so nested calls behave like savepoints.
type fakeSyncRepos struct {
	tables *fakeTables
}

type fakeTables struct {
	locations     map[string]models.Location
	userLocations map[string]models.UserLocation
	failApply     map[string]error
}

func newFakeSyncRepos() *fakeSyncRepos {
	return &fakeSyncRepos{tables: &fakeTables{
		locations:     map[string]models.Location{},
		userLocations: map[string]models.UserLocation{},
		failApply:     map[string]error{},
	}}
}

func (f *fakeSyncRepos) Locations() repositories.LocationRepository {
	return &fakeLocationRepo{t: f.tables}
}

func (f *fakeSyncRepos) UserLocations() repositories.UserLocationRepository {
	return &fakeUserLocationRepo{t: f.tables}
}

func (f *fakeSyncRepos) InTx(ctx context.Context, fn func(ctx context.Context, repos repositories.SyncRepositories) error) error {
	locs := make(map[string]models.Location, len(f.tables.locations))
	for k, v := range f.tables.locations {
		locs[k] = v
	}
	uls := make(map[string]models.UserLocation, len(f.tables.userLocations))
	for k, v := range f.tables.userLocations {
		uls[k] = v
	}
	if err := fn(ctx, f); err != nil {
		f.tables.locations = locs
		f.tables.userLocations = uls
		return err
	}
	return nil
}

func (f *fakeSyncRepos) location(t *testing.T, id string) models.Location {
	t.Helper()
	loc, ok := f.tables.locations[id]
	require.True(t, ok, "location %s should exist", id)
	return loc
}

func (f *fakeSyncRepos) userLocation(t *testing.T, userID, locationID string) models.UserLocation {
	t.Helper()
	for _, ul := range f.tables.userLocations {
		if ul.UserID == userID && ul.LocationID == locationID {
			return ul
		}
	}
	require.Failf(t, "missing user location", "%s/%s", userID, locationID)
	return models.UserLocation{}
}

type fakeLocationRepo struct {
	t *fakeTables
}

func (r *fakeLocationRepo) Create(ctx context.Context, loc *models.Location) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.Version == 0 {
		loc.Version = 1
	}
	if loc.Category == "" {
		loc.Category = models.DefaultCategory
	}
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = testNow
	}
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = loc.CreatedAt
	}
	r.t.locations[loc.ID] = *loc
	return nil
}

func (r *fakeLocationRepo) GetByID(ctx context.Context, id string) (*models.Location, error) {
	loc, ok := r.t.locations[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &loc, nil
}

func (r *fakeLocationRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Location, error) {
	for _, loc := range r.t.locations {
		if loc.ExternalID != nil && *loc.ExternalID == externalID {
			return &loc, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeLocationRepo) Update(ctx context.Context, loc *models.Location) error {
	stored, ok := r.t.locations[loc.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if stored.Version != loc.Version {
		return repositories.ErrVersionConflict
	}
	loc.Version++
	loc.SyncStatus = models.SyncStatusNotSynced
	r.t.locations[loc.ID] = *loc
	return nil
}

func (r *fakeLocationRepo) ListPendingSync(ctx context.Context) ([]*models.Location, error) {
	var out []*models.Location
	for _, loc := range r.t.locations {
		if loc.SyncStatus == models.SyncStatusSynced {
			continue
		}
		l := loc
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *fakeLocationRepo) modify(id string, fn func(*models.Location)) error {
	loc, ok := r.t.locations[id]
	if !ok {
		return repositories.ErrNotFound
	}
	fn(&loc)
	r.t.locations[id] = loc
	return nil
}

func (r *fakeLocationRepo) MarkSyncing(ctx context.Context, id string, at time.Time) error {
	return r.modify(id, func(l *models.Location) {
		l.SyncStatus = models.SyncStatusSyncing
		l.SyncStartedAt = &at
	})
}

func (r *fakeLocationRepo) MarkSynced(ctx context.Context, id, externalID string, version int64, at time.Time) error {
	return r.modify(id, func(l *models.Location) {
		l.SyncStatus = models.SyncStatusSynced
		l.ExternalID = &externalID
		l.Version = version
		l.LastSyncedAt = &at
		l.SyncStartedAt = nil
	})
}

func (r *fakeLocationRepo) MarkNotSynced(ctx context.Context, id string) error {
	return r.modify(id, func(l *models.Location) {
		l.SyncStatus = models.SyncStatusNotSynced
		l.SyncStartedAt = nil
	})
}

func (r *fakeLocationRepo) ApplyRemote(ctx context.Context, externalID string, doc models.LocationDocument, at time.Time) (bool, error) {
	if err := r.t.failApply[externalID]; err != nil {
		return false, err
	}
	existing, _ := r.GetByExternalID(ctx, externalID)
	created := false
	if existing == nil {
		if loc, ok := r.t.locations[externalID]; ok {
			existing = &loc
		} else {
			existing = &models.Location{ID: externalID, CreatedAt: at}
			created = true
		}
	}
	existing.ApplyDocument(doc)
	existing.ExternalID = &externalID
	existing.SyncStatus = models.SyncStatusSynced
	existing.SyncStartedAt = nil
	existing.LastSyncedAt = &at
	r.t.locations[existing.ID] = *existing
	return created, nil
}

func (r *fakeLocationRepo) ResetStuckSyncing(ctx context.Context, startedBefore time.Time) (int64, error) {
	var n int64
	for id, loc := range r.t.locations {
		if loc.SyncStatus != models.SyncStatusSyncing {
			continue
		}
		if loc.SyncStartedAt == nil || loc.SyncStartedAt.Before(startedBefore) {
			loc.SyncStatus = models.SyncStatusNotSynced
			loc.SyncStartedAt = nil
			r.t.locations[id] = loc
			n++
		}
	}
	return n, nil
}

func (r *fakeLocationRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.t.locations[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.t.locations, id)
	for ulID, ul := range r.t.userLocations {
		if ul.LocationID == id {
			delete(r.t.userLocations, ulID)
		}
	}
	return nil
}

type fakeUserLocationRepo struct {
	t *fakeTables
}

func (r *fakeUserLocationRepo) Create(ctx context.Context, ul *models.UserLocation) error {
	if _, ok := r.t.locations[ul.LocationID]; !ok {
		return errors.New("violates foreign key constraint on location_id")
	}
	if ul.ID == "" {
		ul.ID = uuid.New().String()
	}
	if ul.Version == 0 {
		ul.Version = 1
	}
	if ul.NotifyRadius == 0 {
		ul.NotifyRadius = models.DefaultNotifyRadiusKm
	}
	r.t.userLocations[ul.ID] = *ul
	return nil
}

func (r *fakeUserLocationRepo) GetByUserAndLocation(ctx context.Context, userID, locationID string) (*models.UserLocation, error) {
	for _, ul := range r.t.userLocations {
		if ul.UserID == userID && ul.LocationID == locationID {
			return &ul, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeUserLocationRepo) ListPendingSync(ctx context.Context, userID string) ([]*models.UserLocation, error) {
	var out []*models.UserLocation
	for _, ul := range r.t.userLocations {
		if ul.UserID != userID || ul.SyncStatus == models.SyncStatusSynced {
			continue
		}
		u := ul
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeUserLocationRepo) ListByUser(ctx context.Context, userID string, favoritesOnly bool) ([]*models.UserLocation, error) {
	var out []*models.UserLocation
	for _, ul := range r.t.userLocations {
		if ul.UserID != userID || (favoritesOnly && !ul.IsFavorite) {
			continue
		}
		u := ul
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SavedAt.After(out[j].SavedAt)
	})
	return out, nil
}

func (r *fakeUserLocationRepo) Update(ctx context.Context, ul *models.UserLocation) error {
	stored, ok := r.t.userLocations[ul.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if stored.Version != ul.Version {
		return repositories.ErrVersionConflict
	}
	ul.Version++
	ul.SyncStatus = models.SyncStatusNotSynced
	r.t.userLocations[ul.ID] = *ul
	return nil
}

func (r *fakeUserLocationRepo) modify(id string, fn func(*models.UserLocation)) error {
	ul, ok := r.t.userLocations[id]
	if !ok {
		return repositories.ErrNotFound
	}
	fn(&ul)
	r.t.userLocations[id] = ul
	return nil
}

func (r *fakeUserLocationRepo) MarkSyncing(ctx context.Context, id string, at time.Time) error {
	return r.modify(id, func(u *models.UserLocation) {
		u.SyncStatus = models.SyncStatusSyncing
		u.SyncStartedAt = &at
	})
}

func (r *fakeUserLocationRepo) MarkSynced(ctx context.Context, id, externalID string, version int64, at time.Time) error {
	return r.modify(id, func(u *models.UserLocation) {
		u.SyncStatus = models.SyncStatusSynced
		u.ExternalID = &externalID
		u.Version = version
		u.LastSyncedAt = &at
		u.SyncStartedAt = nil
	})
}

func (r *fakeUserLocationRepo) MarkNotSynced(ctx context.Context, id string) error {
	return r.modify(id, func(u *models.UserLocation) {
		u.SyncStatus = models.SyncStatusNotSynced
		u.SyncStartedAt = nil
	})
}

func (r *fakeUserLocationRepo) ApplyRemote(ctx context.Context, userID, externalID, locationID string, doc models.UserLocationDocument, at time.Time) (bool, error) {
	for id, ul := range r.t.userLocations {
		if ul.UserID != userID {
			continue
		}
		if (ul.ExternalID != nil && *ul.ExternalID == externalID) || ul.LocationID == locationID {
			ul.ApplyDocument(doc)
			ul.ExternalID = &externalID
			ul.SyncStatus = models.SyncStatusSynced
			ul.LastSyncedAt = &at
			r.t.userLocations[id] = ul
			return false, nil
		}
	}
	ul := models.UserLocation{UserID: userID, LocationID: locationID, SavedAt: at}
	ul.ApplyDocument(doc)
	if err := r.Create(ctx, &ul); err != nil {
		return false, err
	}
	ul.ExternalID = &externalID
	ul.SyncStatus = models.SyncStatusSynced
	ul.LastSyncedAt = &at
	r.t.userLocations[ul.ID] = ul
	return true, nil
}

func (r *fakeUserLocationRepo) ResetStuckSyncing(ctx context.Context, startedBefore time.Time) (int64, error) {
	var n int64
	for id, ul := range r.t.userLocations {
		if ul.SyncStatus != models.SyncStatusSyncing {
			continue
		}
		if ul.SyncStartedAt == nil || ul.SyncStartedAt.Before(startedBefore) {
			ul.SyncStatus = models.SyncStatusNotSynced
			ul.SyncStartedAt = nil
			r.t.userLocations[id] = ul
			n++
		}
	}
	return n, nil
}

func (r *fakeUserLocationRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.t.userLocations[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(r.t.userLocations, id)
	return nil
}

// rawDoc reads the JSON stored at path, for assertions on the wire layout.
func rawDoc(t *testing.T, store docstore.Store, path string) map[string]any {
	t.Helper()
	var raw json.RawMessage
	require.NoError(t, store.Get(context.Background(), path, &raw))
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}
