package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/cache"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/retry"
	"github.com/prudhvinik1/locsync/internal/utils"
	"github.com/prudhvinik1/locsync/internal/validation"
	"github.com/sirupsen/logrus"
)

// RetryPolicies are the two retry loops of the location service: one for
// transient document store failures and one for lost optimistic lock races.
// Retryable and OnRetry are filled in by the service.
type RetryPolicies struct {
	Store retry.Policy
	Lock  retry.Policy
}

func DefaultRetryPolicies() RetryPolicies {
	return RetryPolicies{
		Store: retry.Policy{MaxAttempts: 3, Backoff: retry.Jittered(500*time.Millisecond)},
		Lock:  retry.Policy{MaxAttempts: 3, Backoff: retry.Exponential(time.Second)},
	}
}

// LocationService is the adapter between the domain and the document store.
type LocationService struct {
	store     docstore.Store
	cache     *cache.Layer
	validator *validation.Validator
	policies  RetryPolicies
	logger    *logrus.Logger
	now       func() time.Time
	newID     func() string
}

func NewLocationService(
	store docstore.Store,
	cacheLayer *cache.Layer,
	validator *validation.Validator,
	policies RetryPolicies,
	logger *logrus.Logger,
) *LocationService {
	return &LocationService{
		store:     store,
		cache:     cacheLayer,
		validator: validator,
		policies:  policies,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// SaveLocation validates and writes a new location plus the creator's
// reference to it. The two writes are not atomic: if the second fails the
// location document stays behind without a reference.
func (s *LocationService) SaveLocation(ctx context.Context, in models.LocationInput) (*models.SavedLocation, error) {
	const op = "save_location"

	in.Normalize()
	if err := s.validator.Location(&in); err != nil {
		return nil, err
	}

	now := s.now()
	id := s.newID()
	doc := in.Document(now)

	ref := models.NewUserLocationInput(in.CreatedBy, id, in.UserSettings, now)
	if err := s.validator.UserLocation(&ref); err != nil {
		return nil, err
	}
	refDoc := ref.Document()

	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Set(ctx, docstore.LocationPath(id), doc)
	}); err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}

	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Set(ctx, docstore.UserLocationPath(in.CreatedBy, id), refDoc)
	}); err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id, "user_id": in.CreatedBy})
	}

	s.cache.Set(ctx, cache.LocationKey(id), models.StoredLocation{ID: id, LocationDocument: doc})
	s.cache.Delete(ctx, cache.UserLocationsKey(in.CreatedBy))

	s.logger.WithFields(logrus.Fields{"location_id": id, "user_id": in.CreatedBy}).Info("Location saved")

	return &models.SavedLocation{ID: id, Location: doc, UserLocation: refDoc}, nil
}

// GetLocation reads through the cache. Soft-deleted locations are not found.
func (s *LocationService) GetLocation(ctx context.Context, id string) (*models.StoredLocation, error) {
	const op = "get_location"

	loc, err := cache.GetOrSet(ctx, s.cache, cache.LocationKey(id), func(ctx context.Context) (*models.StoredLocation, error) {
		doc, err := s.readLocation(ctx, op, id)
		if err != nil {
			return nil, err
		}
		return &models.StoredLocation{ID: id, LocationDocument: *doc}, nil
	})
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}
	if loc.IsDeleted {
		return nil, apperr.NotFound(op, "location %s not found", id)
	}
	return loc, nil
}

// DeleteLocation removes the location and the deleting user's reference.
// Only the creator may delete. References held by other users are left as
// they are and resolve to nothing from then on.
func (s *LocationService) DeleteLocation(ctx context.Context, id, userID string) error {
	const op = "delete_location"

	doc, err := s.readLocation(ctx, op, id)
	if err != nil {
		return s.fail(op, err, logrus.Fields{"location_id": id})
	}
	if doc.CreatedBy != userID {
		return apperr.Unauthorized(op, "user %s may not delete location %s", userID, id)
	}

	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Delete(ctx, docstore.LocationPath(id))
	}); err != nil {
		return s.fail(op, err, logrus.Fields{"location_id": id})
	}
	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Delete(ctx, docstore.UserLocationPath(userID, id))
	}); err != nil {
		return s.fail(op, err, logrus.Fields{"location_id": id, "user_id": userID})
	}

	s.cache.Delete(ctx, cache.LocationKey(id), cache.UserLocationsKey(userID))

	s.logger.WithFields(logrus.Fields{"location_id": id, "user_id": userID}).Info("Location deleted")
	return nil
}

// DeleteUserLocation unlinks a user from a location without touching the location.
func (s *LocationService) DeleteUserLocation(ctx context.Context, userID, locationID string) error {
	const op = "delete_user_location"

	var ref models.UserLocationDocument
	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Get(ctx, docstore.UserLocationPath(userID, locationID), &ref)
	}); err != nil {
		return s.fail(op, err, logrus.Fields{"location_id": locationID, "user_id": userID})
	}

	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Delete(ctx, docstore.UserLocationPath(userID, locationID))
	}); err != nil {
		return s.fail(op, err, logrus.Fields{"location_id": locationID, "user_id": userID})
	}

	s.cache.Delete(ctx, cache.UserLocationsKey(userID))
	return nil
}

// GetUserLocations joins each of the user's references with its location,
// newest first. References to missing or deleted locations are skipped.
func (s *LocationService) GetUserLocations(ctx context.Context, userID string) ([]models.SavedLocation, error) {
	const op = "get_user_locations"

	saved, err := cache.GetOrSet(ctx, s.cache, cache.UserLocationsKey(userID), func(ctx context.Context) (*[]models.SavedLocation, error) {
		joined, err := s.joinUserLocations(ctx, op, userID)
		if err != nil {
			return nil, err
		}
		return &joined, nil
	})
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}
	return *saved, nil
}

func (s *LocationService) joinUserLocations(ctx context.Context, op, userID string) ([]models.SavedLocation, error) {
	refs, err := s.userReferences(ctx, op, userID)
	if err != nil {
		return nil, err
	}

	joined := make([]models.SavedLocation, 0, len(refs))
	for locationID, ref := range refs {
		loc, err := s.GetLocation(ctx, locationID)
		if errors.Is(err, apperr.ErrNotFound) {
			s.logger.WithFields(logrus.Fields{"user_id": userID, "location_id": locationID}).
				Debug("Skipping reference to missing location")
			continue
		}
		if err != nil {
			return nil, err
		}
		joined = append(joined, models.SavedLocation{ID: locationID, Location: loc.LocationDocument, UserLocation: ref})
	}

	sort.Slice(joined, func(i, j int) bool {
		a, b := joined[i].UserLocation.SavedAt, joined[j].UserLocation.SavedAt
		if a.Equal(b) {
			return joined[i].ID < joined[j].ID
		}
		return a.After(b)
	})
	return joined, nil
}

// GetLocationsByInstagramURL scans every location for an exact source URL match.
func (s *LocationService) GetLocationsByInstagramURL(ctx context.Context, url string) ([]models.StoredLocation, error) {
	const op = "get_locations_by_instagram_url"

	all, err := s.allLocations(ctx, op)
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"url": url})
	}

	var matches []models.StoredLocation
	for _, loc := range all {
		if loc.InstagramURL == url {
			matches = append(matches, loc)
		}
	}
	return matches, nil
}

// SearchLocations filters by category (through the store's index), distance
// from a center and a case-insensitive text match over name, description,
// category and address. With a center, results are nearest first.
func (s *LocationService) SearchLocations(ctx context.Context, q models.SearchQuery) ([]models.LocationMatch, error) {
	const op = "search_locations"

	var center *utils.Point
	if q.Center != nil {
		if q.Center.Latitude == nil || q.Center.Longitude == nil ||
			!utils.ValidPoint(*q.Center.Latitude, *q.Center.Longitude) {
			return nil, apperr.Validation(op, "Validation failed: center must be a valid latitude/longitude pair")
		}
		if q.RadiusKm <= 0 {
			return nil, apperr.Validation(op, "Validation failed: radius must be greater than 0")
		}
		center = &utils.Point{Lat: *q.Center.Latitude, Lng: *q.Center.Longitude}
	}

	var candidates []models.StoredLocation
	var err error
	if q.Category != "" {
		candidates, err = s.locationsInCategory(ctx, op, q.Category)
	} else {
		candidates, err = s.allLocations(ctx, op)
	}
	if err != nil {
		return nil, s.fail(op, err, nil)
	}

	text := strings.ToLower(strings.TrimSpace(q.Text))
	var matches []models.LocationMatch
	for _, loc := range candidates {
		if text != "" && !matchesText(loc.LocationDocument, text) {
			continue
		}
		match := models.LocationMatch{StoredLocation: loc}
		if center != nil {
			d := center.DistanceTo(utils.Point{Lat: loc.Latitude, Lng: loc.Longitude})
			if !(d <= q.RadiusKm) {
				continue
			}
			match.DistanceKm = &d
		}
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if center != nil {
			return *matches[i].DistanceKm < *matches[j].DistanceKm
		}
		return matches[i].Name < matches[j].Name
	})
	return matches, nil
}

func matchesText(doc models.LocationDocument, text string) bool {
	for _, field := range []string{doc.Name, doc.Description, doc.Category, doc.Address} {
		if strings.Contains(strings.ToLower(field), text) {
			return true
		}
	}
	return false
}

// UpdateLocation is the plain update: owner and expected version are checked
// against one read, then the whole document is rewritten. Two writers racing
// between the read and the write can both succeed; use
// UpdateWithOptimisticLock where that matters.
func (s *LocationService) UpdateLocation(ctx context.Context, id, userID string, patch models.LocationPatch) (*models.StoredLocation, error) {
	const op = "update_location"

	if err := s.validator.Patch(&patch); err != nil {
		return nil, err
	}

	doc, err := s.readLocation(ctx, op, id)
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}
	if doc.IsDeleted {
		return nil, apperr.NotFound(op, "location %s not found", id)
	}
	if doc.CreatedBy != userID {
		return nil, apperr.Unauthorized(op, "user %s may not update location %s", userID, id)
	}
	if patch.Version != nil && *patch.Version != doc.Version {
		return nil, apperr.Conflict(op, "location %s was updated by another user (expected version %d, found %d)",
			id, *patch.Version, doc.Version)
	}

	patch.Apply(doc)
	doc.Version++
	doc.LastModified = s.now()

	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Set(ctx, docstore.LocationPath(id), doc)
	}); err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}

	updated := &models.StoredLocation{ID: id, LocationDocument: *doc}
	s.cache.Set(ctx, cache.LocationKey(id), updated)
	s.cache.Delete(ctx, cache.UserLocationsKey(userID))
	return updated, nil
}

// SaveUserProfile writes users/{userId}/profile.
func (s *LocationService) SaveUserProfile(ctx context.Context, userID string, profile models.UserProfile) error {
	const op = "save_user_profile"

	if strings.TrimSpace(userID) == "" {
		return apperr.Validation(op, "Missing required fields: userId")
	}
	profile.UpdatedAt = s.now()

	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Set(ctx, docstore.ProfilePath(userID), profile)
	}); err != nil {
		return s.fail(op, err, logrus.Fields{"user_id": userID})
	}
	return nil
}

func (s *LocationService) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	const op = "get_user_profile"

	var profile models.UserProfile
	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Get(ctx, docstore.ProfilePath(userID), &profile)
	}); err != nil {
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}
	return &profile, nil
}

// readLocation fetches a location document straight from the store.
func (s *LocationService) readLocation(ctx context.Context, op, id string) (*models.LocationDocument, error) {
	var doc models.LocationDocument
	err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Get(ctx, docstore.LocationPath(id), &doc)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.NotFound(op, "location %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// allLocations returns every live location, ordered by id.
func (s *LocationService) allLocations(ctx context.Context, op string) ([]models.StoredLocation, error) {
	var docs map[string]models.LocationDocument
	err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Get(ctx, docstore.LocationsRoot, &docs)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return liveLocations(docs), nil
}

func (s *LocationService) locationsInCategory(ctx context.Context, op, category string) ([]models.StoredLocation, error) {
	var docs map[string]models.LocationDocument
	err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.QueryEqual(ctx, docstore.LocationsRoot, "category", category, &docs)
	})
	if err != nil {
		return nil, err
	}
	return liveLocations(docs), nil
}

func liveLocations(docs map[string]models.LocationDocument) []models.StoredLocation {
	out := make([]models.StoredLocation, 0, len(docs))
	for id, doc := range docs {
		if doc.IsDeleted {
			continue
		}
		out = append(out, models.StoredLocation{ID: id, LocationDocument: doc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *LocationService) userReferences(ctx context.Context, op, userID string) (map[string]models.UserLocationDocument, error) {
	var refs map[string]models.UserLocationDocument
	err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Get(ctx, docstore.UserLocationsPath(userID), &refs)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return map[string]models.UserLocationDocument{}, nil
	}
	return refs, err
}

// storeCall runs one document store call under the transient retry policy.
func (s *LocationService) storeCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	policy := s.policies.Store
	policy.Retryable = apperr.IsTransient
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
			"delay":     delay,
		}).Warn("Document store call failed, retrying")
	}

	err := retry.Do(ctx, policy, fn)

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return apperr.Transient(op, fmt.Errorf("gave up after %d attempts: %w", exhausted.Attempts, exhausted.Err))
	}
	return err
}

// fail logs unexpected errors with context and folds them into the service's
// error kinds. Validation, authorization, not-found and conflict errors pass
// through unchanged and are not logged.
func (s *LocationService) fail(op string, err error, fields logrus.Fields) error {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindAuthorization, apperr.KindNotFound, apperr.KindConflict:
		return apperr.Boundary(op, err)
	}
	s.logger.WithError(err).WithFields(fields).WithField("operation", op).Error("Location operation failed")
	return apperr.Boundary(op, err)
}
