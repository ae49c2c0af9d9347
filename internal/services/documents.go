package services

import (
	"context"
	"errors"
	"sort"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/cache"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/utils"
	"github.com/sirupsen/logrus"
)

// NearbyNotifications returns the user's saved locations that have
// notifications on and lie within their notify radius of the given point,
// nearest first.
func (s *LocationService) NearbyNotifications(ctx context.Context, userID string, lat, lng float64) ([]models.SavedLocation, error) {
	const op = "nearby_notifications"

	if !utils.ValidPoint(lat, lng) {
		return nil, apperr.Validation(op, "Validation failed: latitude/longitude out of range")
	}

	saved, err := s.GetUserLocations(ctx, userID)
	if err != nil {
		return nil, err
	}

	here := utils.Point{Lat: lat, Lng: lng}
	var alerts []models.SavedLocation
	for _, sl := range saved {
		if !sl.UserLocation.NotifyEnabled {
			continue
		}
		d := here.DistanceTo(utils.Point{Lat: sl.Location.Latitude, Lng: sl.Location.Longitude})
		if !(d <= sl.UserLocation.NotifyRadius) {
			continue
		}
		sl.DistanceKm = &d
		alerts = append(alerts, sl)
	}

	sort.SliceStable(alerts, func(i, j int) bool { return *alerts[i].DistanceKm < *alerts[j].DistanceKm })
	return alerts, nil
}

// The methods below serve the sync orchestrator. A row's document key is its
// external id when it has one, otherwise its own id.

// PushLocation validates the row and writes it as the document at its key.
func (s *LocationService) PushLocation(ctx context.Context, loc *models.Location) (string, error) {
	const op = "push_location"

	in := locationInputFromRow(loc)
	if err := s.validator.Location(&in); err != nil {
		return "", err
	}

	key := documentKey(loc.ID, loc.ExternalID)
	doc := loc.Document()
	if err := s.WriteLocationDocument(ctx, key, doc); err != nil {
		return "", s.fail(op, err, logrus.Fields{"location_id": loc.ID})
	}
	return key, nil
}

// PushUserLocation writes the row as the user's reference to its location.
// The reference key is always the location id.
func (s *LocationService) PushUserLocation(ctx context.Context, ul *models.UserLocation) (string, error) {
	const op = "push_user_location"

	in := models.UserLocationInput{
		UserID:      ul.UserID,
		LocationID:  ul.LocationID,
		SavedAt:     ul.SavedAt,
		LastUpdated: ul.UpdatedAt,
	}
	if ul.NotifyRadius != 0 {
		radius := ul.NotifyRadius
		in.NotifyRadius = &radius
	}
	if err := s.validator.UserLocation(&in); err != nil {
		return "", err
	}

	doc := ul.Document()
	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Set(ctx, docstore.UserLocationPath(ul.UserID, ul.LocationID), doc)
	}); err != nil {
		return "", s.fail(op, err, logrus.Fields{"user_location_id": ul.ID, "user_id": ul.UserID})
	}

	s.cache.Delete(ctx, cache.UserLocationsKey(ul.UserID))
	return ul.LocationID, nil
}

// GetLocationDocument returns the stored document, deleted or not, or nil
// when there is none.
func (s *LocationService) GetLocationDocument(ctx context.Context, id string) (*models.LocationDocument, error) {
	const op = "get_location_document"

	doc, err := s.readLocation(ctx, op, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}
	return doc, nil
}

// WriteLocationDocument replaces the document at id and refreshes its cache entry.
func (s *LocationService) WriteLocationDocument(ctx context.Context, id string, doc models.LocationDocument) error {
	const op = "write_location_document"

	if err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Set(ctx, docstore.LocationPath(id), doc)
	}); err != nil {
		return s.fail(op, err, logrus.Fields{"location_id": id})
	}

	if doc.IsDeleted {
		s.cache.Delete(ctx, cache.LocationKey(id))
	} else {
		s.cache.Set(ctx, cache.LocationKey(id), models.StoredLocation{ID: id, LocationDocument: doc})
	}
	return nil
}

// LocationDocuments returns every location document keyed by id, including
// soft-deleted ones.
func (s *LocationService) LocationDocuments(ctx context.Context) (map[string]models.LocationDocument, error) {
	const op = "location_documents"

	var docs map[string]models.LocationDocument
	err := s.storeCall(ctx, op, func(ctx context.Context) error {
		return s.store.Get(ctx, docstore.LocationsRoot, &docs)
	})
	if errors.Is(err, apperr.ErrNotFound) {
		return map[string]models.LocationDocument{}, nil
	}
	if err != nil {
		return nil, s.fail(op, err, nil)
	}
	return docs, nil
}

// UserLocationDocuments returns the user's references keyed by location id.
func (s *LocationService) UserLocationDocuments(ctx context.Context, userID string) (map[string]models.UserLocationDocument, error) {
	const op = "user_location_documents"

	refs, err := s.userReferences(ctx, op, userID)
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}
	return refs, nil
}

func documentKey(id string, externalID *string) string {
	if externalID != nil && *externalID != "" {
		return *externalID
	}
	return id
}

func locationInputFromRow(loc *models.Location) models.LocationInput {
	lat, lng := loc.Latitude, loc.Longitude
	return models.LocationInput{
		Name:        loc.Name,
		Latitude:    &lat,
		Longitude:   &lng,
		CreatedBy:   loc.CreatedBy,
		Description: loc.Description,
		Address:     loc.Address,
		Category:    loc.Category,
	}
}
