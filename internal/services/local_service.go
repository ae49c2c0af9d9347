package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/prudhvinik1/locsync/internal/repositories"
	"github.com/prudhvinik1/locsync/internal/validation"
	"github.com/sirupsen/logrus"
)

// Unlinker removes a user's reference from the document store.
// LocationService implements it.
type Unlinker interface {
	DeleteUserLocation(ctx context.Context, userID, locationID string) error
}

// LocalService edits the relational copy. Every write leaves the row not
// synced, so the next push carries it to the document store.
type LocalService struct {
	repos     repositories.SyncRepositories
	remote    Unlinker
	validator *validation.Validator
	logger    *logrus.Logger
	now       func() time.Time
	newID     func() string
}

func NewLocalService(repos repositories.SyncRepositories, remote Unlinker, validator *validation.Validator, logger *logrus.Logger) *LocalService {
	return &LocalService{
		repos:     repos,
		remote:    remote,
		validator: validator,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.New().String() },
	}
}

// CreateLocation inserts a location row and the creator's reference in one
// transaction.
func (s *LocalService) CreateLocation(ctx context.Context, in models.LocationInput) (*models.Location, error) {
	const op = "create_local_location"

	in.Normalize()
	if err := s.validator.Location(&in); err != nil {
		return nil, err
	}

	loc := &models.Location{
		ID:          s.newID(),
		Name:        in.Name,
		Latitude:    *in.Latitude,
		Longitude:   *in.Longitude,
		Description: in.Description,
		Address:     in.Address,
		Category:    in.Category,
		Source:      models.SourceManual,
		SourceURL:   in.InstagramURL,
		DatePosted:  in.DatePosted,
		CreatedBy:   in.CreatedBy,
		SyncStatus:  models.SyncStatusNotSynced,
	}
	if in.IsInstagramSource {
		loc.Source = models.SourceInstagram
	}

	ref := models.NewUserLocationInput(in.CreatedBy, loc.ID, in.UserSettings, s.now())
	if err := s.validator.UserLocation(&ref); err != nil {
		return nil, err
	}
	ul := &models.UserLocation{UserID: in.CreatedBy, LocationID: loc.ID}
	ul.ApplyDocument(ref.Document())
	ul.SyncStatus = models.SyncStatusNotSynced

	err := s.repos.InTx(ctx, func(ctx context.Context, tx repositories.SyncRepositories) error {
		if err := tx.Locations().Create(ctx, loc); err != nil {
			return err
		}
		return tx.UserLocations().Create(ctx, ul)
	})
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": loc.ID, "user_id": in.CreatedBy})
	}

	s.logger.WithFields(logrus.Fields{"location_id": loc.ID, "user_id": in.CreatedBy}).Info("Local location created")
	return loc, nil
}

// UpdateLocation applies patch to the row. Only the creator may edit; a
// patch version that does not match the row is a conflict.
func (s *LocalService) UpdateLocation(ctx context.Context, id, userID string, patch models.LocationPatch) (*models.Location, error) {
	const op = "update_local_location"

	if err := s.validator.Patch(&patch); err != nil {
		return nil, err
	}

	loc, err := s.ownedLocation(ctx, op, id, userID)
	if err != nil {
		return nil, err
	}
	if patch.Version != nil && *patch.Version != loc.Version {
		return nil, apperr.Conflict(op, "location %s was updated by another user (expected version %d, found %d)",
			id, *patch.Version, loc.Version)
	}

	doc := loc.Document()
	patch.Apply(&doc)
	loc.Name, loc.Latitude, loc.Longitude = doc.Name, doc.Latitude, doc.Longitude
	loc.Description, loc.Address, loc.Category = doc.Description, doc.Address, doc.Category

	if err := s.repos.Locations().Update(ctx, loc); err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}
	return loc, nil
}

// DeleteLocation removes a row that never reached the document store. A row
// that did is marked deleted instead, and the push writes the tombstone.
func (s *LocalService) DeleteLocation(ctx context.Context, id, userID string) error {
	const op = "delete_local_location"

	loc, err := s.ownedLocation(ctx, op, id, userID)
	if err != nil {
		return err
	}

	if loc.ExternalID == nil {
		err = s.repos.Locations().Delete(ctx, id)
	} else {
		loc.IsDeleted = true
		err = s.repos.Locations().Update(ctx, loc)
	}
	if err != nil {
		return s.fail(op, err, logrus.Fields{"location_id": id})
	}

	s.logger.WithFields(logrus.Fields{"location_id": id, "user_id": userID}).Info("Local location deleted")
	return nil
}

// SaveUserLocation creates the user's reference to a location or rewrites
// its settings.
func (s *LocalService) SaveUserLocation(ctx context.Context, userID, locationID string, settings models.UserLocationSettings) (*models.UserLocation, error) {
	const op = "save_local_user_location"

	ref := models.NewUserLocationInput(userID, locationID, &settings, s.now())
	if err := s.validator.UserLocation(&ref); err != nil {
		return nil, err
	}
	doc := ref.Document()

	loc, err := s.repos.Locations().GetByID(ctx, locationID)
	if err == nil && loc.IsDeleted {
		err = repositories.ErrNotFound
	}
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": locationID})
	}

	ul, err := s.repos.UserLocations().GetByUserAndLocation(ctx, userID, locationID)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		ul = &models.UserLocation{UserID: userID, LocationID: locationID}
		ul.ApplyDocument(doc)
		ul.SyncStatus = models.SyncStatusNotSynced
		err = s.repos.UserLocations().Create(ctx, ul)
	case err == nil:
		ul.CustomName = doc.CustomName
		ul.CustomDescription = doc.CustomDescription
		ul.CustomCategory = doc.CustomCategory
		ul.Notes = doc.Notes
		ul.IsFavorite = doc.IsFavorite
		ul.NotifyEnabled = doc.NotifyEnabled
		ul.NotifyRadius = doc.NotifyRadius
		err = s.repos.UserLocations().Update(ctx, ul)
	}
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": locationID, "user_id": userID})
	}
	return ul, nil
}

// ListUserLocations returns the user's rows, newest first.
func (s *LocalService) ListUserLocations(ctx context.Context, userID string, favoritesOnly bool) ([]*models.UserLocation, error) {
	const op = "list_local_user_locations"

	uls, err := s.repos.UserLocations().ListByUser(ctx, userID, favoritesOnly)
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"user_id": userID})
	}
	if uls == nil {
		uls = []*models.UserLocation{}
	}
	return uls, nil
}

// DeleteUserLocation drops the user's reference. A reference already pushed
// is removed from the document store first so the next pull does not bring
// it back.
func (s *LocalService) DeleteUserLocation(ctx context.Context, userID, locationID string) error {
	const op = "delete_local_user_location"
	fields := logrus.Fields{"location_id": locationID, "user_id": userID}

	ul, err := s.repos.UserLocations().GetByUserAndLocation(ctx, userID, locationID)
	if err != nil {
		return s.fail(op, err, fields)
	}

	if ul.ExternalID != nil && s.remote != nil {
		if err := s.remote.DeleteUserLocation(ctx, userID, locationID); err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
	}

	if err := s.repos.UserLocations().Delete(ctx, ul.ID); err != nil {
		return s.fail(op, err, fields)
	}
	return nil
}

func (s *LocalService) ownedLocation(ctx context.Context, op, id, userID string) (*models.Location, error) {
	loc, err := s.repos.Locations().GetByID(ctx, id)
	if err == nil && loc.IsDeleted {
		err = repositories.ErrNotFound
	}
	if err != nil {
		return nil, s.fail(op, err, logrus.Fields{"location_id": id})
	}
	if loc.CreatedBy != userID {
		return nil, apperr.Unauthorized(op, "user %s may not change location %s", userID, id)
	}
	return loc, nil
}

func (s *LocalService) fail(op string, err error, fields logrus.Fields) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, err)
	case errors.Is(err, repositories.ErrVersionConflict):
		return apperr.Wrap(apperr.KindConflict, op, err)
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindAuthorization, apperr.KindNotFound, apperr.KindConflict:
		return apperr.Boundary(op, err)
	}
	s.logger.WithError(err).WithFields(fields).WithField("operation", op).Error("Local edit failed")
	return apperr.Boundary(op, err)
}
