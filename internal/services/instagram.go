package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/sirupsen/logrus"
)

// SaveInstagramLocations stores the places extracted from one post. A URL
// that was already processed returns the locations saved the first time and
// writes nothing. Candidates that fail validation or the write are skipped.
func (s *LocationService) SaveInstagramLocations(
	ctx context.Context,
	userID, url string,
	datePosted *time.Time,
	candidates []models.LocationCandidate,
) ([]models.SavedLocation, error) {
	const op = "save_instagram_locations"

	url = strings.TrimSpace(url)
	if url == "" {
		return nil, apperr.Validation(op, "Missing required fields: instagramUrl")
	}

	existing, err := s.GetLocationsByInstagramURL(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		s.logger.WithFields(logrus.Fields{"url": url, "count": len(existing)}).
			Info("Instagram post already processed")
		return s.withCreatorReferences(ctx, op, existing)
	}

	var saved []models.SavedLocation
	for i, c := range candidates {
		in := candidateInput(c, userID, url, datePosted)
		sl, err := s.SaveLocation(ctx, in)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{"url": url, "candidate": i, "name": c.Name}).
				Warn("Skipping Instagram location candidate")
			continue
		}
		saved = append(saved, *sl)
	}

	if len(saved) == 0 {
		return nil, apperr.Validation(op, "no locations were saved")
	}
	return saved, nil
}

func candidateInput(c models.LocationCandidate, userID, url string, datePosted *time.Time) models.LocationInput {
	in := models.LocationInput{
		Name:              strings.TrimSpace(c.Name),
		CreatedBy:         userID,
		Description:       c.Description,
		Address:           c.Address,
		Category:          c.Category,
		IsInstagramSource: true,
		InstagramURL:      url,
		DatePosted:        datePosted,
		UserSettings:      c.Settings,
	}
	if in.Name == "" {
		in.Name = models.DefaultLocationName
	}
	if strings.TrimSpace(in.Category) == "" {
		in.Category = models.DefaultCategory
	}
	if c.Coordinates != nil {
		in.Latitude = c.Coordinates.Latitude
		in.Longitude = c.Coordinates.Longitude
	}
	if in.UserSettings != nil && strings.TrimSpace(in.UserSettings.CustomCategory) == "" {
		settings := *in.UserSettings
		settings.CustomCategory = in.Category
		in.UserSettings = &settings
	}
	return in
}

// withCreatorReferences joins each location with its creator's reference,
// when one still exists.
func (s *LocationService) withCreatorReferences(ctx context.Context, op string, locs []models.StoredLocation) ([]models.SavedLocation, error) {
	out := make([]models.SavedLocation, 0, len(locs))
	for _, loc := range locs {
		sl := models.SavedLocation{ID: loc.ID, Location: loc.LocationDocument}
		err := s.storeCall(ctx, op, func(ctx context.Context) error {
			return s.store.Get(ctx, docstore.UserLocationPath(loc.CreatedBy, loc.ID), &sl.UserLocation)
		})
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, s.fail(op, err, logrus.Fields{"location_id": loc.ID})
		}
		out = append(out, sl)
	}
	return out, nil
}
