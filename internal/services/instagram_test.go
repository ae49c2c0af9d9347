package services

import (
	"context"
	"testing"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reelURL = "https://www.instagram.com/reel/abc123/"

func candidate(name string, lat, lng float64) models.LocationCandidate {
	return models.LocationCandidate{
		Name:        name,
		Type:        "restaurant",
		Category:    "food",
		Coordinates: &models.Coordinates{Latitude: floatPtr(lat), Longitude: floatPtr(lng)},
	}
}

// TestSaveInstagramLocations_Dedup tests that a second call for the same post writes nothing
func TestSaveInstagramLocations_Dedup(t *testing.T) {
	// ARRANGE
	store := docstore.NewMemoryStore()
	svc, _ := newTestLocationService(t, store)
	ctx := context.Background()
	candidates := []models.LocationCandidate{candidate("Pizza Place", 40.71, -74.00), candidate("Gelato", 40.72, -74.01)}

	// ACT
	first, err := svc.SaveInstagramLocations(ctx, "u", reelURL, &testNow, candidates)
	require.NoError(t, err)
	second, err := svc.SaveInstagramLocations(ctx, "u", reelURL, &testNow, candidates)
	require.NoError(t, err)

	// ASSERT
	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.ElementsMatch(t, []string{first[0].ID, first[1].ID}, []string{second[0].ID, second[1].ID})
	for _, sl := range second {
		assert.Equal(t, sl.ID, sl.UserLocation.LocationID, "joined with the creator's reference")
	}

	var all map[string]models.LocationDocument
	require.NoError(t, store.Get(ctx, docstore.LocationsRoot, &all))
	assert.Len(t, all, 2, "no duplicates written")
	for _, doc := range all {
		assert.True(t, doc.IsInstagramSource)
		assert.Equal(t, reelURL, doc.InstagramURL)
		require.NotNil(t, doc.DatePosted)
	}
}

// TestSaveInstagramLocations_DefaultsAndSkips tests defaults and skipping of unusable candidates
func TestSaveInstagramLocations_DefaultsAndSkips(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, hook := newTestLocationService(t, store)
	ctx := context.Background()

	unnamed := candidate("", 10, 10)
	unnamed.Category = ""
	unnamed.Settings = &models.UserLocationSettings{IsFavorite: true}
	noCoordinates := models.LocationCandidate{Name: "Somewhere", Category: "food"}

	saved, err := svc.SaveInstagramLocations(ctx, "u", reelURL, nil, []models.LocationCandidate{unnamed, noCoordinates})

	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, models.DefaultLocationName, saved[0].Location.Name)
	assert.Equal(t, models.DefaultCategory, saved[0].Location.Category)
	assert.True(t, saved[0].UserLocation.IsFavorite)
	assert.Equal(t, models.DefaultCategory, saved[0].UserLocation.CustomCategory)
	assert.NotEmpty(t, hook.AllEntries(), "skipped candidate is logged")
}

// TestSaveInstagramLocations_NothingSaved tests the failure when every candidate is unusable
func TestSaveInstagramLocations_NothingSaved(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc, _ := newTestLocationService(t, store)

	_, err := svc.SaveInstagramLocations(context.Background(), "u", reelURL, nil, []models.LocationCandidate{
		{Name: "No coordinates"},
		candidate("Off the map", 120, 0),
	})

	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "no locations were saved")

	_, err = svc.SaveInstagramLocations(context.Background(), "u", " ", nil, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
