package validation

import (
	"math"
	"testing"
	"time"

	"github.com/prudhvinik1/locsync/internal/apperr"
	"github.com/prudhvinik1/locsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float(v float64) *float64 { return &v }

func validLocation() *models.LocationInput {
	return &models.LocationInput{
		Name:      "Blue Bottle",
		Latitude:  float(40.7128),
		Longitude: float(-74.0060),
		CreatedBy: "user-1",
	}
}

func TestLocation_Valid(t *testing.T) {
	assert.NoError(t, New().Location(validLocation()))
}

func TestLocation_ZeroCoordinatesAreValid(t *testing.T) {
	in := validLocation()
	in.Latitude = float(0)
	in.Longitude = float(0)

	assert.NoError(t, New().Location(in))
}

func TestLocation_MissingLatitude(t *testing.T) {
	in := validLocation()
	in.Latitude = nil

	err := New().Location(in)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "Missing required fields: latitude")
}

func TestLocation_MissingFieldsTakePrecedence(t *testing.T) {
	in := validLocation()
	in.Name = ""
	in.CreatedBy = ""
	in.Longitude = float(500)

	err := New().Location(in)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required fields: name, createdBy")
	assert.NotContains(t, err.Error(), "longitude")
}

func TestLocation_OutOfRange(t *testing.T) {
	in := validLocation()
	in.Latitude = float(91)
	in.Longitude = float(-181)

	err := New().Location(in)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "Validation failed:")
	assert.Contains(t, err.Error(), "latitude must be at most 90")
	assert.Contains(t, err.Error(), "longitude must be at least -180")
}

func TestLocation_NaNIsNotANumber(t *testing.T) {
	in := validLocation()
	in.Latitude = float(math.NaN())

	err := New().Location(in)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "latitude must be a number")
}

func TestUserLocation(t *testing.T) {
	now := time.Now()
	v := New()

	in := models.NewUserLocationInput("user-1", "loc-1", nil, now)
	assert.NoError(t, v.UserLocation(&in))

	in.NotifyRadius = float(0)
	err := v.UserLocation(&in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifyRadius must be greater than 0")

	missing := models.UserLocationInput{UserID: "user-1"}
	err = v.UserLocation(&missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required fields: locationId, savedAt, lastUpdated")
}

func TestPatch(t *testing.T) {
	v := New()
	empty := ""

	assert.NoError(t, v.Patch(&models.LocationPatch{Latitude: float(-90)}))

	err := v.Patch(&models.LocationPatch{Name: &empty, Latitude: float(-90.5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name must not be empty")
	assert.Contains(t, err.Error(), "latitude must be at least -90")
}
