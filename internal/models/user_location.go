package models

import "time"

const DefaultNotifyRadiusKm = 1.0

type UserLocation struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	LocationID        string     `json:"location_id"`
	IsFavorite        bool       `json:"is_favorite"`
	NotifyEnabled     bool       `json:"notify_enabled"`
	NotifyRadius      float64    `json:"notify_radius"`
	CustomName        string     `json:"custom_name"`
	CustomDescription string     `json:"custom_description"`
	CustomCategory    string     `json:"custom_category"`
	Notes             string     `json:"notes"`
	SavedAt           time.Time  `json:"saved_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Version           int64      `json:"version"`
	SyncStatus        SyncStatus `json:"sync_status"`
	SyncStartedAt     *time.Time `json:"sync_started_at,omitempty"`
	ExternalID        *string    `json:"external_id,omitempty"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
}

// UserLocationDocument is the layout of user_locations/{userId}/{locationId}.
type UserLocationDocument struct {
	LocationID        string    `json:"locationId"`
	CustomName        string    `json:"customName"`
	CustomDescription string    `json:"customDescription"`
	CustomCategory    string    `json:"customCategory"`
	Notes             string    `json:"notes"`
	IsFavorite        bool      `json:"isFavorite"`
	NotifyEnabled     bool      `json:"notifyEnabled"`
	NotifyRadius      float64   `json:"notifyRadius"`
	SavedAt           time.Time `json:"savedAt"`
	LastUpdated       time.Time `json:"lastUpdated"`
	Version           int64     `json:"version"`
}

// UserLocationSettings are the per-user fields a caller may supply.
type UserLocationSettings struct {
	CustomName        string   `json:"customName"`
	CustomDescription string   `json:"customDescription"`
	CustomCategory    string   `json:"customCategory"`
	Notes             string   `json:"notes"`
	IsFavorite        bool     `json:"isFavorite"`
	NotifyEnabled     bool     `json:"notifyEnabled"`
	NotifyRadius      *float64 `json:"notifyRadius"`
}

// UserLocationInput is the payload of a user-location-bound write.
type UserLocationInput struct {
	UserID            string    `json:"userId" validate:"required"`
	LocationID        string    `json:"locationId" validate:"required"`
	SavedAt           time.Time `json:"savedAt" validate:"required"`
	LastUpdated       time.Time `json:"lastUpdated" validate:"required"`
	NotifyRadius      *float64  `json:"notifyRadius" validate:"omitempty,gt=0"`
	CustomName        string    `json:"customName"`
	CustomDescription string    `json:"customDescription"`
	CustomCategory    string    `json:"customCategory"`
	Notes             string    `json:"notes"`
	IsFavorite        bool      `json:"isFavorite"`
	NotifyEnabled     bool      `json:"notifyEnabled"`
}

// NewUserLocationInput builds the creator's reference input for a freshly saved location.
func NewUserLocationInput(userID, locationID string, settings *UserLocationSettings, now time.Time) UserLocationInput {
	in := UserLocationInput{
		UserID:      userID,
		LocationID:  locationID,
		SavedAt:     now,
		LastUpdated: now,
	}
	if settings != nil {
		in.CustomName = settings.CustomName
		in.CustomDescription = settings.CustomDescription
		in.CustomCategory = settings.CustomCategory
		in.Notes = settings.Notes
		in.IsFavorite = settings.IsFavorite
		in.NotifyEnabled = settings.NotifyEnabled
		in.NotifyRadius = settings.NotifyRadius
	}
	return in
}

// Document builds the stored reference. The input must already be validated.
func (in *UserLocationInput) Document() UserLocationDocument {
	radius := DefaultNotifyRadiusKm
	if in.NotifyRadius != nil {
		radius = *in.NotifyRadius
	}
	return UserLocationDocument{
		LocationID:        in.LocationID,
		CustomName:        in.CustomName,
		CustomDescription: in.CustomDescription,
		CustomCategory:    in.CustomCategory,
		Notes:             in.Notes,
		IsFavorite:        in.IsFavorite,
		NotifyEnabled:     in.NotifyEnabled,
		NotifyRadius:      radius,
		SavedAt:           in.SavedAt,
		LastUpdated:       in.LastUpdated,
		Version:           1,
	}
}

func (u *UserLocation) Document() UserLocationDocument {
	doc := UserLocationDocument{
		LocationID:        u.LocationID,
		CustomName:        u.CustomName,
		CustomDescription: u.CustomDescription,
		CustomCategory:    u.CustomCategory,
		Notes:             u.Notes,
		IsFavorite:        u.IsFavorite,
		NotifyEnabled:     u.NotifyEnabled,
		NotifyRadius:      u.NotifyRadius,
		SavedAt:           u.SavedAt,
		LastUpdated:       u.UpdatedAt,
		Version:           u.Version,
	}
	if doc.NotifyRadius <= 0 {
		doc.NotifyRadius = DefaultNotifyRadiusKm
	}
	if doc.Version < 1 {
		doc.Version = 1
	}
	return doc
}

// ApplyDocument copies the remote per-user fields. LocationID is the
// relationship key and is never overwritten from the remote copy.
func (u *UserLocation) ApplyDocument(doc UserLocationDocument) {
	u.CustomName = doc.CustomName
	u.CustomDescription = doc.CustomDescription
	u.CustomCategory = doc.CustomCategory
	u.Notes = doc.Notes
	u.IsFavorite = doc.IsFavorite
	u.NotifyEnabled = doc.NotifyEnabled
	u.NotifyRadius = doc.NotifyRadius
	if u.NotifyRadius <= 0 {
		u.NotifyRadius = DefaultNotifyRadiusKm
	}
	if !doc.SavedAt.IsZero() {
		u.SavedAt = doc.SavedAt
	}
	u.UpdatedAt = doc.LastUpdated
	if doc.Version > 0 {
		u.Version = doc.Version
	}
}

// SavedLocation is the joined view returned to a user: the location plus
// their own reference to it.
type SavedLocation struct {
	ID           string               `json:"id"`
	Location     LocationDocument     `json:"location"`
	UserLocation UserLocationDocument `json:"userLocation"`
	DistanceKm   *float64             `json:"distanceKm,omitempty"`
}
