package models

import (
	"strings"
	"time"
)

type SyncStatus int16

const (
	SyncStatusNotSynced SyncStatus = 0
	SyncStatusSyncing   SyncStatus = 1
	SyncStatusSynced    SyncStatus = 2
)

func (s SyncStatus) String() string {
	switch s {
	case SyncStatusSyncing:
		return "syncing"
	case SyncStatusSynced:
		return "synced"
	default:
		return "not_synced"
	}
}

type LocationSource string

const (
	SourceManual    LocationSource = "manual"
	SourceInstagram LocationSource = "instagram"
)

const (
	DefaultCategory     = "uncategorized"
	DefaultLocationName = "Unnamed Location"
)

// Location is the relational row.
type Location struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Latitude      float64        `json:"latitude"`
	Longitude     float64        `json:"longitude"`
	Description   string         `json:"description"`
	Address       string         `json:"address"`
	Category      string         `json:"category"`
	Source        LocationSource `json:"source"`
	SourceURL     string         `json:"source_url,omitempty"`
	DatePosted    *time.Time     `json:"date_posted,omitempty"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Version       int64          `json:"version"`
	IsDeleted     bool           `json:"is_deleted"`
	SyncStatus    SyncStatus     `json:"sync_status"`
	SyncStartedAt *time.Time     `json:"sync_started_at,omitempty"`
	ExternalID    *string        `json:"external_id,omitempty"`
	LastSyncedAt  *time.Time     `json:"last_synced_at,omitempty"`
}

// LocationDocument is the layout of locations/{id} in the document store.
// Field names are shared with other clients of the store and must not change.
type LocationDocument struct {
	Name              string     `json:"name"`
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	Description       string     `json:"description"`
	Address           string     `json:"address"`
	Category          string     `json:"category"`
	IsInstagramSource bool       `json:"isInstagramSource"`
	InstagramURL      string     `json:"instagramUrl,omitempty"`
	DatePosted        *time.Time `json:"datePosted,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	CreatedBy         string     `json:"createdBy"`
	Version           int64      `json:"version"`
	IsDeleted         bool       `json:"isDeleted"`
	LastModified      time.Time  `json:"lastModified"`
}

// LocationInput is the payload of a location-bound write. Coordinates are
// pointers so that a missing value is distinguishable from 0.
type LocationInput struct {
	Name              string     `json:"name" validate:"required"`
	Latitude          *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude         *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	CreatedBy         string     `json:"createdBy" validate:"required"`
	Description       string     `json:"description"`
	Address           string     `json:"address"`
	Category          string     `json:"category"`
	IsInstagramSource bool       `json:"isInstagramSource"`
	InstagramURL      string     `json:"instagramUrl"`
	DatePosted        *time.Time `json:"datePosted"`

	// Settings for the creator's own reference. Optional.
	UserSettings *UserLocationSettings `json:"userSettings,omitempty"`
}

// Normalize trims text fields and fills defaults.
func (in *LocationInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.CreatedBy = strings.TrimSpace(in.CreatedBy)
	in.Category = strings.TrimSpace(in.Category)
	if in.Category == "" {
		in.Category = DefaultCategory
	}
}

// Document builds version 1 of the stored document. The input must already be validated.
func (in *LocationInput) Document(now time.Time) LocationDocument {
	return LocationDocument{
		Name:              in.Name,
		Latitude:          *in.Latitude,
		Longitude:         *in.Longitude,
		Description:       in.Description,
		Address:           in.Address,
		Category:          in.Category,
		IsInstagramSource: in.IsInstagramSource,
		InstagramURL:      in.InstagramURL,
		DatePosted:        in.DatePosted,
		CreatedAt:         now,
		CreatedBy:         in.CreatedBy,
		Version:           1,
		IsDeleted:         false,
		LastModified:      now,
	}
}

// LocationPatch is a partial update. Version, when set, is the version the
// caller last read.
type LocationPatch struct {
	Name        *string  `json:"name,omitempty" validate:"omitempty,min=1"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Description *string  `json:"description,omitempty"`
	Address     *string  `json:"address,omitempty"`
	Category    *string  `json:"category,omitempty" validate:"omitempty,min=1"`
	Version     *int64   `json:"version,omitempty"`
}

// Apply merges the patch into doc. Version and LastModified are left to the caller.
func (p LocationPatch) Apply(doc *LocationDocument) {
	if p.Name != nil {
		doc.Name = *p.Name
	}
	if p.Latitude != nil {
		doc.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		doc.Longitude = *p.Longitude
	}
	if p.Description != nil {
		doc.Description = *p.Description
	}
	if p.Address != nil {
		doc.Address = *p.Address
	}
	if p.Category != nil {
		doc.Category = *p.Category
	}
}

// Document converts the relational row to its document form.
func (l *Location) Document() LocationDocument {
	doc := LocationDocument{
		Name:              l.Name,
		Latitude:          l.Latitude,
		Longitude:         l.Longitude,
		Description:       l.Description,
		Address:           l.Address,
		Category:          l.Category,
		IsInstagramSource: l.Source == SourceInstagram,
		InstagramURL:      l.SourceURL,
		DatePosted:        l.DatePosted,
		CreatedAt:         l.CreatedAt,
		CreatedBy:         l.CreatedBy,
		Version:           l.Version,
		IsDeleted:         l.IsDeleted,
		LastModified:      l.UpdatedAt,
	}
	if doc.Version < 1 {
		doc.Version = 1
	}
	return doc
}

// ApplyDocument overwrites the row's data fields with the remote copy. Identity
// and sync bookkeeping are not touched.
func (l *Location) ApplyDocument(doc LocationDocument) {
	l.Name = doc.Name
	l.Latitude = doc.Latitude
	l.Longitude = doc.Longitude
	l.Description = doc.Description
	l.Address = doc.Address
	l.Category = doc.Category
	if l.Category == "" {
		l.Category = DefaultCategory
	}
	l.Source = SourceManual
	if doc.IsInstagramSource {
		l.Source = SourceInstagram
	}
	l.SourceURL = doc.InstagramURL
	l.DatePosted = doc.DatePosted
	l.CreatedBy = doc.CreatedBy
	if !doc.CreatedAt.IsZero() {
		l.CreatedAt = doc.CreatedAt
	}
	l.UpdatedAt = doc.LastModified
	l.Version = doc.Version
	l.IsDeleted = doc.IsDeleted
}

// StoredLocation pairs a document with its key.
type StoredLocation struct {
	ID string `json:"id"`
	LocationDocument
}

// LocationMatch is a search hit. DistanceKm is set when the search had a center.
type LocationMatch struct {
	StoredLocation
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}
