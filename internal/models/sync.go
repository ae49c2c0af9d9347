package models

import "time"

type SyncEntity string

const (
	EntityLocation     SyncEntity = "location"
	EntityUserLocation SyncEntity = "user_location"
)

// SyncRecord is the transient view of one logical record on both sides,
// consumed by the conflict resolver.
type SyncRecord struct {
	Entity          SyncEntity
	ExternalID      string
	LocalVersion    int64
	LocalUpdatedAt  time.Time
	RemoteVersion   int64
	RemoteUpdatedAt time.Time
}

type SyncStats struct {
	Synced    int `json:"synced"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

func (s *SyncStats) Add(other SyncStats) {
	s.Synced += other.Synced
	s.Conflicts += other.Conflicts
	s.Errors += other.Errors
}

// PushResult counts what a push pass wrote.
type PushResult struct {
	Locations     int `json:"locations"`
	UserLocations int `json:"user_locations"`
	Failed        int `json:"failed"`
}

// PullResult counts what a pull pass upserted.
type PullResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// LocationCandidate is one place extracted from a caption by the upstream analyzer.
type LocationCandidate struct {
	Name        string                `json:"name"`
	Type        string                `json:"type"`
	Category    string                `json:"category"`
	Description string                `json:"description"`
	Address     string                `json:"address"`
	Coordinates *Coordinates          `json:"coordinates,omitempty"`
	Settings    *UserLocationSettings `json:"userSettings,omitempty"`
}

type Coordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// SearchQuery filters locations. Center and RadiusKm go together; a nil
// Center disables the spatial filter.
type SearchQuery struct {
	Center   *Coordinates
	RadiusKm float64
	Text     string
	Category string
}

// UserProfile lives at users/{userId}/profile.
type UserProfile struct {
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	DisplayName string     `json:"displayName"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// FullSyncResult reports one complete sync: conflict-aware pass, push, then pull.
type FullSyncResult struct {
	Resolved SyncStats  `json:"resolved"`
	Pushed   PushResult `json:"pushed"`
	Pulled   PullResult `json:"pulled"`
	Attempts int        `json:"attempts"`
}
