package services

import (
	"time"

	"github.com/prudhvinik1/locsync/internal/models"
)

type Side int

const (
	LocalWins Side = iota
	RemoteWins
)

func (s Side) String() string {
	if s == RemoteWins {
		return "remote"
	}
	return "local"
}

// ResolveConflict picks the authoritative copy of one record. A higher remote
// version wins outright. Otherwise the later timestamp wins, and a tie keeps
// the local copy. Whole-record only; fields are never merged.
func ResolveConflict(rec models.SyncRecord) Side {
	if rec.RemoteVersion > rec.LocalVersion {
		return RemoteWins
	}
	if rec.RemoteUpdatedAt.After(rec.LocalUpdatedAt) {
		return RemoteWins
	}
	return LocalWins
}

// HasConflict reports whether the remote copy changed since the local row was
// last synced. The caller only asks for rows with a pending local change, so
// a true result means both sides moved.
func HasConflict(lastSyncedAt *time.Time, remote *models.LocationDocument) bool {
	if remote == nil {
		return false
	}
	if lastSyncedAt == nil {
		return true
	}
	return remote.LastModified.After(*lastSyncedAt)
}

func locationSyncRecord(loc *models.Location, remote *models.LocationDocument) models.SyncRecord {
	externalID := loc.ID
	if loc.ExternalID != nil {
		externalID = *loc.ExternalID
	}
	return models.SyncRecord{
		Entity:          models.EntityLocation,
		ExternalID:      externalID,
		LocalVersion:    loc.Version,
		LocalUpdatedAt:  loc.UpdatedAt,
		RemoteVersion:   remote.Version,
		RemoteUpdatedAt: remote.LastModified,
	}
}
