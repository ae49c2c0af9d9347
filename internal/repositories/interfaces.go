package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/locsync/internal/models"
)

type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type SessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForAccount(ctx context.Context, accountID uuid.UUID) error
}

type LocationRepository interface {
	Create(ctx context.Context, location *models.Location) error
	GetByID(ctx context.Context, id string) (*models.Location, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Location, error)
	// Update writes data fields only if the stored version equals location.Version.
	Update(ctx context.Context, location *models.Location) error
	// ListPendingSync returns rows that are not synced or stuck syncing, oldest first.
	ListPendingSync(ctx context.Context) ([]*models.Location, error)
	MarkSyncing(ctx context.Context, id string, at time.Time) error
	MarkSynced(ctx context.Context, id, externalID string, version int64, at time.Time) error
	MarkNotSynced(ctx context.Context, id string) error
	// ApplyRemote upserts the row whose external id is externalID from the
	// remote copy and marks it synced. Reports whether a row was created.
	ApplyRemote(ctx context.Context, externalID string, doc models.LocationDocument, at time.Time) (bool, error)
	ResetStuckSyncing(ctx context.Context, startedBefore time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
}

type UserLocationRepository interface {
	Create(ctx context.Context, userLocation *models.UserLocation) error
	GetByUserAndLocation(ctx context.Context, userID, locationID string) (*models.UserLocation, error)
	// ListByUser returns the user's rows, newest first.
	ListByUser(ctx context.Context, userID string, favoritesOnly bool) ([]*models.UserLocation, error)
	// Update writes the per-user fields only if the stored version equals userLocation.Version.
	Update(ctx context.Context, userLocation *models.UserLocation) error
	ListPendingSync(ctx context.Context, userID string) ([]*models.UserLocation, error)
	MarkSyncing(ctx context.Context, id string, at time.Time) error
	MarkSynced(ctx context.Context, id, externalID string, version int64, at time.Time) error
	MarkNotSynced(ctx context.Context, id string) error
	// ApplyRemote upserts the user's row whose external id is externalID. The
	// location link is set on create only.
	ApplyRemote(ctx context.Context, userID, externalID, locationID string, doc models.UserLocationDocument, at time.Time) (bool, error)
	ResetStuckSyncing(ctx context.Context, startedBefore time.Time) (int64, error)
	Delete(ctx context.Context, id string) error
}

// SyncRepositories groups the relational side of a sync pass. InTx runs fn in
// a transaction, or in a savepoint when already inside one; returning an error
// from fn rolls back everything fn wrote.
type SyncRepositories interface {
	Locations() LocationRepository
	UserLocations() UserLocationRepository
	InTx(ctx context.Context, fn func(ctx context.Context, repos SyncRepositories) error) error
}
