package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prudhvinik1/locsync/internal/models"
)

const userLocationColumns = `id, user_id, location_id, is_favorite, notify_enabled, notify_radius, custom_name,
	custom_description, custom_category, notes, saved_at, updated_at, version, sync_status, sync_started_at,
	external_id, last_synced_at`

type PostgresUserLocationRepository struct {
	db DBTX
}

func NewPostgresUserLocationRepository(db DBTX) *PostgresUserLocationRepository {
	return &PostgresUserLocationRepository{db: db}
}

func scanUserLocation(row pgx.Row) (*models.UserLocation, error) {
	var ul models.UserLocation
	err := row.Scan(
		&ul.ID,
		&ul.UserID,
		&ul.LocationID,
		&ul.IsFavorite,
		&ul.NotifyEnabled,
		&ul.NotifyRadius,
		&ul.CustomName,
		&ul.CustomDescription,
		&ul.CustomCategory,
		&ul.Notes,
		&ul.SavedAt,
		&ul.UpdatedAt,
		&ul.Version,
		&ul.SyncStatus,
		&ul.SyncStartedAt,
		&ul.ExternalID,
		&ul.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ul, nil
}

func (r *PostgresUserLocationRepository) Create(ctx context.Context, ul *models.UserLocation) error {
	if ul.ID == "" {
		ul.ID = uuid.New().String()
	}
	if ul.Version < 1 {
		ul.Version = 1
	}
	if ul.NotifyRadius <= 0 {
		ul.NotifyRadius = models.DefaultNotifyRadiusKm
	}

	query := `INSERT INTO user_locations (id, user_id, location_id, is_favorite, notify_enabled, notify_radius,
	              custom_name, custom_description, custom_category, notes, version, sync_status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          RETURNING saved_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		ul.ID,
		ul.UserID,
		ul.LocationID,
		ul.IsFavorite,
		ul.NotifyEnabled,
		ul.NotifyRadius,
		ul.CustomName,
		ul.CustomDescription,
		ul.CustomCategory,
		ul.Notes,
		ul.Version,
		ul.SyncStatus,
	).Scan(&ul.SavedAt, &ul.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user location: %w", err)
	}
	return nil
}

func (r *PostgresUserLocationRepository) GetByUserAndLocation(ctx context.Context, userID, locationID string) (*models.UserLocation, error) {
	query := `SELECT ` + userLocationColumns + ` FROM user_locations WHERE user_id = $1 AND location_id = $2`

	ul, err := scanUserLocation(r.db.QueryRow(ctx, query, userID, locationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user location: %w", err)
	}
	return ul, nil
}

func (r *PostgresUserLocationRepository) ListByUser(ctx context.Context, userID string, favoritesOnly bool) ([]*models.UserLocation, error) {
	query := `SELECT ` + userLocationColumns + `
	          FROM user_locations
	          WHERE user_id = $1 AND (NOT $2 OR is_favorite)
	          ORDER BY saved_at DESC, id ASC`

	rows, err := r.db.Query(ctx, query, userID, favoritesOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query user locations: %w", err)
	}
	defer rows.Close()

	var userLocations []*models.UserLocation
	for rows.Next() {
		ul, err := scanUserLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user location: %w", err)
		}
		userLocations = append(userLocations, ul)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user locations: %w", err)
	}

	return userLocations, nil
}

// Update writes the per-user fields with optimistic locking and queues the
// row for the next push.
func (r *PostgresUserLocationRepository) Update(ctx context.Context, ul *models.UserLocation) error {
	query := `UPDATE user_locations
	          SET is_favorite = $1,
	              notify_enabled = $2,
	              notify_radius = $3,
	              custom_name = $4,
	              custom_description = $5,
	              custom_category = $6,
	              notes = $7,
	              version = version + 1,
	              sync_status = 0,
	              updated_at = NOW()
	          WHERE id = $8 AND version = $9
	          RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		ul.IsFavorite,
		ul.NotifyEnabled,
		ul.NotifyRadius,
		ul.CustomName,
		ul.CustomDescription,
		ul.CustomCategory,
		ul.Notes,
		ul.ID,
		ul.Version,
	).Scan(&ul.Version, &ul.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_locations WHERE id = $1)`, ul.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to update user location: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update user location: %w", err)
	}
	ul.SyncStatus = models.SyncStatusNotSynced
	return nil
}

func (r *PostgresUserLocationRepository) ListPendingSync(ctx context.Context, userID string) ([]*models.UserLocation, error) {
	query := `SELECT ` + userLocationColumns + `
	          FROM user_locations
	          WHERE user_id = $1 AND sync_status IN (0, 1)
	          ORDER BY saved_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending user locations: %w", err)
	}
	defer rows.Close()

	var userLocations []*models.UserLocation
	for rows.Next() {
		ul, err := scanUserLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user location: %w", err)
		}
		userLocations = append(userLocations, ul)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user locations: %w", err)
	}

	return userLocations, nil
}

func (r *PostgresUserLocationRepository) MarkSyncing(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE user_locations SET sync_status = 1, sync_started_at = $2 WHERE id = $1`
	return execOne(ctx, r.db, "mark user location syncing", query, id, at)
}

func (r *PostgresUserLocationRepository) MarkSynced(ctx context.Context, id, externalID string, version int64, at time.Time) error {
	query := `UPDATE user_locations
	          SET sync_status = 2,
	              external_id = $2,
	              version = $3,
	              last_synced_at = $4,
	              sync_started_at = NULL
	          WHERE id = $1`
	return execOne(ctx, r.db, "mark user location synced", query, id, externalID, version, at)
}

func (r *PostgresUserLocationRepository) MarkNotSynced(ctx context.Context, id string) error {
	query := `UPDATE user_locations SET sync_status = 0, sync_started_at = NULL WHERE id = $1`
	return execOne(ctx, r.db, "mark user location not synced", query, id)
}

func (r *PostgresUserLocationRepository) ApplyRemote(ctx context.Context, userID, externalID, locationID string, doc models.UserLocationDocument, at time.Time) (bool, error) {
	// A reference created locally and never pushed has no external id yet,
	// so also match on the (user, location) pair.
	query := `SELECT ` + userLocationColumns + `
	          FROM user_locations
	          WHERE user_id = $1 AND (external_id = $2 OR location_id = $3)
	          LIMIT 1`

	existing, err := scanUserLocation(r.db.QueryRow(ctx, query, userID, externalID, locationID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("failed to look up user location: %w", err)
	}

	if existing != nil {
		existing.ApplyDocument(doc)
		if existing.UpdatedAt.IsZero() {
			existing.UpdatedAt = at
		}
		// location_id is the relationship key and stays as it is
		update := `UPDATE user_locations
		           SET is_favorite = $2, notify_enabled = $3, notify_radius = $4, custom_name = $5,
		               custom_description = $6, custom_category = $7, notes = $8, saved_at = $9,
		               updated_at = $10, version = $11, external_id = $12,
		               sync_status = 2, sync_started_at = NULL, last_synced_at = $13
		           WHERE id = $1`
		err := execOne(ctx, r.db, "apply remote user location", update,
			existing.ID, existing.IsFavorite, existing.NotifyEnabled, existing.NotifyRadius,
			existing.CustomName, existing.CustomDescription, existing.CustomCategory, existing.Notes,
			existing.SavedAt, existing.UpdatedAt, existing.Version, externalID, at)
		return false, err
	}

	ul := &models.UserLocation{
		ID:         uuid.New().String(),
		UserID:     userID,
		LocationID: locationID,
		Version:    1,
	}
	ul.ApplyDocument(doc)
	if ul.SavedAt.IsZero() {
		ul.SavedAt = at
	}
	if ul.UpdatedAt.IsZero() {
		ul.UpdatedAt = at
	}

	insert := `INSERT INTO user_locations (id, user_id, location_id, is_favorite, notify_enabled, notify_radius,
	               custom_name, custom_description, custom_category, notes, saved_at, updated_at, version,
	               sync_status, external_id, last_synced_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 2, $14, $15)`

	_, err = r.db.Exec(ctx, insert,
		ul.ID, ul.UserID, ul.LocationID, ul.IsFavorite, ul.NotifyEnabled, ul.NotifyRadius,
		ul.CustomName, ul.CustomDescription, ul.CustomCategory, ul.Notes,
		ul.SavedAt, ul.UpdatedAt, ul.Version, externalID, at)
	if err != nil {
		return false, fmt.Errorf("failed to create user location from remote: %w", err)
	}
	return true, nil
}

func (r *PostgresUserLocationRepository) ResetStuckSyncing(ctx context.Context, startedBefore time.Time) (int64, error) {
	query := `UPDATE user_locations
	          SET sync_status = 0, sync_started_at = NULL
	          WHERE sync_status = 1 AND (sync_started_at IS NULL OR sync_started_at < $1)`

	result, err := r.db.Exec(ctx, query, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck user locations: %w", err)
	}
	return result.RowsAffected(), nil
}

// Delete unlinks the user from the location. The location row stays.
func (r *PostgresUserLocationRepository) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, "delete user location", `DELETE FROM user_locations WHERE id = $1`, id)
}
