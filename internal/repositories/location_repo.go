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

// ErrVersionConflict is returned when optimistic locking fails
var ErrVersionConflict = errors.New("version conflict: location was modified concurrently")

const locationColumns = `id, name, latitude, longitude, description, address, category, source, source_url,
	date_posted, created_by, created_at, updated_at, version, is_deleted, sync_status, sync_started_at,
	external_id, last_synced_at`

type PostgresLocationRepository struct {
	db DBTX
}

func NewPostgresLocationRepository(db DBTX) *PostgresLocationRepository {
	return &PostgresLocationRepository{db: db}
}

func scanLocation(row pgx.Row) (*models.Location, error) {
	var loc models.Location
	err := row.Scan(
		&loc.ID,
		&loc.Name,
		&loc.Latitude,
		&loc.Longitude,
		&loc.Description,
		&loc.Address,
		&loc.Category,
		&loc.Source,
		&loc.SourceURL,
		&loc.DatePosted,
		&loc.CreatedBy,
		&loc.CreatedAt,
		&loc.UpdatedAt,
		&loc.Version,
		&loc.IsDeleted,
		&loc.SyncStatus,
		&loc.SyncStartedAt,
		&loc.ExternalID,
		&loc.LastSyncedAt,
	)
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

func (r *PostgresLocationRepository) Create(ctx context.Context, loc *models.Location) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	if loc.Version < 1 {
		loc.Version = 1
	}
	if loc.Category == "" {
		loc.Category = models.DefaultCategory
	}
	if loc.Source == "" {
		loc.Source = models.SourceManual
	}

	query := `INSERT INTO locations (id, name, latitude, longitude, description, address, category, source,
	              source_url, date_posted, created_by, version, is_deleted, sync_status)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	          RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		loc.ID,
		loc.Name,
		loc.Latitude,
		loc.Longitude,
		loc.Description,
		loc.Address,
		loc.Category,
		loc.Source,
		loc.SourceURL,
		loc.DatePosted,
		loc.CreatedBy,
		loc.Version,
		loc.IsDeleted,
		loc.SyncStatus,
	).Scan(&loc.CreatedAt, &loc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create location: %w", err)
	}
	return nil
}

func (r *PostgresLocationRepository) GetByID(ctx context.Context, id string) (*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE id = $1`

	loc, err := scanLocation(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location by ID: %w", err)
	}
	return loc, nil
}

func (r *PostgresLocationRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations WHERE external_id = $1`

	loc, err := scanLocation(r.db.QueryRow(ctx, query, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location by external ID: %w", err)
	}
	return loc, nil
}

// Update writes the data fields with optimistic locking. loc.Version is the
// version the caller read; on success it holds the new version and the row
// is queued for the next push.
func (r *PostgresLocationRepository) Update(ctx context.Context, loc *models.Location) error {
	// The version check in the WHERE clause is the lock
	query := `UPDATE locations
	          SET name = $1,
	              latitude = $2,
	              longitude = $3,
	              description = $4,
	              address = $5,
	              category = $6,
	              is_deleted = $7,
	              version = version + 1,
	              sync_status = 0,
	              updated_at = NOW()
	          WHERE id = $8 AND version = $9
	          RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		loc.Name,
		loc.Latitude,
		loc.Longitude,
		loc.Description,
		loc.Address,
		loc.Category,
		loc.IsDeleted,
		loc.ID,
		loc.Version,
	).Scan(&loc.Version, &loc.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or someone else bumped the version
		if _, getErr := r.GetByID(ctx, loc.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	loc.SyncStatus = models.SyncStatusNotSynced
	return nil
}

func (r *PostgresLocationRepository) ListPendingSync(ctx context.Context) ([]*models.Location, error) {
	query := `SELECT ` + locationColumns + `
	          FROM locations
	          WHERE sync_status IN (0, 1)
	          ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending locations: %w", err)
	}
	defer rows.Close()

	var locations []*models.Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locations: %w", err)
	}

	return locations, nil
}

func (r *PostgresLocationRepository) MarkSyncing(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE locations SET sync_status = 1, sync_started_at = $2 WHERE id = $1`
	return execOne(ctx, r.db, "mark location syncing", query, id, at)
}

func (r *PostgresLocationRepository) MarkSynced(ctx context.Context, id, externalID string, version int64, at time.Time) error {
	query := `UPDATE locations
	          SET sync_status = 2,
	              external_id = $2,
	              version = $3,
	              last_synced_at = $4,
	              sync_started_at = NULL
	          WHERE id = $1`
	return execOne(ctx, r.db, "mark location synced", query, id, externalID, version, at)
}

func (r *PostgresLocationRepository) MarkNotSynced(ctx context.Context, id string) error {
	query := `UPDATE locations SET sync_status = 0, sync_started_at = NULL WHERE id = $1`
	return execOne(ctx, r.db, "mark location not synced", query, id)
}

func (r *PostgresLocationRepository) ApplyRemote(ctx context.Context, externalID string, doc models.LocationDocument, at time.Time) (bool, error) {
	existing, err := r.GetByExternalID(ctx, externalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}

	loc := &models.Location{ID: externalID}
	if existing != nil {
		loc = existing
	}
	loc.ApplyDocument(doc)
	if loc.CreatedAt.IsZero() {
		loc.CreatedAt = at
	}
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = at
	}
	if loc.Version < 1 {
		loc.Version = 1
	}

	if existing != nil {
		query := `UPDATE locations
		          SET name = $2, latitude = $3, longitude = $4, description = $5, address = $6,
		              category = $7, source = $8, source_url = $9, date_posted = $10, created_by = $11,
		              updated_at = $12, version = $13, is_deleted = $14,
		              sync_status = 2, sync_started_at = NULL, last_synced_at = $15
		          WHERE id = $1`
		err := execOne(ctx, r.db, "apply remote location", query,
			loc.ID, loc.Name, loc.Latitude, loc.Longitude, loc.Description, loc.Address,
			loc.Category, loc.Source, loc.SourceURL, loc.DatePosted, loc.CreatedBy,
			loc.UpdatedAt, loc.Version, loc.IsDeleted, at)
		return false, err
	}

	// New rows take the remote key as their id. A local row that was never
	// pushed already uses that id, so it is updated in place.
	query := `INSERT INTO locations (id, name, latitude, longitude, description, address, category, source,
	              source_url, date_posted, created_by, created_at, updated_at, version, is_deleted,
	              sync_status, external_id, last_synced_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 2, $1, $16)
	          ON CONFLICT (id) DO UPDATE
	          SET name = EXCLUDED.name, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
	              description = EXCLUDED.description, address = EXCLUDED.address,
	              category = EXCLUDED.category, source = EXCLUDED.source, source_url = EXCLUDED.source_url,
	              date_posted = EXCLUDED.date_posted, created_by = EXCLUDED.created_by,
	              updated_at = EXCLUDED.updated_at, version = EXCLUDED.version,
	              is_deleted = EXCLUDED.is_deleted, sync_status = 2, sync_started_at = NULL,
	              external_id = EXCLUDED.external_id, last_synced_at = EXCLUDED.last_synced_at
	          RETURNING (xmax = 0)`

	var inserted bool
	err = r.db.QueryRow(ctx, query,
		loc.ID, loc.Name, loc.Latitude, loc.Longitude, loc.Description, loc.Address,
		loc.Category, loc.Source, loc.SourceURL, loc.DatePosted, loc.CreatedBy,
		loc.CreatedAt, loc.UpdatedAt, loc.Version, loc.IsDeleted, at,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to apply remote location: %w", err)
	}
	return inserted, nil
}

func (r *PostgresLocationRepository) ResetStuckSyncing(ctx context.Context, startedBefore time.Time) (int64, error) {
	query := `UPDATE locations
	          SET sync_status = 0, sync_started_at = NULL
	          WHERE sync_status = 1 AND (sync_started_at IS NULL OR sync_started_at < $1)`

	result, err := r.db.Exec(ctx, query, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stuck locations: %w", err)
	}
	return result.RowsAffected(), nil
}

// Delete removes the row and, through the foreign key, every user reference to it.
func (r *PostgresLocationRepository) Delete(ctx context.Context, id string) error {
	return execOne(ctx, r.db, "delete location", `DELETE FROM locations WHERE id = $1`, id)
}

func execOne(ctx context.Context, db DBTX, what, query string, args ...any) error {
	result, err := db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
