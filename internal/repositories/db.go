package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx so a repository can run
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PostgresSyncRepositories struct {
	db            DBTX
	locations     *PostgresLocationRepository
	userLocations *PostgresUserLocationRepository
}

func NewPostgresSyncRepositories(db DBTX) *PostgresSyncRepositories {
	return &PostgresSyncRepositories{
		db:            db,
		locations:     NewPostgresLocationRepository(db),
		userLocations: NewPostgresUserLocationRepository(db),
	}
}

func (r *PostgresSyncRepositories) Locations() LocationRepository {
	return r.locations
}

func (r *PostgresSyncRepositories) UserLocations() UserLocationRepository {
	return r.userLocations
}

// InTx begins a transaction on a pool, or a savepoint on a pgx.Tx.
func (r *PostgresSyncRepositories) InTx(ctx context.Context, fn func(ctx context.Context, repos SyncRepositories) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, NewPostgresSyncRepositories(tx))
	})
}
