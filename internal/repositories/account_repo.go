package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prudhvinik1/locsync/internal/models"
)

var ErrNotFound = errors.New("not found")

type PostgresAccountRepository struct {
	db DBTX
}

func NewPostgresAccountRepository(db DBTX) *PostgresAccountRepository {
	return &PostgresAccountRepository{db: db}
}

func (r *PostgresAccountRepository) Create(ctx context.Context, account *models.Account) error {
	query := `INSERT INTO accounts (email, username, password_hash)
              VALUES ($1, $2, $3)
              RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, account.Email, account.Username, account.PasswordHash).
		Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *PostgresAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT id, email, username, password_hash, created_at, updated_at, deleted_at
	          FROM accounts WHERE id = $1 AND deleted_at IS NULL`

	return r.scanOne(ctx, query, id)
}

func (r *PostgresAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT id, email, username, password_hash, created_at, updated_at, deleted_at
	          FROM accounts WHERE email = $1 AND deleted_at IS NULL`

	return r.scanOne(ctx, query, email)
}

func (r *PostgresAccountRepository) scanOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	var account models.Account
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&account.ID,
		&account.Email,
		&account.Username,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
		&account.DeletedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (r *PostgresAccountRepository) Update(ctx context.Context, account *models.Account) error {
	query := `UPDATE accounts SET email = $1, username = $2, password_hash = $3, updated_at = NOW()
	          WHERE id = $4 AND deleted_at IS NULL`

	result, err := r.db.Exec(ctx, query, account.Email, account.Username, account.PasswordHash, account.ID)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *PostgresAccountRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE accounts SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
