package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market_files/server/common/infra/db"
	"market_files/server/fileman/domain"
)

type PostgresServiceDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresServiceDirectory(pool *pgxpool.Pool) *PostgresServiceDirectory {
	return &PostgresServiceDirectory{pool: pool}
}

func (d *PostgresServiceDirectory) Create(ctx context.Context, item *domain.Service) error {
	err := d.pool.QueryRow(ctx, `
		INSERT INTO services(id, owner_id, title, category, created_at, updated_at)
		VALUES($1, $2, $3, $4, COALESCE($5, NOW()), COALESCE($5, NOW()))
		RETURNING created_at, updated_at
	`, item.ID, item.OwnerID, item.Title, item.Category, nullTime(item.CreatedAt)).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (d *PostgresServiceDirectory) Get(ctx context.Context, id string) (domain.Service, error) {
	var item domain.Service
	err := d.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, category, created_at, updated_at
		FROM services
		WHERE id=$1
	`, id).Scan(&item.ID, &item.OwnerID, &item.Title, &item.Category, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Service{}, domain.ErrNotFound
		}
		return domain.Service{}, err
	}
	return item, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
