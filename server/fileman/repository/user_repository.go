package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market_files/server/common/infra/db"
	"market_files/server/fileman/domain"
)

type PostgresUserStore struct {
	pool *pgxpool.Pool
}

func NewPostgresUserStore(pool *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{pool: pool}
}

func (s *PostgresUserStore) Create(ctx context.Context, user *domain.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users(id, name, email, role, password_hash)
		VALUES($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, user.ID, user.Name, user.Email, user.Role, user.PasswordHash).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (s *PostgresUserStore) Get(ctx context.Context, id string) (domain.User, error) {
	return s.getOne(ctx, `WHERE id=$1`, id)
}

func (s *PostgresUserStore) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return s.getOne(ctx, `WHERE email=$1`, strings.ToLower(strings.TrimSpace(email)))
}

func (s *PostgresUserStore) getOne(ctx context.Context, where string, arg any) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role, password_hash, created_at, updated_at
		FROM users `+where, arg).Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, err
	}
	return user, nil
}
