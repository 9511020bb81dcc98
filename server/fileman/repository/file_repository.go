package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market_files/server/common/infra/db"
	"market_files/server/fileman/domain"
)

const fileColumns = `id, name, path, type, size, hash, user_id, service_id, status, metadata, created_at, updated_at`

// PostgresFileRegistry relies on files_active_hash_service_idx (a partial
// unique index over active rows) for the dedup guarantee.
type PostgresFileRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresFileRegistry(pool *pgxpool.Pool) *PostgresFileRegistry {
	return &PostgresFileRegistry{pool: pool}
}

func scanFile(row pgx.Row) (domain.FileRecord, error) {
	var item domain.FileRecord
	var rawMeta []byte
	err := row.Scan(&item.ID, &item.DisplayName, &item.StoragePath, &item.MimeType, &item.SizeBytes, &item.ContentHash,
		&item.OwnerID, &item.ParentID, &item.Status, &rawMeta, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return domain.FileRecord{}, err
	}
	item.Metadata = map[string]string{}
	if len(rawMeta) > 0 {
		if err := json.Unmarshal(rawMeta, &item.Metadata); err != nil {
			return domain.FileRecord{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return item, nil
}

func encodeMetadata(metadata map[string]string) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return json.Marshal(metadata)
}

func (r *PostgresFileRegistry) FindActiveByHashAndParent(ctx context.Context, hash, parentID string) (*domain.FileRecord, error) {
	item, err := scanFile(r.pool.QueryRow(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE hash=$1 AND service_id=$2 AND status='active'
	`, hash, parentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *PostgresFileRegistry) Create(ctx context.Context, item *domain.FileRecord) error {
	if item.Status == "" {
		item.Status = domain.FileStatusActive
	}
	meta, err := encodeMetadata(item.Metadata)
	if err != nil {
		return err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO files(id, name, path, type, size, hash, user_id, service_id, status, metadata, created_at, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()), COALESCE($11, NOW()))
		RETURNING created_at, updated_at
	`, item.ID, item.DisplayName, item.StoragePath, item.MimeType, item.SizeBytes, item.ContentHash,
		item.OwnerID, item.ParentID, item.Status, meta, nullTime(item.CreatedAt)).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (r *PostgresFileRegistry) Get(ctx context.Context, id string) (domain.FileRecord, error) {
	item, err := scanFile(r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FileRecord{}, domain.ErrNotFound
		}
		return domain.FileRecord{}, err
	}
	return item, nil
}

func (r *PostgresFileRegistry) SoftDelete(ctx context.Context, id, requesterID string) (domain.FileRecord, bool, error) {
	item, err := scanFile(r.pool.QueryRow(ctx, `
		UPDATE files SET status='deleted', updated_at=NOW()
		WHERE id=$1 AND user_id=$2 AND status<>'deleted'
		RETURNING `+fileColumns, id, requesterID))
	if err == nil {
		return item, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.FileRecord{}, false, err
	}
	// the row lock serializes concurrent deletes; losers land here
	item, err = r.explainMiss(ctx, id, requesterID, true)
	return item, false, err
}

func (r *PostgresFileRegistry) UpdateMetadata(ctx context.Context, id, requesterID string, metadata map[string]string) (domain.FileRecord, error) {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return domain.FileRecord{}, err
	}
	item, err := scanFile(r.pool.QueryRow(ctx, `
		UPDATE files SET metadata=$3, updated_at=NOW()
		WHERE id=$1 AND user_id=$2 AND status<>'deleted'
		RETURNING `+fileColumns, id, requesterID, meta))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.FileRecord{}, err
	}
	return r.explainMiss(ctx, id, requesterID, false)
}

// explainMiss works out why a guarded UPDATE touched no row.
func (r *PostgresFileRegistry) explainMiss(ctx context.Context, id, requesterID string, deletedIsOK bool) (domain.FileRecord, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return domain.FileRecord{}, err
	}
	if current.OwnerID != requesterID {
		return domain.FileRecord{}, domain.ErrForbidden
	}
	if current.Status == domain.FileStatusDeleted && deletedIsOK {
		return current, nil
	}
	return domain.FileRecord{}, domain.ErrNotFound
}

func (r *PostgresFileRegistry) ListActiveByParent(ctx context.Context, parentID string) ([]domain.FileRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE service_id=$1 AND status='active'
		ORDER BY created_at DESC, id DESC
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.FileRecord, 0)
	for rows.Next() {
		item, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *PostgresFileRegistry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
