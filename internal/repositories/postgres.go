package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	crdbpgxv5 "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"

	"github.com/posterwall/backend/internal/covers"
	"github.com/posterwall/backend/internal/db"
	"github.com/posterwall/backend/internal/models"
)

// PostgresCoverRepository keeps the ordered cover list in the covers table.
// Row order is the position column; a save replaces every row in one
// transaction so readers never see a partial list.
type PostgresCoverRepository struct {
	pool db.Pool
}

// NewPostgresCoverRepository constructs a cover repository backed by PostgreSQL.
func NewPostgresCoverRepository(pool db.Pool) *PostgresCoverRepository {
	return &PostgresCoverRepository{pool: pool}
}

// Fetch returns every cover in list order.
func (r *PostgresCoverRepository) Fetch(ctx context.Context) ([]models.CoverRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT id, title, author, author_id, video_url, real_video_url, cover_url, local_cover, create_time, extra
        FROM covers
        ORDER BY position
    `)
	if err != nil {
		if pgCode(err) == "42P01" {
			return nil, ErrSchemaMissing
		}
		return nil, fmt.Errorf("query covers: %w", err)
	}
	defer rows.Close()

	records := []models.CoverRecord{}
	for rows.Next() {
		var (
			rec   models.CoverRecord
			id    string
			extra []byte
		)
		if err := rows.Scan(&id, &rec.Title, &rec.Author, &rec.AuthorID, &rec.VideoURL, &rec.RealVideoURL, &rec.CoverURL, &rec.LocalCover, &rec.CreateTime, &extra); err != nil {
			return nil, fmt.Errorf("scan cover: %w", err)
		}
		rec.ID = models.RecordID(id)
		if err := json.Unmarshal(extra, &rec.Extra); err != nil {
			return nil, fmt.Errorf("decode extra fields of cover %q: %w", id, err)
		}
		if len(rec.Extra) == 0 {
			rec.Extra = nil
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate covers: %w", err)
	}
	return records, nil
}

// Save replaces the stored list.
func (r *PostgresCoverRepository) Save(ctx context.Context, records []models.CoverRecord) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	err = crdbpgxv5.ExecuteTx(ctx, conn, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM covers`); err != nil {
			return fmt.Errorf("clear covers: %w", err)
		}
		if len(records) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for i, rec := range records {
			extra := []byte("{}")
			if len(rec.Extra) > 0 {
				encoded, err := json.Marshal(rec.Extra)
				if err != nil {
					return fmt.Errorf("encode extra fields of cover %q: %w", rec.ID, err)
				}
				extra = encoded
			}
			batch.Queue(`
                INSERT INTO covers (id, position, title, author, author_id, video_url, real_video_url, cover_url, local_cover, create_time, extra, updated_at)
                VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
            `, string(rec.ID), i, rec.Title, rec.Author, rec.AuthorID, rec.VideoURL, rec.RealVideoURL, rec.CoverURL, rec.LocalCover, rec.CreateTime, string(extra))
		}
		results := tx.SendBatch(ctx, batch)
		for i := range records {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				if pgCode(err) == "23505" {
					return fmt.Errorf("insert cover %q: %w", records[i].ID, ErrDuplicateCover)
				}
				return fmt.Errorf("insert cover %q: %w", records[i].ID, err)
			}
		}
		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("save covers: %w", err)
	}
	return nil
}

// Count reports how many covers are stored.
func (r *PostgresCoverRepository) Count(ctx context.Context) (int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var n int
	if err := conn.QueryRow(ctx, `SELECT count(*) FROM covers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count covers: %w", err)
	}
	return n, nil
}

var _ covers.Remote = (*PostgresCoverRepository)(nil)
