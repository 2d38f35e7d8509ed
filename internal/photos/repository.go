package photos

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists photo metadata.
type Repository interface {
	Insert(ctx context.Context, p *Photo) error
	FindByID(ctx context.Context, id uuid.UUID) (*Photo, error)
	// List returns newest first.
	List(ctx context.Context, f ListFilter) ([]*Photo, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

const photoColumns = `id, owner_id, title, description, content_type, size_bytes, storage_key, created_at`

// PostgresRepository stores photos in the photos table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, p *Photo) error {
	q := `INSERT INTO photos (` + photoColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.Exec(ctx, q,
		p.ID, p.OwnerID, p.Title, p.Description, p.ContentType, p.Size, p.StorageKey, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*Photo, error) {
	row := r.db.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE id = $1`, id)
	p, err := scanPhoto(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) List(ctx context.Context, f ListFilter) ([]*Photo, error) {
	f = f.normalized()
	var (
		rows pgx.Rows
		err  error
	)
	if f.OwnerID != nil {
		rows, err = r.db.Query(ctx, `SELECT `+photoColumns+` FROM photos
			WHERE owner_id = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
			*f.OwnerID, f.Limit, f.Offset)
	} else {
		rows, err = r.db.Query(ctx, `SELECT `+photoColumns+` FROM photos
			ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
			f.Limit, f.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	out := make([]*Photo, 0, f.Limit)
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPhoto(row pgx.Row) (*Photo, error) {
	var p Photo
	err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.ContentType, &p.Size, &p.StorageKey, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
