package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"cloudfarm/internal/models"
)

type TalhaoImageRepository struct {
	pool *pgxpool.Pool
}

func NewTalhaoImageRepository(pool *pgxpool.Pool) *TalhaoImageRepository {
	return &TalhaoImageRepository{pool: pool}
}

func (r *TalhaoImageRepository) Create(ctx context.Context, talhaoID string, image models.TalhaoImage) error {
	const query = `
		INSERT INTO talhao_images (object_key, talhao_id, url, content_type, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		image.Key,
		talhaoID,
		image.URL,
		image.ContentType,
		image.Size,
		image.UploadedAt,
	)
	return err
}

func (r *TalhaoImageRepository) ListByTalhao(ctx context.Context, talhaoID string) ([]models.TalhaoImage, error) {
	const query = `
		SELECT object_key, url, content_type, size_bytes, uploaded_at
		FROM talhao_images
		WHERE talhao_id = $1
		ORDER BY uploaded_at DESC
	`
	rows, err := r.pool.Query(ctx, query, talhaoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	images := []models.TalhaoImage{}
	for rows.Next() {
		var img models.TalhaoImage
		if err := rows.Scan(&img.Key, &img.URL, &img.ContentType, &img.Size, &img.UploadedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// UpdateObject records what object storage reports for an uploaded image.
func (r *TalhaoImageRepository) UpdateObject(ctx context.Context, key string, contentType string, size int64) error {
	const query = `
		UPDATE talhao_images
		SET content_type = COALESCE(NULLIF($2, ''), content_type),
		    size_bytes = $3
		WHERE object_key = $1
	`
	_, err := r.pool.Exec(ctx, query, key, contentType, size)
	return err
}
