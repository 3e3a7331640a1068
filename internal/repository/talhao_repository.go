package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cloudfarm/internal/models"
)

type TalhaoRepository struct {
	pool *pgxpool.Pool
}

func NewTalhaoRepository(pool *pgxpool.Pool) *TalhaoRepository {
	return &TalhaoRepository{pool: pool}
}

const talhaoColumns = `id, nome, area_hectares, cultura, variedade, data_plantio, data_colheita_prevista,
	coordenadas, fazenda_id, created_at, updated_at`

func scanTalhao(row pgx.Row) (models.Talhao, error) {
	var (
		t      models.Talhao
		coords []byte
	)
	if err := row.Scan(
		&t.ID,
		&t.Nome,
		&t.AreaHectares,
		&t.Cultura,
		&t.Variedade,
		&t.DataPlantio,
		&t.DataColheitaPrevista,
		&coords,
		&t.FazendaID,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Talhao{}, ErrTalhaoNotFound
		}
		return models.Talhao{}, err
	}
	if len(coords) > 0 {
		if err := json.Unmarshal(coords, &t.Coordenadas); err != nil {
			return models.Talhao{}, fmt.Errorf("decode coordenadas of %s: %w", t.ID, err)
		}
	}
	return t, nil
}

func encodeCoords(coords [][2]float64) (string, error) {
	if coords == nil {
		coords = [][2]float64{}
	}
	raw, err := json.Marshal(coords)
	if err != nil {
		return "", fmt.Errorf("encode coordenadas: %w", err)
	}
	return string(raw), nil
}

func (r *TalhaoRepository) List(ctx context.Context, filter TalhaoFilter) ([]models.Talhao, error) {
	const query = `
		SELECT ` + talhaoColumns + `
		FROM talhoes
		WHERE ($1 = '' OR fazenda_id = $1)
		  AND ($2 = '' OR cultura = $2)
		ORDER BY nome, id
	`
	rows, err := r.pool.Query(ctx, query, filter.FazendaID, filter.Cultura)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	talhoes := []models.Talhao{}
	for rows.Next() {
		t, err := scanTalhao(rows)
		if err != nil {
			return nil, err
		}
		talhoes = append(talhoes, t)
	}
	return talhoes, rows.Err()
}

func (r *TalhaoRepository) Get(ctx context.Context, id string) (models.Talhao, error) {
	return scanTalhao(r.pool.QueryRow(ctx, `SELECT `+talhaoColumns+` FROM talhoes WHERE id = $1`, id))
}

func (r *TalhaoRepository) Create(ctx context.Context, t models.Talhao) error {
	coords, err := encodeCoords(t.Coordenadas)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO talhoes (
			id, nome, area_hectares, cultura, variedade, data_plantio, data_colheita_prevista,
			coordenadas, fazenda_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11
		)
	`
	_, err = r.pool.Exec(ctx, query,
		t.ID,
		t.Nome,
		t.AreaHectares,
		t.Cultura,
		t.Variedade,
		t.DataPlantio,
		t.DataColheitaPrevista,
		coords,
		t.FazendaID,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

func (r *TalhaoRepository) Update(ctx context.Context, t models.Talhao) error {
	coords, err := encodeCoords(t.Coordenadas)
	if err != nil {
		return err
	}
	const query = `
		UPDATE talhoes
		SET nome = $2,
		    area_hectares = $3,
		    cultura = $4,
		    variedade = $5,
		    data_plantio = $6,
		    data_colheita_prevista = $7,
		    coordenadas = $8::jsonb,
		    updated_at = $9
		WHERE id = $1
	`
	cmd, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Nome,
		t.AreaHectares,
		t.Cultura,
		t.Variedade,
		t.DataPlantio,
		t.DataColheitaPrevista,
		coords,
		t.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTalhaoNotFound
	}
	return nil
}

func (r *TalhaoRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM talhoes WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTalhaoNotFound
	}
	return nil
}
