package models

import (
	"bytes"
	"encoding/json"
	"slices"
	"sort"
	"time"
)

type TalhaoStatus string

const (
	StatusDisponivel      TalhaoStatus = "disponivel"
	StatusPlanejado       TalhaoStatus = "planejado"
	StatusEmCrescimento   TalhaoStatus = "em_crescimento"
	StatusProximoColheita TalhaoStatus = "proximo_colheita"
	StatusProntoColheita  TalhaoStatus = "pronto_colheita"
)

// HarvestWarningWindow is how far ahead of the expected harvest a field is
// reported as proximo_colheita.
const HarvestWarningWindow = 15 * 24 * time.Hour

type Talhao struct {
	ID                   string       `json:"id"`
	Nome                 string       `json:"nome"`
	AreaHectares         float64      `json:"area_hectares"`
	Cultura              string       `json:"cultura,omitempty"`
	Variedade            string       `json:"variedade,omitempty"`
	DataPlantio          *time.Time   `json:"data_plantio,omitempty"`
	DataColheitaPrevista *time.Time   `json:"data_colheita_prevista,omitempty"`
	Coordenadas          [][2]float64 `json:"coordenadas,omitempty"`
	FazendaID            string       `json:"fazenda_id,omitempty"`
	Status               TalhaoStatus `json:"status"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Optional fields an update may clear.
const (
	FieldCultura              = "cultura"
	FieldVariedade            = "variedade"
	FieldDataPlantio          = "data_plantio"
	FieldDataColheitaPrevista = "data_colheita_prevista"
	FieldCoordenadas          = "coordenadas"
)

var clearableFields = []string{
	FieldCultura, FieldVariedade, FieldDataPlantio, FieldDataColheitaPrevista, FieldCoordenadas,
}

func IsClearable(field string) bool {
	return slices.Contains(clearableFields, field)
}

// TalhaoInput carries the writable fields of a talhão. Nil pointers leave the
// current value untouched on update; fields named in Clear, or sent as JSON
// null, are reset.
type TalhaoInput struct {
	Nome                 *string      `json:"nome,omitempty"`
	AreaHectares         *float64     `json:"area_hectares,omitempty"`
	Cultura              *string      `json:"cultura,omitempty"`
	Variedade            *string      `json:"variedade,omitempty"`
	DataPlantio          *time.Time   `json:"data_plantio,omitempty"`
	DataColheitaPrevista *time.Time   `json:"data_colheita_prevista,omitempty"`
	Coordenadas          [][2]float64 `json:"coordenadas,omitempty"`
	Clear                []string     `json:"limpar,omitempty"`
}

func (in *TalhaoInput) UnmarshalJSON(data []byte) error {
	type plain TalhaoInput
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range clearableFields {
		v, ok := raw[field]
		if ok && bytes.Equal(bytes.TrimSpace(v), []byte("null")) && !slices.Contains(decoded.Clear, field) {
			decoded.Clear = append(decoded.Clear, field)
		}
	}
	*in = TalhaoInput(decoded)
	return nil
}

func (in TalhaoInput) Apply(t *Talhao) {
	for _, field := range in.Clear {
		switch field {
		case FieldCultura:
			t.Cultura = ""
		case FieldVariedade:
			t.Variedade = ""
		case FieldDataPlantio:
			t.DataPlantio = nil
		case FieldDataColheitaPrevista:
			t.DataColheitaPrevista = nil
		case FieldCoordenadas:
			t.Coordenadas = nil
		}
	}
	if in.Nome != nil {
		t.Nome = *in.Nome
	}
	if in.AreaHectares != nil {
		t.AreaHectares = *in.AreaHectares
	}
	if in.Cultura != nil {
		t.Cultura = *in.Cultura
	}
	if in.Variedade != nil {
		t.Variedade = *in.Variedade
	}
	if in.DataPlantio != nil {
		t.DataPlantio = in.DataPlantio
	}
	if in.DataColheitaPrevista != nil {
		t.DataColheitaPrevista = in.DataColheitaPrevista
	}
	if in.Coordenadas != nil {
		t.Coordenadas = in.Coordenadas
	}
}

// DeriveStatus computes a field's lifecycle status from its planting and expected
// harvest dates. The status is never stored.
func DeriveStatus(plantio, colheita *time.Time, now time.Time) TalhaoStatus {
	if plantio == nil {
		return StatusDisponivel
	}
	if now.Before(*plantio) {
		return StatusPlanejado
	}
	if colheita == nil {
		return StatusEmCrescimento
	}
	if !now.Before(*colheita) {
		return StatusProntoColheita
	}
	if colheita.Sub(now) <= HarvestWarningWindow {
		return StatusProximoColheita
	}
	return StatusEmCrescimento
}

func (t *Talhao) RefreshStatus(now time.Time) {
	t.Status = DeriveStatus(t.DataPlantio, t.DataColheitaPrevista, now)
}

type Estatisticas struct {
	TotalTalhoes      int                  `json:"total_talhoes"`
	AreaTotalHectares float64              `json:"area_total_hectares"`
	PorStatus         map[TalhaoStatus]int `json:"por_status"`
	PorCultura        map[string]float64   `json:"por_cultura"`
	Culturas          []string             `json:"culturas"`
}

func ComputeEstatisticas(talhoes []Talhao, now time.Time) Estatisticas {
	stats := Estatisticas{
		PorStatus:  make(map[TalhaoStatus]int),
		PorCultura: make(map[string]float64),
		Culturas:   []string{},
	}
	for _, t := range talhoes {
		stats.TotalTalhoes++
		stats.AreaTotalHectares += t.AreaHectares
		stats.PorStatus[DeriveStatus(t.DataPlantio, t.DataColheitaPrevista, now)]++

		cultura := t.Cultura
		if cultura == "" {
			cultura = "sem_cultura"
		}
		if _, seen := stats.PorCultura[cultura]; !seen {
			stats.Culturas = append(stats.Culturas, cultura)
		}
		stats.PorCultura[cultura] += t.AreaHectares
	}
	sort.Strings(stats.Culturas)
	return stats
}

type TalhaoImage struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
