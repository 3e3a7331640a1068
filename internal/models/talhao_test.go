package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) *time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(offset) * 24 * time.Hour)
	return &t
}

func TestDeriveStatus(t *testing.T) {
	now := *day(0)

	tests := []struct {
		name     string
		plantio  *time.Time
		colheita *time.Time
		expected TalhaoStatus
	}{
		{"no planting date", nil, nil, StatusDisponivel},
		{"no planting date ignores harvest", nil, day(30), StatusDisponivel},
		{"planting in the future", day(3), day(120), StatusPlanejado},
		{"planted without harvest date", day(-10), nil, StatusEmCrescimento},
		{"growing far from harvest", day(-30), day(60), StatusEmCrescimento},
		{"harvest inside warning window", day(-100), day(15), StatusProximoColheita},
		{"harvest just outside warning window", day(-100), day(16), StatusEmCrescimento},
		{"harvest today", day(-120), day(0), StatusProntoColheita},
		{"harvest overdue", day(-150), day(-5), StatusProntoColheita},
		{"planted today", day(0), day(90), StatusEmCrescimento},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveStatus(tt.plantio, tt.colheita, now))
		})
	}
}

func TestTalhaoInputApplyKeepsUnsetFields(t *testing.T) {
	talhao := Talhao{Nome: "T1", AreaHectares: 10, Cultura: "soja"}
	area := 12.5
	TalhaoInput{AreaHectares: &area}.Apply(&talhao)

	assert.Equal(t, "T1", talhao.Nome)
	assert.Equal(t, 12.5, talhao.AreaHectares)
	assert.Equal(t, "soja", talhao.Cultura)
}

func TestTalhaoInputNullClearsField(t *testing.T) {
	var in TalhaoInput
	require.NoError(t, json.Unmarshal([]byte(`{"data_plantio": null, "cultura": null, "nome": "T1"}`), &in))
	assert.ElementsMatch(t, []string{FieldCultura, FieldDataPlantio}, in.Clear)
	require.NotNil(t, in.Nome)

	talhao := Talhao{Nome: "old", Cultura: "soja", DataPlantio: day(-10), DataColheitaPrevista: day(20)}
	in.Apply(&talhao)
	assert.Equal(t, "T1", talhao.Nome)
	assert.Empty(t, talhao.Cultura)
	assert.Nil(t, talhao.DataPlantio)
	assert.NotNil(t, talhao.DataColheitaPrevista)

	var untouched TalhaoInput
	require.NoError(t, json.Unmarshal([]byte(`{"area_hectares": 3}`), &untouched))
	assert.Empty(t, untouched.Clear)
}

func TestComputeEstatisticas(t *testing.T) {
	now := *day(0)
	talhoes := []Talhao{
		{Nome: "A", AreaHectares: 50, Cultura: "soja", DataPlantio: day(-30), DataColheitaPrevista: day(60)},
		{Nome: "B", AreaHectares: 25.5, Cultura: "milho", DataPlantio: day(-100), DataColheitaPrevista: day(5)},
		{Nome: "C", AreaHectares: 10, Cultura: "soja"},
		{Nome: "D", AreaHectares: 4.5},
	}

	stats := ComputeEstatisticas(talhoes, now)

	assert.Equal(t, 4, stats.TotalTalhoes)
	assert.InDelta(t, 90.0, stats.AreaTotalHectares, 0.0001)
	assert.Equal(t, 1, stats.PorStatus[StatusEmCrescimento])
	assert.Equal(t, 1, stats.PorStatus[StatusProximoColheita])
	assert.Equal(t, 2, stats.PorStatus[StatusDisponivel])
	assert.InDelta(t, 60.0, stats.PorCultura["soja"], 0.0001)
	assert.InDelta(t, 25.5, stats.PorCultura["milho"], 0.0001)
	assert.Equal(t, []string{"milho", "sem_cultura", "soja"}, stats.Culturas)
}

func TestProfileHasRole(t *testing.T) {
	p := User{ID: "u1", Roles: []string{RoleGerente}}.Profile()

	assert.True(t, p.HasRole(RoleAdmin, RoleGerente))
	assert.False(t, p.HasRole(RoleAdmin))
	assert.Equal(t, []string{RoleGerente}, p.Roles)
	assert.Equal(t, []string{}, User{}.Profile().Roles)
}
