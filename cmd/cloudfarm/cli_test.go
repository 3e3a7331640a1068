package main

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudfarm/internal/apiclient"
	"cloudfarm/internal/realtime"
)

func TestParseCoords(t *testing.T) {
	coords, err := parseCoords("-23.5,-46.6; -23.6,-46.7;")
	require.NoError(t, err)
	assert.Equal(t, [][2]float64{{-23.5, -46.6}, {-23.6, -46.7}}, coords)

	_, err = parseCoords("-23.5")
	assert.Error(t, err)
	_, err = parseCoords("a,b")
	assert.Error(t, err)
}

func TestTalhaoInputFromFlags(t *testing.T) {
	cmd := talhoesCreateCmd
	require.NoError(t, cmd.Flags().Set("nome", "Talhão Leste"))
	require.NoError(t, cmd.Flags().Set("plantio", "2025-01-10"))

	in, err := talhaoInputFromFlags(cmd)
	require.NoError(t, err)
	require.NotNil(t, in.Nome)
	assert.Equal(t, "Talhão Leste", *in.Nome)
	require.NotNil(t, in.DataPlantio)
	assert.Equal(t, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), *in.DataPlantio)
	assert.Nil(t, in.AreaHectares)
	assert.Nil(t, in.Cultura)

	require.NoError(t, talhoesUpdateCmd.Flags().Set("limpar", "data_plantio,data_colheita_prevista"))
	update, err := talhaoInputFromFlags(talhoesUpdateCmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"data_plantio", "data_colheita_prevista"}, update.Clear)

	require.NoError(t, cmd.Flags().Set("colheita", "10/05/2025"))
	_, err = talhaoInputFromFlags(cmd)
	assert.ErrorContains(t, err, "--colheita")
}

func TestFormatEvent(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	line := formatEvent(realtime.Event{
		Type:    "talhao_created",
		Channel: "farm.f1",
		Data:    json.RawMessage(`{"id":"t1"}`),
	})
	assert.Equal(t, `farm.f1 talhao_created {"id":"t1"}`, line)
	assert.Equal(t, "pong {}", formatEvent(realtime.Event{Type: "pong"}))

	assert.Contains(t, indicator(realtime.Status{State: realtime.StateConnected}), "online")
	assert.Contains(t, indicator(realtime.Status{State: realtime.StateExhausted}), "retry")
}

func TestExplain(t *testing.T) {
	err := explain(fmt.Errorf("list: %w", apiclient.ErrUnauthenticated))
	assert.EqualError(t, err, "session expired, run 'cloudfarm login'")

	timeout := &apiclient.NetworkError{Method: "GET", URL: "/api/health", Err: context.DeadlineExceeded}
	assert.Contains(t, explain(timeout).Error(), "did not answer in time")

	plain := fmt.Errorf("boom")
	assert.Equal(t, plain, explain(plain))
}
