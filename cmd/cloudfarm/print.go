package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"cloudfarm/internal/apiclient"
	"cloudfarm/internal/models"
	"cloudfarm/internal/realtime"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.GreenString(format, args...))
}

// explain turns client errors into the message a user should act on.
func explain(err error) error {
	switch {
	case errors.Is(err, apiclient.ErrUnauthenticated):
		return fmt.Errorf("session expired, run 'cloudfarm login'")
	case errors.Is(err, apiclient.ErrTimeout):
		return fmt.Errorf("backend did not answer in time: %w", err)
	case apiclient.IsNetwork(err):
		return fmt.Errorf("backend offline: %w", err)
	default:
		return err
	}
}

func statusColor(status models.TalhaoStatus) string {
	s := string(status)
	switch status {
	case models.StatusProntoColheita:
		return color.RedString(s)
	case models.StatusProximoColheita:
		return color.YellowString(s)
	case models.StatusEmCrescimento:
		return color.GreenString(s)
	case models.StatusPlanejado:
		return color.CyanString(s)
	default:
		return s
	}
}

func printTalhoes(w io.Writer, talhoes []models.Talhao) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNOME\tÁREA (ha)\tCULTURA\tSTATUS")
	for _, t := range talhoes {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\n", t.ID, t.Nome, t.AreaHectares, t.Cultura, statusColor(t.Status))
	}
	_ = tw.Flush()
}

func printTalhao(w io.Writer, t *models.Talhao) {
	fmt.Fprintf(w, "%s  %s\n", color.New(color.Bold).Sprint(t.Nome), statusColor(t.Status))
	fmt.Fprintf(w, "id:        %s\n", t.ID)
	fmt.Fprintf(w, "área:      %.2f ha\n", t.AreaHectares)
	if t.Cultura != "" {
		fmt.Fprintf(w, "cultura:   %s %s\n", t.Cultura, t.Variedade)
	}
	if t.DataPlantio != nil {
		fmt.Fprintf(w, "plantio:   %s\n", t.DataPlantio.Format("2006-01-02"))
	}
	if t.DataColheitaPrevista != nil {
		fmt.Fprintf(w, "colheita:  %s\n", t.DataColheitaPrevista.Format("2006-01-02"))
	}
	if len(t.Coordenadas) > 0 {
		fmt.Fprintf(w, "vértices:  %d\n", len(t.Coordenadas))
	}
}

func printStats(w io.Writer, s *models.Estatisticas) {
	fmt.Fprintf(w, "talhões: %d   área total: %.2f ha\n", s.TotalTalhoes, s.AreaTotalHectares)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tTALHÕES")
	for _, st := range []models.TalhaoStatus{
		models.StatusDisponivel,
		models.StatusPlanejado,
		models.StatusEmCrescimento,
		models.StatusProximoColheita,
		models.StatusProntoColheita,
	} {
		fmt.Fprintf(tw, "%s\t%d\n", statusColor(st), s.PorStatus[st])
	}
	_ = tw.Flush()
	if len(s.Culturas) > 0 {
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CULTURA\tÁREA (ha)")
		for _, c := range s.Culturas {
			fmt.Fprintf(tw, "%s\t%.2f\n", c, s.PorCultura[c])
		}
		_ = tw.Flush()
	}
}

// indicator renders the connectivity line shown while watching.
func indicator(st realtime.Status) string {
	switch st.State {
	case realtime.StateConnected:
		return color.GreenString("● online")
	case realtime.StateConnecting:
		return color.YellowString("◌ connecting")
	case realtime.StateReconnecting:
		return color.YellowString("◌ reconnecting (attempt %d/%d in %s)", st.Attempts, st.MaxAttempts, st.Delay)
	case realtime.StateAuthRejected:
		return color.RedString("✕ session rejected, run 'cloudfarm login'")
	case realtime.StateExhausted:
		return color.RedString("✕ offline, press r to retry")
	default:
		return color.New(color.Faint).Sprint("○ offline")
	}
}

func formatEvent(ev realtime.Event) string {
	label := ev.Type
	if ev.Channel != "" {
		label = ev.Channel + " " + ev.Type
	}
	data := strings.TrimSpace(string(ev.Data))
	if data == "" {
		data = "{}"
	}
	return fmt.Sprintf("%s %s", color.CyanString(label), data)
}
