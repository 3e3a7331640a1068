package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cloudfarm/internal/apiclient"
	"cloudfarm/internal/models"
)

var (
	filterCultura string
	filterStatus  string

	fieldNome      string
	fieldArea      float64
	fieldCultura   string
	fieldVariedade string
	fieldPlantio   string
	fieldColheita  string
	fieldCoords    string
	fieldClear     []string
)

var talhoesCmd = &cobra.Command{
	Use:     "talhoes",
	Aliases: []string{"talhao", "t"},
	Short:   "Manage talhões (fields)",
}

var talhoesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List talhões",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		talhoes, err := client.API.ListTalhoes(ctx, apiclient.TalhaoFilter{
			Cultura: filterCultura,
			Status:  models.TalhaoStatus(filterStatus),
		})
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), talhoes)
		}
		printTalhoes(cmd.OutOrStdout(), talhoes)
		return nil
	},
}

var talhoesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one talhão",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		talhao, err := client.API.GetTalhao(ctx, args[0])
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), talhao)
		}
		printTalhao(cmd.OutOrStdout(), talhao)
		return nil
	},
}

var talhoesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a talhão",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := talhaoInputFromFlags(cmd)
		if err != nil {
			return err
		}
		if in.Nome == nil {
			return fmt.Errorf("--nome is required")
		}

		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		talhao, err := client.API.CreateTalhao(ctx, in)
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), talhao)
		}
		printSuccess(cmd.OutOrStdout(), "Created %s", talhao.ID)
		printTalhao(cmd.OutOrStdout(), talhao)
		return nil
	},
}

var talhoesUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a talhão",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := talhaoInputFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		talhao, err := client.API.UpdateTalhao(ctx, args[0], in)
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), talhao)
		}
		printTalhao(cmd.OutOrStdout(), talhao)
		return nil
	},
}

var talhoesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a talhão",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.API.DeleteTalhao(ctx, args[0]); err != nil {
			return explain(err)
		}
		printSuccess(cmd.OutOrStdout(), "Deleted %s", args[0])
		return nil
	},
}

var talhoesUploadCmd = &cobra.Command{
	Use:   "upload <id> <image>",
	Short: "Attach an image to a talhão",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()

		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		img, err := client.API.UploadTalhaoImage(ctx, args[0], filepath.Base(args[1]), f)
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), img)
		}
		printSuccess(cmd.OutOrStdout(), "Uploaded %s (%s, %d bytes)", img.Key, img.ContentType, img.Size)
		return nil
	},
}

var talhoesImagesCmd = &cobra.Command{
	Use:   "images <id>",
	Short: "List the images of a talhão",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		imgs, err := client.API.ListTalhaoImages(ctx, args[0])
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), imgs)
		}
		for _, img := range imgs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d  %s\n", img.UploadedAt.Local().Format(time.DateTime), img.ContentType, img.Size, img.URL)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show farm statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, _, err := openClient(ctx, false)
		if err != nil {
			return err
		}
		defer client.Close()

		stats, err := client.API.Estatisticas(ctx)
		if err != nil {
			return explain(err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		printStats(cmd.OutOrStdout(), stats)
		return nil
	},
}

// talhaoInputFromFlags only sets the fields whose flags were given.
func talhaoInputFromFlags(cmd *cobra.Command) (models.TalhaoInput, error) {
	var in models.TalhaoInput
	flags := cmd.Flags()
	if flags.Changed("nome") {
		in.Nome = &fieldNome
	}
	if flags.Changed("area") {
		in.AreaHectares = &fieldArea
	}
	if flags.Changed("cultura") {
		in.Cultura = &fieldCultura
	}
	if flags.Changed("variedade") {
		in.Variedade = &fieldVariedade
	}
	if flags.Changed("plantio") {
		d, err := time.Parse(time.DateOnly, fieldPlantio)
		if err != nil {
			return in, fmt.Errorf("--plantio: %w", err)
		}
		in.DataPlantio = &d
	}
	if flags.Changed("colheita") {
		d, err := time.Parse(time.DateOnly, fieldColheita)
		if err != nil {
			return in, fmt.Errorf("--colheita: %w", err)
		}
		in.DataColheitaPrevista = &d
	}
	if flags.Changed("limpar") {
		in.Clear = fieldClear
	}
	if flags.Changed("coords") {
		coords, err := parseCoords(fieldCoords)
		if err != nil {
			return in, err
		}
		in.Coordenadas = coords
	}
	return in, nil
}

// parseCoords reads "lat,lng;lat,lng;..." into polygon vertices.
func parseCoords(raw string) ([][2]float64, error) {
	var out [][2]float64
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("--coords: bad vertex %q", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("--coords: %w", err)
		}
		lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("--coords: %w", err)
		}
		out = append(out, [2]float64{lat, lng})
	}
	return out, nil
}

func init() {
	talhoesListCmd.Flags().StringVar(&filterCultura, "cultura", "", "Only talhões with this crop")
	talhoesListCmd.Flags().StringVar(&filterStatus, "status", "", "Only talhões with this status")

	for _, c := range []*cobra.Command{talhoesCreateCmd, talhoesUpdateCmd} {
		c.Flags().StringVar(&fieldNome, "nome", "", "Name")
		c.Flags().Float64Var(&fieldArea, "area", 0, "Area in hectares")
		c.Flags().StringVar(&fieldCultura, "cultura", "", "Crop")
		c.Flags().StringVar(&fieldVariedade, "variedade", "", "Crop variety")
		c.Flags().StringVar(&fieldPlantio, "plantio", "", "Planting date (YYYY-MM-DD)")
		c.Flags().StringVar(&fieldColheita, "colheita", "", "Expected harvest date (YYYY-MM-DD)")
		c.Flags().StringVar(&fieldCoords, "coords", "", "Polygon as lat,lng;lat,lng;...")
	}

	talhoesUpdateCmd.Flags().StringSliceVar(&fieldClear, "limpar", nil,
		"Fields to clear (cultura, variedade, data_plantio, data_colheita_prevista, coordenadas)")

	talhoesCmd.AddCommand(talhoesListCmd, talhoesGetCmd, talhoesCreateCmd, talhoesUpdateCmd,
		talhoesDeleteCmd, talhoesUploadCmd, talhoesImagesCmd)
}
