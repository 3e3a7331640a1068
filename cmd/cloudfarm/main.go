package main

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cloudfarm/internal/cloudfarm"
	"cloudfarm/internal/config"
	applog "cloudfarm/internal/log"
)

var (
	apiURL     string
	wsURL      string
	devMode    bool
	jsonOut    bool
	logLevel   string
	noRealtime bool
)

var rootCmd = &cobra.Command{
	Use:   "cloudfarm",
	Short: "CloudFarm command line client",
	Long: `cloudfarm talks to a CloudFarm backend: log in, manage talhões and
follow realtime farm notifications.

Settings come from cloudfarm.yaml (current directory or the user config
directory) and CLOUDFARM_* environment variables; flags override both.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "Backend base URL (overrides api.baseurl)")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", "", "Realtime URL (overrides realtime.url)")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Dev mode: debug logging and realtime tracing")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noRealtime, "no-realtime", false, "Disable the realtime connection")

	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, healthCmd, statsCmd, talhoesCmd, watchCmd, sendCmd)
}

// openClient loads configuration and builds the client core. withRealtime is
// false for commands that only use HTTP.
func openClient(ctx context.Context, withRealtime bool) (*cloudfarm.Client, zerolog.Logger, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if wsURL != "" {
		cfg.Realtime.URL = wsURL
	}
	if devMode {
		cfg.Dev = true
		cfg.Log.Level = "debug"
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if noRealtime || !withRealtime {
		cfg.Realtime.Disabled = true
	}

	logger := applog.NewWithLevel(cfg.Log.Level)
	client, err := cloudfarm.New(cfg, logger)
	if err != nil {
		return nil, logger, err
	}
	if withRealtime {
		client.Start(ctx)
	} else {
		client.Session.Load(ctx)
	}
	return client, logger, nil
}
