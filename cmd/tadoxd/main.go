package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tado-community/tadoxd/internal/config"
	"github.com/tado-community/tadoxd/internal/oauth"
	"github.com/tado-community/tadoxd/internal/rate"
	"github.com/tado-community/tadoxd/internal/tadox"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "tadoxd",
	Short: "Tado X bridge daemon",
	Long: `tadoxd polls the Tado X cloud API within its daily quota and bridges
rooms, devices and presence to Home Assistant over MQTT, with a JSON API
and Prometheus metrics on the side.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func buildBlobStore(cfg *config.Config) (oauth.BlobStore, error) {
	if cfg.OAuth.BlobEndpoint == "" {
		return nil, nil
	}
	return oauth.NewS3Store(cfg.OAuth)
}

func quotaDeclaration(cfg *config.Config) rate.Declaration {
	if cfg.Tado.AutoAssist {
		return rate.Daily(rate.QuotaAutoAssist).
			BudgetFloor(100).
			CacheFor(15 * time.Second)
	}
	return rate.Daily(rate.QuotaFreeTier).
		BudgetFloor(10).
		CacheFor(time.Minute)
}

// buildTadoClient wires the oauth manager, the quota guard, and the
// vendor client, refreshing the token once so the first call works.
func buildTadoClient(ctx context.Context, cfg *config.Config) (*tadox.Client, *rate.Guard, *oauth.Manager, error) {
	blobStore, err := buildBlobStore(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	manager, err := oauth.NewManager(cfg.OAuth.BootstrapFile, cfg.OAuth.StatePath, oauth.DefaultEndpoints(), blobStore)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := manager.RefreshNow(ctx); err != nil {
		return nil, nil, nil, err
	}

	httpClient, guard := rate.WrapHTTP(quotaDeclaration(cfg), &http.Client{Timeout: 15 * time.Second})

	client, err := tadox.NewClient(manager, tadox.Options{
		AccountURL: cfg.Tado.AccountURL,
		RoomsURL:   cfg.Tado.RoomsURL,
		HomeID:     cfg.Tado.HomeID,
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return client, guard, manager, nil
}
