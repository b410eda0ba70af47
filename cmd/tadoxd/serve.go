package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tado-community/tadoxd/internal/coordinator"
	"github.com/tado-community/tadoxd/internal/hass"
	"github.com/tado-community/tadoxd/internal/metrics"
	"github.com/tado-community/tadoxd/internal/oauth"
	"github.com/tado-community/tadoxd/internal/rate"
	"github.com/tado-community/tadoxd/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, guard, manager, err := buildTadoClient(ctx, cfg)
	if err != nil {
		return err
	}
	manager.StartWithInterval(ctx, cfg.OAuthRefreshInterval())

	homeID, err := client.HomeID(ctx)
	if err != nil {
		return err
	}
	logger.Info("connected to tado", "home_id", homeID,
		"scan_interval", cfg.ScanInterval(), "auto_assist", cfg.Tado.AutoAssist)

	coord := coordinator.New(client, guard, coordinator.Options{
		Interval:             cfg.ScanInterval(),
		IncludeWeather:       cfg.EnableWeather(),
		IncludeMobileDevices: cfg.EnableMobileDevices(),
		IncludePresence:      cfg.EnableMobileDevices(),
		Logger:               logger,
	})

	mqttClient, err := hass.NewClient(cfg.MQTT)
	if err != nil {
		return err
	}
	defer mqttClient.Close()

	topics := hass.Topics{
		Prefix:          cfg.MQTT.TopicPrefix,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
	}
	bridge := hass.NewBridge(mqttClient, client, coord, topics, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewCollector(coord))
	registry.MustRegister(oauth.MetricsCollectors()...)
	registry.MustRegister(rate.MetricsCollectors()...)

	srv := server.New(cfg.HTTP.Addr, coord, client, registry, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return coord.Run(groupCtx) })
	group.Go(func() error { return bridge.Run(groupCtx) })
	group.Go(func() error { return srv.Run(groupCtx) })

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shut down")
	return nil
}
