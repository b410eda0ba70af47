package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tado-community/tadoxd/internal/ghstats"
)

var (
	statsOwner string
	statsRepo  string
	statsJSON  bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report GitHub traffic and download stats for the project repo",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsOwner, "owner", "", "repository owner (defaults to stats.owner in the config)")
	statsCmd.Flags().StringVar(&statsRepo, "repo", "", "repository name (defaults to stats.repo in the config)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "emit JSON instead of a table")
	rootCmd.AddCommand(statsCmd)
}

func runStats(_ *cobra.Command, _ []string) error {
	owner, repo := statsOwner, statsRepo
	if owner == "" || repo == "" {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("no --owner/--repo and no usable config: %w", err)
		}
		if owner == "" {
			owner = cfg.Stats.Owner
		}
		if repo == "" {
			repo = cfg.Stats.Repo
		}
	}
	if owner == "" || repo == "" {
		return fmt.Errorf("repository not set; pass --owner and --repo or set stats in the config")
	}

	gateway, err := ghstats.NewGitHubGateway(os.Getenv("GITHUB_TOKEN"))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	report, err := ghstats.Collect(ctx, gateway, owner, repo)
	if err != nil {
		return err
	}

	if statsJSON {
		return report.WriteJSON(os.Stdout)
	}
	return report.WriteTable(os.Stdout)
}
