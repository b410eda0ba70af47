package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/tado-community/tadoxd/internal/oauth"
	"github.com/tado-community/tadoxd/internal/tadox"
)

var loginSkipBlob bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize with Tado via the device-code flow",
	Long: `login runs the OAuth device-code flow: it prints a verification URL
and a user code, waits for you to approve the device in a browser, and
persists the resulting refresh token to the state file (and the blob
store, when one is configured).`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&loginSkipBlob, "skip-blob", false, "do not mirror the new state to the blob store")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	endpoints := oauth.DefaultEndpoints()

	clientID := oauth.ClientID
	if bootstrap, err := oauth.LoadBootstrap(cfg.OAuth.BootstrapFile); err == nil {
		clientID = bootstrap.ClientID
	}

	auth, err := oauth.DeviceAuthorize(ctx, endpoints, clientID)
	if err != nil {
		return err
	}

	fmt.Printf("Open %s\n", auth.VerifyURL())
	fmt.Printf("and enter the code %s to authorize tadoxd.\n", auth.UserCode)
	fmt.Printf("Waiting for approval (expires in %ds)...\n", auth.ExpiresIn)

	refreshToken, err := oauth.PollDeviceToken(ctx, endpoints, clientID, auth)
	if err != nil {
		return err
	}

	state := oauth.State{
		SchemaVersion: oauth.SchemaVersion,
		ClientID:      clientID,
		RefreshToken:  refreshToken,
		Scope:         oauth.Scope,
	}
	if err := oauth.WriteState(cfg.OAuth.StatePath, state); err != nil {
		return err
	}
	fmt.Printf("Saved refresh token to %s\n", cfg.OAuth.StatePath)

	if err := ensureBootstrap(cfg.OAuth.BootstrapFile, clientID); err != nil {
		return err
	}

	if !loginSkipBlob && cfg.OAuth.BlobEndpoint != "" {
		store, err := buildBlobStore(cfg)
		if err != nil {
			return err
		}
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		if err := store.Save(ctx, data); err != nil {
			return fmt.Errorf("mirror state to blob store: %w", err)
		}
		fmt.Println("Mirrored state to the blob store.")
	}

	return listHomes(ctx, cfg.OAuth.BootstrapFile, cfg.OAuth.StatePath)
}

// ensureBootstrap writes a minimal bootstrap file so the daemon can
// start on a machine where login ran first.
func ensureBootstrap(path, clientID string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	bootstrap := oauth.Bootstrap{
		SchemaVersion: oauth.SchemaVersion,
		ClientID:      clientID,
	}
	data, err := json.MarshalIndent(bootstrap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write bootstrap: %w", err)
	}
	fmt.Printf("Wrote bootstrap file %s\n", path)
	return nil
}

func listHomes(ctx context.Context, bootstrapPath, statePath string) error {
	manager, err := oauth.NewManager(bootstrapPath, statePath, oauth.DefaultEndpoints(), nil)
	if err != nil {
		return err
	}
	if err := manager.RefreshNow(ctx); err != nil {
		return err
	}

	client, err := tadox.NewClient(manager, tadox.Options{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return err
	}
	homes, err := client.Me(ctx)
	if err != nil {
		return err
	}

	fmt.Println("Homes on this account:")
	for _, home := range homes {
		fmt.Printf("  %d  %s\n", home.ID, home.Name)
	}
	if len(homes) > 1 {
		fmt.Println("Multiple homes found; set tado.home_id in the config.")
	}
	return nil
}
