package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tado-community/tadoxd/internal/tadox"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Print the current state of every room",
	RunE:  runRooms,
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}

func runRooms(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := oneShotClient(ctx)
	if err != nil {
		return err
	}

	rooms, err := client.Rooms(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTEMP\tTARGET\tHUMIDITY\tHEATING\tMODE")
	for _, room := range rooms {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			room.ID,
			room.Name,
			formatCelsius(room.CurrentTemperature),
			formatCelsius(room.TargetTemperature),
			formatPercent(room.Humidity),
			formatPercent(room.HeatingPower),
			roomMode(room),
		)
	}
	return w.Flush()
}

// oneShotClient builds a quota-guarded client for single commands.
func oneShotClient(ctx context.Context) (*tadox.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	newLogger(cfg)

	client, _, _, err := buildTadoClient(ctx, cfg)
	return client, err
}

func formatCelsius(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°C", *value)
}

func formatPercent(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *value)
}

func roomMode(room tadox.Room) string {
	switch {
	case !room.PowerOn:
		return "off"
	case room.BoostActive:
		return "boost"
	case room.ManualControlActive:
		return "manual"
	default:
		return "auto"
	}
}
