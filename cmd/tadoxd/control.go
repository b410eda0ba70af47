package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tado-community/tadoxd/internal/tadox"
)

var (
	setDuration       int
	setUntilNextBlock bool
	setForever        bool
)

var setCmd = &cobra.Command{
	Use:   "set <room-id> <temperature>",
	Short: "Set a manual room temperature",
	Args:  cobra.ExactArgs(2),
	RunE:  runSet,
}

var offCmd = &cobra.Command{
	Use:   "off <room-id>",
	Short: "Turn a room's heating off",
	Args:  cobra.ExactArgs(1),
	RunE: roomCommand(func(ctx context.Context, client *tadox.Client, roomID int) error {
		return client.SetRoomOff(ctx, roomID, tadox.ManualControl{Termination: tadox.TerminationManual})
	}),
}

var resumeCmd = &cobra.Command{
	Use:   "resume <room-id>",
	Short: "Resume a room's schedule",
	Args:  cobra.ExactArgs(1),
	RunE: roomCommand(func(ctx context.Context, client *tadox.Client, roomID int) error {
		return client.ResumeSchedule(ctx, roomID)
	}),
}

var boostCmd = &cobra.Command{
	Use:   "boost",
	Short: "Boost heating in all rooms",
	Args:  cobra.NoArgs,
	RunE: homeCommand(func(ctx context.Context, client *tadox.Client) error {
		return client.Boost(ctx)
	}),
}

var allOffCmd = &cobra.Command{
	Use:   "all-off",
	Short: "Turn heating off in all rooms",
	Args:  cobra.NoArgs,
	RunE: homeCommand(func(ctx context.Context, client *tadox.Client) error {
		return client.AllOff(ctx)
	}),
}

var resumeAllCmd = &cobra.Command{
	Use:   "resume-all",
	Short: "Resume the schedule in all rooms",
	Args:  cobra.NoArgs,
	RunE: homeCommand(func(ctx context.Context, client *tadox.Client) error {
		return client.ResumeAll(ctx)
	}),
}

var presenceCmd = &cobra.Command{
	Use:       "presence <home|away|auto>",
	Short:     "Set home presence, or return it to geofencing",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"home", "away", "auto"},
	RunE:      runPresence,
}

func init() {
	setCmd.Flags().IntVar(&setDuration, "duration", 0, "override duration in seconds (default 1800)")
	setCmd.Flags().BoolVar(&setUntilNextBlock, "until-next-block", false, "hold until the next schedule block")
	setCmd.Flags().BoolVar(&setForever, "forever", false, "hold until changed manually")
	setCmd.MarkFlagsMutuallyExclusive("duration", "until-next-block", "forever")

	rootCmd.AddCommand(setCmd, offCmd, resumeCmd, boostCmd, allOffCmd, resumeAllCmd, presenceCmd)
}

func runSet(_ *cobra.Command, args []string) error {
	roomID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid room id %q", args[0])
	}
	temperature, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid temperature %q", args[1])
	}
	if err := tadox.ValidateTemperature(temperature); err != nil {
		return err
	}

	control := tadox.ManualControl{
		TemperatureCelsius: temperature,
		Termination:        tadox.TerminationTimer,
	}
	switch {
	case setUntilNextBlock:
		control.Termination = tadox.TerminationNextTimeBlock
	case setForever:
		control.Termination = tadox.TerminationManual
	case setDuration > 0:
		control.Duration = time.Duration(setDuration) * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := oneShotClient(ctx)
	if err != nil {
		return err
	}
	if err := client.SetRoomTemperature(ctx, roomID, control); err != nil {
		return err
	}
	fmt.Printf("Room %d set to %.1f°C (%s)\n", roomID, temperature, control.Termination)
	return nil
}

func runPresence(_ *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := oneShotClient(ctx)
	if err != nil {
		return err
	}

	switch args[0] {
	case "home":
		err = client.SetPresence(ctx, tadox.PresenceHome)
	case "away":
		err = client.SetPresence(ctx, tadox.PresenceAway)
	case "auto":
		err = client.SetPresenceAuto(ctx)
	default:
		return fmt.Errorf("presence must be home, away or auto")
	}
	if err != nil {
		return err
	}
	fmt.Printf("Presence set to %s\n", args[0])
	return nil
}

func roomCommand(run func(ctx context.Context, client *tadox.Client, roomID int) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		roomID, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid room id %q", args[0])
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := oneShotClient(ctx)
		if err != nil {
			return err
		}
		return run(ctx, client, roomID)
	}
}

func homeCommand(run func(ctx context.Context, client *tadox.Client) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := oneShotClient(ctx)
		if err != nil {
			return err
		}
		return run(ctx, client)
	}
}
