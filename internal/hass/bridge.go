package hass

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tado-community/tadoxd/internal/coordinator"
	"github.com/tado-community/tadoxd/internal/tadox"
)

// Publisher is the MQTT surface the bridge needs.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(filter string, handler func(topic string, payload []byte)) error
}

// Commander executes control commands against the vendor API.
type Commander interface {
	SetRoomTemperature(ctx context.Context, roomID int, control tadox.ManualControl) error
	SetRoomOff(ctx context.Context, roomID int, control tadox.ManualControl) error
	ResumeSchedule(ctx context.Context, roomID int) error
	Boost(ctx context.Context) error
	AllOff(ctx context.Context) error
	ResumeAll(ctx context.Context) error
	SetPresence(ctx context.Context, presence string) error
	SetPresenceAuto(ctx context.Context) error
	SetBoilerTemperature(ctx context.Context, serialNumber string, temperatureC float64) error
}

// Quick-action button payloads.
const (
	quickActionBoost  = "boost"
	quickActionAllOff = "all_off"
	quickActionResume = "resume_schedule"
)

// SnapshotSource feeds the bridge with home state.
type SnapshotSource interface {
	Subscribe() <-chan *coordinator.Snapshot
	RequestRefresh()
}

// Bridge publishes Home Assistant discovery configs and entity state
// over MQTT, and maps command topics back onto the vendor API.
type Bridge struct {
	pub      Publisher
	commands Commander
	source   SnapshotSource
	topics   Topics
	log      *slog.Logger

	discovered map[string]bool
}

func NewBridge(pub Publisher, commands Commander, source SnapshotSource, topics Topics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		pub:        pub,
		commands:   commands,
		source:     source,
		topics:     topics,
		log:        logger.With("component", "hass"),
		discovered: make(map[string]bool),
	}
}

// Run subscribes to command topics and republishes every snapshot until
// the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	handler := func(topic string, payload []byte) {
		b.handleCommand(ctx, topic, payload)
	}
	if err := b.pub.Subscribe(b.topics.CommandFilter(), handler); err != nil {
		return err
	}
	if err := b.pub.Subscribe(b.topics.PresenceCommand(), handler); err != nil {
		return err
	}
	if err := b.pub.Subscribe(b.topics.QuickActionCommand(), handler); err != nil {
		return err
	}

	snapshots := b.source.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-snapshots:
			if snap == nil {
				continue
			}
			b.publishSnapshot(snap)
		}
	}
}

type roomState struct {
	CurrentTemperature *float64 `json:"current_temperature"`
	TargetTemperature  *float64 `json:"target_temperature"`
	Humidity           *float64 `json:"humidity"`
	HeatingPower       *float64 `json:"heating_power"`
	Mode               string   `json:"mode"`
	Action             string   `json:"action"`
	OpenWindow         bool     `json:"open_window"`
	ManualControl      bool     `json:"manual_control"`
	Connection         string   `json:"connection"`
}

type deviceState struct {
	BatteryState string   `json:"battery_state,omitempty"`
	Connection   string   `json:"connection"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Firmware     string   `json:"firmware,omitempty"`
}

type mobileState struct {
	Location string `json:"location"`
}

type presenceState struct {
	Presence string `json:"presence"`
}

type weatherState struct {
	OutsideTemperature *float64 `json:"outside_temperature"`
	SolarIntensity     *float64 `json:"solar_intensity"`
	State              string   `json:"state,omitempty"`
}

type quotaState struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// PublishSnapshot pushes discovery and state for one snapshot.
func (b *Bridge) PublishSnapshot(snap *coordinator.Snapshot) {
	b.publishSnapshot(snap)
}

func (b *Bridge) publishSnapshot(snap *coordinator.Snapshot) {
	for _, room := range snap.Rooms {
		b.ensureDiscovery(RoomDiscovery(b.topics, room))
		b.publishJSON(b.topics.RoomState(room.ID), roomStateFor(room))
	}
	for _, device := range snap.Devices {
		b.ensureDiscovery(DeviceDiscovery(b.topics, device))
		b.publishJSON(b.topics.DeviceState(device.SerialNumber), deviceState{
			BatteryState: device.BatteryState,
			Connection:   device.ConnectionState,
			Temperature:  device.TemperatureMeasured,
			Firmware:     device.FirmwareVersion,
		})
	}
	for _, mobile := range snap.MobileDevices {
		if !mobile.GeoTrackingEnabled {
			continue
		}
		b.ensureDiscovery(MobileDiscovery(b.topics, mobile))
		b.publishJSON(b.topics.MobileState(mobile.ID), mobileState{
			Location: mobileLocation(mobile),
		})
	}

	b.ensureDiscovery(HomeDiscovery(b.topics, snap.Weather != nil))

	if snap.HomeState != nil {
		b.publishJSON(b.topics.PresenceState(), presenceState{
			Presence: presenceFor(*snap.HomeState),
		})
	}
	if snap.Weather != nil {
		b.publishJSON(b.topics.WeatherState(), weatherState{
			OutsideTemperature: snap.Weather.OutsideTemperatureCelsius,
			SolarIntensity:     snap.Weather.SolarIntensityPercent,
			State:              snap.Weather.WeatherState,
		})
	}
	b.publishJSON(b.topics.QuotaState(), quotaState{
		Used:      snap.Quota.Used,
		Remaining: snap.Quota.Remaining,
		Limit:     snap.Quota.Limit,
		ResetAt:   snap.Quota.ResetAt,
	})
}

// ensureDiscovery publishes retained discovery configs once per topic.
// Re-publishing happens when the inventory grows a new entity.
func (b *Bridge) ensureDiscovery(configs []Discovery) {
	for _, discovery := range configs {
		if b.discovered[discovery.Topic] {
			continue
		}
		payload, err := json.Marshal(discovery.Config)
		if err != nil {
			b.log.Error("marshal discovery config", "topic", discovery.Topic, "error", err)
			continue
		}
		if err := b.pub.Publish(discovery.Topic, true, payload); err != nil {
			b.log.Error("publish discovery config", "topic", discovery.Topic, "error", err)
			continue
		}
		b.discovered[discovery.Topic] = true
	}
}

func (b *Bridge) publishJSON(topic string, state any) {
	payload, err := json.Marshal(state)
	if err != nil {
		b.log.Error("marshal state", "topic", topic, "error", err)
		return
	}
	if err := b.pub.Publish(topic, false, payload); err != nil {
		b.log.Error("publish state", "topic", topic, "error", err)
	}
}

func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) {
	value := strings.TrimSpace(string(payload))
	relative := strings.TrimPrefix(topic, b.topics.Prefix+"/")
	parts := strings.Split(relative, "/")

	var err error
	switch {
	case relative == "presence/set":
		err = b.setPresence(ctx, value)
	case relative == "quickactions/set":
		err = b.runQuickAction(ctx, value)
	case len(parts) == 4 && parts[0] == "rooms" && parts[2] == "set":
		var roomID int
		roomID, err = strconv.Atoi(parts[1])
		if err != nil {
			b.log.Warn("bad room id in command topic", "topic", topic)
			return
		}
		switch parts[3] {
		case "temperature":
			err = b.setRoomTemperature(ctx, roomID, value)
		case "mode":
			err = b.setRoomMode(ctx, roomID, value)
		default:
			b.log.Warn("unknown room command", "topic", topic)
			return
		}
	case len(parts) == 4 && parts[0] == "devices" && parts[2] == "set" && parts[3] == "temperature":
		err = b.setBoilerTemperature(ctx, parts[1], value)
	default:
		b.log.Warn("unknown command topic", "topic", topic)
		return
	}

	if err != nil {
		b.log.Error("command failed", "topic", topic, "payload", value, "error", err)
		return
	}
	b.source.RequestRefresh()
}

func (b *Bridge) setRoomTemperature(ctx context.Context, roomID int, value string) error {
	celsius, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	return b.commands.SetRoomTemperature(ctx, roomID, tadox.ManualControl{
		TemperatureCelsius: celsius,
		Termination:        tadox.TerminationNextTimeBlock,
	})
}

func (b *Bridge) setRoomMode(ctx context.Context, roomID int, mode string) error {
	switch strings.ToLower(mode) {
	case "off":
		return b.commands.SetRoomOff(ctx, roomID, tadox.ManualControl{
			Termination: tadox.TerminationNextTimeBlock,
		})
	case "auto":
		return b.commands.ResumeSchedule(ctx, roomID)
	case "heat":
		// resuming the schedule re-enables heating without inventing a
		// setpoint; a temperature command follows when the user picks one
		return b.commands.ResumeSchedule(ctx, roomID)
	default:
		b.log.Warn("unknown climate mode", "mode", mode)
		return nil
	}
}

func (b *Bridge) runQuickAction(ctx context.Context, value string) error {
	switch value {
	case quickActionBoost:
		return b.commands.Boost(ctx)
	case quickActionAllOff:
		return b.commands.AllOff(ctx)
	case quickActionResume:
		return b.commands.ResumeAll(ctx)
	default:
		b.log.Warn("unknown quick action", "payload", value)
		return nil
	}
}

func (b *Bridge) setPresence(ctx context.Context, value string) error {
	switch strings.ToLower(value) {
	case "home":
		return b.commands.SetPresence(ctx, tadox.PresenceHome)
	case "away":
		return b.commands.SetPresence(ctx, tadox.PresenceAway)
	case "auto":
		return b.commands.SetPresenceAuto(ctx)
	default:
		b.log.Warn("unknown presence value", "value", value)
		return nil
	}
}

func (b *Bridge) setBoilerTemperature(ctx context.Context, serial, value string) error {
	celsius, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	return b.commands.SetBoilerTemperature(ctx, serial, celsius)
}

func roomStateFor(room tadox.Room) roomState {
	return roomState{
		CurrentTemperature: room.CurrentTemperature,
		TargetTemperature:  room.TargetTemperature,
		Humidity:           room.Humidity,
		HeatingPower:       room.HeatingPower,
		Mode:               roomMode(room),
		Action:             roomAction(room),
		OpenWindow:         room.OpenWindowDetected,
		ManualControl:      room.ManualControlActive,
		Connection:         room.ConnectionState,
	}
}

func roomMode(room tadox.Room) string {
	if !room.PowerOn {
		return "off"
	}
	if room.ManualControlActive {
		return "heat"
	}
	return "auto"
}

func roomAction(room tadox.Room) string {
	if !room.PowerOn {
		return "off"
	}
	if room.HeatingPower != nil && *room.HeatingPower > 0 {
		return "heating"
	}
	return "idle"
}

func presenceFor(state tadox.HomeState) string {
	if !state.PresenceLocked {
		return "auto"
	}
	return strings.ToLower(state.Presence)
}

func mobileLocation(mobile tadox.MobileDevice) string {
	if mobile.AtHome == nil {
		return "unknown"
	}
	if *mobile.AtHome {
		return "home"
	}
	return "not_home"
}
