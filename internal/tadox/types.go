package tadox

import "time"

// Tado X device types.
const (
	DeviceTypeValve      = "VA04"
	DeviceTypeThermostat = "TR04"
	DeviceTypeSensor     = "SU04"
	DeviceTypeBridge     = "IB02"
	DeviceTypeOptimizer  = "CK04"
)

// Manual-control termination modes.
const (
	TerminationManual        = "MANUAL"
	TerminationTimer         = "TIMER"
	TerminationNextTimeBlock = "NEXT_TIME_BLOCK"
)

// Room temperature limits enforced client-side.
const (
	MinTemperature  = 5.0
	MaxTemperature  = 25.0
	TemperatureStep = 0.5

	DefaultTimerDuration = 1800 * time.Second
)

// Hot-water target limits for boiler devices.
const (
	MinBoilerTemperature = 30.0
	MaxBoilerTemperature = 65.0
)

const (
	BatteryStateNormal = "NORMAL"
	BatteryStateLow    = "LOW"

	ConnectionConnected    = "CONNECTED"
	ConnectionDisconnected = "DISCONNECTED"
)

// Home presence values.
const (
	PresenceHome = "HOME"
	PresenceAway = "AWAY"
)

type Home struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type HomeState struct {
	Presence       string `json:"presence"`
	PresenceLocked bool   `json:"presenceLocked"`
}

// Room is the state of one Tado X room from the rooms API.
type Room struct {
	ID   int    `json:"id"`
	Name string `json:"name"`

	CurrentTemperature *float64 `json:"currentTemperature,omitempty"`
	Humidity           *float64 `json:"humidity,omitempty"`
	HeatingPower       *float64 `json:"heatingPower,omitempty"`

	PowerOn           bool     `json:"powerOn"`
	TargetTemperature *float64 `json:"targetTemperature,omitempty"`

	ManualControlActive           bool   `json:"manualControlActive"`
	ManualControlType             string `json:"manualControlType,omitempty"`
	ManualControlRemainingSeconds *int   `json:"manualControlRemainingSeconds,omitempty"`

	BoostActive        bool `json:"boostActive"`
	OpenWindowDetected bool `json:"openWindowDetected"`

	NextScheduleChange      *time.Time `json:"nextScheduleChange,omitempty"`
	NextScheduleTemperature *float64   `json:"nextScheduleTemperature,omitempty"`

	ConnectionState string `json:"connectionState,omitempty"`
}

// Device is one physical Tado X device from the roomsAndDevices API.
type Device struct {
	SerialNumber    string `json:"serialNumber"`
	Type            string `json:"type"`
	FirmwareVersion string `json:"firmwareVersion,omitempty"`
	BatteryState    string `json:"batteryState,omitempty"`
	ConnectionState string `json:"connectionState,omitempty"`
	MountingState   string `json:"mountingState,omitempty"`

	TemperatureMeasured *float64 `json:"temperatureMeasured,omitempty"`

	RoomID   *int   `json:"roomId,omitempty"`
	RoomName string `json:"roomName,omitempty"`
}

// IsBoiler reports whether the device accepts hot-water temperature
// commands.
func (d Device) IsBoiler() bool {
	return d.Type == DeviceTypeOptimizer
}

type MobileDevice struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	GeoTrackingEnabled bool   `json:"geoTrackingEnabled"`
	AtHome             *bool  `json:"atHome,omitempty"`
	LocationStale      bool   `json:"locationStale,omitempty"`

	Platform  string `json:"platform,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`
	Model     string `json:"model,omitempty"`
	Locale    string `json:"locale,omitempty"`
}

type Weather struct {
	OutsideTemperatureCelsius *float64 `json:"outsideTemperatureCelsius,omitempty"`
	SolarIntensityPercent     *float64 `json:"solarIntensityPercent,omitempty"`
	WeatherState              string   `json:"weatherState,omitempty"`
}

// ManualControl describes a room temperature override.
type ManualControl struct {
	TemperatureCelsius float64
	Termination        string
	Duration           time.Duration
}
