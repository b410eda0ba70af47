package hass

import (
	"fmt"

	"github.com/tado-community/tadoxd/internal/tadox"
)

// deviceInfo is the Home Assistant discovery device block. Entities
// sharing identifiers are grouped under one device in the UI.
type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

type climateConfig struct {
	Name       string     `json:"name"`
	UniqueID   string     `json:"unique_id"`
	Device     deviceInfo `json:"device"`
	Modes      []string   `json:"modes"`
	MinTemp    float64    `json:"min_temp"`
	MaxTemp    float64    `json:"max_temp"`
	TempStep   float64    `json:"temp_step"`
	Precision  float64    `json:"precision"`
	TempUnit   string     `json:"temperature_unit"`
	Icon       string     `json:"icon,omitempty"`
	ObjectID   string     `json:"object_id,omitempty"`
	Optimistic bool       `json:"optimistic,omitempty"`

	AvailabilityTopic string `json:"availability_topic"`

	CurrentTemperatureTopic    string `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string `json:"current_temperature_template"`
	TemperatureStateTopic      string `json:"temperature_state_topic"`
	TemperatureStateTemplate   string `json:"temperature_state_template"`
	TemperatureCommandTopic    string `json:"temperature_command_topic"`
	ModeStateTopic             string `json:"mode_state_topic"`
	ModeStateTemplate          string `json:"mode_state_template"`
	ModeCommandTopic           string `json:"mode_command_topic"`
	ActionTopic                string `json:"action_topic"`
	ActionTemplate             string `json:"action_template"`
}

type sensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	Device            deviceInfo `json:"device"`
	AvailabilityTopic string     `json:"availability_topic"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template"`
	DeviceClass       string     `json:"device_class,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	Icon              string     `json:"icon,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

type binarySensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	Device            deviceInfo `json:"device"`
	AvailabilityTopic string     `json:"availability_topic"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template"`
	PayloadOn         string     `json:"payload_on"`
	PayloadOff        string     `json:"payload_off"`
	DeviceClass       string     `json:"device_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

type selectConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	Device            deviceInfo `json:"device"`
	AvailabilityTopic string     `json:"availability_topic"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template"`
	CommandTopic      string     `json:"command_topic"`
	Options           []string   `json:"options"`
	Icon              string     `json:"icon,omitempty"`
}

type buttonConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	Device            deviceInfo `json:"device"`
	AvailabilityTopic string     `json:"availability_topic"`
	CommandTopic      string     `json:"command_topic"`
	PayloadPress      string     `json:"payload_press"`
	Icon              string     `json:"icon,omitempty"`
}

type trackerConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	Device            deviceInfo `json:"device"`
	AvailabilityTopic string     `json:"availability_topic"`
	StateTopic        string     `json:"state_topic"`
	ValueTemplate     string     `json:"value_template"`
	PayloadHome       string     `json:"payload_home"`
	PayloadNotHome    string     `json:"payload_not_home"`
	SourceType        string     `json:"source_type"`
}

type waterHeaterConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	Device            deviceInfo `json:"device"`
	AvailabilityTopic string     `json:"availability_topic"`
	MinTemp           float64    `json:"min_temp"`
	MaxTemp           float64    `json:"max_temp"`
	TempUnit          string     `json:"temperature_unit"`

	CurrentTemperatureTopic    string `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string `json:"current_temperature_template"`
	TemperatureCommandTopic    string `json:"temperature_command_topic"`
}

// Discovery is one retained discovery config ready to publish.
type Discovery struct {
	Topic  string
	Config any
}

func measuresTemperature(deviceType string) bool {
	switch deviceType {
	case tadox.DeviceTypeValve, tadox.DeviceTypeThermostat, tadox.DeviceTypeSensor:
		return true
	}
	return false
}

var deviceModels = map[string]string{
	tadox.DeviceTypeValve:      "Smart Radiator Thermostat X",
	tadox.DeviceTypeThermostat: "Smart Thermostat X",
	tadox.DeviceTypeSensor:     "Wireless Temperature Sensor X",
	tadox.DeviceTypeBridge:     "Bridge X",
	tadox.DeviceTypeOptimizer:  "Heat Pump Optimizer X",
}

func bridgeDevice() deviceInfo {
	return deviceInfo{
		Identifiers:  []string{"tadoxd"},
		Name:         "Tado X",
		Manufacturer: "tado",
		Model:        "tadoxd bridge",
	}
}

func roomDevice(room tadox.Room) deviceInfo {
	return deviceInfo{
		Identifiers:  []string{fmt.Sprintf("tadoxd_room_%d", room.ID)},
		Name:         room.Name,
		Manufacturer: "tado",
		Model:        "Room",
		ViaDevice:    "tadoxd",
	}
}

func physicalDevice(device tadox.Device) deviceInfo {
	model := deviceModels[device.Type]
	if model == "" {
		model = device.Type
	}
	name := device.SerialNumber
	if device.RoomName != "" {
		name = fmt.Sprintf("%s %s", device.RoomName, device.Type)
	}
	return deviceInfo{
		Identifiers:  []string{"tadoxd_" + device.SerialNumber},
		Name:         name,
		Manufacturer: "tado",
		Model:        model,
		SWVersion:    device.FirmwareVersion,
		ViaDevice:    "tadoxd",
	}
}

// RoomDiscovery builds the discovery configs for one room: a climate
// entity plus humidity, heating power, and open-window sensors.
func RoomDiscovery(topics Topics, room tadox.Room) []Discovery {
	device := roomDevice(room)
	availability := topics.Availability()
	stateTopic := topics.RoomState(room.ID)

	climate := climateConfig{
		Name:              room.Name,
		UniqueID:          fmt.Sprintf("tadoxd_room_%d_climate", room.ID),
		Device:            device,
		Modes:             []string{"off", "heat", "auto"},
		MinTemp:           tadox.MinTemperature,
		MaxTemp:           tadox.MaxTemperature,
		TempStep:          tadox.TemperatureStep,
		Precision:         0.1,
		TempUnit:          "C",
		AvailabilityTopic: availability,

		CurrentTemperatureTopic:    stateTopic,
		CurrentTemperatureTemplate: "{{ value_json.current_temperature }}",
		TemperatureStateTopic:      stateTopic,
		TemperatureStateTemplate:   "{{ value_json.target_temperature }}",
		TemperatureCommandTopic:    topics.RoomTemperatureCommand(room.ID),
		ModeStateTopic:             stateTopic,
		ModeStateTemplate:          "{{ value_json.mode }}",
		ModeCommandTopic:           topics.RoomModeCommand(room.ID),
		ActionTopic:                stateTopic,
		ActionTemplate:             "{{ value_json.action }}",
	}

	humidity := sensorConfig{
		Name:              room.Name + " Humidity",
		UniqueID:          fmt.Sprintf("tadoxd_room_%d_humidity", room.ID),
		Device:            device,
		AvailabilityTopic: availability,
		StateTopic:        stateTopic,
		ValueTemplate:     "{{ value_json.humidity }}",
		DeviceClass:       "humidity",
		StateClass:        "measurement",
		UnitOfMeasurement: "%",
	}

	heatingPower := sensorConfig{
		Name:              room.Name + " Heating Power",
		UniqueID:          fmt.Sprintf("tadoxd_room_%d_heating_power", room.ID),
		Device:            device,
		AvailabilityTopic: availability,
		StateTopic:        stateTopic,
		ValueTemplate:     "{{ value_json.heating_power }}",
		StateClass:        "measurement",
		UnitOfMeasurement: "%",
		Icon:              "mdi:radiator",
	}

	openWindow := binarySensorConfig{
		Name:              room.Name + " Open Window",
		UniqueID:          fmt.Sprintf("tadoxd_room_%d_open_window", room.ID),
		Device:            device,
		AvailabilityTopic: availability,
		StateTopic:        stateTopic,
		ValueTemplate:     "{{ value_json.open_window }}",
		PayloadOn:         "true",
		PayloadOff:        "false",
		DeviceClass:       "window",
	}

	return []Discovery{
		{Topic: topics.discovery("climate", climate.UniqueID), Config: climate},
		{Topic: topics.discovery("sensor", humidity.UniqueID), Config: humidity},
		{Topic: topics.discovery("sensor", heatingPower.UniqueID), Config: heatingPower},
		{Topic: topics.discovery("binary_sensor", openWindow.UniqueID), Config: openWindow},
	}
}

// DeviceDiscovery builds the per-device diagnostics: battery and
// connectivity sensors, and a water heater entity for boiler devices.
func DeviceDiscovery(topics Topics, device tadox.Device) []Discovery {
	info := physicalDevice(device)
	availability := topics.Availability()
	stateTopic := topics.DeviceState(device.SerialNumber)

	connectivity := binarySensorConfig{
		Name:              "Connectivity",
		UniqueID:          fmt.Sprintf("tadoxd_%s_connectivity", device.SerialNumber),
		Device:            info,
		AvailabilityTopic: availability,
		StateTopic:        stateTopic,
		ValueTemplate:     "{{ value_json.connection }}",
		PayloadOn:         tadox.ConnectionConnected,
		PayloadOff:        tadox.ConnectionDisconnected,
		DeviceClass:       "connectivity",
		EntityCategory:    "diagnostic",
	}

	configs := []Discovery{
		{Topic: topics.discovery("binary_sensor", connectivity.UniqueID), Config: connectivity},
	}

	if measuresTemperature(device.Type) {
		temperature := sensorConfig{
			Name:              "Temperature",
			UniqueID:          fmt.Sprintf("tadoxd_%s_temperature", device.SerialNumber),
			Device:            info,
			AvailabilityTopic: availability,
			StateTopic:        stateTopic,
			ValueTemplate:     "{{ value_json.temperature }}",
			DeviceClass:       "temperature",
			StateClass:        "measurement",
			UnitOfMeasurement: "°C",
			EntityCategory:    "diagnostic",
		}
		configs = append(configs, Discovery{
			Topic:  topics.discovery("sensor", temperature.UniqueID),
			Config: temperature,
		})
	}

	// bridges are mains powered and report no battery
	if device.Type != tadox.DeviceTypeBridge {
		battery := binarySensorConfig{
			Name:              "Battery Low",
			UniqueID:          fmt.Sprintf("tadoxd_%s_battery", device.SerialNumber),
			Device:            info,
			AvailabilityTopic: availability,
			StateTopic:        stateTopic,
			ValueTemplate:     "{{ value_json.battery_state }}",
			PayloadOn:         tadox.BatteryStateLow,
			PayloadOff:        tadox.BatteryStateNormal,
			DeviceClass:       "battery",
			EntityCategory:    "diagnostic",
		}
		configs = append(configs, Discovery{
			Topic:  topics.discovery("binary_sensor", battery.UniqueID),
			Config: battery,
		})
	}

	if device.IsBoiler() {
		heater := waterHeaterConfig{
			Name:              "Hot Water",
			UniqueID:          fmt.Sprintf("tadoxd_%s_water_heater", device.SerialNumber),
			Device:            info,
			AvailabilityTopic: availability,
			MinTemp:           tadox.MinBoilerTemperature,
			MaxTemp:           tadox.MaxBoilerTemperature,
			TempUnit:          "C",

			CurrentTemperatureTopic:    stateTopic,
			CurrentTemperatureTemplate: "{{ value_json.temperature }}",
			TemperatureCommandTopic:    topics.BoilerTemperatureCommand(device.SerialNumber),
		}
		configs = append(configs, Discovery{
			Topic:  topics.discovery("water_heater", heater.UniqueID),
			Config: heater,
		})
	}

	return configs
}

// MobileDiscovery builds a device tracker for a geotracking-enabled
// mobile device.
func MobileDiscovery(topics Topics, mobile tadox.MobileDevice) []Discovery {
	tracker := trackerConfig{
		Name:              mobile.Name,
		UniqueID:          fmt.Sprintf("tadoxd_mobile_%d", mobile.ID),
		Device:            bridgeDevice(),
		AvailabilityTopic: topics.Availability(),
		StateTopic:        topics.MobileState(mobile.ID),
		ValueTemplate:     "{{ value_json.location }}",
		PayloadHome:       "home",
		PayloadNotHome:    "not_home",
		SourceType:        "gps",
	}
	return []Discovery{
		{Topic: topics.discovery("device_tracker", tracker.UniqueID), Config: tracker},
	}
}

// HomeDiscovery builds the home-level entities: the presence select,
// quick-action buttons, weather sensors, and API quota diagnostics.
func HomeDiscovery(topics Topics, includeWeather bool) []Discovery {
	device := bridgeDevice()
	availability := topics.Availability()

	presence := selectConfig{
		Name:              "Presence",
		UniqueID:          "tadoxd_presence",
		Device:            device,
		AvailabilityTopic: availability,
		StateTopic:        topics.PresenceState(),
		ValueTemplate:     "{{ value_json.presence }}",
		CommandTopic:      topics.PresenceCommand(),
		Options:           []string{"home", "away", "auto"},
		Icon:              "mdi:home-account",
	}

	quotaUsed := sensorConfig{
		Name:              "API Calls Used",
		UniqueID:          "tadoxd_api_calls_used",
		Device:            device,
		AvailabilityTopic: availability,
		StateTopic:        topics.QuotaState(),
		ValueTemplate:     "{{ value_json.used }}",
		StateClass:        "measurement",
		EntityCategory:    "diagnostic",
		Icon:              "mdi:counter",
	}

	quotaRemaining := sensorConfig{
		Name:              "API Calls Remaining",
		UniqueID:          "tadoxd_api_calls_remaining",
		Device:            device,
		AvailabilityTopic: availability,
		StateTopic:        topics.QuotaState(),
		ValueTemplate:     "{{ value_json.remaining }}",
		StateClass:        "measurement",
		EntityCategory:    "diagnostic",
		Icon:              "mdi:counter",
	}

	boost := buttonConfig{
		Name:              "Boost All Rooms",
		UniqueID:          "tadoxd_boost",
		Device:            device,
		AvailabilityTopic: availability,
		CommandTopic:      topics.QuickActionCommand(),
		PayloadPress:      quickActionBoost,
		Icon:              "mdi:fire",
	}

	allOff := buttonConfig{
		Name:              "All Heating Off",
		UniqueID:          "tadoxd_all_off",
		Device:            device,
		AvailabilityTopic: availability,
		CommandTopic:      topics.QuickActionCommand(),
		PayloadPress:      quickActionAllOff,
		Icon:              "mdi:radiator-off",
	}

	resumeAll := buttonConfig{
		Name:              "Resume Schedule",
		UniqueID:          "tadoxd_resume_schedule",
		Device:            device,
		AvailabilityTopic: availability,
		CommandTopic:      topics.QuickActionCommand(),
		PayloadPress:      quickActionResume,
		Icon:              "mdi:calendar-clock",
	}

	configs := []Discovery{
		{Topic: topics.discovery("select", presence.UniqueID), Config: presence},
		{Topic: topics.discovery("button", boost.UniqueID), Config: boost},
		{Topic: topics.discovery("button", allOff.UniqueID), Config: allOff},
		{Topic: topics.discovery("button", resumeAll.UniqueID), Config: resumeAll},
		{Topic: topics.discovery("sensor", quotaUsed.UniqueID), Config: quotaUsed},
		{Topic: topics.discovery("sensor", quotaRemaining.UniqueID), Config: quotaRemaining},
	}

	if includeWeather {
		outside := sensorConfig{
			Name:              "Outside Temperature",
			UniqueID:          "tadoxd_outside_temperature",
			Device:            device,
			AvailabilityTopic: availability,
			StateTopic:        topics.WeatherState(),
			ValueTemplate:     "{{ value_json.outside_temperature }}",
			DeviceClass:       "temperature",
			StateClass:        "measurement",
			UnitOfMeasurement: "°C",
		}
		solar := sensorConfig{
			Name:              "Solar Intensity",
			UniqueID:          "tadoxd_solar_intensity",
			Device:            device,
			AvailabilityTopic: availability,
			StateTopic:        topics.WeatherState(),
			ValueTemplate:     "{{ value_json.solar_intensity }}",
			StateClass:        "measurement",
			UnitOfMeasurement: "%",
			Icon:              "mdi:weather-sunny",
		}
		configs = append(configs,
			Discovery{Topic: topics.discovery("sensor", outside.UniqueID), Config: outside},
			Discovery{Topic: topics.discovery("sensor", solar.UniqueID), Config: solar},
		)
	}

	return configs
}
