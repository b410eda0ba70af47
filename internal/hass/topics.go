package hass

import "fmt"

// Topics derives every MQTT topic the bridge uses from the configured
// prefixes.
type Topics struct {
	Prefix          string
	DiscoveryPrefix string
}

func (t Topics) Availability() string {
	return t.Prefix + "/status"
}

func (t Topics) RoomState(roomID int) string {
	return fmt.Sprintf("%s/rooms/%d/state", t.Prefix, roomID)
}

func (t Topics) RoomTemperatureCommand(roomID int) string {
	return fmt.Sprintf("%s/rooms/%d/set/temperature", t.Prefix, roomID)
}

func (t Topics) RoomModeCommand(roomID int) string {
	return fmt.Sprintf("%s/rooms/%d/set/mode", t.Prefix, roomID)
}

func (t Topics) DeviceState(serial string) string {
	return fmt.Sprintf("%s/devices/%s/state", t.Prefix, serial)
}

func (t Topics) BoilerTemperatureCommand(serial string) string {
	return fmt.Sprintf("%s/devices/%s/set/temperature", t.Prefix, serial)
}

func (t Topics) MobileState(deviceID int) string {
	return fmt.Sprintf("%s/mobile/%d/state", t.Prefix, deviceID)
}

func (t Topics) PresenceState() string {
	return t.Prefix + "/presence/state"
}

func (t Topics) PresenceCommand() string {
	return t.Prefix + "/presence/set"
}

func (t Topics) QuickActionCommand() string {
	return t.Prefix + "/quickactions/set"
}

func (t Topics) WeatherState() string {
	return t.Prefix + "/weather/state"
}

func (t Topics) QuotaState() string {
	return t.Prefix + "/quota/state"
}

// CommandFilter matches every command topic the bridge subscribes to.
func (t Topics) CommandFilter() string {
	return t.Prefix + "/+/+/set/#"
}

func (t Topics) discovery(component, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, component, objectID)
}
