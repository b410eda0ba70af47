package hass

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/tado-community/tadoxd/internal/coordinator"
	"github.com/tado-community/tadoxd/internal/rate"
	"github.com/tado-community/tadoxd/internal/tadox"
)

type publishRecord struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishRecord
	handlers  map[string]func(topic string, payload []byte)
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]func(string, []byte))}
}

func (f *fakePublisher) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishRecord{topic, retained, payload})
	return nil
}

func (f *fakePublisher) Subscribe(filter string, handler func(topic string, payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[filter] = handler
	return nil
}

func (f *fakePublisher) find(topic string) (publishRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].topic == topic {
			return f.published[i], true
		}
	}
	return publishRecord{}, false
}

func (f *fakePublisher) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, record := range f.published {
		if record.topic == topic {
			n++
		}
	}
	return n
}

type commandCall struct {
	name   string
	roomID int
	serial string
	value  float64
	extra  string
}

type fakeCommander struct {
	mu    sync.Mutex
	calls []commandCall
}

func (f *fakeCommander) record(call commandCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCommander) SetRoomTemperature(_ context.Context, roomID int, control tadox.ManualControl) error {
	f.record(commandCall{name: "SetRoomTemperature", roomID: roomID, value: control.TemperatureCelsius, extra: control.Termination})
	return nil
}

func (f *fakeCommander) SetRoomOff(_ context.Context, roomID int, control tadox.ManualControl) error {
	f.record(commandCall{name: "SetRoomOff", roomID: roomID, extra: control.Termination})
	return nil
}

func (f *fakeCommander) ResumeSchedule(_ context.Context, roomID int) error {
	f.record(commandCall{name: "ResumeSchedule", roomID: roomID})
	return nil
}

func (f *fakeCommander) Boost(_ context.Context) error {
	f.record(commandCall{name: "Boost"})
	return nil
}

func (f *fakeCommander) AllOff(_ context.Context) error {
	f.record(commandCall{name: "AllOff"})
	return nil
}

func (f *fakeCommander) ResumeAll(_ context.Context) error {
	f.record(commandCall{name: "ResumeAll"})
	return nil
}

func (f *fakeCommander) SetPresence(_ context.Context, presence string) error {
	f.record(commandCall{name: "SetPresence", extra: presence})
	return nil
}

func (f *fakeCommander) SetPresenceAuto(_ context.Context) error {
	f.record(commandCall{name: "SetPresenceAuto"})
	return nil
}

func (f *fakeCommander) SetBoilerTemperature(_ context.Context, serial string, temperatureC float64) error {
	f.record(commandCall{name: "SetBoilerTemperature", serial: serial, value: temperatureC})
	return nil
}

func (f *fakeCommander) last(t *testing.T) commandCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no command recorded")
	}
	return f.calls[len(f.calls)-1]
}

type fakeSource struct {
	ch        chan *coordinator.Snapshot
	refreshes int
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *coordinator.Snapshot, 4)}
}

func (f *fakeSource) Subscribe() <-chan *coordinator.Snapshot { return f.ch }
func (f *fakeSource) RequestRefresh()                         { f.refreshes++ }

func testTopics() Topics {
	return Topics{Prefix: "tadoxd", DiscoveryPrefix: "homeassistant"}
}

func testSnapshot() *coordinator.Snapshot {
	current := 21.4
	target := 20.0
	humidity := 47.0
	power := 35.0
	atHome := true
	roomID := 3
	return &coordinator.Snapshot{
		Rooms: []tadox.Room{{
			ID:                 3,
			Name:               "Living Room",
			CurrentTemperature: &current,
			TargetTemperature:  &target,
			Humidity:           &humidity,
			HeatingPower:       &power,
			PowerOn:            true,
			OpenWindowDetected: true,
			ConnectionState:    tadox.ConnectionConnected,
		}},
		Devices: []tadox.Device{{
			SerialNumber:    "VA01",
			Type:            tadox.DeviceTypeValve,
			BatteryState:    tadox.BatteryStateLow,
			ConnectionState: tadox.ConnectionConnected,
			RoomID:          &roomID,
			RoomName:        "Living Room",
		}},
		MobileDevices: []tadox.MobileDevice{{
			ID:                 9,
			Name:               "Phone",
			GeoTrackingEnabled: true,
			AtHome:             &atHome,
		}},
		HomeState: &tadox.HomeState{Presence: tadox.PresenceHome, PresenceLocked: true},
		Quota:     rate.Usage{Limit: 100, Remaining: 88, Used: 12},
		UpdatedAt: time.Now(),
	}
}

func TestPublishSnapshot(t *testing.T) {
	pub := newFakePublisher()
	bridge := NewBridge(pub, &fakeCommander{}, newFakeSource(), testTopics(), nil)

	bridge.PublishSnapshot(testSnapshot())

	// climate discovery is retained
	record, ok := pub.find("homeassistant/climate/tadoxd_room_3_climate/config")
	if !ok {
		t.Fatal("climate discovery not published")
	}
	if !record.retained {
		t.Error("discovery configs must be retained")
	}
	var climate map[string]any
	if err := json.Unmarshal(record.payload, &climate); err != nil {
		t.Fatalf("decode climate config: %v", err)
	}
	if climate["name"] != "Living Room" {
		t.Errorf("climate name = %v", climate["name"])
	}
	if climate["temperature_command_topic"] != "tadoxd/rooms/3/set/temperature" {
		t.Errorf("command topic = %v", climate["temperature_command_topic"])
	}
	if climate["min_temp"] != 5.0 || climate["max_temp"] != 25.0 {
		t.Errorf("temp bounds = %v-%v", climate["min_temp"], climate["max_temp"])
	}

	// room state
	record, ok = pub.find("tadoxd/rooms/3/state")
	if !ok {
		t.Fatal("room state not published")
	}
	var state map[string]any
	if err := json.Unmarshal(record.payload, &state); err != nil {
		t.Fatalf("decode room state: %v", err)
	}
	if state["current_temperature"] != 21.4 {
		t.Errorf("current = %v", state["current_temperature"])
	}
	if state["mode"] != "auto" {
		t.Errorf("mode = %v", state["mode"])
	}
	if state["action"] != "heating" {
		t.Errorf("action = %v", state["action"])
	}
	if state["open_window"] != true {
		t.Errorf("open_window = %v", state["open_window"])
	}

	// device battery discovery and state
	if _, ok := pub.find("homeassistant/binary_sensor/tadoxd_VA01_battery/config"); !ok {
		t.Error("battery discovery not published")
	}
	record, ok = pub.find("tadoxd/devices/VA01/state")
	if !ok {
		t.Fatal("device state not published")
	}
	if err := json.Unmarshal(record.payload, &state); err != nil {
		t.Fatalf("decode device state: %v", err)
	}
	if state["battery_state"] != tadox.BatteryStateLow {
		t.Errorf("battery = %v", state["battery_state"])
	}

	// mobile tracker
	record, ok = pub.find("tadoxd/mobile/9/state")
	if !ok {
		t.Fatal("mobile state not published")
	}
	if err := json.Unmarshal(record.payload, &state); err != nil {
		t.Fatalf("decode mobile state: %v", err)
	}
	if state["location"] != "home" {
		t.Errorf("location = %v", state["location"])
	}

	// presence select state reflects the lock
	record, ok = pub.find("tadoxd/presence/state")
	if !ok {
		t.Fatal("presence state not published")
	}
	if err := json.Unmarshal(record.payload, &state); err != nil {
		t.Fatalf("decode presence state: %v", err)
	}
	if state["presence"] != "home" {
		t.Errorf("presence = %v", state["presence"])
	}

	// quota diagnostics
	record, ok = pub.find("tadoxd/quota/state")
	if !ok {
		t.Fatal("quota state not published")
	}
	if err := json.Unmarshal(record.payload, &state); err != nil {
		t.Fatalf("decode quota state: %v", err)
	}
	if state["remaining"] != 88.0 {
		t.Errorf("remaining = %v", state["remaining"])
	}
}

func TestDiscoveryPublishedOnce(t *testing.T) {
	pub := newFakePublisher()
	bridge := NewBridge(pub, &fakeCommander{}, newFakeSource(), testTopics(), nil)

	snap := testSnapshot()
	bridge.PublishSnapshot(snap)
	bridge.PublishSnapshot(snap)

	topic := "homeassistant/climate/tadoxd_room_3_climate/config"
	if got := pub.count(topic); got != 1 {
		t.Errorf("discovery published %d times, want 1", got)
	}
	if got := pub.count("tadoxd/rooms/3/state"); got != 2 {
		t.Errorf("state published %d times, want 2", got)
	}
}

func TestCommandDispatch(t *testing.T) {
	pub := newFakePublisher()
	commander := &fakeCommander{}
	source := newFakeSource()
	bridge := NewBridge(pub, commander, source, testTopics(), nil)
	ctx := context.Background()

	bridge.handleCommand(ctx, "tadoxd/rooms/3/set/temperature", []byte("21.5"))
	call := commander.last(t)
	if call.name != "SetRoomTemperature" || call.roomID != 3 || call.value != 21.5 {
		t.Errorf("call = %+v", call)
	}
	if call.extra != tadox.TerminationNextTimeBlock {
		t.Errorf("termination = %q", call.extra)
	}

	bridge.handleCommand(ctx, "tadoxd/rooms/3/set/mode", []byte("off"))
	if call := commander.last(t); call.name != "SetRoomOff" || call.roomID != 3 {
		t.Errorf("call = %+v", call)
	}

	bridge.handleCommand(ctx, "tadoxd/rooms/3/set/mode", []byte("auto"))
	if call := commander.last(t); call.name != "ResumeSchedule" {
		t.Errorf("call = %+v", call)
	}

	bridge.handleCommand(ctx, "tadoxd/presence/set", []byte("away"))
	if call := commander.last(t); call.name != "SetPresence" || call.extra != tadox.PresenceAway {
		t.Errorf("call = %+v", call)
	}

	bridge.handleCommand(ctx, "tadoxd/presence/set", []byte("auto"))
	if call := commander.last(t); call.name != "SetPresenceAuto" {
		t.Errorf("call = %+v", call)
	}

	bridge.handleCommand(ctx, "tadoxd/devices/CK99/set/temperature", []byte("55"))
	call = commander.last(t)
	if call.name != "SetBoilerTemperature" || call.serial != "CK99" || call.value != 55 {
		t.Errorf("call = %+v", call)
	}

	if source.refreshes != 6 {
		t.Errorf("refreshes = %d, want 6", source.refreshes)
	}
}

func TestQuickActionDispatch(t *testing.T) {
	commander := &fakeCommander{}
	source := newFakeSource()
	bridge := NewBridge(newFakePublisher(), commander, source, testTopics(), nil)
	ctx := context.Background()

	bridge.handleCommand(ctx, "tadoxd/quickactions/set", []byte("boost"))
	if call := commander.last(t); call.name != "Boost" {
		t.Errorf("call = %+v", call)
	}

	bridge.handleCommand(ctx, "tadoxd/quickactions/set", []byte("all_off"))
	if call := commander.last(t); call.name != "AllOff" {
		t.Errorf("call = %+v", call)
	}

	bridge.handleCommand(ctx, "tadoxd/quickactions/set", []byte("resume_schedule"))
	if call := commander.last(t); call.name != "ResumeAll" {
		t.Errorf("call = %+v", call)
	}

	if source.refreshes != 3 {
		t.Errorf("refreshes = %d, want 3", source.refreshes)
	}

	bridge.handleCommand(ctx, "tadoxd/quickactions/set", []byte("defrost"))
	if len(commander.calls) != 3 {
		t.Errorf("unknown quick action dispatched a command: %+v", commander.calls)
	}
}

func TestQuickActionButtonsDiscovered(t *testing.T) {
	pub := newFakePublisher()
	bridge := NewBridge(pub, &fakeCommander{}, newFakeSource(), testTopics(), nil)

	bridge.PublishSnapshot(testSnapshot())

	record, ok := pub.find("homeassistant/button/tadoxd_boost/config")
	if !ok {
		t.Fatal("boost button discovery not published")
	}
	var button map[string]any
	if err := json.Unmarshal(record.payload, &button); err != nil {
		t.Fatalf("decode button config: %v", err)
	}
	if button["command_topic"] != "tadoxd/quickactions/set" {
		t.Errorf("command topic = %v", button["command_topic"])
	}
	if button["payload_press"] != "boost" {
		t.Errorf("payload_press = %v", button["payload_press"])
	}

	if _, ok := pub.find("homeassistant/button/tadoxd_all_off/config"); !ok {
		t.Error("all-off button discovery not published")
	}
	if _, ok := pub.find("homeassistant/button/tadoxd_resume_schedule/config"); !ok {
		t.Error("resume-schedule button discovery not published")
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	commander := &fakeCommander{}
	source := newFakeSource()
	bridge := NewBridge(newFakePublisher(), commander, source, testTopics(), nil)

	bridge.handleCommand(context.Background(), "tadoxd/rooms/bogus/set/temperature", []byte("21"))
	bridge.handleCommand(context.Background(), "tadoxd/what/ever", []byte("x"))

	if len(commander.calls) != 0 {
		t.Errorf("commands = %+v, want none", commander.calls)
	}
	if source.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", source.refreshes)
	}
}

func TestBoilerDiscoveryForOptimizer(t *testing.T) {
	configs := DeviceDiscovery(testTopics(), tadox.Device{
		SerialNumber: "CK99",
		Type:         tadox.DeviceTypeOptimizer,
	})

	found := false
	for _, discovery := range configs {
		if discovery.Topic == "homeassistant/water_heater/tadoxd_CK99_water_heater/config" {
			found = true
		}
	}
	if !found {
		t.Error("expected water heater discovery for CK04 device")
	}
}

func TestValveGetsTemperatureSensor(t *testing.T) {
	configs := DeviceDiscovery(testTopics(), tadox.Device{
		SerialNumber: "VA01",
		Type:         tadox.DeviceTypeValve,
	})

	found := false
	for _, discovery := range configs {
		if discovery.Topic == "homeassistant/sensor/tadoxd_VA01_temperature/config" {
			found = true
		}
	}
	if !found {
		t.Error("expected measured-temperature sensor for valve device")
	}
}

func TestBridgeDeviceHasNoBatterySensor(t *testing.T) {
	configs := DeviceDiscovery(testTopics(), tadox.Device{
		SerialNumber: "IB01",
		Type:         tadox.DeviceTypeBridge,
	})
	for _, discovery := range configs {
		if discovery.Topic == "homeassistant/binary_sensor/tadoxd_IB01_battery/config" {
			t.Error("bridge devices must not get a battery sensor")
		}
	}
}
