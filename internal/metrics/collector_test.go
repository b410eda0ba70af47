package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tado-community/tadoxd/internal/coordinator"
	"github.com/tado-community/tadoxd/internal/rate"
	"github.com/tado-community/tadoxd/internal/tadox"
)

type staticSource struct {
	snap *coordinator.Snapshot
}

func (s *staticSource) Snapshot() *coordinator.Snapshot { return s.snap }

func TestCollectorWithSnapshot(t *testing.T) {
	temp := 21.4
	target := 20.0
	snap := &coordinator.Snapshot{
		Rooms: []tadox.Room{{
			ID:                 3,
			Name:               "Living Room",
			CurrentTemperature: &temp,
			TargetTemperature:  &target,
			PowerOn:            true,
			ConnectionState:    tadox.ConnectionConnected,
		}},
		Devices: []tadox.Device{{
			SerialNumber:    "VA01",
			Type:            tadox.DeviceTypeValve,
			RoomName:        "Living Room",
			BatteryState:    tadox.BatteryStateLow,
			ConnectionState: tadox.ConnectionConnected,
		}},
		Quota:     rate.Usage{Limit: 100, Remaining: 88, Used: 12},
		UpdatedAt: time.Now(),
	}

	collector := NewCollector(&staticSource{snap: snap})

	expected := `
		# HELP tadoxd_room_temperature_celsius Current temperature per room
		# TYPE tadoxd_room_temperature_celsius gauge
		tadoxd_room_temperature_celsius{room_id="3",room_name="Living Room"} 21.4
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"tadoxd_room_temperature_celsius"); err != nil {
		t.Errorf("temperature gauge: %v", err)
	}

	expected = `
		# HELP tadoxd_device_battery_low_bool Low battery per device (1=low)
		# TYPE tadoxd_device_battery_low_bool gauge
		tadoxd_device_battery_low_bool{room_name="Living Room",serial="VA01",type="VA04"} 1
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"tadoxd_device_battery_low_bool"); err != nil {
		t.Errorf("battery gauge: %v", err)
	}

	expected = `
		# HELP tadoxd_api_quota_remaining API calls remaining in the current daily window
		# TYPE tadoxd_api_quota_remaining gauge
		tadoxd_api_quota_remaining 88
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"tadoxd_api_quota_remaining"); err != nil {
		t.Errorf("quota gauge: %v", err)
	}

	expected = `
		# HELP tadoxd_refresh_success Whether a snapshot is available (1=ok)
		# TYPE tadoxd_refresh_success gauge
		tadoxd_refresh_success 1
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"tadoxd_refresh_success"); err != nil {
		t.Errorf("success gauge: %v", err)
	}
}

func TestCollectorWithoutSnapshot(t *testing.T) {
	collector := NewCollector(&staticSource{})

	expected := `
		# HELP tadoxd_refresh_success Whether a snapshot is available (1=ok)
		# TYPE tadoxd_refresh_success gauge
		tadoxd_refresh_success 0
	`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"tadoxd_refresh_success"); err != nil {
		t.Errorf("success gauge: %v", err)
	}
}
