package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tado-community/tadoxd/internal/coordinator"
	"github.com/tado-community/tadoxd/internal/tadox"
)

// SnapshotSource provides the latest coordinator snapshot.
type SnapshotSource interface {
	Snapshot() *coordinator.Snapshot
}

// Collector exposes the latest snapshot as Prometheus metrics. Scrapes
// read cached state and never spend API quota.
type Collector struct {
	source SnapshotSource

	temp          *prometheus.GaugeVec
	humidity      *prometheus.GaugeVec
	setpoint      *prometheus.GaugeVec
	heatingPower  *prometheus.GaugeVec
	powerOn       *prometheus.GaugeVec
	override      *prometheus.GaugeVec
	openWindow    *prometheus.GaugeVec
	roomConnected *prometheus.GaugeVec

	batteryLow      *prometheus.GaugeVec
	deviceConnected *prometheus.GaugeVec

	outsideTemp    prometheus.Gauge
	solarIntensity prometheus.Gauge

	quotaUsed      prometheus.Gauge
	quotaRemaining prometheus.Gauge
	quotaLimit     prometheus.Gauge
	quotaReset     prometheus.Gauge

	lastSuccess prometheus.Gauge
	success     prometheus.Gauge
}

func NewCollector(source SnapshotSource) *Collector {
	roomLabels := []string{"room_id", "room_name"}
	deviceLabels := []string{"serial", "type", "room_name"}
	return &Collector{
		source: source,
		temp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_temperature_celsius",
			Help: "Current temperature per room",
		}, roomLabels),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_humidity_percent",
			Help: "Current humidity per room",
		}, roomLabels),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_setpoint_celsius",
			Help: "Target temperature per room",
		}, roomLabels),
		heatingPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_heating_power_percent",
			Help: "Heating power demand per room",
		}, roomLabels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_power_on_bool",
			Help: "Power setting per room (1=on, 0=off)",
		}, roomLabels),
		override: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_manual_control_bool",
			Help: "Manual control active per room (1=manual, 0=scheduled)",
		}, roomLabels),
		openWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_open_window_bool",
			Help: "Open window detected per room",
		}, roomLabels),
		roomConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_room_connected_bool",
			Help: "Room connectivity (1=connected)",
		}, roomLabels),
		batteryLow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_device_battery_low_bool",
			Help: "Low battery per device (1=low)",
		}, deviceLabels),
		deviceConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tadoxd_device_connected_bool",
			Help: "Device connectivity (1=connected)",
		}, deviceLabels),
		outsideTemp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_outside_temperature_celsius",
			Help: "Outside temperature at the home",
		}),
		solarIntensity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_solar_intensity_percent",
			Help: "Solar intensity at the home",
		}),
		quotaUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_api_quota_used",
			Help: "API calls spent in the current daily window",
		}),
		quotaRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_api_quota_remaining",
			Help: "API calls remaining in the current daily window",
		}),
		quotaLimit: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_api_quota_limit",
			Help: "Daily API call quota",
		}),
		quotaReset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_api_quota_reset_timestamp_seconds",
			Help: "Next daily quota reset (epoch seconds)",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_last_refresh_timestamp_seconds",
			Help: "Timestamp of the last successful refresh (epoch seconds)",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tadoxd_refresh_success",
			Help: "Whether a snapshot is available (1=ok)",
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.temp.Describe(ch)
	c.humidity.Describe(ch)
	c.setpoint.Describe(ch)
	c.heatingPower.Describe(ch)
	c.powerOn.Describe(ch)
	c.override.Describe(ch)
	c.openWindow.Describe(ch)
	c.roomConnected.Describe(ch)
	c.batteryLow.Describe(ch)
	c.deviceConnected.Describe(ch)
	c.outsideTemp.Describe(ch)
	c.solarIntensity.Describe(ch)
	c.quotaUsed.Describe(ch)
	c.quotaRemaining.Describe(ch)
	c.quotaLimit.Describe(ch)
	c.quotaReset.Describe(ch)
	c.lastSuccess.Describe(ch)
	c.success.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.Snapshot()
	if snap == nil {
		c.success.Set(0)
		c.collectAll(ch)
		return
	}

	c.temp.Reset()
	c.humidity.Reset()
	c.setpoint.Reset()
	c.heatingPower.Reset()
	c.powerOn.Reset()
	c.override.Reset()
	c.openWindow.Reset()
	c.roomConnected.Reset()
	c.batteryLow.Reset()
	c.deviceConnected.Reset()

	for _, room := range snap.Rooms {
		labels := prometheus.Labels{
			"room_id":   strconv.Itoa(room.ID),
			"room_name": room.Name,
		}
		if room.CurrentTemperature != nil {
			c.temp.With(labels).Set(*room.CurrentTemperature)
		}
		if room.Humidity != nil {
			c.humidity.With(labels).Set(*room.Humidity)
		}
		if room.TargetTemperature != nil {
			c.setpoint.With(labels).Set(*room.TargetTemperature)
		}
		if room.HeatingPower != nil {
			c.heatingPower.With(labels).Set(*room.HeatingPower)
		}
		c.powerOn.With(labels).Set(boolToFloat(room.PowerOn))
		c.override.With(labels).Set(boolToFloat(room.ManualControlActive))
		c.openWindow.With(labels).Set(boolToFloat(room.OpenWindowDetected))
		c.roomConnected.With(labels).Set(boolToFloat(room.ConnectionState == tadox.ConnectionConnected))
	}

	for _, device := range snap.Devices {
		labels := prometheus.Labels{
			"serial":    device.SerialNumber,
			"type":      device.Type,
			"room_name": device.RoomName,
		}
		if device.BatteryState != "" {
			c.batteryLow.With(labels).Set(boolToFloat(device.BatteryState == tadox.BatteryStateLow))
		}
		c.deviceConnected.With(labels).Set(boolToFloat(device.ConnectionState == tadox.ConnectionConnected))
	}

	if snap.Weather != nil {
		if snap.Weather.OutsideTemperatureCelsius != nil {
			c.outsideTemp.Set(*snap.Weather.OutsideTemperatureCelsius)
		}
		if snap.Weather.SolarIntensityPercent != nil {
			c.solarIntensity.Set(*snap.Weather.SolarIntensityPercent)
		}
	}

	c.quotaUsed.Set(float64(snap.Quota.Used))
	c.quotaRemaining.Set(float64(snap.Quota.Remaining))
	c.quotaLimit.Set(float64(snap.Quota.Limit))
	if !snap.Quota.ResetAt.IsZero() {
		c.quotaReset.Set(float64(snap.Quota.ResetAt.Unix()))
	}

	c.success.Set(1)
	c.lastSuccess.Set(float64(snap.UpdatedAt.Unix()))
	c.collectAll(ch)
}

func (c *Collector) collectAll(ch chan<- prometheus.Metric) {
	c.temp.Collect(ch)
	c.humidity.Collect(ch)
	c.setpoint.Collect(ch)
	c.heatingPower.Collect(ch)
	c.powerOn.Collect(ch)
	c.override.Collect(ch)
	c.openWindow.Collect(ch)
	c.roomConnected.Collect(ch)
	c.batteryLow.Collect(ch)
	c.deviceConnected.Collect(ch)
	c.outsideTemp.Collect(ch)
	c.solarIntensity.Collect(ch)
	c.quotaUsed.Collect(ch)
	c.quotaRemaining.Collect(ch)
	c.quotaLimit.Collect(ch)
	c.quotaReset.Collect(ch)
	c.lastSuccess.Collect(ch)
	c.success.Collect(ch)
}

func boolToFloat(value bool) float64 {
	if value {
		return 1
	}
	return 0
}
