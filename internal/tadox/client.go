package tadox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

const (
	defaultAccountURL = "https://my.tado.com/api/v2"
	defaultRoomsURL   = "https://hops.tado.com"
)

// TokenSource supplies bearer tokens for API calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	TriggerRefresh(ctx context.Context)
}

// Client talks to the Tado X REST APIs. Account-level resources live on
// my.tado.com/api/v2; room and device state lives on hops.tado.com.
type Client struct {
	accountURL string
	roomsURL   string
	tokens     TokenSource
	httpClient *http.Client
	homeID     *int
}

type HTTPStatusError struct {
	Status int
	Body   string
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("tado api error %d: %s", e.Status, strings.TrimSpace(e.Body))
}

type Options struct {
	AccountURL string
	RoomsURL   string
	HomeID     *int
	HTTPClient *http.Client
}

func NewClient(tokens TokenSource, opts Options) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	accountURL := strings.TrimSpace(opts.AccountURL)
	if accountURL == "" {
		accountURL = defaultAccountURL
	}
	roomsURL := strings.TrimSpace(opts.RoomsURL)
	if roomsURL == "" {
		roomsURL = defaultRoomsURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		accountURL: strings.TrimRight(accountURL, "/"),
		roomsURL:   strings.TrimRight(roomsURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
		homeID:     opts.HomeID,
	}, nil
}

func (c *Client) Me(ctx context.Context) ([]Home, error) {
	var resp struct {
		Homes []Home `json:"homes"`
	}
	if err := c.getJSON(ctx, c.accountURL+"/me", &resp); err != nil {
		return nil, err
	}
	return resp.Homes, nil
}

func (c *Client) HomeID(ctx context.Context) (int, error) {
	if c.homeID != nil {
		return *c.homeID, nil
	}

	homes, err := c.Me(ctx)
	if err != nil {
		return 0, err
	}
	if len(homes) == 0 {
		return 0, fmt.Errorf("no homes found in /me response")
	}
	if len(homes) > 1 {
		labels := make([]string, 0, len(homes))
		for _, home := range homes {
			if home.Name != "" {
				labels = append(labels, fmt.Sprintf("%d (%s)", home.ID, home.Name))
				continue
			}
			labels = append(labels, fmt.Sprintf("%d", home.ID))
		}
		return 0, fmt.Errorf("multiple homes found: %s (set home_id override)", strings.Join(labels, ", "))
	}

	c.homeID = &homes[0].ID
	return *c.homeID, nil
}

func (c *Client) HomeState(ctx context.Context) (HomeState, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return HomeState{}, err
	}

	var state HomeState
	if err := c.getJSON(ctx, fmt.Sprintf("%s/homes/%d/state", c.accountURL, homeID), &state); err != nil {
		return HomeState{}, err
	}
	return state, nil
}

// SetPresence locks home presence to HOME or AWAY.
func (c *Client) SetPresence(ctx context.Context, presence string) error {
	if presence != PresenceHome && presence != PresenceAway {
		return fmt.Errorf("invalid presence %q", presence)
	}
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return err
	}
	payload := map[string]string{"homePresence": presence}
	return c.writeJSON(ctx, http.MethodPut, fmt.Sprintf("%s/homes/%d/presenceLock", c.accountURL, homeID), payload)
}

// SetPresenceAuto removes the presence lock so geofencing takes over.
func (c *Client) SetPresenceAuto(ctx context.Context) error {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return err
	}
	return c.writeJSON(ctx, http.MethodDelete, fmt.Sprintf("%s/homes/%d/presenceLock", c.accountURL, homeID), nil)
}

func (c *Client) MobileDevices(ctx context.Context) ([]MobileDevice, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return nil, err
	}

	var resp []struct {
		ID       int    `json:"id"`
		Name     string `json:"name"`
		Settings struct {
			GeoTrackingEnabled bool `json:"geoTrackingEnabled"`
		} `json:"settings"`
		Location *struct {
			AtHome bool `json:"atHome"`
			Stale  bool `json:"stale"`
		} `json:"location"`
		DeviceMetadata struct {
			Platform  string `json:"platform"`
			OSVersion string `json:"osVersion"`
			Model     string `json:"model"`
			Locale    string `json:"locale"`
		} `json:"deviceMetadata"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/homes/%d/mobileDevices", c.accountURL, homeID), &resp); err != nil {
		return nil, err
	}

	devices := make([]MobileDevice, 0, len(resp))
	for _, md := range resp {
		device := MobileDevice{
			ID:                 md.ID,
			Name:               md.Name,
			GeoTrackingEnabled: md.Settings.GeoTrackingEnabled,
			Platform:           md.DeviceMetadata.Platform,
			OSVersion:          md.DeviceMetadata.OSVersion,
			Model:              md.DeviceMetadata.Model,
			Locale:             md.DeviceMetadata.Locale,
		}
		if md.Location != nil {
			atHome := md.Location.AtHome
			device.AtHome = &atHome
			device.LocationStale = md.Location.Stale
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func (c *Client) Weather(ctx context.Context) (Weather, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return Weather{}, err
	}

	var resp struct {
		SolarIntensity struct {
			Percentage *float64 `json:"percentage"`
		} `json:"solarIntensity"`
		OutsideTemperature struct {
			Celsius *float64 `json:"celsius"`
		} `json:"outsideTemperature"`
		WeatherState struct {
			Value string `json:"value"`
		} `json:"weatherState"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/homes/%d/weather", c.accountURL, homeID), &resp); err != nil {
		return Weather{}, err
	}

	return Weather{
		OutsideTemperatureCelsius: resp.OutsideTemperature.Celsius,
		SolarIntensityPercent:     resp.SolarIntensity.Percentage,
		WeatherState:              resp.WeatherState.Value,
	}, nil
}

func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return nil, err
	}

	var resp []roomWire
	if err := c.getJSON(ctx, fmt.Sprintf("%s/homes/%d/rooms", c.roomsURL, homeID), &resp); err != nil {
		return nil, err
	}

	rooms := make([]Room, 0, len(resp))
	for _, wire := range resp {
		rooms = append(rooms, wire.toRoom())
	}
	return rooms, nil
}

func (c *Client) RoomsAndDevices(ctx context.Context) ([]Device, error) {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Rooms []struct {
			RoomID   int          `json:"roomId"`
			RoomName string       `json:"roomName"`
			Devices  []deviceWire `json:"devices"`
		} `json:"rooms"`
		OtherDevices []deviceWire `json:"otherDevices"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/homes/%d/roomsAndDevices", c.roomsURL, homeID), &resp); err != nil {
		return nil, err
	}

	var devices []Device
	for _, room := range resp.Rooms {
		roomID := room.RoomID
		for _, wire := range room.Devices {
			device := wire.toDevice()
			device.RoomID = &roomID
			device.RoomName = room.RoomName
			devices = append(devices, device)
		}
	}
	for _, wire := range resp.OtherDevices {
		devices = append(devices, wire.toDevice())
	}
	return devices, nil
}

// SetRoomTemperature starts a manual control override.
func (c *Client) SetRoomTemperature(ctx context.Context, roomID int, control ManualControl) error {
	if err := ValidateTemperature(control.TemperatureCelsius); err != nil {
		return err
	}
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"setting": map[string]any{
			"power": "ON",
			"temperature": map[string]any{
				"value": control.TemperatureCelsius,
			},
		},
		"termination": terminationPayload(control),
	}
	return c.writeJSON(ctx, http.MethodPost, fmt.Sprintf("%s/homes/%d/rooms/%d/manualControl", c.roomsURL, homeID, roomID), payload)
}

// SetRoomOff turns heating off in a room via manual control.
func (c *Client) SetRoomOff(ctx context.Context, roomID int, control ManualControl) error {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"setting":     map[string]any{"power": "OFF"},
		"termination": terminationPayload(control),
	}
	return c.writeJSON(ctx, http.MethodPost, fmt.Sprintf("%s/homes/%d/rooms/%d/manualControl", c.roomsURL, homeID, roomID), payload)
}

// ResumeSchedule removes a room's manual control override.
func (c *Client) ResumeSchedule(ctx context.Context, roomID int) error {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return err
	}
	return c.writeJSON(ctx, http.MethodDelete, fmt.Sprintf("%s/homes/%d/rooms/%d/manualControl", c.roomsURL, homeID, roomID), nil)
}

func (c *Client) Boost(ctx context.Context) error {
	return c.quickAction(ctx, "boost")
}

func (c *Client) AllOff(ctx context.Context) error {
	return c.quickAction(ctx, "allOff")
}

func (c *Client) ResumeAll(ctx context.Context) error {
	return c.quickAction(ctx, "resumeSchedule")
}

func (c *Client) quickAction(ctx context.Context, action string) error {
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return err
	}
	return c.writeJSON(ctx, http.MethodPost, fmt.Sprintf("%s/homes/%d/quickActions/%s", c.roomsURL, homeID, action), nil)
}

// SetBoilerTemperature sets the hot-water target on a boiler device.
func (c *Client) SetBoilerTemperature(ctx context.Context, serialNumber string, temperatureC float64) error {
	if err := ValidateBoilerTemperature(temperatureC); err != nil {
		return err
	}
	homeID, err := c.HomeID(ctx)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"temperature": map[string]any{"celsius": temperatureC},
		"power":       "ON",
	}
	return c.writeJSON(ctx, http.MethodPut, fmt.Sprintf("%s/homes/%d/devices/%s/state", c.roomsURL, homeID, serialNumber), payload)
}

// ValidateTemperature checks the room temperature bounds and the 0.5
// degree grid.
func ValidateTemperature(celsius float64) error {
	if celsius < MinTemperature || celsius > MaxTemperature {
		return fmt.Errorf("temperature %.1f outside range %.1f-%.1f", celsius, MinTemperature, MaxTemperature)
	}
	steps := celsius / TemperatureStep
	if math.Abs(steps-math.Round(steps)) > 1e-9 {
		return fmt.Errorf("temperature %.2f not a multiple of %.1f", celsius, TemperatureStep)
	}
	return nil
}

// ValidateBoilerTemperature checks the hot-water target bounds.
func ValidateBoilerTemperature(celsius float64) error {
	if celsius < MinBoilerTemperature || celsius > MaxBoilerTemperature {
		return fmt.Errorf("boiler temperature %.1f outside range %.1f-%.1f", celsius, MinBoilerTemperature, MaxBoilerTemperature)
	}
	return nil
}

func terminationPayload(control ManualControl) map[string]any {
	termination := control.Termination
	if termination == "" {
		termination = TerminationTimer
	}
	payload := map[string]any{"type": termination}
	if termination == TerminationTimer {
		duration := control.Duration
		if duration <= 0 {
			duration = DefaultTimerDuration
		}
		payload["durationInSeconds"] = int(duration.Seconds())
	}
	return payload
}

type roomWire struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	SensorDataPoints struct {
		InsideTemperature struct {
			Value *float64 `json:"value"`
		} `json:"insideTemperature"`
		Humidity struct {
			Percentage *float64 `json:"percentage"`
		} `json:"humidity"`
	} `json:"sensorDataPoints"`
	Setting struct {
		Power       string `json:"power"`
		Temperature *struct {
			Value float64 `json:"value"`
		} `json:"temperature"`
	} `json:"setting"`
	HeatingPower struct {
		Percentage *float64 `json:"percentage"`
	} `json:"heatingPower"`
	ManualControlTermination *struct {
		Type                   string `json:"type"`
		RemainingTimeInSeconds *int   `json:"remainingTimeInSeconds"`
	} `json:"manualControlTermination"`
	BoostMode  *json.RawMessage `json:"boostMode"`
	OpenWindow *json.RawMessage `json:"openWindow"`
	Connection struct {
		State string `json:"state"`
	} `json:"connection"`
	NextScheduleChange *struct {
		Start   string `json:"start"`
		Setting struct {
			Temperature *struct {
				Value float64 `json:"value"`
			} `json:"temperature"`
		} `json:"setting"`
	} `json:"nextScheduleChange"`
}

func (w roomWire) toRoom() Room {
	room := Room{
		ID:                 w.ID,
		Name:               w.Name,
		CurrentTemperature: w.SensorDataPoints.InsideTemperature.Value,
		Humidity:           w.SensorDataPoints.Humidity.Percentage,
		HeatingPower:       w.HeatingPower.Percentage,
		PowerOn:            strings.EqualFold(w.Setting.Power, "ON"),
		BoostActive:        w.BoostMode != nil && string(*w.BoostMode) != "null",
		OpenWindowDetected: w.OpenWindow != nil && string(*w.OpenWindow) != "null",
		ConnectionState:    w.Connection.State,
	}
	if w.Setting.Temperature != nil {
		value := w.Setting.Temperature.Value
		room.TargetTemperature = &value
	}
	if w.ManualControlTermination != nil {
		room.ManualControlActive = true
		room.ManualControlType = w.ManualControlTermination.Type
		room.ManualControlRemainingSeconds = w.ManualControlTermination.RemainingTimeInSeconds
	}
	if w.NextScheduleChange != nil {
		if ts := parseTimestamp(w.NextScheduleChange.Start); ts != nil {
			room.NextScheduleChange = ts
		}
		if w.NextScheduleChange.Setting.Temperature != nil {
			value := w.NextScheduleChange.Setting.Temperature.Value
			room.NextScheduleTemperature = &value
		}
	}
	return room
}

type deviceWire struct {
	SerialNo        string `json:"serialNo"`
	Type            string `json:"type"`
	FirmwareVersion string `json:"firmwareVersion"`
	BatteryState    string `json:"batteryState"`
	Connection      struct {
		State string `json:"state"`
	} `json:"connection"`
	MountingState *struct {
		Value string `json:"value"`
	} `json:"mountingState"`
	TemperatureAsMeasured *float64 `json:"temperatureAsMeasured"`
}

func (w deviceWire) toDevice() Device {
	device := Device{
		SerialNumber:        w.SerialNo,
		Type:                w.Type,
		FirmwareVersion:     w.FirmwareVersion,
		BatteryState:        w.BatteryState,
		ConnectionState:     w.Connection.State,
		TemperatureMeasured: w.TemperatureAsMeasured,
	}
	if w.MountingState != nil {
		device.MountingState = w.MountingState.Value
	}
	return device
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) writeJSON(ctx context.Context, method, url string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.doRequest(ctx, method, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return HTTPStatusError{Status: resp.StatusCode, Body: string(data)}
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	accessToken, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	resp.Body.Close()
	c.tokens.TriggerRefresh(ctx)
	return nil, HTTPStatusError{
		Status: resp.StatusCode,
		Body:   "unauthorized; token refresh triggered",
	}
}

func parseTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return &ts
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return &ts
	}
	return nil
}
