package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DeviceAuth is the response from the device_authorize endpoint.
type DeviceAuth struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// VerifyURL prefers the pre-filled verification link.
func (d DeviceAuth) VerifyURL() string {
	if d.VerificationURIComplete != "" {
		return d.VerificationURIComplete
	}
	return d.VerificationURI
}

type deviceTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// DeviceAuthorize starts the device-code flow.
func DeviceAuthorize(ctx context.Context, endpoints Endpoints, clientID string) (DeviceAuth, error) {
	form := url.Values{
		"client_id": {clientID},
		"scope":     {Scope},
	}

	var resp DeviceAuth
	if err := postForm(ctx, endpoints.DeviceAuthURL, form, &resp); err != nil {
		return DeviceAuth{}, err
	}
	if resp.DeviceCode == "" {
		return DeviceAuth{}, fmt.Errorf("device authorization missing device_code")
	}
	if resp.Interval == 0 {
		resp.Interval = 5
	}
	if resp.ExpiresIn == 0 {
		resp.ExpiresIn = 300
	}
	return resp, nil
}

// PollDeviceToken polls the token endpoint until the user approves the
// device, the code expires, or the context is cancelled.
func PollDeviceToken(ctx context.Context, endpoints Endpoints, clientID string, auth DeviceAuth) (string, error) {
	start := time.Now()
	interval := time.Duration(auth.Interval) * time.Second

	for {
		if time.Since(start) > time.Duration(auth.ExpiresIn)*time.Second {
			return "", fmt.Errorf("device authorization timed out")
		}

		form := url.Values{
			"client_id":   {clientID},
			"device_code": {auth.DeviceCode},
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		}

		var token deviceTokenResponse
		if err := postForm(ctx, endpoints.TokenURL, form, &token); err != nil {
			return "", err
		}
		if token.Error == "" && token.RefreshToken != "" {
			return token.RefreshToken, nil
		}

		switch token.Error {
		case "authorization_pending":
		case "slow_down":
			interval += 2 * time.Second
		default:
			if token.Error != "" {
				return "", fmt.Errorf("device token error: %s", token.Error)
			}
			return "", fmt.Errorf("device token missing refresh_token")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

func postForm(ctx context.Context, endpoint string, values url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		// The token endpoint reports pending/slow_down as error JSON with
		// a 4xx status; surface the body to the poll loop.
		if _, ok := out.(*deviceTokenResponse); ok {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("oauth http %d", resp.StatusCode)
			}
			return nil
		}

		var body deviceTokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
			return fmt.Errorf("oauth error %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("oauth http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
