// Package remo imports Nature Remo sensor devices into the device collection.
//
// The Nature Remo cloud API lists every device registered to the account
// together with its newest sensor events. Import creates devices it has not
// seen before at the fallback place and refreshes the firmware and sensor
// metadata of known ones.
package remo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultBaseURL is the Nature Remo cloud API.
	DefaultBaseURL = "https://api.nature.global"

	defaultTimeout = 10 * time.Second
	devicesPath    = "/1/devices"
)

// ErrNoToken is returned when no access token is configured.
var ErrNoToken = errors.New("homeapi: nature remo token is required")

// Event is one sensor reading.
type Event struct {
	Val       float64   `json:"val"`
	CreatedAt time.Time `json:"created_at"`
}

// NewestEvents holds the most recent reading of each sensor. Sensors the
// device lacks are nil.
type NewestEvents struct {
	Humidity    *Event `json:"hu"`
	Illuminance *Event `json:"il"`
	Motion      *Event `json:"mo"`
	Temperature *Event `json:"te"`
}

// Latest returns the time of the most recent reading, or nil if there is none.
func (n NewestEvents) Latest() *time.Time {
	var latest *time.Time
	for _, e := range []*Event{n.Humidity, n.Illuminance, n.Motion, n.Temperature} {
		if e == nil {
			continue
		}
		if latest == nil || e.CreatedAt.After(*latest) {
			t := e.CreatedAt
			latest = &t
		}
	}
	return latest
}

// Device is a device as reported by the Nature Remo API.
type Device struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	FirmwareVersion string       `json:"firmware_version"`
	NewestEvents    NewestEvents `json:"newest_events"`
}

// Config holds configuration for the API client.
type Config struct {
	// Token is the personal access token. Required.
	Token string

	// BaseURL of the API.
	// Default: DefaultBaseURL
	BaseURL string

	// Timeout bounds each request.
	// Default: 10s
	Timeout time.Duration
}

// Client calls the Nature Remo cloud API.
type Client struct {
	client *resty.Client
}

// NewClient creates a client authenticated with cfg.Token.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrNoToken
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetAuthToken(cfg.Token).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
	client.AddRetryCondition(retryCondition)

	return &Client{client: client}, nil
}

// Devices lists the devices of the account.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	resp, err := c.client.R().SetContext(ctx).SetResult(&devices).Get(devicesPath)
	if err != nil {
		return nil, fmt.Errorf("fetch devices: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch devices: status %d", resp.StatusCode())
	}
	return devices, nil
}

// retryCondition retries network errors, rate limiting and server errors.
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code == 429 || code >= 500
}
