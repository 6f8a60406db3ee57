// Package notify fans out push notifications on new posts and new
// members.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Pusher delivers one notification to one device.
type Pusher interface {
	Push(ctx context.Context, deviceToken, title, body string) error
}

const (
	apnsProductionHost = "https://api.push.apple.com"
	apnsSandboxHost    = "https://api.sandbox.push.apple.com"
	apnsTimeout        = 10 * time.Second
)

// APNSConfig configures the Apple push client. AuthToken is a
// pre-signed provider JWT.
type APNSConfig struct {
	BundleID   string
	AuthToken  string
	UseSandbox bool
}

type apnsClient struct {
	client *http.Client
	host   string
	cfg    APNSConfig
}

// NewAPNSClient creates a pusher for Apple devices. Returns a no-op
// pusher when credentials are missing, so the rest of the system runs
// without push configured.
func NewAPNSClient(cfg APNSConfig) Pusher {
	if cfg.AuthToken == "" || cfg.BundleID == "" {
		log.Info().Msg("APNs credentials missing, push notifications disabled")
		return NopPusher{}
	}
	host := apnsProductionHost
	if cfg.UseSandbox {
		host = apnsSandboxHost
	}
	return &apnsClient{
		client: &http.Client{Timeout: apnsTimeout},
		host:   host,
		cfg:    cfg,
	}
}

type apnsPayload struct {
	APS struct {
		Alert struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		} `json:"alert"`
		Badge int    `json:"badge"`
		Sound string `json:"sound"`
	} `json:"aps"`
}

func (c *apnsClient) Push(ctx context.Context, deviceToken, title, body string) error {
	if deviceToken == "" {
		return fmt.Errorf("apns: empty device token")
	}

	var payload apnsPayload
	payload.APS.Alert.Title = title
	payload.APS.Alert.Body = body
	payload.APS.Badge = 1
	payload.APS.Sound = "default"

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("apns: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.host+"/3/device/"+deviceToken, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("apns: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "bearer "+c.cfg.AuthToken)
	req.Header.Set("apns-topic", c.cfg.BundleID)
	req.Header.Set("apns-push-type", "alert")
	req.Header.Set("apns-priority", "10")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("apns: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("apns: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// NopPusher drops every notification. Used when push is unconfigured
// and in tests.
type NopPusher struct{}

// Push implements Pusher.
func (NopPusher) Push(context.Context, string, string, string) error { return nil }
