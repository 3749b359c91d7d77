package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/vykuang/mh-flight-logs/config"
)

// ntfy priorities run 1 (min) to 5 (urgent)
const ntfyPriorityDefault = 3

// NTFYMessage represents a message to send
type NTFYMessage struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

type ntfyResponse struct {
	ID      string `json:"id"`
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// NTFYClient publishes reports as NTFY push notifications
type NTFYClient struct {
	config NTFYConfig
	client *resty.Client
}

// NTFYConfig is the subset of configuration the client needs.
type NTFYConfig = config.NTFYConfig

// NewNTFYClient creates a new NTFY client
func NewNTFYClient(cfg NTFYConfig) (*NTFYClient, error) {
	if cfg.Topic == "" {
		return nil, errors.New("publish: ntfy: NTFY_TOPIC is required")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "https://ntfy.sh"
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	client := resty.New().
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	// Add basic auth if configured
	if cfg.Username != "" && cfg.Password != "" {
		client.SetBasicAuth(cfg.Username, cfg.Password)
	}

	return &NTFYClient{config: cfg, client: client}, nil
}

func (c *NTFYClient) Name() string { return config.TargetNTFY }

// Publish sends text to the configured topic.
func (c *NTFYClient) Publish(ctx context.Context, text string) (*PostResult, error) {
	msg := NTFYMessage{
		Topic:    c.config.Topic,
		Title:    "Flight delays",
		Message:  text,
		Priority: ntfyPriorityDefault,
		Tags:     []string{"airplane"},
	}

	var out ntfyResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(msg).
		SetResult(&out).
		Post(c.config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to send NTFY notification: %w", err)
	}
	if res.IsError() {
		return nil, &StatusError{Target: c.Name(), StatusCode: res.StatusCode(), Body: res.String()}
	}

	result := &PostResult{
		Target: c.Name(),
		ID:     out.ID,
		Text:   out.Message,
		URL:    c.config.ServerURL + "/" + c.config.Topic,
	}
	if result.Text == "" {
		result.Text = text
	}
	return result, nil
}
