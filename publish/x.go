package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dghubble/oauth1"
	"github.com/go-resty/resty/v2"

	"github.com/vykuang/mh-flight-logs/config"
)

// XClient posts through the X API v2 with OAuth 1.0a user-context signing.
type XClient struct {
	client *resty.Client
}

type createPostRequest struct {
	Text string `json:"text"`
}

type createPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// NewXClient returns a client for cfg. All four credentials are required.
func NewXClient(cfg config.XConfig) (*XClient, error) {
	var missing []string
	for name, v := range map[string]string{
		"TWITTER_API_KEY":       cfg.APIKey,
		"TWITTER_API_SECRET":    cfg.APISecret,
		"TWITTER_ACCESS_TOKEN":  cfg.AccessToken,
		"TWITTER_ACCESS_SECRET": cfg.AccessSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("publish: x: missing credentials %s", strings.Join(missing, ", "))
	}

	oauthConfig := oauth1.NewConfig(cfg.APIKey, cfg.APISecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
	httpClient := oauthConfig.Client(oauth1.NoContext, token)

	client := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &XClient{client: client}, nil
}

func (c *XClient) Name() string { return config.TargetX }

// Publish creates a post with text.
func (c *XClient) Publish(ctx context.Context, text string) (*PostResult, error) {
	var out createPostResponse
	res, err := c.client.R().
		SetContext(ctx).
		SetBody(createPostRequest{Text: text}).
		SetResult(&out).
		Post("/2/tweets")
	if err != nil {
		return nil, fmt.Errorf("publish: x: %w", err)
	}
	if res.IsError() {
		return nil, &StatusError{Target: c.Name(), StatusCode: res.StatusCode(), Body: res.String()}
	}
	if out.Data.ID == "" {
		return nil, errors.New("publish: x: response has no post id")
	}

	return &PostResult{
		Target: c.Name(),
		ID:     out.Data.ID,
		Text:   out.Data.Text,
		URL:    "https://x.com/i/web/status/" + out.Data.ID,
	}, nil
}
