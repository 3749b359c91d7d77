// Package publish posts a rendered report to its audience.
package publish

import (
	"context"
	"fmt"
	"io"

	"github.com/vykuang/mh-flight-logs/config"
)

// PostResult describes a successful post. Text is the text as the target
// accepted it, which may differ from what was sent.
type PostResult struct {
	Target string `json:"target"`
	ID     string `json:"id"`
	Text   string `json:"text"`
	URL    string `json:"url,omitempty"`
}

// Publisher posts report text.
type Publisher interface {
	Publish(ctx context.Context, text string) (*PostResult, error)
	Name() string
}

// StatusError is a non-success HTTP answer from a publishing target.
type StatusError struct {
	Target     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("publish: %s returned status %d: %s", e.Target, e.StatusCode, e.Body)
}

// New returns the publisher selected by cfg.Target. dryRun forces printing to w.
func New(cfg config.PublishConfig, w io.Writer, dryRun bool) (Publisher, error) {
	if dryRun {
		return NewDryRun(w), nil
	}
	switch cfg.Target {
	case config.TargetDryRun, "":
		return NewDryRun(w), nil
	case config.TargetX:
		c, err := NewXClient(cfg.X)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.TargetNTFY:
		c, err := NewNTFYClient(cfg.NTFY)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("publish: unknown target %q", cfg.Target)
	}
}
