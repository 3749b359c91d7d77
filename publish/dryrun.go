package publish

import (
	"context"
	"fmt"
	"io"
	"os"
)

// DryRun prints the text instead of posting it.
type DryRun struct {
	w io.Writer
}

// NewDryRun prints to w, or stdout when w is nil.
func NewDryRun(w io.Writer) *DryRun {
	if w == nil {
		w = os.Stdout
	}
	return &DryRun{w: w}
}

func (d *DryRun) Name() string { return "dry-run" }

func (d *DryRun) Publish(ctx context.Context, text string) (*PostResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintln(d.w, text); err != nil {
		return nil, fmt.Errorf("publish: dry run: %w", err)
	}
	return &PostResult{Target: d.Name(), ID: "dry-run", Text: text}, nil
}
