package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vykuang/mh-flight-logs/pipeline"
)

type runOptions struct {
	date         string
	useLocal     bool
	dryRun       bool
	forcePublish bool
	noPublish    bool
}

func (a *app) runCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch (or load archived) flights for a date, store them, report and publish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.date, "date", "d", "", "date in YYYY-MM-DD format to look for late flights (default today)")
	f.StringVar(&opts.date, "arrival_date", "", "alias for --date")
	_ = f.MarkHidden("arrival_date")
	f.BoolVar(&opts.useLocal, "use-local", false, "read archived responses instead of calling the API")
	f.BoolVar(&opts.useLocal, "use_local", false, "alias for --use-local")
	_ = f.MarkHidden("use_local")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the report instead of posting it")
	f.BoolVar(&opts.forcePublish, "force-publish", false, "publish even if this date was already published")
	f.BoolVar(&opts.noPublish, "no-publish", false, "stop after storing and rendering the report")
	return cmd
}

func (a *app) run(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()
	date := opts.date
	if date == "" {
		date = a.now().Format(time.DateOnly)
	}

	c, err := a.openComponents(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	p, err := a.newPipeline(c, opts.dryRun)
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, pipeline.Options{
		Date:         date,
		UseLocal:     opts.useLocal,
		ForcePublish: opts.forcePublish,
		SkipPublish:  opts.noPublish,
	})
	if err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "run %s: %d pages, %d records stored, %d skipped\n", res.RunID, res.Pages, res.Stored, res.Skipped)
	switch {
	case res.Post != nil && res.Post.URL != "":
		fmt.Fprintf(out, "link: %s\n", res.Post.URL)
	case res.AlreadyPublished:
		fmt.Fprintf(out, "already published for %s, use --force-publish to post again\n", date)
	case res.PublishErr != nil:
		fmt.Fprintf(out, "publish failed: %v\n", res.PublishErr)
	}
	return nil
}
