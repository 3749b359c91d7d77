package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/vykuang/mh-flight-logs/pipeline"
	"github.com/vykuang/mh-flight-logs/report"
)

func (a *app) reportCommand() *cobra.Command {
	var (
		date    string
		asTable bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the delay report for a date from the store, without fetching or publishing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if date == "" {
				date = a.now().Format(time.DateOnly)
			}
			if _, err := time.Parse(time.DateOnly, date); err != nil {
				return fmt.Errorf("invalid date %q: %w", date, err)
			}

			c, err := a.openComponents(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			r, txt, err := c.reports.Text(cmd.Context(), date)
			if err != nil {
				return &pipeline.StageError{Stage: pipeline.StageReport, Err: err}
			}
			if asTable {
				renderTable(cmd, r)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), txt)
			return nil
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", "", "date in YYYY-MM-DD format (default today)")
	cmd.Flags().BoolVar(&asTable, "table", false, "print the most delayed flights as a table")
	return cmd
}

func renderTable(cmd *cobra.Command, r *report.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("%s delays on %s", r.Airline, r.Date))
	t.AppendHeader(table.Row{"#", "Flight", "From", "To", "Delay (min)"})
	for i, e := range r.Top {
		t.AppendRow(table.Row{i + 1, e.Flight, e.Departure, e.Arrival, e.Delay})
	}

	avg := "N/A"
	if r.AvgDelay != nil {
		avg = fmt.Sprintf("%.1f", *r.AvgDelay)
	}
	t.AppendFooter(table.Row{"", "Delayed", r.Count, "Average", avg})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	t.Render()
}
