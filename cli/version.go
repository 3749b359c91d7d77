package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vykuang/mh-flight-logs/pkg/buildinfo"
)

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mh-flight-logs", buildinfo.String())
		},
	}
}
