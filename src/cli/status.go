package cli

import (
	"io"

	"github.com/spf13/cobra"

	"instance-reaper/src/report"
)

func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check every monitored hostname and print the status table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd, stderr)
			if err != nil {
				return err
			}
			defer rt.finish()
			snap := rt.statusBuilder().Update(commandContext(cmd), nil)
			return report.RenderStatus(stdout, "Status:", rt.target.StateLabel(), snap)
		},
	}
}
