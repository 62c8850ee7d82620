package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"instance-reaper/src/version"
)

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "instance-reaper %s\n", version.Version)
		},
	}
}
