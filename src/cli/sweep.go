package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"instance-reaper/src/provider"
	"instance-reaper/src/retention"
	"instance-reaper/src/safety"
)

func newSweepCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		zone   string
		maxAge string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete backup images older than the retention window",
		Long: `sweep lists backup images created by instance-reaper that are older than
the retention window, optionally only those of one zone, and deletes them
with their storage extents after confirmation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setupRuntime(cmd, stderr)
			if err != nil {
				return err
			}
			defer rt.finish()
			ctx := commandContext(cmd)

			q := retention.Query{
				MaxAge:       rt.cfg.MaxImageAge,
				RequiredKeys: rt.cfg.RequiredKeys(),
				ZoneKey:      rt.cfg.ZoneKey,
				Zone:         zone,
			}
			if maxAge != "" {
				d, err := parseAge(maxAge)
				if err != nil {
					return err
				}
				q.MaxAge = d
			}

			sweeper := retention.New(rt.client, rt.opts, rt.log, rt.metrics)
			expired, res, err := sweeper.Plan(ctx, q)
			if err != nil {
				return err
			}
			renderSweepPreview(stdout, expired)

			if rt.opts.DryRun || len(expired) == 0 {
				return nil
			}
			ok, err := safety.Confirm(rt.opts, cmd.InOrStdin(), stdout, fmt.Sprintf("Delete %d images and their storage?", len(expired)))
			if err != nil || !ok {
				return err
			}
			sweeper.Delete(ctx, expired, &res)
			fmt.Fprintf(stdout, "Deregistered %d images, deleted %d extents, %d errors\n", res.Deregistered, res.ExtentsDeleted, res.Errors)
			return nil
		},
	}
	cmd.Flags().StringVar(&zone, "zone", "", "Only sweep images tagged with this zone")
	cmd.Flags().StringVar(&maxAge, "max-age", "", "Retention window (e.g. 168h or 7d); defaults to the config value")
	return cmd
}

func renderSweepPreview(w io.Writer, images []provider.Image) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IMAGE\tNAME\tCREATED\tEXTENTS\tACTION")
	for _, img := range images {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\tdelete\n", img.ID, img.Name, img.CreationDate, len(img.Extents))
	}
	_ = tw.Flush()
}
