package cli

import (
	"io"

	"github.com/spf13/cobra"

	"instance-reaper/src/remediate"
	"instance-reaper/src/report"
	"instance-reaper/src/retention"
)

// runReaper takes a snapshot, remediates stopped instances, and takes a
// second snapshot from the first. Per-entity failures only show up in the
// log; the command fails only when it cannot start.
func runReaper(cmd *cobra.Command, stdout, stderr io.Writer) error {
	rt, err := setupRuntime(cmd, stderr)
	if err != nil {
		return err
	}
	defer rt.finish()
	ctx := commandContext(cmd)

	builder := rt.statusBuilder()
	before := builder.Update(ctx, nil)
	if err := report.RenderStatus(stdout, "Status BEFORE we act:", rt.target.StateLabel(), before); err != nil {
		return err
	}

	sweeper := retention.New(rt.client, rt.opts, rt.log, rt.metrics)
	ctrl := remediate.NewController(rt.cfg, rt.client, sweeper, rt.opts, rt.log, rt.metrics)
	for _, o := range ctrl.Run(ctx, before) {
		if o.Phase == remediate.PhaseSkipped {
			continue
		}
		rt.log.Info("remediation finished",
			"hostname", o.Hostname,
			"instance", o.InstanceID,
			"phase", o.Phase,
			"image", o.ImageID,
			"terminated", o.Phase == remediate.PhaseDone && o.DecommissionErr == nil,
			"images_expired", len(o.Sweep.Expired),
			"extents_deleted", o.Sweep.ExtentsDeleted,
		)
	}

	after := builder.Update(ctx, &before)
	return report.RenderStatus(stdout, "Status AFTER we act:", rt.target.StateLabel(), after)
}
