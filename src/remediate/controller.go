// Package remediate reacts to stopped instances: back the instance up to an
// image, terminate it once the image is fully available, then sweep expired
// backups of the same zone.
package remediate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"instance-reaper/src/config"
	"instance-reaper/src/logging"
	"instance-reaper/src/metrics"
	"instance-reaper/src/provider"
	"instance-reaper/src/retention"
	"instance-reaper/src/safety"
	"instance-reaper/src/status"
)

// Phase is the final state an entity reached in a run.
type Phase string

const (
	// PhaseSkipped: no resolved instance, or the instance is not stopped.
	PhaseSkipped Phase = "skipped"
	// PhaseBackupFailed: no confirmed backup, so the instance was kept.
	PhaseBackupFailed Phase = "backup_failed"
	// PhaseDone: backed up, terminate attempted, sweep run.
	PhaseDone Phase = "done"
	// PhaseDryRun: stopped, but no mutating call was issued.
	PhaseDryRun Phase = "dry_run"
)

// ErrNoZone is the backup failure for an instance without a placement zone.
var ErrNoZone = errors.New("instance has no placement zone")

// Outcome reports what happened to one monitored hostname.
type Outcome struct {
	Hostname        string
	InstanceID      string
	Zone            string
	Phase           Phase
	ImageID         string
	BackupErr       error
	DecommissionErr error
	SweepErr        error
	Sweep           retention.Result
}

// Sweeper is the retention step run after each backup.
type Sweeper interface {
	Sweep(ctx context.Context, q retention.Query) (retention.Result, error)
}

// Controller drives the backup-then-decommission sequence.
type Controller struct {
	cfg     config.Config
	client  provider.Client
	sweeper Sweeper
	opts    safety.Options
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewController(cfg config.Config, client provider.Client, sweeper Sweeper, opts safety.Options, logger *slog.Logger, m *metrics.Metrics) *Controller {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		cfg:     cfg,
		client:  client,
		sweeper: sweeper,
		opts:    opts,
		log:     logger,
		metrics: m,
		now:     time.Now,
	}
}

// SetClockForTest overrides the controller clock.
func (c *Controller) SetClockForTest(now func() time.Time) { c.now = now }

// Run acts on every stopped instance in snap, in snapshot order. The
// snapshot is not re-read during the run. Failures are isolated per entity.
func (c *Controller) Run(ctx context.Context, snap status.Snapshot) []Outcome {
	recs := snap.Records()
	out := make([]Outcome, 0, len(recs))
	for _, rec := range recs {
		o := c.remediate(ctx, rec)
		if o.Phase != PhaseSkipped {
			c.metrics.Remediation(string(o.Phase))
		}
		out = append(out, o)
	}
	return out
}

func (c *Controller) remediate(ctx context.Context, rec status.Record) Outcome {
	inst := rec.Instance
	o := Outcome{Hostname: rec.Hostname, InstanceID: inst.ID, Zone: inst.Zone, Phase: PhaseSkipped}
	if inst.ID == "" || inst.State != provider.StateStopped {
		return o
	}
	log := c.log.With("hostname", rec.Hostname, "instance", inst.ID, "name", inst.Name)
	log.Warn("instance stopped")

	if !c.opts.Mutates() {
		log.Info("dry-run: would back up, terminate and sweep", "zone", inst.Zone)
		o.Phase = PhaseDryRun
		return o
	}

	imageID, err := c.backup(ctx, log, inst)
	o.ImageID = imageID
	if err != nil {
		log.Error("backup failed; instance kept", "image", imageID, "err", err)
		o.Phase = PhaseBackupFailed
		o.BackupErr = err
		return o
	}

	log.Info("terminating instance", "phase", "decommissioning")
	if err := c.client.TerminateInstance(ctx, inst.ID); err != nil {
		log.Error("terminate failed", "err", err)
		o.DecommissionErr = err
	}

	q := retention.Query{
		MaxAge:       c.cfg.MaxImageAge,
		RequiredKeys: c.cfg.RequiredKeys(),
		ZoneKey:      c.cfg.ZoneKey,
		Zone:         inst.Zone,
	}
	o.Sweep, o.SweepErr = c.sweeper.Sweep(ctx, q)
	if o.SweepErr != nil {
		log.Error("retention sweep failed", "zone", inst.Zone, "err", o.SweepErr)
	}
	o.Phase = PhaseDone
	return o
}

// backup creates the image and returns only after the image exists and its
// data is fully copied. The returned ID may be set together with an error
// when a wait failed after creation.
func (c *Controller) backup(ctx context.Context, log *slog.Logger, inst provider.Instance) (string, error) {
	if inst.Zone == "" {
		return "", ErrNoZone
	}
	name := inst.Name
	if name == "" {
		name = inst.ID
	}
	now := c.now()
	spec := provider.ImageSpec{
		Name:        ImageName(name, now),
		Description: ImageDescription(name, c.cfg.Creator, now),
		// fresh slice per entity so zone tags never accumulate
		Tags: c.cfg.DiscriminatorTags(now).With(provider.Tag{Key: c.cfg.ZoneKey, Value: inst.Zone}),
	}
	log.Info("creating image from stopped instance", "phase", "backing_up", "image_name", spec.Name)
	imageID, err := c.client.CreateImage(ctx, inst.ID, spec)
	if err != nil {
		return "", fmt.Errorf("create image: %w", err)
	}
	if err := c.client.WaitImageExists(ctx, imageID, c.cfg.ImageWaitTimeout); err != nil {
		return imageID, fmt.Errorf("wait for image %s: %w", imageID, err)
	}
	if err := c.client.WaitImageAvailable(ctx, imageID, c.cfg.ImageWaitTimeout); err != nil {
		return imageID, fmt.Errorf("wait for image %s data: %w", imageID, err)
	}
	log.Info("image available", "phase", "backed_up", "image", imageID)
	return imageID, nil
}
