// Package retention deletes backup images older than a retention horizon,
// together with the storage extents behind them.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"instance-reaper/src/logging"
	"instance-reaper/src/metrics"
	"instance-reaper/src/provider"
	"instance-reaper/src/safety"
)

// Query scopes a sweep. Only images carrying every RequiredKeys entry are
// eligible; a non-empty Zone further requires ZoneKey=Zone.
type Query struct {
	MaxAge       time.Duration
	RequiredKeys []string
	ZoneKey      string
	Zone         string
}

// Result summarises a sweep.
type Result struct {
	// Examined counts images that passed the tag scope.
	Examined int
	// Expired lists the IDs of images older than MaxAge.
	Expired        []string
	Deregistered   int
	ExtentsDeleted int
	Errors         int
}

// Sweeper runs retention sweeps against a provider.
type Sweeper struct {
	client  provider.Client
	opts    safety.Options
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(client provider.Client, opts safety.Options, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Sweeper{client: client, opts: opts, log: logger, metrics: m, now: time.Now}
}

// SetClockForTest overrides the sweeper clock.
func (s *Sweeper) SetClockForTest(now func() time.Time) { s.now = now }

// Sweep deletes every scoped image whose age exceeds q.MaxAge. Only a listing
// failure is returned; per-image and per-extent failures are logged and
// counted, and never stop the sweep. In dry-run nothing is deleted.
func (s *Sweeper) Sweep(ctx context.Context, q Query) (Result, error) {
	expired, res, err := s.Plan(ctx, q)
	if err != nil || s.opts.DryRun {
		return res, err
	}
	s.Delete(ctx, expired, &res)
	return res, nil
}

// Plan lists the scoped images older than q.MaxAge without deleting them.
func (s *Sweeper) Plan(ctx context.Context, q Query) ([]provider.Image, Result, error) {
	var res Result
	if len(q.RequiredKeys) == 0 {
		// an unscoped sweep would consider every image in the account
		return nil, res, fmt.Errorf("sweep: no required tag keys")
	}
	filter := provider.ImageFilter{TagKeys: q.RequiredKeys}
	if q.Zone != "" {
		filter.Tags = provider.Tags{{Key: q.ZoneKey, Value: q.Zone}}
	}
	images, err := s.client.ListImages(ctx, filter)
	if err != nil {
		s.metrics.SweepError("list")
		return nil, res, fmt.Errorf("sweep: list images: %w", err)
	}

	now := s.now().UTC()
	var expired []provider.Image
	for _, img := range images {
		if !inScope(img, q) {
			continue
		}
		res.Examined++
		created, err := time.Parse(provider.CreationDateLayout, img.CreationDate)
		if err != nil {
			s.log.Warn("cannot parse creation date", "image", img.ID, "name", img.Name, "creation_date", img.CreationDate, "err", err)
			s.metrics.SweepError("parse")
			res.Errors++
			continue
		}
		if now.Sub(created) <= q.MaxAge {
			continue
		}
		s.log.Info("image is too old", "image", img.ID, "name", img.Name, "creation_date", img.CreationDate)
		res.Expired = append(res.Expired, img.ID)
		expired = append(expired, img)
	}
	return expired, res, nil
}

// Delete removes the given images and their extents, accumulating into res.
func (s *Sweeper) Delete(ctx context.Context, images []provider.Image, res *Result) {
	for _, img := range images {
		s.deleteImage(ctx, img, res)
	}
}

// inScope re-checks the provider filter: tag-key filters may match on any
// key, so every required key and the zone are verified here.
func inScope(img provider.Image, q Query) bool {
	if !img.Tags.HasAll(q.RequiredKeys) {
		return false
	}
	if q.Zone == "" {
		return true
	}
	z, ok := img.Tags.Get(q.ZoneKey)
	return ok && z == q.Zone
}

// deleteImage deregisters img and deletes its extents. Extents are deleted
// even when deregistration failed.
func (s *Sweeper) deleteImage(ctx context.Context, img provider.Image, res *Result) {
	var extents []string
	for _, e := range img.Extents {
		if e.ID == "" {
			s.log.Warn("no storage extent for device", "image", img.ID, "name", img.Name, "device", e.Device)
			s.metrics.SweepError("extent_ref")
			res.Errors++
			continue
		}
		extents = append(extents, e.ID)
	}

	s.log.Info("deregistering image", "image", img.ID)
	if err := s.client.DeregisterImage(ctx, img.ID); err != nil {
		s.log.Error("deregister image failed", "image", img.ID, "err", err)
		s.metrics.SweepError("deregister")
		res.Errors++
	} else {
		res.Deregistered++
		s.metrics.ImageDeleted()
	}

	for _, id := range extents {
		s.log.Info("deleting storage extent", "image", img.ID, "extent", id)
		if err := s.client.DeleteExtent(ctx, id); err != nil {
			s.log.Error("delete storage extent failed", "image", img.ID, "extent", id, "err", err)
			s.metrics.SweepError("delete_extent")
			res.Errors++
			continue
		}
		res.ExtentsDeleted++
		s.metrics.ExtentDeleted()
	}
}
