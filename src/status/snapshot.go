// Package status builds point-in-time views of every monitored hostname:
// health probe results plus the provider state of the backing instance.
package status

import (
	"context"
	"log/slog"
	"time"

	"instance-reaper/src/locator"
	"instance-reaper/src/logging"
	"instance-reaper/src/metrics"
	"instance-reaper/src/probe"
	"instance-reaper/src/provider"
)

// Record is the status of one hostname in one pass. An unresolved instance
// has an empty ID and StateUnknown.
type Record struct {
	Hostname string
	TCP      probe.Result
	HTTP     probe.Result
	Instance provider.Instance
}

// Snapshot is an immutable, ordered set of records.
type Snapshot struct {
	takenAt time.Time
	records []Record
}

// NewSnapshot copies records into a snapshot.
func NewSnapshot(takenAt time.Time, records []Record) Snapshot {
	return Snapshot{takenAt: takenAt, records: append([]Record(nil), records...)}
}

func (s Snapshot) TakenAt() time.Time { return s.takenAt }

// Records returns a copy of the records in configured order.
func (s Snapshot) Records() []Record {
	return append([]Record(nil), s.records...)
}

// Lookup returns the record for hostname.
func (s Snapshot) Lookup(hostname string) (Record, bool) {
	for _, r := range s.records {
		if r.Hostname == hostname {
			return r, true
		}
	}
	return Record{}, false
}

// Builder takes snapshots.
type Builder struct {
	Hostnames []string
	TCPPort   int

	locator *locator.Locator
	client  provider.Client
	prober  *probe.Prober
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewBuilder(hostnames []string, tcpPort int, loc *locator.Locator, client provider.Client, prober *probe.Prober, logger *slog.Logger, m *metrics.Metrics) *Builder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Builder{
		Hostnames: append([]string(nil), hostnames...),
		TCPPort:   tcpPort,
		locator:   loc,
		client:    client,
		prober:    prober,
		log:       logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Update takes a new snapshot. Instances already resolved in prev are
// re-read by ID instead of being located again. Update never fails; each
// field degrades on its own.
func (b *Builder) Update(ctx context.Context, prev *Snapshot) Snapshot {
	records := make([]Record, 0, len(b.Hostnames))
	for _, host := range b.Hostnames {
		inst, err := b.instanceFor(ctx, host, prev)
		if err != nil {
			b.log.Warn("cannot get instance", "hostname", host, "err", err)
			inst = provider.Instance{State: provider.StateUnknown}
		}
		rec := Record{
			Hostname: host,
			TCP:      b.prober.TCP(ctx, host, b.TCPPort),
			HTTP:     b.prober.HTTP(ctx, host),
			Instance: inst,
		}
		b.metrics.InstanceState(host, string(inst.State))
		records = append(records, rec)
	}
	return NewSnapshot(b.now().UTC(), records)
}

func (b *Builder) instanceFor(ctx context.Context, host string, prev *Snapshot) (provider.Instance, error) {
	if prev != nil {
		if rec, ok := prev.Lookup(host); ok && rec.Instance.ID != "" {
			return b.client.GetInstance(ctx, rec.Instance.ID)
		}
	}
	return b.locator.Resolve(ctx, host)
}
