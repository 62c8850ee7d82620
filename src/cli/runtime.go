package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"instance-reaper/src/config"
	"instance-reaper/src/locator"
	"instance-reaper/src/logging"
	"instance-reaper/src/metrics"
	"instance-reaper/src/probe"
	"instance-reaper/src/provider"
	"instance-reaper/src/safety"
	"instance-reaper/src/status"
	"instance-reaper/src/target"
)

// runtime is everything a command needs, assembled from flags and config.
type runtime struct {
	cfg         config.Config
	target      target.Target
	client      provider.Client
	opts        safety.Options
	log         *slog.Logger
	metrics     *metrics.Metrics
	metricsFile string
}

var connectProvider = func(ctx context.Context, t target.Target) (provider.Client, error) {
	switch t.Scheme {
	case target.SchemeEC2:
		return provider.ConnectEC2(ctx, t.Value)
	case target.SchemeIncus:
		return provider.ConnectIncus(t.Value)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", t.Scheme)
	}
}

var newResolver = func() locator.Resolver { return locator.NetResolver{} }

// SetProviderForTest replaces provider connection with a fixed client.
// It returns a func restoring the previous behaviour.
func SetProviderForTest(c provider.Client) func() {
	prev := connectProvider
	connectProvider = func(context.Context, target.Target) (provider.Client, error) { return c, nil }
	return func() { connectProvider = prev }
}

// SetResolverForTest replaces the DNS resolver used to locate instances.
func SetResolverForTest(r locator.Resolver) func() {
	prev := newResolver
	newResolver = func() locator.Resolver { return r }
	return func() { newResolver = prev }
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func setupRuntime(cmd *cobra.Command, stderr io.Writer) (*runtime, error) {
	flags := cmd.Root().PersistentFlags()
	levelStr, _ := flags.GetString("log-level")
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	cfgPath, _ := flags.GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	tgtStr, _ := flags.GetString("target")
	if tgtStr == "" {
		tgtStr = cfg.Target
	}
	tgt, err := target.Parse(tgtStr)
	if err != nil {
		return nil, err
	}
	client, err := connectProvider(commandContext(cmd), tgt)
	if err != nil {
		return nil, err
	}
	metricsFile, _ := flags.GetString("metrics-file")
	log := logging.New(stderr, level)
	opts := getSafetyOptions(cmd)
	log.Debug("runtime ready", "target", tgt.String(), "hostnames", len(cfg.Hostnames), "dry_run", opts.DryRun)
	return &runtime{
		cfg:         cfg,
		target:      tgt,
		client:      client,
		opts:        opts,
		log:         log,
		metrics:     metrics.New(),
		metricsFile: metricsFile,
	}, nil
}

func (rt *runtime) statusBuilder() *status.Builder {
	loc := locator.New(newResolver(), rt.client, rt.log)
	prober := probe.New(rt.cfg.CheckTimeout, rt.cfg.HTTPPort, rt.log, rt.metrics)
	return status.NewBuilder(rt.cfg.Hostnames, rt.cfg.TCPPort, loc, rt.client, prober, rt.log, rt.metrics)
}

// finish writes the metrics textfile when one was requested. A failure is
// logged only; the run itself already completed.
func (rt *runtime) finish() {
	if err := rt.metrics.WriteTextfile(rt.metricsFile, float64(time.Now().Unix())); err != nil {
		rt.log.Error("write metrics file failed", "path", rt.metricsFile, "err", err)
	}
}
