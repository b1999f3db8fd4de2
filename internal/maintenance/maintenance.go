// Package maintenance runs the periodic upkeep jobs: evicting stale
// correlation state and keeping the renderer images fresh.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kitmatheinfo/latexfogel/internal/correlate"
	"github.com/kitmatheinfo/latexfogel/internal/observability"
	"github.com/kitmatheinfo/latexfogel/internal/ratelimit"
	"github.com/kitmatheinfo/latexfogel/internal/sandbox"
)

// Options configures the upkeep schedules.
type Options struct {
	SweepSchedule   string        // Cron spec for the cache sweep.
	RefreshSchedule string        // Cron spec for the image refresh.
	TTL             time.Duration // Max age of correlation entries.
	Images          []string      // Renderer images to keep pulled.
}

// Maintenance owns the cron runner behind the upkeep jobs.
type Maintenance struct {
	opts    Options
	cron    *cron.Cron
	cache   *correlate.Cache
	limiter *ratelimit.Limiter
	runner  sandbox.Runner
	metrics *observability.Metrics
	logger  *slog.Logger
}

func New(opts Options, cache *correlate.Cache, limiter *ratelimit.Limiter, runner sandbox.Runner, metrics *observability.Metrics, logger *slog.Logger) *Maintenance {
	return &Maintenance{
		opts:    opts,
		cron:    cron.New(),
		cache:   cache,
		limiter: limiter,
		runner:  runner,
		metrics: metrics,
		logger:  logger.With("component", "maintenance"),
	}
}

// Start registers the jobs and starts the cron runner.
func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc(m.opts.SweepSchedule, m.sweep); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc(m.opts.RefreshSchedule, m.refreshImages); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("maintenance started",
		slog.String("sweep_schedule", m.opts.SweepSchedule),
		slog.String("refresh_schedule", m.opts.RefreshSchedule),
		slog.Duration("ttl", m.opts.TTL),
	)
	return nil
}

// Stop halts the cron runner and waits for a running job to finish.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.logger.Info("maintenance stopped")
}

// sweep evicts correlation entries past their TTL and prunes idle rate
// limiter buckets.
func (m *Maintenance) sweep() {
	evicted := m.cache.Sweep(m.opts.TTL)
	pruned := m.limiter.Prune(m.opts.TTL)

	responses, widen := m.cache.Sizes()
	m.metrics.AddEvictions(evicted)
	m.metrics.SetCacheSize("responses", responses)
	m.metrics.SetCacheSize("widen", widen)

	if evicted > 0 || pruned > 0 {
		m.logger.Info("cache sweep",
			slog.Int("evicted", evicted),
			slog.Int("buckets_pruned", pruned),
			slog.Int("responses_live", responses),
			slog.Int("widen_live", widen),
		)
	}
}

// refreshImages re-pulls the renderer images so that a new tag is picked
// up without waiting for the next render.
func (m *Maintenance) refreshImages() {
	for _, image := range m.opts.Images {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		err := m.runner.EnsureImage(ctx, image)
		cancel()
		if err != nil {
			m.logger.Error("image refresh failed",
				slog.String("image", image),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Info("image refreshed", slog.String("image", image))
	}
}
