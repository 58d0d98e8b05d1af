// Package scheduler runs periodic housekeeping jobs on a cron schedule.
package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/importauto/leadline/internal/api/metrics"
	"github.com/importauto/leadline/internal/core/domain"
)

const (
	// DefaultGaugeSpec refreshes store-derived gauges twice a minute.
	DefaultGaugeSpec = "@every 30s"
	jobTimeout       = 10 * time.Second
)

// StatsSource is the part of the conversation store the gauges read.
type StatsSource interface {
	Stats(ctx context.Context) (domain.ClientStats, error)
}

// QueueSource reports pending work per serializer worker.
type QueueSource interface {
	QueueDepths() []int
}

// Scheduler wraps a cron runner with the leadline jobs registered.
type Scheduler struct {
	cron   *cron.Cron
	stats  StatsSource
	queues QueueSource
	log    zerolog.Logger
}

// New registers the gauge refresh job under spec. queues may be nil.
func New(spec string, stats StatsSource, queues QueueSource, log zerolog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultGaugeSpec
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		stats:  stats,
		queues: queues,
		log:    log,
	}
	if _, err := s.cron.AddFunc(spec, s.RefreshGauges); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the jobs in the background until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.RefreshGauges()
	s.cron.Start()
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

// RefreshGauges copies store aggregates and queue depths into Prometheus gauges.
func (s *Scheduler) RefreshGauges() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	stats, err := s.stats.Stats(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("gauge refresh: stats unavailable")
	} else {
		for status, n := range stats.ByStatus {
			metrics.ClientsByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
		metrics.ActiveHandoffs.Set(float64(stats.Managed))
	}

	if s.queues != nil {
		for i, depth := range s.queues.QueueDepths() {
			metrics.SerializerQueueDepth.WithLabelValues(strconv.Itoa(i)).Set(float64(depth))
		}
	}
}
