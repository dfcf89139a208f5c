package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/campusgate/pkg/logger"
	"github.com/charlesng35/campusgate/pkg/metrics"
)

const (
	defaultGaugeSpec  = "@every 1m"
	defaultReportSpec = "@every 5m"
	defaultStaleDays  = 7
)

// IncidentCounter is the part of the incident service the scheduler reads.
type IncidentCounter interface {
	CountOpen(ctx context.Context) (int64, error)
	CountStaleAnomalies(ctx context.Context, daysOld int) (int64, error)
}

// BlockCounter is the part of the blocklist service the scheduler reads.
type BlockCounter interface {
	CountEffective(ctx context.Context) (int64, error)
}

// Report is the outcome of one maintenance run.
type Report struct {
	OpenIncidents  int64
	ActiveBlocks   int64
	StaleAnomalies int64
}

// Scheduler refreshes the security gauges and reports stale anomaly incidents. It never
// changes incident state; cleanup stays an explicit analyst action.
type Scheduler struct {
	incidents IncidentCounter
	blocks    BlockCounter
	metrics   *metrics.Metrics
	cron      *cron.Cron
	log       *zap.Logger
	staleDays int

	gaugeSchedule  string
	reportSchedule string
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithMetrics sets the registry the gauges are written to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithStaleDays sets the age after which OPEN anomaly incidents are reported as stale.
func WithStaleDays(days int) Option {
	return func(s *Scheduler) {
		if days > 0 {
			s.staleDays = days
		}
	}
}

// WithGaugeSchedule overrides the cron specification for gauge refreshes.
func WithGaugeSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.gaugeSchedule = spec
		}
	}
}

// WithReportSchedule overrides the cron specification for the stale incident report.
func WithReportSchedule(spec string) Option {
	return func(s *Scheduler) {
		if spec != "" {
			s.reportSchedule = spec
		}
	}
}

// NewScheduler constructs a Scheduler.
func NewScheduler(incidents IncidentCounter, blocks BlockCounter, opts ...Option) (*Scheduler, error) {
	if incidents == nil || blocks == nil {
		return nil, errors.New("maintenance: incident and block counters are required")
	}
	s := &Scheduler{
		incidents:      incidents,
		blocks:         blocks,
		staleDays:      defaultStaleDays,
		gaugeSchedule:  defaultGaugeSpec,
		reportSchedule: defaultReportSpec,
		log:            logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return s, nil
}

// Start registers the jobs and launches the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.gaugeSchedule, func() {
		if _, err := s.RefreshGauges(context.Background()); err != nil {
			s.log.Warn("gauge refresh failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: gauge schedule: %w", err)
	}

	if _, err := s.cron.AddFunc(s.reportSchedule, func() {
		if _, err := s.ReportStale(context.Background()); err != nil {
			s.log.Warn("stale incident report failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: report schedule: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RefreshGauges writes the open incident and active block counts. Both are attempted even
// when one fails.
func (s *Scheduler) RefreshGauges(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   error
	)

	open, err := s.incidents.CountOpen(ctx)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else {
		report.OpenIncidents = open
		s.metrics.SetOpenIncidents(open)
	}

	blocks, err := s.blocks.CountEffective(ctx)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else {
		report.ActiveBlocks = blocks
		s.metrics.SetActiveBlocks(blocks)
	}

	return report, errs
}

// ReportStale logs how many anomaly incidents are waiting for cleanup.
func (s *Scheduler) ReportStale(ctx context.Context) (int64, error) {
	stale, err := s.incidents.CountStaleAnomalies(ctx, s.staleDays)
	if err != nil {
		return 0, err
	}
	if stale > 0 {
		s.log.Info("stale anomaly incidents awaiting cleanup",
			zap.Int64("count", stale),
			zap.Int("days_old", s.staleDays),
		)
	}
	return stale, nil
}

// RunOnce executes every job sequentially and aggregates their errors.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	report, errs := s.RefreshGauges(ctx)
	stale, err := s.ReportStale(ctx)
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	report.StaleAnomalies = stale
	return report, errs
}
