package memorypipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance runs periodic background upkeep over the pipeline's
// stores: pruning conversation records past their retention window
// and logging layer-store growth. It is optional; the pipeline is
// fully correct without it, recall just scans a larger record set.
type Maintenance struct {
	logger    *slog.Logger
	pipeline  *Pipeline
	cron      *cron.Cron
	retention time.Duration
	schedule  string
}

// MaintenanceOption configures a Maintenance job.
type MaintenanceOption func(*Maintenance)

// WithRetention sets how long records are kept. Zero disables
// pruning (the review log still runs).
func WithRetention(d time.Duration) MaintenanceOption {
	return func(m *Maintenance) { m.retention = d }
}

// WithSchedule overrides the default hourly cron schedule.
func WithSchedule(spec string) MaintenanceOption {
	return func(m *Maintenance) { m.schedule = spec }
}

// NewMaintenance builds the job. Call Start to begin running it.
func NewMaintenance(logger *slog.Logger, pipeline *Pipeline, opts ...MaintenanceOption) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Maintenance{
		logger:    logger.With("component", "memory_maintenance"),
		pipeline:  pipeline,
		retention: 7 * 24 * time.Hour,
		schedule:  "@hourly",
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start schedules and starts the cron runner.
func (m *Maintenance) Start() error {
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.schedule, m.run); err != nil {
		return fmt.Errorf("schedule memory maintenance: %w", err)
	}
	m.cron.Start()
	return nil
}

// Stop halts the runner, waiting for an in-flight run to finish.
func (m *Maintenance) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

func (m *Maintenance) run() {
	if m.retention > 0 {
		removed := m.pipeline.Records().PruneBefore(time.Now().Add(-m.retention))
		if removed > 0 {
			m.logger.Info("pruned expired memory records", "removed", removed)
		}
	}
	m.logger.Debug("memory layer sizes",
		"records", m.pipeline.Records().Len(),
		"profiles", len(m.pipeline.CoreProfiles().List()),
		"facts", len(m.pipeline.Facts().List()),
		"habits", len(m.pipeline.Habits().List()))
}
