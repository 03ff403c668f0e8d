// Package scheduler runs periodic library scans on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/chtsubs/internal/database"
	"github.com/saltyorg/chtsubs/internal/scanner"
)

// scheduledRunTimeout bounds a single scheduled scan.
const scheduledRunTimeout = 2 * time.Hour

// Config controls the scheduler.
type Config struct {
	Enabled    bool
	Schedule   string // standard 5-field cron expression
	RunOnStart bool
	ScanOpts   scanner.Options
	// HistoryKeep prunes scan history older than this after each
	// scheduled run. 0 disables pruning.
	HistoryKeep time.Duration
}

// Manager owns the cron scheduler and triggers scans through the scanner.
type Manager struct {
	scanner *scanner.Scanner
	db      *database.DB // nil disables history pruning
	cron    *cron.Cron

	mu          sync.RWMutex
	config      Config
	cronEntryID cron.EntryID
	running     bool
}

// NewManager creates a scheduler manager.
func NewManager(sc *scanner.Scanner, db *database.DB, config Config) *Manager {
	return &Manager{
		scanner: sc,
		db:      db,
		config:  config,
		cron:    cron.New(),
	}
}

// Start launches the cron scheduler and installs the schedule when
// enabled. Returns an error for an invalid cron expression.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true

	m.cron.Start()

	if m.config.Enabled && m.config.Schedule != "" {
		if err := m.updateSchedule(m.config.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", m.config.Schedule, err)
		}
	}

	log.Info().
		Bool("enabled", m.config.Enabled).
		Str("schedule", m.config.Schedule).
		Bool("run_on_start", m.config.RunOnStart).
		Msg("Scheduler started")

	if m.config.RunOnStart {
		go m.scheduledRun()
	}

	return nil
}

// Stop halts the cron scheduler, draining any entry currently firing.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	ctx := m.cron.Stop()
	<-ctx.Done()

	m.running = false
	log.Info().Msg("Scheduler stopped")
}

// NextRun returns the next scheduled scan time, or zero when no scan is
// scheduled.
func (m *Manager) NextRun() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.cronEntryID == 0 {
		return time.Time{}
	}
	return m.cron.Entry(m.cronEntryID).Next
}

// UpdateConfig replaces the scheduler configuration and reinstalls the
// cron schedule to match.
func (m *Manager) UpdateConfig(config Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = config

	m.removeSchedule()
	if config.Enabled && config.Schedule != "" {
		if err := m.updateSchedule(config.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
		}
	}

	log.Info().
		Bool("enabled", config.Enabled).
		Str("schedule", config.Schedule).
		Msg("Scheduler configuration updated")

	return nil
}

func (m *Manager) updateSchedule(schedule string) error {
	m.removeSchedule()

	id, err := m.cron.AddFunc(schedule, m.scheduledRun)
	if err != nil {
		return err
	}
	m.cronEntryID = id
	return nil
}

func (m *Manager) removeSchedule() {
	if m.cronEntryID != 0 {
		m.cron.Remove(m.cronEntryID)
		m.cronEntryID = 0
	}
}

// scheduledRun is called by cron to run one scan.
func (m *Manager) scheduledRun() {
	m.mu.RLock()
	opts := m.config.ScanOpts
	keep := m.config.HistoryKeep
	m.mu.RUnlock()

	opts.TriggeredBy = "schedule"

	log.Info().Msg("Running scheduled scan")

	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	if _, err := m.scanner.RunScan(ctx, opts); err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			log.Warn().Msg("Scheduled scan skipped: another scan is running")
			return
		}
		log.Error().Err(err).Msg("Scheduled scan failed")
		return
	}

	if m.db != nil && keep > 0 {
		if pruned, err := m.db.PruneScans(keep); err != nil {
			log.Error().Err(err).Msg("Failed to prune scan history")
		} else if pruned > 0 {
			log.Debug().Int64("pruned", pruned).Msg("Pruned old scan history")
		}
	}
}
