// Package handlers implements the JSON API endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/chtsubs/internal/database"
	"github.com/saltyorg/chtsubs/internal/scanner"
	"github.com/saltyorg/chtsubs/internal/scheduler"
	"github.com/saltyorg/chtsubs/internal/watcher"
	"github.com/saltyorg/chtsubs/internal/web/sse"
)

// Handlers holds dependencies for all API endpoints. Scheduler and
// watcher are nil when the corresponding mode is not active.
type Handlers struct {
	db        *database.DB
	scanner   *scanner.Scanner
	scheduler *scheduler.Manager
	watcher   *watcher.Watcher
	broker    *sse.Broker
	scanOpts  func() scanner.Options
	version   string
	startedAt time.Time
}

// New creates the handler set. scanOpts supplies the default scan options
// for API-triggered scans.
func New(db *database.DB, sc *scanner.Scanner, broker *sse.Broker, scanOpts func() scanner.Options, version string) *Handlers {
	return &Handlers{
		db:        db,
		scanner:   sc,
		broker:    broker,
		scanOpts:  scanOpts,
		version:   version,
		startedAt: time.Now(),
	}
}

// SetScheduler wires the cron scheduler for status reporting.
func (h *Handlers) SetScheduler(m *scheduler.Manager) {
	h.scheduler = m
}

// SetWatcher wires the change watcher for status reporting.
func (h *Handlers) SetWatcher(w *watcher.Watcher) {
	h.watcher = w
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
