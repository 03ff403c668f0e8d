package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/chtsubs/internal/database"
	"github.com/saltyorg/chtsubs/internal/detector"
	"github.com/saltyorg/chtsubs/internal/scanner"
	"github.com/saltyorg/chtsubs/internal/web/sse"
)

// apiScanTimeout bounds an API-triggered scan run.
const apiScanTimeout = 2 * time.Hour

// Health handles GET /api/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// Status handles GET /api/status
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"scanning":    h.scanner.IsRunning(),
		"sse_clients": h.broker.ClientCount(),
	}

	if h.watcher != nil {
		state, attempt := h.watcher.State()
		status["watcher"] = map[string]any{
			"state":   string(state),
			"attempt": attempt,
			"pending": h.watcher.Pending(),
		}
	}

	if h.scheduler != nil {
		if next := h.scheduler.NextRun(); !next.IsZero() {
			status["next_scheduled_scan"] = next
		}
	}

	if h.db != nil {
		if scans, err := h.db.ListRecentScans(1); err == nil && len(scans) > 0 {
			status["last_scan"] = scans[0]
		}
	}

	h.writeJSON(w, http.StatusOK, status)
}

// scanRequest is the optional body of POST /api/scan.
type scanRequest struct {
	ItemIDs   []int  `json:"itemIds,omitempty"`
	RangeDays *int   `json:"rangeDays,omitempty"`
	Fallback  string `json:"fallback,omitempty"`
	Force     bool   `json:"force,omitempty"`
	DryRun    bool   `json:"dryRun,omitempty"`
}

// Scan handles POST /api/scan. Returns 409 when a scan is already
// running; otherwise the scan proceeds in the background and the request
// is acknowledged immediately.
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	opts := h.scanOpts()
	opts.TriggeredBy = "api"

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	opts.ItemIDs = req.ItemIDs
	opts.Force = opts.Force || req.Force
	opts.DryRun = opts.DryRun || req.DryRun
	if req.RangeDays != nil {
		opts.RangeDays = *req.RangeDays
	}
	if req.Fallback != "" {
		fb, err := detector.ParseFallback(req.Fallback)
		if err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		opts.Fallback = fb
	}

	if h.scanner.IsRunning() {
		h.jsonError(w, "a scan is already in progress", http.StatusConflict)
		return
	}

	go h.runScan(opts)

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "started",
		"dry_run": opts.DryRun,
	})
}

func (h *Handlers) runScan(opts scanner.Options) {
	ctx, cancel := context.WithTimeout(context.Background(), apiScanTimeout)
	defer cancel()

	h.broker.Broadcast(sse.Event{Type: sse.EventScanStarted, Data: map[string]any{
		"trigger": opts.TriggeredBy,
		"dry_run": opts.DryRun,
	}})

	result, err := h.scanner.RunScan(ctx, opts)
	if err != nil {
		if errors.Is(err, scanner.ErrScanInProgress) {
			return
		}
		log.Error().Err(err).Msg("API-triggered scan failed")
		h.broker.Broadcast(sse.Event{Type: sse.EventScanFailed, Data: map[string]any{
			"error": err.Error(),
		}})
		return
	}

	h.broker.Broadcast(sse.Event{Type: sse.EventScanCompleted, Data: result.Stats})
}

// ScanStatus handles GET /api/scan/status
func (h *Handlers) ScanStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"running": h.scanner.IsRunning(),
	}
	if h.db != nil {
		if scans, err := h.db.ListRecentScans(1); err == nil && len(scans) > 0 {
			status["last_scan"] = scans[0]
		}
	}
	h.writeJSON(w, http.StatusOK, status)
}

// History handles GET /api/history
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.writeJSON(w, http.StatusOK, []any{})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	scans, err := h.db.ListRecentScans(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list scan history")
		h.jsonError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, scans)
}

// Config handles GET /api/config. Secrets are redacted.
func (h *Handlers) Config(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{})
		return
	}

	settings, err := h.db.GetAllSettings()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		h.jsonError(w, "failed to load config", http.StatusInternalServerError)
		return
	}

	for key := range settings {
		if strings.Contains(key, "password") || strings.Contains(key, "token") {
			settings[key] = `"***"`
		}
	}
	h.writeJSON(w, http.StatusOK, settings)
}

// UpdateConfig handles PUT /api/config. Values arrive JSON-encoded the
// same way they are stored; null removes the stored value so the default
// applies again. Changes take effect on the next startup.
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		h.jsonError(w, "settings storage unavailable", http.StatusServiceUnavailable)
		return
	}

	var req map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req) == 0 {
		h.jsonError(w, "no settings provided", http.StatusBadRequest)
		return
	}

	for key := range req {
		if _, ok := database.DefaultSettings[key]; !ok {
			h.jsonError(w, fmt.Sprintf("unknown setting %q", key), http.StatusBadRequest)
			return
		}
	}

	for key, raw := range req {
		var err error
		if string(raw) == "null" {
			err = h.db.DeleteSetting(key)
		} else {
			err = h.db.SetSetting(key, string(raw))
		}
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to update setting")
			h.jsonError(w, "failed to update config", http.StatusInternalServerError)
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"updated": len(req)})
}
