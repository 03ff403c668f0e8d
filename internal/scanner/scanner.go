// Package scanner runs the subtitle selection pipeline over Plex library
// items: enumerate candidates, classify and score their subtitle tracks,
// and apply the selected default through the Plex API. Items are processed
// by a bounded worker pool with per-item failure isolation.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/chtsubs/internal/config"
	"github.com/saltyorg/chtsubs/internal/database"
	"github.com/saltyorg/chtsubs/internal/detector"
	"github.com/saltyorg/chtsubs/internal/plex"
	"github.com/saltyorg/chtsubs/internal/subsample"
)

// ErrScanInProgress is returned when a scan is requested while another is
// still running.
var ErrScanInProgress = errors.New("a scan is already in progress")

// DefaultWorkers is the worker pool width when none is configured.
const DefaultWorkers = 8

// PlexAPI is the media-server surface the scanner consumes, satisfied by
// *plex.Client.
type PlexAPI interface {
	Libraries(ctx context.Context) ([]plex.Library, error)
	SectionItems(ctx context.Context, sectionKey string) ([]plex.Item, error)
	Episodes(ctx context.Context, showRatingKey string) ([]plex.Item, error)
	ItemParts(ctx context.Context, ratingKey string) (*plex.Item, []plex.MediaPart, error)
	FetchSample(ctx context.Context, streamKey string, maxBytes int64) ([]byte, error)
	SetDefaultSubtitle(ctx context.Context, partID, streamID int) error
	DisableSubtitles(ctx context.Context, partID int) error
}

// Options controls one scan run.
type Options struct {
	// ItemIDs restricts the scan to specific rating keys (watcher batches).
	// Empty means enumerate the library.
	ItemIDs []int
	// RangeDays limits library enumeration to items updated or added
	// within the window. 0 scans the full library.
	RangeDays int
	Fallback  detector.Fallback
	Force     bool
	DryRun    bool
	Workers   int
	// TriggeredBy labels the scan in history: manual, schedule, watch, api.
	TriggeredBy string
}

// Outcome is the per-item result of a scan.
type Outcome string

const (
	OutcomeChanged  Outcome = "changed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDisabled Outcome = "disabled"
	OutcomeDryRun   Outcome = "dry-run"
	OutcomeFailed   Outcome = "failed"
)

// ItemResult describes what happened to one media item.
type ItemResult struct {
	RatingKey string  `json:"ratingKey"`
	Title     string  `json:"title"`
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
	Score     int     `json:"score,omitempty"`
	Fallback  bool    `json:"fallback,omitempty"`
}

// Stats aggregates a scan run.
type Stats struct {
	Total        int `json:"total"`
	Changed      int `json:"changed"`
	Skipped      int `json:"skipped"`
	FallbackUsed int `json:"fallbackUsed"`
	Errors       int `json:"errors"`
}

// Result is the outcome of a full scan run.
type Result struct {
	ScanID   int64         `json:"scanId,omitempty"`
	Stats    Stats         `json:"stats"`
	Items    []ItemResult  `json:"items"`
	Duration time.Duration `json:"duration"`
}

// Scanner orchestrates scan runs. At most one scan runs at a time.
type Scanner struct {
	client PlexAPI
	db     *database.DB // nil disables history recording

	sem    chan struct{}
	onItem func(ItemResult)
}

// New creates a scanner. db may be nil when history persistence is not
// wanted.
func New(client PlexAPI, db *database.DB) *Scanner {
	return &Scanner{client: client, db: db, sem: make(chan struct{}, 1)}
}

// SetItemHook registers a callback invoked with every item result as it
// is produced. Must be set before the first scan starts.
func (s *Scanner) SetItemHook(fn func(ItemResult)) {
	s.onItem = fn
}

// IsRunning reports whether a scan is currently in progress.
func (s *Scanner) IsRunning() bool {
	return len(s.sem) > 0
}

// RunScan executes one scan run and returns its aggregate result. Returns
// ErrScanInProgress when invoked concurrently with another run.
func (s *Scanner) RunScan(ctx context.Context, opts Options) (*Result, error) {
	select {
	case s.sem <- struct{}{}:
	default:
		return nil, ErrScanInProgress
	}
	defer func() { <-s.sem }()

	return s.run(ctx, opts)
}

// RunScanWait is RunScan for callers whose batches must not be dropped:
// instead of failing while another scan runs, it waits for its turn. Used
// by watch batches, which the debouncer hands off exactly once.
func (s *Scanner) RunScanWait(ctx context.Context, opts Options) (*Result, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	return s.run(ctx, opts)
}

func (s *Scanner) run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Fallback == "" {
		opts.Fallback = detector.FallbackSkip
	}
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = "manual"
	}

	start := time.Now()

	var scanID int64
	if s.db != nil {
		id, err := s.db.StartScan(opts.TriggeredBy, opts.DryRun)
		if err != nil {
			log.Error().Err(err).Msg("Failed to record scan start")
		} else {
			scanID = id
		}
	}

	keys, err := s.collectItems(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to collect items: %w", err)
	}

	log.Info().
		Int("items", len(keys)).
		Int("workers", opts.Workers).
		Str("fallback", string(opts.Fallback)).
		Bool("dry_run", opts.DryRun).
		Str("trigger", opts.TriggeredBy).
		Msg("Scan started")

	result := &Result{ScanID: scanID}
	var resultMu sync.Mutex

	taskCh := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range taskCh {
				item := s.processItem(ctx, key, opts)
				if s.onItem != nil {
					s.onItem(item)
				}
				resultMu.Lock()
				result.Items = append(result.Items, item)
				result.Stats.Total++
				switch item.Outcome {
				case OutcomeChanged:
					result.Stats.Changed++
					if item.Fallback {
						result.Stats.FallbackUsed++
					}
				case OutcomeDisabled:
					result.Stats.FallbackUsed++
				case OutcomeSkipped, OutcomeDryRun:
					result.Stats.Skipped++
				case OutcomeFailed:
					result.Stats.Errors++
				}
				resultMu.Unlock()
			}
		}()
	}

feed:
	for _, key := range keys {
		select {
		case <-ctx.Done():
			// Stop feeding on shutdown; in-flight items drain gracefully.
			break feed
		case taskCh <- key:
		}
	}
	close(taskCh)
	wg.Wait()

	result.Duration = time.Since(start)

	if s.db != nil && scanID != 0 {
		if err := s.db.FinishScan(scanID, result.Duration,
			result.Stats.Total, result.Stats.Changed, result.Stats.Skipped,
			result.Stats.FallbackUsed, result.Stats.Errors); err != nil {
			log.Error().Err(err).Int64("scan_id", scanID).Msg("Failed to record scan result")
		}
	}

	log.Info().
		Int("total", result.Stats.Total).
		Int("changed", result.Stats.Changed).
		Int("skipped", result.Stats.Skipped).
		Int("fallback_used", result.Stats.FallbackUsed).
		Int("errors", result.Stats.Errors).
		Dur("duration", result.Duration).
		Msg("Scan finished")

	return result, ctx.Err()
}

// collectItems resolves the set of rating keys to evaluate.
func (s *Scanner) collectItems(ctx context.Context, opts Options) ([]string, error) {
	if len(opts.ItemIDs) > 0 {
		keys := make([]string, 0, len(opts.ItemIDs))
		for _, id := range opts.ItemIDs {
			keys = append(keys, strconv.Itoa(id))
		}
		return keys, nil
	}

	var cutoff int64
	if opts.RangeDays > 0 {
		cutoff = time.Now().AddDate(0, 0, -opts.RangeDays).Unix()
	}

	libraries, err := s.client.Libraries(ctx)
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, lib := range libraries {
		if lib.Type != "movie" && lib.Type != "show" {
			continue
		}

		items, err := s.client.SectionItems(ctx, lib.Key)
		if err != nil {
			log.Error().Err(err).Str("section", lib.Title).Msg("Failed to list section items")
			continue
		}

		for _, item := range items {
			if cutoff > 0 && item.UpdatedAt < cutoff && item.AddedAt < cutoff {
				continue
			}

			switch lib.Type {
			case "movie":
				keys = append(keys, item.RatingKey)
			case "show":
				episodes, err := s.client.Episodes(ctx, item.RatingKey)
				if err != nil {
					log.Error().Err(err).Str("show", item.Title).Msg("Failed to list episodes")
					continue
				}
				for _, ep := range episodes {
					if cutoff > 0 && ep.UpdatedAt < cutoff && ep.AddedAt < cutoff {
						continue
					}
					keys = append(keys, ep.RatingKey)
				}
			}
		}
	}
	return keys, nil
}

// processItem evaluates one media item and applies the selection. Errors
// never propagate past the item: they become a failed outcome.
func (s *Scanner) processItem(ctx context.Context, ratingKey string, opts Options) ItemResult {
	itemCtx, cancel := context.WithTimeout(ctx, config.GetTimeouts().ItemOperation)
	defer cancel()

	item, parts, err := s.client.ItemParts(itemCtx, ratingKey)
	if err != nil {
		log.Error().Err(err).Str("rating_key", ratingKey).Msg("Failed to load item")
		return ItemResult{RatingKey: ratingKey, Outcome: OutcomeFailed, Detail: err.Error()}
	}

	result := ItemResult{RatingKey: ratingKey, Title: displayTitle(item)}

	if len(parts) == 0 {
		result.Outcome = OutcomeSkipped
		result.Detail = "no media parts"
		return result
	}

	tracks := collectTracks(parts)
	contentMap := s.fetchContent(itemCtx, tracks)

	selected := detector.SelectBest(tracks, opts.Fallback, contentMap)

	// Nothing eligible and strategy says leave the item alone.
	if selected == nil {
		result.Outcome = OutcomeSkipped
		result.Detail = "no cht subtitle found"
		return result
	}

	// Disable-subtitles sentinel.
	if selected.Score == detector.DisableScore {
		if opts.DryRun {
			result.Outcome = OutcomeDryRun
			result.Detail = "would disable subtitles"
			return result
		}
		if err := s.client.DisableSubtitles(itemCtx, parts[0].ID); err != nil {
			log.Error().Err(err).Str("title", result.Title).Msg("Failed to disable subtitles")
			result.Outcome = OutcomeFailed
			result.Detail = err.Error()
			return result
		}
		result.Outcome = OutcomeDisabled
		result.Detail = "subtitles disabled (fallback)"
		return result
	}

	result.Score = selected.Score
	result.Fallback = selected.Category != detector.CategoryCHT
	result.Detail = trackLabel(selected)

	// Idempotence: an unchanged library yields no mutation on re-scan.
	if selected.Track.Selected && !opts.Force {
		result.Outcome = OutcomeSkipped
		result.Detail = "already set: " + result.Detail
		return result
	}

	if opts.DryRun {
		result.Outcome = OutcomeDryRun
		return result
	}

	if err := s.client.SetDefaultSubtitle(itemCtx, parts[0].ID, selected.Track.ID); err != nil {
		log.Error().Err(err).Str("title", result.Title).Msg("Failed to set subtitle")
		result.Outcome = OutcomeFailed
		result.Detail = err.Error()
		return result
	}

	log.Info().
		Str("title", result.Title).
		Str("subtitle", result.Detail).
		Int("score", selected.Score).
		Bool("fallback", result.Fallback).
		Msg("Subtitle selected")

	result.Outcome = OutcomeChanged
	return result
}

// collectTracks flattens all parts' subtitle streams into detector tracks,
// with Order reflecting overall stream position.
func collectTracks(parts []plex.MediaPart) []detector.Track {
	var tracks []detector.Track
	order := 0
	for _, part := range parts {
		for _, sub := range part.Subtitles {
			tracks = append(tracks, detector.Track{
				ID:           sub.ID,
				Title:        sub.Title,
				LanguageCode: sub.LanguageCode,
				Language:     sub.Language,
				Codec:        sub.Codec,
				Key:          sub.Key,
				Order:        order,
				Forced:       sub.Forced,
				Selected:     sub.Selected,
			})
			order++
		}
	}
	return tracks
}

// fetchContent samples external text-based tracks whose metadata leaves
// the Chinese variant undecided. Fetch or decode failures simply leave the
// track without content; they never fail the item.
func (s *Scanner) fetchContent(ctx context.Context, tracks []detector.Track) map[int]string {
	var contentMap map[int]string
	for _, t := range tracks {
		if !t.External() || detector.IsImageCodec(t.Codec) {
			continue
		}
		if detector.Classify(t, "").Category != detector.CategoryUnknownZH {
			continue
		}

		data, err := s.client.FetchSample(ctx, t.Key, subsample.MaxSampleBytes)
		if err != nil {
			log.Debug().Err(err).Int("stream_id", t.ID).Msg("Subtitle sample fetch failed")
			continue
		}
		text, ok := subsample.Decode(data)
		if !ok {
			log.Debug().Int("stream_id", t.ID).Msg("Subtitle sample decode failed")
			continue
		}
		if contentMap == nil {
			contentMap = make(map[int]string)
		}
		contentMap[t.ID] = text
	}
	return contentMap
}

func displayTitle(item *plex.Item) string {
	if item.Type == "episode" {
		return fmt.Sprintf("%s S%02dE%02d", item.GrandparentTitle, item.ParentIndex, item.Index)
	}
	if item.Year > 0 {
		return fmt.Sprintf("%s (%d)", item.Title, item.Year)
	}
	return item.Title
}

func trackLabel(r *detector.Result) string {
	switch {
	case r.Track.Title != "":
		return fmt.Sprintf("%s (%d)", r.Track.Title, r.Score)
	case r.Track.Language != "":
		return fmt.Sprintf("%s (%d)", r.Track.Language, r.Score)
	default:
		return fmt.Sprintf("%s (%d)", r.Track.LanguageCode, r.Score)
	}
}
