package detector

import (
	"fmt"
	"sort"
)

// Fallback is the strategy applied when no confident CHT track exists.
type Fallback string

const (
	FallbackSkip    Fallback = "skip"    // leave the item unchanged
	FallbackEnglish Fallback = "english" // best English track, or nothing
	FallbackCHS     Fallback = "chs"     // least negative CHS track, or nothing
	FallbackNone    Fallback = "none"    // disable subtitles entirely
)

// ParseFallback validates a fallback strategy name.
func ParseFallback(s string) (Fallback, error) {
	switch Fallback(s) {
	case FallbackSkip, FallbackEnglish, FallbackCHS, FallbackNone:
		return Fallback(s), nil
	}
	return "", fmt.Errorf("unknown fallback strategy %q (want skip, english, chs or none)", s)
}

// SelectBest picks the subtitle track an item should mark default.
// contentMap carries decoded text samples keyed by track ID for tracks
// whose metadata left the Chinese variant undecided.
//
// Selection runs in three passes:
//  1. Best confident CHT track (score above threshold), ties broken by
//     lowest stream order, then external over embedded.
//  2. With two or more still-generic Chinese tracks, assume the common
//     Simplified-first packaging order and take the second one, unless an
//     external generic track out-scores every embedded one.
//  3. The configured fallback strategy.
//
// Returns nil when nothing should change. A result with Score equal to
// DisableScore means subtitles should be disabled for the item.
func SelectBest(tracks []Track, fallback Fallback, contentMap map[int]string) *Result {
	if len(tracks) == 0 {
		return nil
	}

	results := make([]Result, 0, len(tracks))
	for _, t := range tracks {
		results = append(results, Classify(t, contentMap[t.ID]))
	}

	if best := bestCHT(results); best != nil {
		return best
	}
	if second := secondGeneric(results); second != nil {
		return second
	}
	return applyFallback(results, fallback)
}

func bestCHT(results []Result) *Result {
	var best *Result
	for i := range results {
		r := &results[i]
		if r.Category != CategoryCHT || r.Score <= ChtThreshold {
			continue
		}
		if best == nil || chtBetter(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

func chtBetter(a, b *Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Track.Order != b.Track.Order {
		return a.Track.Order < b.Track.Order
	}
	return a.Track.External() && !b.Track.External()
}

// secondGeneric handles items whose Chinese tracks could not be told apart.
// Release packaging overwhelmingly orders Simplified before Traditional, so
// with two or more undecided tracks the second one in stream order is the
// better guess than giving up.
func secondGeneric(results []Result) *Result {
	var generic []Result
	for _, r := range results {
		if r.Category == CategoryUnknownZH {
			generic = append(generic, r)
		}
	}
	if len(generic) < 2 {
		return nil
	}

	sort.SliceStable(generic, func(i, j int) bool {
		return generic[i].Track.Order < generic[j].Track.Order
	})

	// An external track that out-scores every embedded one carries more
	// signal than the packaging convention.
	var bestExternal *Result
	maxEmbedded := 0
	haveEmbedded := false
	for i := range generic {
		r := &generic[i]
		if r.Track.External() {
			if bestExternal == nil || r.Score > bestExternal.Score {
				bestExternal = r
			}
		} else {
			if !haveEmbedded || r.Score > maxEmbedded {
				maxEmbedded = r.Score
				haveEmbedded = true
			}
		}
	}
	if bestExternal != nil && haveEmbedded && bestExternal.Score > maxEmbedded {
		out := *bestExternal
		return &out
	}

	out := generic[1]
	return &out
}

func applyFallback(results []Result, fallback Fallback) *Result {
	switch fallback {
	case FallbackEnglish:
		return bestOfCategory(results, CategoryEnglish)
	case FallbackCHS:
		return bestOfCategory(results, CategoryCHS)
	case FallbackNone:
		return &Result{Category: CategoryOther, Signal: SignalNone, Score: DisableScore}
	default:
		return nil
	}
}

// bestOfCategory returns the highest-scoring track of one category, so
// e.g. a forced English track loses to a regular one.
func bestOfCategory(results []Result, cat Category) *Result {
	var best *Result
	for i := range results {
		r := &results[i]
		if r.Category != cat {
			continue
		}
		if best == nil || r.Score > best.Score ||
			(r.Score == best.Score && r.Track.Order < best.Track.Order) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}
