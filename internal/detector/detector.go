// Package detector implements Traditional Chinese (CHT) subtitle detection.
// It classifies subtitle tracks by title, language code, language description
// and optionally by sampled content, then selects the track an item should
// mark as default. All functions are pure; Plex API details live in the
// plex and scanner packages.
package detector

import (
	"regexp"
	"strings"
)

// Category is the classification of a subtitle track.
type Category string

const (
	CategoryCHT       Category = "cht"     // Traditional Chinese (繁體中文)
	CategoryCHS       Category = "chs"     // Simplified Chinese (簡體中文)
	CategoryUnknownZH Category = "zh"      // Chinese, variant unknown
	CategoryEnglish   Category = "english" // English
	CategoryOther     Category = "other"   // Everything else
)

// Signal records which field produced the classification.
type Signal string

const (
	SignalTitle       Signal = "title"
	SignalLanguage    Signal = "language_code"
	SignalDescription Signal = "description"
	SignalContent     Signal = "content"
	SignalNone        Signal = "none"
)

// Track is a normalized subtitle stream snapshot, decoupled from the Plex
// API response shape.
type Track struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	LanguageCode string `json:"languageCode"`
	Language     string `json:"language"`
	Codec        string `json:"codec"`
	Key          string `json:"key,omitempty"` // non-empty for external file streams
	Order        int    `json:"order"`         // position among the item's subtitle streams
	Forced       bool   `json:"forced"`
	Selected     bool   `json:"selected"`
}

// External reports whether the track is backed by a standalone file rather
// than embedded in the media container.
func (t *Track) External() bool {
	return t.Key != ""
}

// Result is the scoring outcome for a single track.
type Result struct {
	Track    Track    `json:"track"`
	Category Category `json:"category"`
	Signal   Signal   `json:"signal"`
	Score    int      `json:"score"`
}

// Score contributions and modifiers. Scores are additive integers with no
// clamping; a track is a confident CHT candidate when Score > ChtThreshold.
const (
	scoreTitleCHT   = 100
	scoreCodeCHT    = 95
	scoreDescCHT    = 90
	scoreContentCHT = 85
	scoreUnknownZH  = 10
	scoreCHS        = -100
	forcedPenalty   = 50
	externalBonus   = 2

	// ChtThreshold is the minimum exclusive score for a CHT candidate.
	ChtThreshold = 50

	// DisableScore marks the sentinel result meaning "disable subtitles".
	DisableScore = -999
)

// Word boundaries prevent false positives: "tc" must not match "etc",
// "hk" must not match "think".
var (
	reCHT = regexp.MustCompile(`(?i)\bcht\b|\btc\b|zh[_-]?hant|zh[_-]?tw` +
		`|traditional|big5` +
		`|繁體|繁中|繁日|正體` +
		`|taiwan|hong\s*kong|\bhk\b`)

	reCHS = regexp.MustCompile(`(?i)\bchs\b|\bsc\b|zh[_-]?hans|zh[_-]?cn` +
		`|simplified` +
		`|简体|简中|簡體中文` +
		`|gb2312|gbk`)

	reForced = regexp.MustCompile(`(?i)\bforced\b`)
)

// Language codes that indicate "some kind of Chinese".
var zhLangCodes = map[string]bool{"chi": true, "zho": true, "zh": true}

// Language codes that are definitively CHT or CHS.
var zhChtLangCodes = map[string]bool{"zh-tw": true, "zh-hant": true, "zht": true}
var zhChsLangCodes = map[string]bool{"zh-cn": true, "zh-hans": true, "zhs": true}

var chtDescKeywords = []string{"traditional", "taiwan", "hong kong"}
var chsDescKeywords = []string{"simplified", "china"}

// Image-based subtitle codecs that carry no text to analyze.
var imageCodecs = map[string]bool{
	"pgs":          true,
	"hdmv_pgs":     true,
	"vobsub":       true,
	"dvd_subtitle": true,
	"dvb_subtitle": true,
	"xsub":         true,
}

// IsImageCodec reports whether the codec tag names a picture-based subtitle
// format. Such tracks are classified by metadata only.
func IsImageCodec(codec string) bool {
	return imageCodecs[strings.ToLower(strings.TrimSpace(codec))]
}

// Classify assigns a category and confidence score to one subtitle track.
// content is an optional decoded text sample; it is consulted only when
// title, language code and description all leave the track as generic
// Chinese. Pass "" when no sample is available.
//
// Base scores:
//
//	+100  definite CHT by title keyword
//	 +95  CHT by language code (zh-tw, zh-hant, zht)
//	 +90  CHT by language description (Traditional, Taiwan, Hong Kong)
//	 +85  CHT by content analysis
//	 +10  unknown Chinese variant
//	   0  not Chinese at all
//	-100  definite CHS by any signal
//
// Modifiers: forced subtitles lose 50; external file streams gain 2.
func Classify(track Track, content string) Result {
	title := strings.TrimSpace(track.Title)
	langCode := strings.ToLower(strings.TrimSpace(track.LanguageCode))
	langDesc := strings.ToLower(strings.TrimSpace(track.Language))

	forced := track.Forced || reForced.MatchString(title)

	score := 0
	category := CategoryOther
	signal := SignalNone

	switch {
	// 1) Title keywords, the most reliable signal. CHT wins when both match.
	case reCHT.MatchString(title):
		score, category, signal = scoreTitleCHT, CategoryCHT, SignalTitle
	case reCHS.MatchString(title):
		score, category, signal = scoreCHS, CategoryCHS, SignalTitle

	// 2) Explicit variant language code
	case zhChtLangCodes[langCode]:
		score, category, signal = scoreCodeCHT, CategoryCHT, SignalLanguage
	case zhChsLangCodes[langCode]:
		score, category, signal = scoreCHS, CategoryCHS, SignalLanguage

	// 3) Generic Chinese macro-code, inspect the description
	case zhLangCodes[langCode]:
		switch {
		case containsAny(langDesc, chtDescKeywords):
			score, category, signal = scoreDescCHT, CategoryCHT, SignalDescription
		case containsAny(langDesc, chsDescKeywords):
			score, category, signal = scoreCHS, CategoryCHS, SignalDescription
		default:
			score, category, signal = scoreUnknownZH, CategoryUnknownZH, SignalNone
		}

	// 4) English, kept around for fallback selection
	case langCode == "eng" || strings.Contains(langDesc, "english"):
		score, category, signal = 0, CategoryEnglish, SignalLanguage
	}

	// Content analysis resolves generic Chinese only; every stronger signal
	// already decided the variant.
	if category == CategoryUnknownZH && content != "" && !IsImageCodec(track.Codec) {
		if cat, contentScore, ok := AnalyzeText(content); ok {
			score, category, signal = contentScore, cat, SignalContent
		}
	}

	if forced {
		score -= forcedPenalty
	}
	if track.External() {
		score += externalBonus
	}

	return Result{Track: track, Category: category, Signal: signal, Score: score}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
