// Package plex is an HTTP and WebSocket client for a Plex Media Server,
// covering the calls the subtitle pipeline needs: library enumeration,
// stream metadata, subtitle stream selection and the notification socket.
package plex

import "errors"

// ErrUnauthorized indicates the Plex token was rejected.
var ErrUnauthorized = errors.New("plex token invalid")

// Library is a Plex library section.
type Library struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"` // movie, show, artist, photo
}

// Item is a movie or episode with minimal metadata.
type Item struct {
	RatingKey        string `json:"ratingKey"`
	Key              string `json:"key"`
	Title            string `json:"title"`
	Type             string `json:"type"` // movie, show, episode
	Year             int    `json:"year,omitempty"`
	GrandparentTitle string `json:"grandparentTitle,omitempty"` // show title for episodes
	ParentIndex      int    `json:"parentIndex,omitempty"`      // season number
	Index            int    `json:"index,omitempty"`            // episode number
	AddedAt          int64  `json:"addedAt"`
	UpdatedAt        int64  `json:"updatedAt"`
}

// SubtitleStream is one subtitle stream of a media part.
type SubtitleStream struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	LanguageCode string `json:"languageCode"`
	Language     string `json:"language"`
	Codec        string `json:"codec"`
	Key          string `json:"key,omitempty"` // set for external file streams
	Forced       bool   `json:"forced"`
	Selected     bool   `json:"selected"`
	Default      bool   `json:"default"`
}

// MediaPart is a single media file with its subtitle streams.
type MediaPart struct {
	ID        int              `json:"id"`
	Subtitles []SubtitleStream `json:"subtitles"`
}

// TimelineEntry is one entry of a WebSocket timeline notification.
type TimelineEntry struct {
	ItemID     int    `json:"itemID"`
	SectionID  int    `json:"sectionID"`
	Identifier string `json:"identifier"`
	State      int    `json:"state"`
	Type       int    `json:"type"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// Timeline processing states.
const (
	TimelineStateCreated   = 0
	TimelineStateCompleted = 5
	TimelineStateDeleted   = 9
)

// Media types carried in timeline entries.
const (
	MediaTypeMovie   = 1
	MediaTypeShow    = 2
	MediaTypeSeason  = 3
	MediaTypeEpisode = 4
)

// Plex JSON response envelopes.

type librariesResponse struct {
	MediaContainer struct {
		Directory []struct {
			Key   string `json:"key"`
			Title string `json:"title"`
			Type  string `json:"type"`
		} `json:"Directory"`
	} `json:"MediaContainer"`
}

type metadataResponse struct {
	MediaContainer struct {
		Metadata []metadataItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

type metadataItem struct {
	RatingKey        string      `json:"ratingKey"`
	Key              string      `json:"key"`
	Title            string      `json:"title"`
	Type             string      `json:"type"`
	Year             int         `json:"year"`
	GrandparentTitle string      `json:"grandparentTitle"`
	ParentIndex      int         `json:"parentIndex"`
	Index            int         `json:"index"`
	AddedAt          int64       `json:"addedAt"`
	UpdatedAt        int64       `json:"updatedAt"`
	Media            []mediaItem `json:"Media"`
}

type mediaItem struct {
	Part []partItem `json:"Part"`
}

type partItem struct {
	ID     int          `json:"id"`
	Stream []streamItem `json:"Stream"`
}

type streamItem struct {
	ID           int    `json:"id"`
	StreamType   int    `json:"streamType"` // 1 video, 2 audio, 3 subtitle
	Title        string `json:"title"`
	LanguageCode string `json:"languageCode"`
	Language     string `json:"language"`
	Codec        string `json:"codec"`
	Key          string `json:"key"`
	Forced       bool   `json:"forced"`
	Selected     bool   `json:"selected"`
	Default      bool   `json:"default"`
}

const streamTypeSubtitle = 3

// WebSocket notification envelope. Only timeline entries are consumed;
// other notification types are ignored.
type websocketNotification struct {
	NotificationContainer struct {
		Type          string          `json:"type"`
		TimelineEntry []TimelineEntry `json:"TimelineEntry,omitempty"`
	} `json:"NotificationContainer"`
}
