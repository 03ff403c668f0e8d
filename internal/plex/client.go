package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/chtsubs/internal/config"
	"github.com/saltyorg/chtsubs/internal/httpclient"
)

// Client talks to one Plex Media Server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Plex client for the given server URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    httpclient.NewTraceClient("plex", config.GetTimeouts().HTTPClient),
	}
}

// BaseURL returns the configured server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, "GET", path, params)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("plex: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("plex: %s returned status %d: %s", path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", path, err)
	}
	return nil
}

// TestConnection verifies the server is reachable and the token is valid.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := c.newRequest(ctx, "GET", "/identity", nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("plex: connection to %s failed: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex: %s returned status %d", c.baseURL, resp.StatusCode)
	}
	return nil
}

// Libraries returns the server's library sections.
func (c *Client) Libraries(ctx context.Context) ([]Library, error) {
	var resp librariesResponse
	if err := c.getJSON(ctx, "/library/sections", nil, &resp); err != nil {
		return nil, err
	}

	libraries := make([]Library, 0, len(resp.MediaContainer.Directory))
	for _, dir := range resp.MediaContainer.Directory {
		libraries = append(libraries, Library{Key: dir.Key, Title: dir.Title, Type: dir.Type})
	}
	return libraries, nil
}

// SectionItems lists the top-level items of a library section (movies for
// movie sections, shows for show sections).
func (c *Client) SectionItems(ctx context.Context, sectionKey string) ([]Item, error) {
	var resp metadataResponse
	path := fmt.Sprintf("/library/sections/%s/all", sectionKey)
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return toItems(resp.MediaContainer.Metadata), nil
}

// Episodes lists every episode of a show.
func (c *Client) Episodes(ctx context.Context, showRatingKey string) ([]Item, error) {
	var resp metadataResponse
	path := fmt.Sprintf("/library/metadata/%s/allLeaves", showRatingKey)
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return toItems(resp.MediaContainer.Metadata), nil
}

// ItemParts fetches one item with its media parts and subtitle streams.
func (c *Client) ItemParts(ctx context.Context, ratingKey string) (*Item, []MediaPart, error) {
	var resp metadataResponse
	path := fmt.Sprintf("/library/metadata/%s", ratingKey)
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, nil, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return nil, nil, fmt.Errorf("plex: item %s not found", ratingKey)
	}

	meta := resp.MediaContainer.Metadata[0]
	item := toItem(meta)

	var parts []MediaPart
	for _, media := range meta.Media {
		for _, part := range media.Part {
			mp := MediaPart{ID: part.ID}
			for _, stream := range part.Stream {
				if stream.StreamType != streamTypeSubtitle {
					continue
				}
				mp.Subtitles = append(mp.Subtitles, SubtitleStream{
					ID:           stream.ID,
					Title:        stream.Title,
					LanguageCode: stream.LanguageCode,
					Language:     stream.Language,
					Codec:        stream.Codec,
					Key:          stream.Key,
					Forced:       stream.Forced,
					Selected:     stream.Selected,
					Default:      stream.Default,
				})
			}
			parts = append(parts, mp)
		}
	}
	return &item, parts, nil
}

// FetchSample reads at most maxBytes from an external subtitle stream.
// The key is the stream's download path as reported by the metadata API.
// A Range header bounds the transfer server-side; LimitReader covers
// servers that ignore it.
func (c *Client) FetchSample(ctx context.Context, streamKey string, maxBytes int64) ([]byte, error) {
	req, err := c.newRequest(ctx, "GET", streamKey, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", maxBytes-1))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plex: sample fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("plex: sample fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("plex: sample read failed: %w", err)
	}
	return data, nil
}

// SetDefaultSubtitle marks one subtitle stream as the part's default.
func (c *Client) SetDefaultSubtitle(ctx context.Context, partID, streamID int) error {
	return c.putStreamSelection(ctx, partID, streamID)
}

// DisableSubtitles clears the default subtitle selection for a part.
func (c *Client) DisableSubtitles(ctx context.Context, partID int) error {
	return c.putStreamSelection(ctx, partID, 0)
}

const (
	mutationAttempts  = 3
	mutationBaseDelay = time.Second
)

// putStreamSelection issues the selection mutation, retrying transient
// failures. 4xx responses are not retried, the request will not get better.
func (c *Client) putStreamSelection(ctx context.Context, partID, streamID int) error {
	params := url.Values{}
	params.Set("subtitleStreamID", strconv.Itoa(streamID))
	params.Set("allParts", "1")
	path := fmt.Sprintf("/library/parts/%d", partID)

	var lastErr error
	for attempt := 0; attempt < mutationAttempts; attempt++ {
		if attempt > 0 {
			delay := mutationBaseDelay << (attempt - 1)
			log.Debug().
				Int("part_id", partID).
				Int("stream_id", streamID).
				Dur("delay", delay).
				Msg("Retrying subtitle selection")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := c.newRequest(ctx, "PUT", path, params)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("plex: selection request failed: %w", err)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
			return nil
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("plex: selection returned status %d", resp.StatusCode)
		default:
			return fmt.Errorf("plex: selection returned status %d", resp.StatusCode)
		}
	}
	return lastErr
}

func toItems(metadata []metadataItem) []Item {
	items := make([]Item, 0, len(metadata))
	for _, m := range metadata {
		items = append(items, toItem(m))
	}
	return items
}

func toItem(m metadataItem) Item {
	return Item{
		RatingKey:        m.RatingKey,
		Key:              m.Key,
		Title:            m.Title,
		Type:             m.Type,
		Year:             m.Year,
		GrandparentTitle: m.GrandparentTitle,
		ParentIndex:      m.ParentIndex,
		Index:            m.Index,
		AddedAt:          m.AddedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
