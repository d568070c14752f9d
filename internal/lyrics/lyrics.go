// Package lyrics fetches synced lyrics from the LRCLIB catalog and writes
// them as sidecar files next to source audio.
package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tonearm/internal/services"
)

const (
	defaultBaseURL     = "https://lrclib.net"
	defaultHTTPTimeout = 10 * time.Second
)

// Client queries the LRCLIB lookup API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type lookupResponse struct {
	SyncedLyrics string `json:"syncedLyrics"`
	PlainLyrics  string `json:"plainLyrics"`
	Instrumental bool   `json:"instrumental"`
}

// Fetch returns synced lyrics for a track. services.ErrNotFound is returned
// when the catalog has no usable entry; plain lyrics without timestamps do
// not qualify.
func (c *Client) Fetch(ctx context.Context, artist, title string) (string, error) {
	query := url.Values{}
	query.Set("artist_name", artist)
	query.Set("track_name", title)
	endpoint := c.baseURL + "/api/get?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "lyrics", "fetch", "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "lyrics", "fetch", "query catalog", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", services.Wrap(services.ErrNotFound, "lyrics", "fetch", "no catalog entry", nil)
	case resp.StatusCode >= 500:
		return "", services.Wrap(services.ErrTransient, "lyrics", "fetch",
			fmt.Sprintf("catalog returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return "", services.Wrap(services.ErrExternalTool, "lyrics", "fetch",
			fmt.Sprintf("catalog returned %d", resp.StatusCode), nil)
	}

	var payload lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", services.Wrap(services.ErrExternalTool, "lyrics", "fetch", "decode response", err)
	}
	if payload.Instrumental || strings.TrimSpace(payload.SyncedLyrics) == "" {
		return "", services.Wrap(services.ErrNotFound, "lyrics", "fetch", "no synced lyrics", nil)
	}
	return payload.SyncedLyrics, nil
}

// Filenames commonly lead with a track number: "07 - ", "07. ", "07_".
var trackNumberPrefix = regexp.MustCompile(`^\d{1,3}([\s._-]+|[\s._-]*-[\s._-]*)`)

// ParseTrack extracts artist and title from a filename shaped like
// "Artist - Title.flac", tolerating a leading track number. Reports false
// when the name carries no artist/title separator.
func ParseTrack(filename string) (artist, title string, ok bool) {
	base := filename
	if idx := strings.LastIndex(base, "/"); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	base = trackNumberPrefix.ReplaceAllString(base, "")

	parts := strings.SplitN(base, " - ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	artist = strings.TrimSpace(parts[0])
	title = strings.TrimSpace(parts[1])
	if artist == "" || title == "" {
		return "", "", false
	}
	return artist, title, true
}
