package riven

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StringID decodes Library identifiers that arrive as either JSON
// numbers or strings.
type StringID string

func (s *StringID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = StringID(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = StringID(num.String())
		return nil
	}
	return fmt.Errorf("invalid id value: %s", string(data))
}

// ParentIDs carries the external IDs of a season's or episode's parent
// show.
type ParentIDs struct {
	ImdbID StringID `json:"imdb_id"`
	TmdbID StringID `json:"tmdb_id"`
	TvdbID StringID `json:"tvdb_id"`
}

type MediaItem struct {
	ID            StringID   `json:"id"`
	Title         string     `json:"title"`
	State         string     `json:"state"`
	Type          string     `json:"type"`
	ImdbID        StringID   `json:"imdb_id"`
	TmdbID        StringID   `json:"tmdb_id"`
	TvdbID        StringID   `json:"tvdb_id"`
	ScrapedTimes  int        `json:"scraped_times"`
	ParentTitle   string     `json:"parent_title"`
	SeasonNumber  int        `json:"season_number"`
	EpisodeNumber int        `json:"episode_number"`
	ParentIDs     *ParentIDs `json:"parent_ids"`
	AiredAt       string     `json:"aired_at"`
}

// DisplayName renders a human-readable name, expanding seasons and
// episodes with their parent title and numbering.
func (m *MediaItem) DisplayName() string {
	switch {
	case m.Type == "episode" && m.SeasonNumber > 0 && m.EpisodeNumber > 0:
		title := m.ParentTitle
		if title == "" {
			title = m.Title
		}
		return fmt.Sprintf("%s S%02dE%02d", title, m.SeasonNumber, m.EpisodeNumber)
	case m.Type == "season" && m.SeasonNumber > 0:
		title := m.ParentTitle
		if title == "" {
			title = m.Title
		}
		return fmt.Sprintf("%s Season %d", title, m.SeasonNumber)
	}
	return m.Title
}

func (m *MediaItem) IsSeasonOrEpisode() bool {
	return m.Type == "season" || m.Type == "episode"
}

// ParentShowIDs returns the parent show's tmdb and tvdb IDs for
// seasons/episodes, empty when unknown.
func (m *MediaItem) ParentShowIDs() (tmdb, tvdb string) {
	if m.ParentIDs == nil {
		return "", ""
	}
	return string(m.ParentIDs.TmdbID), string(m.ParentIDs.TvdbID)
}

// IsReleased reports whether the item has aired. Missing or unparseable
// dates count as released so unknown items are not starved.
func (m *MediaItem) IsReleased(now time.Time) bool {
	if m.AiredAt == "" {
		return true
	}
	raw := strings.ReplaceAll(m.AiredAt, " ", "T")
	if i := strings.Index(raw, "."); i >= 0 {
		raw = raw[:i]
	}
	for _, layout := range []string{"2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05", "2006-01-02"} {
		if aired, err := time.Parse(layout, raw); err == nil {
			return !aired.After(now)
		}
	}
	return true
}

// Stream is a single scraped source candidate.
type Stream struct {
	Infohash string `json:"infohash"`
	RawTitle string `json:"raw_title"`
	Rank     int    `json:"rank"`
	IsCached bool   `json:"is_cached"`
}

type itemsResponse struct {
	Items []MediaItem `json:"items"`
}

type streamsResponse struct {
	Streams []Stream `json:"streams"`
}

type scrapeResponse struct {
	Streams map[string]Stream `json:"streams"`
}

type idsPayload struct {
	IDs []string `json:"ids"`
}

type addPayload struct {
	MediaType string   `json:"media_type"`
	TmdbIDs   []string `json:"tmdb_ids,omitempty"`
	TvdbIDs   []string `json:"tvdb_ids,omitempty"`
}
