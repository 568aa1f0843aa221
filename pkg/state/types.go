package state

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/revivarr/revivarr/pkg/riven"
)

// Timestamp is a tolerant ISO-8601 wrapper: junk or naive values from
// older state files degrade to the zero time instead of failing the
// whole document load.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "null" || raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			t.Time = ts
			return nil
		}
	}
	t.Time = time.Time{}
	return nil
}

// ItemTracker is the per-item control block. Its phase in the pipeline
// is derived from the fields, not stored: retry counting until the cap
// is reached, then a one-shot manual scrape, then candidate streams
// consumed in order by the slot filler.
type ItemTracker struct {
	ItemID              string          `json:"item_id"`
	Item                riven.MediaItem `json:"item"`
	RetryCount          int             `json:"retry_count"`
	LastRetry           Timestamp       `json:"last_retry"`
	ManualScrapeStarted bool            `json:"manual_scrape_started"`
	Streams             []riven.Stream  `json:"streams"`
	StreamIndex         int             `json:"stream_index"`
}

// HasPendingStreams reports whether the tracker still has unconsumed
// candidates for the slot filler.
func (t *ItemTracker) HasPendingStreams() bool {
	return t.ManualScrapeStarted && t.StreamIndex < len(t.Streams)
}

// CurrentStream returns the next candidate, false when exhausted.
func (t *ItemTracker) CurrentStream() (riven.Stream, bool) {
	if t.StreamIndex < 0 || t.StreamIndex >= len(t.Streams) {
		return riven.Stream{}, false
	}
	return t.Streams[t.StreamIndex], true
}

// IsPseudo reports whether the tracker stands in for a parent show
// synthesized from a failed season or episode. Pseudo keys are never
// valid Library IDs.
func (t *ItemTracker) IsPseudo() bool {
	return IsPseudoID(t.ItemID)
}

func IsPseudoID(id string) bool {
	return strings.HasPrefix(id, "tmdb:")
}

// PseudoKey builds the parent-show key for season/episode items,
// tmdb:<t>|tvdb:<v> with missing IDs left empty.
func PseudoKey(tmdbID, tvdbID string) string {
	return "tmdb:" + tmdbID + "|tvdb:" + tvdbID
}

// ParsePseudoKey splits a pseudo key back into its external IDs. Orphaned
// downloads rely on this to rebuild enough of the item for reapplication.
func ParsePseudoKey(key string) (tmdb, tvdb string, ok bool) {
	if !IsPseudoID(key) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(key, "tmdb:"), "|tvdb:", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DownloadTracker is the per-in-flight-torrent control block. It
// references its item tracker by key; the engine rehydrates the link
// after restart.
type DownloadTracker struct {
	TorrentID   string    `json:"torrent_id"`
	Infohash    string    `json:"infohash"`
	ItemID      string    `json:"item_id"`
	Name        string    `json:"name"`
	StreamIndex int       `json:"stream_index"`
	StartedAt   Timestamp `json:"started_at"`
	LastCheck   Timestamp `json:"last_check"`
}

// Elapsed is the wall time since the download was launched.
func (d *DownloadTracker) Elapsed(now time.Time) time.Duration {
	if d.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(d.StartedAt.Time)
}
