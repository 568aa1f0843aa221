package monitor

import (
	"sort"
	"time"

	"github.com/revivarr/revivarr/pkg/state"
)

// Status is a point-in-time view of the engine for the ops endpoints.
type Status struct {
	Uptime          string           `json:"uptime"`
	Trackers        int              `json:"trackers"`
	TrackersByPhase map[string]int   `json:"trackers_by_phase"`
	Downloads       []DownloadStatus `json:"downloads"`
	Processed       int              `json:"processed"`
	SlotsUsed       int              `json:"slots_used"`
	SlotsTotal      int              `json:"slots_total"`
	LastScan        string           `json:"last_scan,omitempty"`
	LastSweep       string           `json:"last_sweep,omitempty"`
}

// DownloadStatus describes one in-flight Real-Debrid download.
type DownloadStatus struct {
	TorrentID string `json:"torrent_id"`
	Item      string `json:"item"`
	ItemKey   string `json:"item_key"`
	Infohash  string `json:"infohash"`
	Started   string `json:"started,omitempty"`
	LastCheck string `json:"last_check,omitempty"`
}

// Snapshot assembles the current engine status.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		Trackers:        len(m.trackers),
		TrackersByPhase: make(map[string]int),
		Downloads:       make([]DownloadStatus, 0, len(m.downloads)),
		Processed:       len(m.store.Processed()),
		SlotsUsed:       len(m.slots),
		SlotsTotal:      cap(m.slots),
		LastScan:        formatInstant(m.lastScan),
		LastSweep:       formatInstant(m.lastSweep),
	}
	if !m.started.IsZero() {
		status.Uptime = time.Since(m.started).Round(time.Second).String()
	}
	for _, tracker := range m.trackers {
		status.TrackersByPhase[m.phaseLocked(tracker)]++
	}
	for _, download := range m.downloads {
		status.Downloads = append(status.Downloads, DownloadStatus{
			TorrentID: download.TorrentID,
			Item:      download.Name,
			ItemKey:   download.ItemID,
			Infohash:  download.Infohash,
			Started:   formatInstant(download.StartedAt.Time),
			LastCheck: formatInstant(download.LastCheck.Time),
		})
	}
	sort.Slice(status.Downloads, func(i, j int) bool {
		return status.Downloads[i].TorrentID < status.Downloads[j].TorrentID
	})
	return status
}

// phaseLocked derives the pipeline phase of a tracker. Caller holds mu.
func (m *Monitor) phaseLocked(tracker *state.ItemTracker) string {
	switch {
	case m.hasLiveDownloadLocked(tracker.ItemID):
		return "awaiting_completion"
	case tracker.HasPendingStreams():
		return "feeding_debrid"
	case tracker.ManualScrapeStarted:
		return "scraping"
	case tracker.RetryCount > 0:
		return "library_retrying"
	default:
		return "detected"
	}
}

// ResetProcessed clears the processed suppression set. Exposed for the ops
// surface, the engine itself never clears it.
func (m *Monitor) ResetProcessed() {
	m.store.ResetProcessed()
	m.logger.Info().Msg("Processed set cleared by operator")
}

func formatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
