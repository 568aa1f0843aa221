package monitor

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/revivarr/revivarr/internal/utils"
	"github.com/revivarr/revivarr/pkg/realdebrid"
	"github.com/revivarr/revivarr/pkg/state"
	"github.com/rs/zerolog"
)

// conversionProbes bounds how long a fresh magnet may sit in conversion
// before the engine gives up on it, at conversionProbeDelay per probe.
const conversionProbes = 15

type conversionOutcome int

const (
	conversionSelect conversionOutcome = iota
	conversionReady
	conversionFailed
)

// fillSlots feeds free debrid slots from trackers with pending candidates.
// Only one filler runs at a time; every loop calls it after anything that
// frees a slot or produces candidates.
func (m *Monitor) fillSlots(ctx context.Context) {
	m.fillMu.Lock()
	defer m.fillMu.Unlock()

	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		if !m.acquireSlot() {
			return
		}
		tracker := m.nextEligible()
		if tracker == nil {
			m.releaseSlot()
			return
		}
		if !first {
			// Cushion between adds, on top of the limiter spacing.
			if err := m.sleep(ctx, m.cfg.TorrentAddDelay); err != nil {
				m.releaseSlot()
				return
			}
		}
		first = false
		if !m.launchCandidate(ctx, tracker) {
			m.releaseSlot()
		}
	}
}

// nextEligible picks the next tracker with pending candidates, rotating a
// cursor over the key-sorted set so no single item starves the rest.
func (m *Monitor) nextEligible() *state.ItemTracker {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.trackers))
	for key, tracker := range m.trackers {
		if tracker.HasPendingStreams() {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	pick := keys[m.cursor%len(keys)]
	m.cursor++
	return m.trackers[pick]
}

// launchCandidate consumes the tracker's current candidate and tries to
// turn it into a live download. Returns true when a download now owns the
// caller's slot. The candidate is spent either way.
func (m *Monitor) launchCandidate(ctx context.Context, tracker *state.ItemTracker) bool {
	m.mu.Lock()
	stream, ok := tracker.CurrentStream()
	if !ok {
		m.mu.Unlock()
		return false
	}
	index := tracker.StreamIndex
	tracker.StreamIndex++
	item := tracker.Item
	total := len(tracker.Streams)
	m.store.SetTracker(tracker)
	m.mu.Unlock()

	defer m.reapExhausted(tracker)

	log := m.logger.With().
		Str("item", item.DisplayName()).
		Int("candidate", index+1).
		Int("of", total).
		Logger()

	hash, err := utils.NormalizeInfoHash(stream.Infohash)
	if err != nil {
		log.Warn().Str("infohash", stream.Infohash).Msg("Unusable infohash, skipping candidate")
		return false
	}
	magnet, err := utils.ConstructMagnet(hash)
	if err != nil {
		log.Warn().Err(err).Msg("Magnet construction failed, skipping candidate")
		return false
	}

	torrentID, err := m.debrid.AddMagnet(ctx, magnet)
	if err != nil {
		switch {
		case errors.Is(err, realdebrid.InfringingFileError):
			log.Warn().Str("infohash", hash).Msg("Magnet refused as infringing, skipping candidate")
		case errors.Is(err, realdebrid.TooManyActiveDownloadsError):
			log.Warn().Msg("Real-Debrid active cap hit, skipping candidate")
		default:
			log.Error().Err(err).Msg("Failed to add magnet")
		}
		return false
	}
	log = log.With().Str("torrent", torrentID).Logger()

	switch m.awaitConversion(ctx, log, torrentID) {
	case conversionFailed:
		if err := m.debrid.DeleteTorrent(ctx, torrentID); err != nil {
			log.Error().Err(err).Msg("Failed to delete torrent")
		}
		return false
	case conversionSelect:
		if err := m.debrid.SelectFiles(ctx, torrentID, "all"); err != nil {
			log.Error().Err(err).Msg("File selection failed, deleting torrent")
			if derr := m.debrid.DeleteTorrent(ctx, torrentID); derr != nil {
				log.Error().Err(derr).Msg("Failed to delete torrent")
			}
			return false
		}
	case conversionReady:
		// Already past selection, likely a cached torrent.
	}

	now := time.Now()
	download := &state.DownloadTracker{
		TorrentID:   torrentID,
		Infohash:    hash,
		ItemID:      tracker.ItemID,
		Name:        item.DisplayName(),
		StreamIndex: index,
		StartedAt:   state.Timestamp{Time: now},
		LastCheck:   state.Timestamp{Time: now},
	}
	m.mu.Lock()
	m.downloads[torrentID] = download
	m.store.SetDownload(download)
	m.mu.Unlock()
	log.Info().Str("infohash", hash).Msg("Download started on Real-Debrid")
	return true
}

// awaitConversion polls a fresh torrent through its magnet-conversion
// phase and decides whether file selection is still required.
func (m *Monitor) awaitConversion(ctx context.Context, log zerolog.Logger, torrentID string) conversionOutcome {
	for probe := 0; probe < conversionProbes; probe++ {
		if probe > 0 {
			if err := m.sleep(ctx, conversionProbeDelay); err != nil {
				return conversionFailed
			}
		}
		torrent, err := m.debrid.GetTorrentInfo(ctx, torrentID)
		if err != nil {
			if errors.Is(err, realdebrid.TorrentNotFoundError) {
				log.Warn().Msg("Torrent disappeared during conversion")
				return conversionFailed
			}
			log.Debug().Err(err).Msg("Conversion probe failed")
			continue
		}
		switch {
		case torrent.IsWaitingSelection():
			return conversionSelect
		case torrent.IsComplete():
			return conversionReady
		case torrent.IsFailed(), torrent.IsStalled():
			log.Warn().Str("status", torrent.Status).Msg("Torrent died during conversion")
			return conversionFailed
		case torrent.IsConverting():
			// Still resolving the magnet.
		case torrent.IsActive():
			return conversionReady
		default:
			// Unknown status, keep polling.
		}
	}
	log.Warn().Msg("Magnet conversion did not resolve in time")
	return conversionFailed
}

// reapExhausted abandons a tracker that has burned every candidate without
// leaving a download in flight.
func (m *Monitor) reapExhausted(tracker *state.ItemTracker) {
	m.mu.Lock()
	exhausted := tracker.ManualScrapeStarted && tracker.StreamIndex >= len(tracker.Streams)
	busy := m.hasLiveDownloadLocked(tracker.ItemID)
	m.mu.Unlock()
	if exhausted && !busy {
		m.abandonItem(m.logger, tracker)
	}
}
