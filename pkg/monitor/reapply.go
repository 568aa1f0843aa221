package monitor

import (
	"context"
	"strings"

	"github.com/revivarr/revivarr/pkg/realdebrid"
	"github.com/revivarr/revivarr/pkg/riven"
	"github.com/revivarr/revivarr/pkg/state"
)

// reapplyCompleted pushes a finished torrent back into Riven and retires
// the item. The source is confirmed against a fresh scrape so the Library
// re-ingests the exact release Real-Debrid just finished.
func (m *Monitor) reapplyCompleted(ctx context.Context, download *state.DownloadTracker, torrent *realdebrid.Torrent) {
	key := download.ItemID

	m.mu.Lock()
	tracker := m.trackers[key]
	var item riven.MediaItem
	if tracker != nil {
		item = tracker.Item
	}
	m.mu.Unlock()

	hash := download.Infohash
	if torrent.Hash != "" {
		hash = torrent.Hash
	}
	switch {
	case tracker != nil:
		m.reapply(ctx, &item, key, hash)
	case state.IsPseudoID(key):
		// The download outlived its tracker, a crash or manual state
		// edit. A pseudo key carries the parent IDs, enough to rebuild
		// the item and reapply properly.
		m.logger.Warn().Str("torrent", download.TorrentID).Str("key", key).Msg("Completed download has no tracker, reapplying from its record")
		item = orphanItem(key, download)
		m.reapply(ctx, &item, key, hash)
	default:
		// A bare Riven ID with no tracker: a retry nudge is the best
		// that can be done without external IDs.
		m.logger.Warn().Str("torrent", download.TorrentID).Str("key", key).Msg("Completed download has no tracker, nudging Riven to retry")
		m.library.RetryItem(ctx, key)
		item = riven.MediaItem{ID: riven.StringID(key), Title: download.Name}
	}

	m.retireDownload(download.TorrentID)
	m.mu.Lock()
	if _, ok := m.trackers[key]; ok {
		delete(m.trackers, key)
		m.store.RemoveTracker(key)
	}
	m.mu.Unlock()
	m.store.AddProcessed(key)
	m.logger.Info().Str("key", key).Str("item", item.DisplayName()).Msg("Item reapplied and marked processed")
}

func (m *Monitor) reapply(ctx context.Context, item *riven.MediaItem, key, hash string) {
	log := m.logger.With().Str("item", item.DisplayName()).Str("infohash", hash).Logger()

	tmdbID, tvdbID, imdbID := scrapeTarget(item)
	streams, err := m.library.ScrapeItem(ctx, tmdbID, tvdbID, imdbID, item.Type)
	if err != nil {
		log.Warn().Err(err).Msg("Fresh scrape failed, re-adding blind")
	}
	matched := false
	for _, stream := range streams {
		if strings.EqualFold(stream.Infohash, hash) {
			matched = true
			break
		}
	}

	switch {
	case matched && !state.IsPseudoID(key):
		log.Info().Msg("Completed source confirmed by scrape, reapplying item")
		if !m.library.RemoveItem(ctx, key) {
			log.Warn().Msg("Remove during reapplication failed, continuing")
		}
		m.library.AddItem(ctx, string(item.TmdbID), string(item.TvdbID), item.Type)
		m.library.RetryItem(ctx, key)
	case matched:
		log.Info().Msg("Completed source confirmed by scrape, re-adding parent show")
		m.library.AddItem(ctx, tmdbID, tvdbID, item.Type)
		if found := m.library.GetItemByIDs(ctx, tmdbID, tvdbID); found != nil {
			m.library.RetryItem(ctx, string(found.ID))
		} else {
			log.Warn().Msg("Show not visible in Riven yet, retry skipped")
		}
	default:
		log.Warn().Msg("Completed source missing from fresh scrape, re-adding anyway")
		m.library.AddItem(ctx, tmdbID, tvdbID, item.Type)
		if found := m.library.GetItemByIDs(ctx, tmdbID, tvdbID); found != nil {
			m.library.RetryItem(ctx, string(found.ID))
		}
	}
}

// orphanItem rebuilds the parent-show item for a pseudo-keyed download
// whose tracker did not survive. The key itself carries the external IDs.
func orphanItem(key string, download *state.DownloadTracker) riven.MediaItem {
	tmdbID, tvdbID, _ := state.ParsePseudoKey(key)
	return riven.MediaItem{
		ID:     riven.StringID(key),
		Title:  download.Name,
		Type:   "show",
		TmdbID: riven.StringID(tmdbID),
		TvdbID: riven.StringID(tvdbID),
	}
}
