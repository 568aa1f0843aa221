package monitor

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/revivarr/revivarr/pkg/riven"
	"github.com/revivarr/revivarr/pkg/state"
	"github.com/rs/zerolog"
)

// scanListLimit caps how many problem items one cycle pulls from Riven.
const scanListLimit = 100

// scanLoop runs the problem scan immediately and then on every tick.
func (m *Monitor) scanLoop(ctx context.Context) error {
	m.logger.Info().
		Dur("interval", m.cfg.CheckInterval).
		Strs("states", m.cfg.ProblemStates).
		Msg("Problem scan started")
	m.runScan(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("Problem scan stopped")
			return nil
		case <-ticker.C:
			m.runScan(ctx)
		}
	}
}

func (m *Monitor) runScan(ctx context.Context) {
	cycle := uuid.NewString()[:8]
	log := m.logger.With().Str("cycle", cycle).Logger()

	items, err := m.library.GetProblemItems(ctx, m.cfg.ProblemStates, scanListLimit)
	if err != nil {
		log.Error().Err(err).Msg("Problem item listing failed")
		return
	}
	m.mu.Lock()
	m.lastScan = time.Now()
	m.mu.Unlock()
	if len(items) > 0 {
		log.Info().Int("items", len(items)).Msg("Handling problem items")
	}

	// Seasons and episodes of the same show collapse into one pseudo
	// item per cycle.
	parentsQueued := make(map[string]struct{})
	for i := range items {
		if ctx.Err() != nil {
			return
		}
		m.handleProblemItem(ctx, log, &items[i], parentsQueued)
	}
	m.fillSlots(ctx)
}

func (m *Monitor) handleProblemItem(ctx context.Context, log zerolog.Logger, item *riven.MediaItem, parentsQueued map[string]struct{}) {
	if !item.IsReleased(time.Now()) {
		log.Debug().Str("item", item.DisplayName()).Str("aired", item.AiredAt).Msg("Not released yet, skipping")
		return
	}
	if !m.cfg.IsProblemState(item.State) {
		// The item moved on between listing and handling.
		m.forgetTracker(string(item.ID))
		return
	}

	key := string(item.ID)
	effective := *item
	if item.IsSeasonOrEpisode() {
		tmdbID, tvdbID := item.ParentShowIDs()
		if tmdbID == "" && tvdbID == "" {
			log.Warn().Str("item", item.DisplayName()).Msg("Season or episode without parent IDs, skipping")
			return
		}
		key = state.PseudoKey(tmdbID, tvdbID)
		if _, queued := parentsQueued[key]; queued {
			return
		}
		parentsQueued[key] = struct{}{}
		effective = pseudoShowItem(item, key, tmdbID, tvdbID)
	}

	if m.store.IsProcessed(key) {
		log.Debug().Str("key", key).Msg("Already processed, skipping")
		return
	}

	m.mu.Lock()
	tracker, ok := m.trackers[key]
	if !ok {
		tracker = &state.ItemTracker{ItemID: key, Item: effective}
		m.trackers[key] = tracker
		m.store.SetTracker(tracker)
		m.mu.Unlock()
		log.Info().Str("key", key).Str("item", effective.DisplayName()).Str("state", effective.State).Msg("Tracking new problem item")
	} else {
		tracker.Item = effective
		m.mu.Unlock()
	}

	m.advanceItem(ctx, log, tracker)
}

// advanceItem moves one tracked item a step forward: wait on a live
// download, feed remaining candidates, retry through Riven, or scrape.
func (m *Monitor) advanceItem(ctx context.Context, log zerolog.Logger, tracker *state.ItemTracker) {
	m.mu.Lock()
	busy := m.hasLiveDownloadLocked(tracker.ItemID)
	scrapeStarted := tracker.ManualScrapeStarted
	pending := tracker.HasPendingStreams()
	retries := tracker.RetryCount
	m.mu.Unlock()

	if busy {
		return
	}
	if scrapeStarted {
		if pending {
			// The slot filler owns the remaining candidates.
			return
		}
		m.abandonItem(log, tracker)
		return
	}
	if !m.cfg.SkipRivenRetry && retries < m.cfg.MaxRivenRetries {
		m.libraryRetry(ctx, log, tracker)
		return
	}
	m.beginManualScrape(ctx, log, tracker)
}

// libraryRetry re-adds the item through Riven, at most once per
// RETRY_INTERVAL. The attempt is persisted before any call goes out so a
// crash cannot turn into a retry storm.
func (m *Monitor) libraryRetry(ctx context.Context, log zerolog.Logger, tracker *state.ItemTracker) {
	m.mu.Lock()
	if !tracker.LastRetry.IsZero() && time.Since(tracker.LastRetry.Time) <= m.cfg.RetryInterval {
		m.mu.Unlock()
		return
	}
	tracker.RetryCount++
	tracker.LastRetry = state.Timestamp{Time: time.Now()}
	attempt := tracker.RetryCount
	item := tracker.Item
	pseudo := tracker.IsPseudo()
	m.store.SetTracker(tracker)
	m.mu.Unlock()

	log.Info().
		Str("item", item.DisplayName()).
		Int("attempt", attempt).
		Int("max", m.cfg.MaxRivenRetries).
		Msg("Retrying item through Riven")

	if pseudo {
		// Pseudo items have no Riven ID to remove, re-adding by the
		// parent's external IDs is enough to reset the show.
		m.library.AddItem(ctx, string(item.TmdbID), string(item.TvdbID), item.Type)
		return
	}
	if !m.library.RemoveItem(ctx, string(item.ID)) {
		log.Warn().Str("item", item.DisplayName()).Msg("Remove before re-add failed, adding anyway")
	}
	m.library.AddItem(ctx, string(item.TmdbID), string(item.TvdbID), item.Type)
}

// beginManualScrape flips the tracker into the scraping phase, fetches
// candidate streams and stores the ranked shortlist.
func (m *Monitor) beginManualScrape(ctx context.Context, log zerolog.Logger, tracker *state.ItemTracker) {
	m.mu.Lock()
	if tracker.ManualScrapeStarted {
		m.mu.Unlock()
		return
	}
	tracker.ManualScrapeStarted = true
	item := tracker.Item
	m.store.SetTracker(tracker)
	m.mu.Unlock()

	log.Info().Str("item", item.DisplayName()).Msg("Riven retries exhausted, scraping directly")

	tmdbID, tvdbID, imdbID := scrapeTarget(&item)
	streams, err := m.library.ScrapeItem(ctx, tmdbID, tvdbID, imdbID, item.Type)
	if err != nil {
		log.Error().Err(err).Str("item", item.DisplayName()).Msg("Scrape failed, abandoning item")
		m.abandonItem(log, tracker)
		return
	}
	shortlist := rankStreams(streams, m.cfg.MaxRDTorrents)
	if len(shortlist) == 0 {
		log.Warn().Str("item", item.DisplayName()).Msg("Scrape returned no usable streams, abandoning item")
		m.abandonItem(log, tracker)
		return
	}

	m.mu.Lock()
	tracker.Streams = shortlist
	tracker.StreamIndex = 0
	m.store.SetTracker(tracker)
	m.mu.Unlock()
	log.Info().Str("item", item.DisplayName()).Int("streams", len(shortlist)).Msg("Candidate streams ready")

	m.fillSlots(ctx)
}

// abandonItem gives up on an item: its tracker goes away and the key is
// marked processed so later scans skip it. Items with a download still in
// flight are never abandoned.
func (m *Monitor) abandonItem(log zerolog.Logger, tracker *state.ItemTracker) {
	m.mu.Lock()
	if m.hasLiveDownloadLocked(tracker.ItemID) {
		m.mu.Unlock()
		return
	}
	delete(m.trackers, tracker.ItemID)
	m.store.RemoveTracker(tracker.ItemID)
	m.mu.Unlock()
	m.store.AddProcessed(tracker.ItemID)
	log.Info().Str("key", tracker.ItemID).Str("item", tracker.Item.DisplayName()).Msg("Item abandoned, marked processed")
}

func (m *Monitor) forgetTracker(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trackers[key]; !ok {
		return
	}
	delete(m.trackers, key)
	m.store.RemoveTracker(key)
	m.logger.Info().Str("key", key).Msg("Item left its problem state, dropping tracker")
}

// pseudoShowItem synthesizes the parent-show item a season or episode is
// tracked under.
func pseudoShowItem(child *riven.MediaItem, key, tmdbID, tvdbID string) riven.MediaItem {
	title := child.ParentTitle
	if title == "" {
		title = child.Title
	}
	return riven.MediaItem{
		ID:     riven.StringID(key),
		Title:  title,
		State:  child.State,
		Type:   "show",
		TmdbID: riven.StringID(tmdbID),
		TvdbID: riven.StringID(tvdbID),
	}
}

// scrapeTarget picks the external IDs a scrape should use: the parent's
// for seasons and episodes, the item's own otherwise.
func scrapeTarget(item *riven.MediaItem) (tmdbID, tvdbID, imdbID string) {
	if item.IsSeasonOrEpisode() {
		if item.ParentIDs == nil {
			return "", "", ""
		}
		return string(item.ParentIDs.TmdbID), string(item.ParentIDs.TvdbID), string(item.ParentIDs.ImdbID)
	}
	return string(item.TmdbID), string(item.TvdbID), string(item.ImdbID)
}

// rankStreams orders scraped streams by rank, best first, and truncates to
// the per-item cap. Stream IDs break ties so the order is stable across
// runs, and streams without an infohash are unusable and dropped.
func rankStreams(streams map[string]riven.Stream, limit int) []riven.Stream {
	ids := make([]string, 0, len(streams))
	for id, stream := range streams {
		if stream.Infohash == "" {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	ranked := make([]riven.Stream, 0, len(ids))
	for _, id := range ids {
		ranked = append(ranked, streams[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rank > ranked[j].Rank
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
