package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/revivarr/revivarr/internal/config"
	"github.com/revivarr/revivarr/internal/logger"
	"github.com/revivarr/revivarr/pkg/realdebrid"
	"github.com/revivarr/revivarr/pkg/riven"
	"github.com/revivarr/revivarr/pkg/state"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// LibraryService is the slice of the Riven client the engine drives.
type LibraryService interface {
	HealthCheck(ctx context.Context) bool
	GetProblemItems(ctx context.Context, states []string, limit int) ([]riven.MediaItem, error)
	ScrapeItem(ctx context.Context, tmdbID, tvdbID, imdbID, mediaType string) (map[string]riven.Stream, error)
	RetryItem(ctx context.Context, itemID string) bool
	ResetItem(ctx context.Context, itemID string) bool
	RemoveItem(ctx context.Context, itemID string) bool
	AddItem(ctx context.Context, tmdbID, tvdbID, mediaType string) bool
	GetItemByIDs(ctx context.Context, tmdbID, tvdbID string) *riven.MediaItem
}

// DebridService is the slice of the Real-Debrid client the engine drives.
type DebridService interface {
	ValidateToken(ctx context.Context) (*realdebrid.Profile, error)
	ActiveCount(ctx context.Context) (*realdebrid.ActiveCount, error)
	AddMagnet(ctx context.Context, magnet string) (string, error)
	GetTorrentInfo(ctx context.Context, torrentID string) (*realdebrid.Torrent, error)
	SelectFiles(ctx context.Context, torrentID, files string) error
	DeleteTorrent(ctx context.Context, torrentID string) error
	GetTorrents(ctx context.Context, limit int) ([]*realdebrid.Torrent, error)
}

// Retry spacings, vars so tests can shrink them.
var (
	healthRetryDelay     = 5 * time.Second
	inventoryRetryDelay  = 2 * time.Second
	conversionProbeDelay = 2 * time.Second
)

// Monitor reconciles problem items between Riven and Real-Debrid. It runs
// three loops: the problem scan, the download watcher and the inventory
// cleanup, all sharing the tracker tables and the bounded slot pool.
type Monitor struct {
	cfg     *config.Config
	store   *state.Store
	library LibraryService
	debrid  DebridService
	logger  zerolog.Logger

	// mu guards the tables below. Never held across an HTTP call.
	mu        sync.Mutex
	trackers  map[string]*state.ItemTracker
	downloads map[string]*state.DownloadTracker
	cursor    int
	lastScan  time.Time
	lastSweep time.Time

	// fillMu serializes slot filling across the three loops.
	fillMu sync.Mutex
	slots  chan struct{}

	started time.Time
}

// New builds the engine around an already-loaded store. Slots held by
// downloads that survived a restart are re-acquired up front.
func New(cfg *config.Config, store *state.Store, library LibraryService, debrid DebridService) *Monitor {
	m := &Monitor{
		cfg:       cfg,
		store:     store,
		library:   library,
		debrid:    debrid,
		logger:    logger.New("monitor"),
		trackers:  store.Trackers(),
		downloads: store.Downloads(),
		slots:     make(chan struct{}, cfg.MaxActiveDownloads),
	}
	for torrentID := range m.downloads {
		if !m.acquireSlot() {
			// More restored downloads than slots, the overflow drains
			// as the watcher retires them.
			m.logger.Warn().Str("torrent", torrentID).Msg("Restored download exceeds the slot pool")
		}
	}
	if len(m.trackers) > 0 || len(m.downloads) > 0 {
		m.logger.Info().
			Int("trackers", len(m.trackers)).
			Int("downloads", len(m.downloads)).
			Msg("Resuming tracked work from the state file")
	}
	return m
}

// Start validates both upstreams and runs the three loops until the
// context is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.validateUpstreams(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.started = time.Now()
	m.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.scanLoop(gCtx)
	})
	g.Go(func() error {
		return m.downloadLoop(gCtx)
	})
	g.Go(func() error {
		return m.cleanupLoop(gCtx)
	})
	return g.Wait()
}

func (m *Monitor) validateUpstreams(ctx context.Context) error {
	healthy := false
	for attempt := 1; attempt <= 3; attempt++ {
		if m.library.HealthCheck(ctx) {
			healthy = true
			break
		}
		m.logger.Warn().Int("attempt", attempt).Str("url", m.cfg.RivenURL).Msg("Riven is not answering")
		if attempt < 3 {
			if err := m.sleep(ctx, healthRetryDelay); err != nil {
				return err
			}
		}
	}
	if !healthy {
		return fmt.Errorf("riven is unreachable at %s", m.cfg.RivenURL)
	}
	m.logger.Info().Msg("Riven connection validated")

	if m.cfg.SkipRDValidation {
		m.logger.Warn().Msg("Skipping Real-Debrid token validation")
		return nil
	}
	profile, err := m.debrid.ValidateToken(ctx)
	if err != nil {
		return fmt.Errorf("validating Real-Debrid token: %w", err)
	}
	m.logger.Info().Str("user", profile.Username).Str("plan", profile.Type).Msg("Real-Debrid token validated")

	count, err := m.debrid.ActiveCount(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Could not read the active torrent count")
		return nil
	}
	m.logger.Info().Int("active", count.Active).Int("limit", count.Limit).Msg("Real-Debrid active torrents")
	if free := count.Limit - count.Active; free < m.cfg.MaxActiveDownloads {
		m.logger.Warn().Int("free", free).Int("slots", m.cfg.MaxActiveDownloads).Msg("Fewer free service slots than the configured pool")
	}
	return nil
}

// downloadLoop polls every tracked Real-Debrid torrent and drives
// completion, failure and stuck handling.
func (m *Monitor) downloadLoop(ctx context.Context) error {
	m.logger.Info().Dur("interval", m.cfg.RDCheckInterval).Msg("Download watcher started")
	m.checkDownloads(ctx)

	ticker := time.NewTicker(m.cfg.RDCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("Download watcher stopped")
			return nil
		case <-ticker.C:
			m.checkDownloads(ctx)
		}
	}
}

func (m *Monitor) checkDownloads(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]*state.DownloadTracker, 0, len(m.downloads))
	for _, download := range m.downloads {
		snapshot = append(snapshot, download)
	}
	m.mu.Unlock()
	if len(snapshot) == 0 {
		return
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].TorrentID < snapshot[j].TorrentID
	})
	m.logger.Debug().Int("downloads", len(snapshot)).Msg("Checking debrid downloads")

	for _, download := range snapshot {
		if ctx.Err() != nil {
			return
		}
		m.checkDownload(ctx, download)
	}
}

func (m *Monitor) checkDownload(ctx context.Context, download *state.DownloadTracker) {
	log := m.logger.With().Str("torrent", download.TorrentID).Str("item", download.Name).Logger()

	torrent, err := m.debrid.GetTorrentInfo(ctx, download.TorrentID)
	if err != nil {
		if errors.Is(err, realdebrid.TorrentNotFoundError) {
			log.Warn().Msg("Torrent vanished from Real-Debrid, retiring download")
			m.retireDownload(download.TorrentID)
			m.fillSlots(ctx)
			return
		}
		log.Error().Err(err).Msg("Failed to fetch torrent info")
		return
	}

	switch {
	case torrent.IsComplete():
		log.Info().Str("file", torrent.Filename).Msg("Download complete, reapplying to Riven")
		m.reapplyCompleted(ctx, download, torrent)
		m.fillSlots(ctx)
	case torrent.IsFailed(), torrent.IsStalled():
		log.Warn().Str("status", torrent.Status).Msg("Download failed on Real-Debrid, deleting")
		if err := m.debrid.DeleteTorrent(ctx, download.TorrentID); err != nil {
			log.Error().Err(err).Msg("Failed to delete torrent")
		}
		m.retireDownload(download.TorrentID)
		m.fillSlots(ctx)
	case torrent.IsActive(), torrent.IsWaitingSelection(), torrent.IsConverting():
		elapsed := download.Elapsed(time.Now())
		if elapsed > m.cfg.RDMaxWait && torrent.Progress < 10 {
			log.Warn().
				Float64("progress", torrent.Progress).
				Dur("elapsed", elapsed).
				Msg("Download stuck below 10%, deleting")
			if err := m.debrid.DeleteTorrent(ctx, download.TorrentID); err != nil {
				log.Error().Err(err).Msg("Failed to delete torrent")
			}
			m.retireDownload(download.TorrentID)
			m.fillSlots(ctx)
			return
		}
		log.Debug().
			Float64("progress", torrent.Progress).
			Int("seeders", torrent.Seeders).
			Dur("elapsed", elapsed).
			Msg("Download in flight")
		m.mu.Lock()
		download.LastCheck = state.Timestamp{Time: time.Now()}
		m.store.SetDownload(download)
		m.mu.Unlock()
	default:
		log.Debug().Str("status", torrent.Status).Msg("Ignoring unhandled torrent status")
	}
}

// retireDownload drops the download record and frees its slot. The item
// tracker, when still present, is left alone so the slot filler can feed
// the item's next candidate.
func (m *Monitor) retireDownload(torrentID string) {
	m.mu.Lock()
	if _, ok := m.downloads[torrentID]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.downloads, torrentID)
	m.store.RemoveDownload(torrentID)
	m.mu.Unlock()
	m.releaseSlot()
}

func (m *Monitor) hasLiveDownloadLocked(itemID string) bool {
	for _, download := range m.downloads {
		if download.ItemID == itemID {
			return true
		}
	}
	return false
}

func (m *Monitor) acquireSlot() bool {
	select {
	case m.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (m *Monitor) releaseSlot() {
	select {
	case <-m.slots:
	default:
	}
}

// sleep waits for d unless the context ends first.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
