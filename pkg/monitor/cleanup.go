package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/revivarr/revivarr/internal/utils"
	"github.com/revivarr/revivarr/pkg/realdebrid"
)

const (
	// inventoryListLimit caps one sweep's view of the RD torrent list.
	inventoryListLimit = 100
	// orphanSelectionAge is how long an untracked torrent may sit in
	// waiting_files_selection before a sweep removes it.
	orphanSelectionAge = time.Hour
)

// cleanupLoop sweeps the Real-Debrid inventory once at startup and then on
// the configured schedule.
func (m *Monitor) cleanupLoop(ctx context.Context) error {
	m.logger.Info().Str("schedule", m.cfg.CleanupSchedule).Msg("Inventory cleanup scheduled")
	m.runCleanup(ctx)

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return fmt.Errorf("creating cleanup scheduler: %w", err)
	}
	jd, err := utils.ScheduleJobDef(m.cfg.CleanupSchedule)
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", m.cfg.CleanupSchedule, err)
	}
	if _, err := scheduler.NewJob(jd, gocron.NewTask(func() {
		m.runCleanup(ctx)
	})); err != nil {
		return fmt.Errorf("scheduling cleanup: %w", err)
	}
	scheduler.Start()

	<-ctx.Done()
	if err := scheduler.StopJobs(); err != nil {
		m.logger.Error().Err(err).Msg("Error stopping cleanup scheduler")
	}
	if err := scheduler.Shutdown(); err != nil {
		m.logger.Error().Err(err).Msg("Error shutting down cleanup scheduler")
	}
	m.logger.Debug().Msg("Inventory cleanup stopped")
	return nil
}

func (m *Monitor) runCleanup(ctx context.Context) {
	torrents, err := m.listInventory(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Inventory listing failed, skipping sweep")
		return
	}
	m.mu.Lock()
	m.lastSweep = time.Now()
	m.mu.Unlock()
	m.logger.Debug().Int("torrents", len(torrents)).Msg("Sweeping Real-Debrid inventory")

	now := time.Now()
	active := make([]*realdebrid.Torrent, 0, len(torrents))
	removed := 0
	for _, torrent := range torrents {
		if ctx.Err() != nil {
			return
		}
		tracked := m.isTracked(torrent.ID)
		switch {
		case torrent.IsFailed(), torrent.IsStalled():
			m.deleteFromInventory(ctx, torrent, "failed or dead")
			removed++
		case torrent.IsWaitingSelection():
			if !tracked && olderThan(torrent, now, orphanSelectionAge) {
				m.deleteFromInventory(ctx, torrent, "orphaned selection")
				removed++
			}
		case torrent.IsActive():
			if !tracked && torrent.Progress < 5 && olderThan(torrent, now, m.cfg.RDStuckThreshold) {
				m.deleteFromInventory(ctx, torrent, "stuck without owner")
				removed++
				continue
			}
			active = append(active, torrent)
		}
	}
	removed += m.enforceActiveCap(ctx, active)

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("Inventory sweep finished")
	}
	m.fillSlots(ctx)
}

// listInventory fetches the torrent list, riding out transient failures
// with two further attempts.
func (m *Monitor) listInventory(ctx context.Context) ([]*realdebrid.Torrent, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			if err := m.sleep(ctx, inventoryRetryDelay); err != nil {
				return nil, err
			}
		}
		torrents, err := m.debrid.GetTorrents(ctx, inventoryListLimit)
		if err == nil {
			return torrents, nil
		}
		lastErr = err
		m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Torrent listing failed")
	}
	return nil, lastErr
}

// enforceActiveCap trims the active set down to MAX_ACTIVE_DOWNLOADS,
// sacrificing untracked and least-progressed torrents first.
func (m *Monitor) enforceActiveCap(ctx context.Context, active []*realdebrid.Torrent) int {
	excess := len(active) - m.cfg.MaxActiveDownloads
	if excess <= 0 {
		return 0
	}
	sort.SliceStable(active, func(i, j int) bool {
		ti, tj := m.isTracked(active[i].ID), m.isTracked(active[j].ID)
		if ti != tj {
			return !ti
		}
		return active[i].Progress < active[j].Progress
	})
	m.logger.Warn().
		Int("active", len(active)).
		Int("cap", m.cfg.MaxActiveDownloads).
		Msg("Too many active torrents, trimming the excess")

	removed := 0
	for _, torrent := range active[:excess] {
		if ctx.Err() != nil {
			break
		}
		m.deleteFromInventory(ctx, torrent, "over active cap")
		removed++
	}
	return removed
}

func (m *Monitor) deleteFromInventory(ctx context.Context, torrent *realdebrid.Torrent, reason string) {
	m.logger.Info().
		Str("torrent", torrent.ID).
		Str("file", torrent.Filename).
		Str("status", torrent.Status).
		Str("reason", reason).
		Msg("Deleting torrent from Real-Debrid")
	if err := m.debrid.DeleteTorrent(ctx, torrent.ID); err != nil {
		m.logger.Error().Err(err).Str("torrent", torrent.ID).Msg("Failed to delete torrent")
		return
	}
	// No-op for torrents the engine never tracked.
	m.retireDownload(torrent.ID)
}

func (m *Monitor) isTracked(torrentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.downloads[torrentID]
	return ok
}

func olderThan(torrent *realdebrid.Torrent, now time.Time, age time.Duration) bool {
	added := torrent.AddedTime()
	if added.IsZero() {
		return false
	}
	return now.Sub(added) > age
}
