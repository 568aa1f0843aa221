package monitor

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/revivarr/revivarr/pkg/riven"
	"github.com/revivarr/revivarr/pkg/state"
)

func TestScan_RetriesThroughRiven(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	lib.items = []riven.MediaItem{movieItem("item1", "Some Movie", "12345")}
	ctx := context.Background()

	m.runScan(ctx)

	want := []string{"list limit=100", "remove item1", "add tmdb=12345 tvdb= type=movie"}
	if got := lib.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected calls %v, got %v", want, got)
	}
	tracker, ok := m.store.Trackers()["item1"]
	if !ok {
		t.Fatal("Expected a persisted tracker for item1")
	}
	if tracker.RetryCount != 1 {
		t.Errorf("Expected RetryCount 1, got %d", tracker.RetryCount)
	}
	if tracker.LastRetry.IsZero() {
		t.Error("Expected LastRetry to be stamped")
	}

	// A second pass inside the spacing window must not retry again.
	m.runScan(ctx)
	if got := lib.countCalls("add"); got != 1 {
		t.Errorf("Expected retry spacing to hold, got %d adds", got)
	}

	m.mu.Lock()
	m.trackers["item1"].LastRetry = state.Timestamp{Time: time.Now().Add(-11 * time.Minute)}
	m.mu.Unlock()
	m.runScan(ctx)
	if got := lib.countCalls("add"); got != 2 {
		t.Errorf("Expected a second retry after the window, got %d adds", got)
	}
	if got := m.store.Trackers()["item1"].RetryCount; got != 2 {
		t.Errorf("Expected RetryCount 2, got %d", got)
	}
}

func TestScan_ReleaseGateSkipsUnaired(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	unaired := movieItem("item1", "Future Movie", "111")
	unaired.AiredAt = time.Now().Add(48 * time.Hour).Format(time.RFC3339)
	aired := movieItem("item2", "Old Movie", "222")
	aired.AiredAt = time.Now().Add(-24 * time.Hour).Format(time.RFC3339)
	lib.items = []riven.MediaItem{unaired, aired}

	m.runScan(context.Background())

	trackers := m.store.Trackers()
	if _, ok := trackers["item1"]; ok {
		t.Error("Unaired item should not be tracked")
	}
	if _, ok := trackers["item2"]; !ok {
		t.Error("Aired item should be tracked")
	}
}

func TestScan_ProcessedItemSuppressed(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	m.store.AddProcessed("item1")
	lib.items = []riven.MediaItem{movieItem("item1", "Some Movie", "12345")}

	m.runScan(context.Background())

	if len(m.store.Trackers()) != 0 {
		t.Error("Processed item should not be tracked again")
	}
	if got := lib.countCalls("remove") + lib.countCalls("add"); got != 0 {
		t.Errorf("Expected no Riven mutations, got %d", got)
	}
}

func TestScan_DriftDropsTracker(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	seedTracker(m, "item1", movieItem("item1", "Some Movie", "12345"))
	drifted := movieItem("item1", "Some Movie", "12345")
	drifted.State = "Downloaded"
	lib.items = []riven.MediaItem{drifted}

	m.runScan(context.Background())

	if _, ok := m.store.Trackers()["item1"]; ok {
		t.Error("Tracker should be dropped when the item left its problem state")
	}
	if m.store.IsProcessed("item1") {
		t.Error("A drifted item must not be marked processed")
	}
}

func TestScan_ExhaustedRetriesScrapeAndFeed(t *testing.T) {
	m, lib, rd := newTestMonitor(t)
	m.cfg.MaxRivenRetries = 0
	lib.items = []riven.MediaItem{movieItem("item1", "Some Movie", "12345")}
	lib.streams = map[string]riven.Stream{
		"s1": {Infohash: hexHash("a"), RawTitle: "A", Rank: 50},
		"s2": {Infohash: hexHash("b"), RawTitle: "B", Rank: 100},
		"s3": {Infohash: hexHash("c"), RawTitle: "C", Rank: 10},
		"s4": {RawTitle: "hashless", Rank: 999},
	}

	m.runScan(context.Background())

	if got := lib.countCalls("scrape"); got != 1 {
		t.Fatalf("Expected 1 scrape, got %d", got)
	}
	wantOrder := []string{hexHash("b"), hexHash("a"), hexHash("c")}
	if got := rd.addedHashes(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("Expected magnets in rank order %v, got %v", wantOrder, got)
	}
	if got := rd.selectedIDs(); !reflect.DeepEqual(got, []string{"T1", "T2", "T3"}) {
		t.Errorf("Expected files selected on T1..T3, got %v", got)
	}
	tracker := m.store.Trackers()["item1"]
	if tracker == nil {
		t.Fatal("Expected the tracker to survive while downloads run")
	}
	if tracker.StreamIndex != 3 {
		t.Errorf("Expected StreamIndex 3, got %d", tracker.StreamIndex)
	}
	downloads := m.store.Downloads()
	if len(downloads) != 3 {
		t.Fatalf("Expected 3 live downloads, got %d", len(downloads))
	}
	for id, download := range downloads {
		if download.ItemID != "item1" {
			t.Errorf("Expected %s to belong to item1, got %s", id, download.ItemID)
		}
	}
	if got := len(m.slots); got != 3 {
		t.Errorf("Expected the slot pool exhausted, got %d in use", got)
	}
}

func TestScan_ScrapeFailureAbandons(t *testing.T) {
	m, lib, rd := newTestMonitor(t)
	m.cfg.MaxRivenRetries = 0
	lib.scrapeErr = errors.New("scraper exploded")
	lib.items = []riven.MediaItem{movieItem("item1", "Some Movie", "12345")}

	m.runScan(context.Background())

	if _, ok := m.store.Trackers()["item1"]; ok {
		t.Error("Tracker should be dropped after a failed scrape")
	}
	if !m.store.IsProcessed("item1") {
		t.Error("Item should be marked processed after abandonment")
	}
	if got := rd.countCalls("add_magnet"); got != 0 {
		t.Errorf("Expected no magnets, got %d", got)
	}
}

func TestScan_EmptyScrapeAbandons(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	m.cfg.MaxRivenRetries = 0
	lib.items = []riven.MediaItem{movieItem("item1", "Some Movie", "12345")}

	m.runScan(context.Background())

	if got := lib.countCalls("scrape"); got != 1 {
		t.Errorf("Expected 1 scrape, got %d", got)
	}
	if _, ok := m.store.Trackers()["item1"]; ok {
		t.Error("Tracker should be dropped when the scrape finds nothing")
	}
	if !m.store.IsProcessed("item1") {
		t.Error("Item should be marked processed after abandonment")
	}
}

func TestScan_EpisodesRollUpToParentShow(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	m.cfg.MaxRivenRetries = 0
	lib.items = []riven.MediaItem{
		episodeItem("ep1", "Some Show", "244418", "78191", 1, 1),
		episodeItem("ep2", "Some Show", "244418", "78191", 1, 2),
	}
	lib.streams = map[string]riven.Stream{
		"s1": {Infohash: hexHash("d"), RawTitle: "Season pack", Rank: 5},
	}

	m.runScan(context.Background())

	key := state.PseudoKey("244418", "78191")
	trackers := m.store.Trackers()
	if len(trackers) != 1 {
		t.Fatalf("Expected one rolled-up tracker, got %d", len(trackers))
	}
	tracker := trackers[key]
	if tracker == nil {
		t.Fatalf("Expected tracker under %s, got %v", key, trackers)
	}
	if tracker.Item.Type != "show" {
		t.Errorf("Expected pseudo item type show, got %s", tracker.Item.Type)
	}
	if tracker.Item.Title != "Some Show" {
		t.Errorf("Expected parent title, got %s", tracker.Item.Title)
	}
	if got := lib.countCalls("scrape"); got != 1 {
		t.Errorf("Expected one scrape for the rolled-up show, got %d", got)
	}
	if got := lib.countCalls("scrape tmdb=244418 tvdb=78191 type=show"); got != 1 {
		t.Errorf("Expected the scrape to target the parent show, calls %v", lib.callLog())
	}
	downloads := m.store.Downloads()
	if len(downloads) != 1 {
		t.Fatalf("Expected one download, got %d", len(downloads))
	}
	for _, download := range downloads {
		if download.ItemID != key {
			t.Errorf("Expected download keyed by %s, got %s", key, download.ItemID)
		}
	}
}

func TestScan_EpisodeWithoutParentIDsSkipped(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	orphan := episodeItem("ep1", "Some Show", "", "", 1, 3)
	orphan.ParentIDs = nil
	lib.items = []riven.MediaItem{orphan}

	m.runScan(context.Background())

	if len(m.store.Trackers()) != 0 {
		t.Error("Episode without parent IDs should be skipped")
	}
}

func TestScan_PseudoRetryAddsWithoutRemove(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	lib.items = []riven.MediaItem{episodeItem("ep1", "Some Show", "244418", "78191", 2, 4)}

	m.runScan(context.Background())

	want := []string{"list limit=100", "add tmdb=244418 tvdb=78191 type=show"}
	if got := lib.callLog(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected calls %v, got %v", want, got)
	}
	tracker := m.store.Trackers()[state.PseudoKey("244418", "78191")]
	if tracker == nil {
		t.Fatal("Expected a tracker for the rolled-up show")
	}
	if tracker.RetryCount != 1 {
		t.Errorf("Expected RetryCount 1, got %d", tracker.RetryCount)
	}
}

func TestScan_SkipRivenRetryGoesStraightToScrape(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	m.cfg.SkipRivenRetry = true
	lib.items = []riven.MediaItem{movieItem("item1", "Some Movie", "12345")}
	lib.streams = map[string]riven.Stream{
		"s1": {Infohash: hexHash("e"), RawTitle: "E", Rank: 1},
	}

	m.runScan(context.Background())

	if got := lib.countCalls("remove"); got != 0 {
		t.Errorf("Expected no removes, got %d", got)
	}
	if got := lib.countCalls("scrape"); got != 1 {
		t.Errorf("Expected 1 scrape, got %d", got)
	}
	tracker := m.store.Trackers()["item1"]
	if tracker == nil {
		t.Fatal("Expected a tracker for item1")
	}
	if tracker.RetryCount != 0 {
		t.Errorf("Expected no library retries, got %d", tracker.RetryCount)
	}
}

func TestScan_ListingFailureLeavesStateAlone(t *testing.T) {
	m, lib, _ := newTestMonitor(t)
	lib.listErr = errors.New("riven down")
	lib.items = []riven.MediaItem{movieItem("item1", "Some Movie", "12345")}

	m.runScan(context.Background())

	if len(m.store.Trackers()) != 0 {
		t.Error("A failed listing should not create trackers")
	}
	m.mu.Lock()
	lastScan := m.lastScan
	m.mu.Unlock()
	if !lastScan.IsZero() {
		t.Error("A failed listing should not count as a scan")
	}
}
