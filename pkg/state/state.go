package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/revivarr/revivarr/internal/logger"
	"github.com/rs/zerolog"
)

type document struct {
	ItemTrackers   map[string]*ItemTracker     `json:"item_trackers"`
	RDDownloads    map[string]*DownloadTracker `json:"rd_downloads"`
	ProcessedItems []string                    `json:"processed_items"`
}

// Store persists the engine's tables as a single JSON document. Every
// mutation rewrites the file through a temp-file rename, so a crash
// mid-write never corrupts the previous state.
type Store struct {
	path      string
	mu        sync.RWMutex
	doc       document
	processed map[string]struct{}
	logger    zerolog.Logger
}

func New(path string) (*Store, error) {
	s := &Store{
		path:      path,
		processed: make(map[string]struct{}),
		logger:    logger.New("state"),
	}
	s.doc = emptyDocument()

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		// Mounted data dirs cannot be replaced, keep the file inside
		s.path = filepath.Join(path, "state.json")
		s.logger.Warn().Str("path", path).Str("file", s.path).Msg("State path is a directory, using file inside it")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := s.flush(); err != nil {
			return nil, err
		}
		s.logger.Info().Str("path", s.path).Msg("Created new state file")
	}
	return s, nil
}

func emptyDocument() document {
	return document{
		ItemTrackers:   make(map[string]*ItemTracker),
		RDDownloads:    make(map[string]*DownloadTracker),
		ProcessedItems: make([]string, 0),
	}
}

// Load reads the document from disk. It reports whether prior state was
// restored; corrupt files log a warning and start fresh rather than
// aborting.
func (s *Store) Load() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Info().Str("path", s.path).Msg("No readable state file, starting fresh")
		return false
	}
	if len(data) == 0 {
		return false
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("State file is corrupt, starting fresh")
		return false
	}
	if doc.ItemTrackers == nil {
		doc.ItemTrackers = make(map[string]*ItemTracker)
	}
	if doc.RDDownloads == nil {
		doc.RDDownloads = make(map[string]*DownloadTracker)
	}
	s.doc = doc
	s.processed = make(map[string]struct{}, len(doc.ProcessedItems))
	for _, key := range doc.ProcessedItems {
		s.processed[key] = struct{}{}
	}
	s.logger.Info().
		Str("path", s.path).
		Int("trackers", len(doc.ItemTrackers)).
		Int("downloads", len(doc.RDDownloads)).
		Int("processed", len(doc.ProcessedItems)).
		Msg("Loaded state")
	return len(doc.ItemTrackers) > 0 || len(doc.RDDownloads) > 0 || len(doc.ProcessedItems) > 0
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) SetTracker(t *ItemTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ItemTrackers[t.ItemID] = t
	s.save()
}

func (s *Store) RemoveTracker(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.ItemTrackers[key]; !ok {
		return
	}
	delete(s.doc.ItemTrackers, key)
	s.save()
}

func (s *Store) SetDownload(d *DownloadTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.RDDownloads[d.TorrentID] = d
	s.save()
}

func (s *Store) RemoveDownload(torrentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.RDDownloads[torrentID]; !ok {
		return
	}
	delete(s.doc.RDDownloads, torrentID)
	s.save()
}

func (s *Store) AddProcessed(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[key]; ok {
		return
	}
	s.processed[key] = struct{}{}
	s.doc.ProcessedItems = append(s.doc.ProcessedItems, key)
	s.save()
}

// ResetProcessed clears the processed set. The engine never does this on
// its own; it exists for the operator surface.
func (s *Store) ResetProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed = make(map[string]struct{})
	s.doc.ProcessedItems = make([]string, 0)
	s.save()
}

func (s *Store) IsProcessed(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.processed[key]
	return ok
}

// Trackers returns the tracker table; the map is a copy, the records are
// shared with the engine.
func (s *Store) Trackers() map[string]*ItemTracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trackers := make(map[string]*ItemTracker, len(s.doc.ItemTrackers))
	for k, v := range s.doc.ItemTrackers {
		trackers[k] = v
	}
	return trackers
}

func (s *Store) Downloads() map[string]*DownloadTracker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	downloads := make(map[string]*DownloadTracker, len(s.doc.RDDownloads))
	for k, v := range s.doc.RDDownloads {
		downloads[k] = v
	}
	return downloads
}

func (s *Store) Processed() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	processed := make(map[string]struct{}, len(s.processed))
	for k := range s.processed {
		processed[k] = struct{}{}
	}
	return processed
}

func (s *Store) save() {
	if err := s.flush(); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("Failed to save state")
	}
}

func (s *Store) flush() error {
	sort.Strings(s.doc.ProcessedItems)
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
