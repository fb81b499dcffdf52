package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/scanner"
)

// Service watches every artist folder and rescans an artist when files under
// its path change. Batches that touch several artists trigger one scan each.
type Service struct {
	watcher *Watcher
	library *library.Store
	scanner *scanner.Service
	logger  zerolog.Logger

	mu      sync.Mutex
	watched map[int64]string
}

// NewService creates the watcher service.
func NewService(lib *library.Store, scan *scanner.Service, config Config, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		library: lib,
		scanner: scan,
		logger:  logger.With().Str("component", "watcherService").Logger(),
		watched: make(map[int64]string),
	}
	w, err := New(config, s.handleBatch, logger)
	if err != nil {
		return nil, err
	}
	s.watcher = w
	return s, nil
}

// Start watches every artist folder currently in the library.
func (s *Service) Start(ctx context.Context) error {
	artists, err := s.library.ListArtists(ctx)
	if err != nil {
		return err
	}
	for _, artist := range artists {
		if err := s.WatchArtist(artist.ID, artist.Path); err != nil {
			s.logger.Warn().Err(err).Str("artist", artist.Name).Str("path", artist.Path).
				Msg("Failed to watch artist folder")
		}
	}
	s.watcher.Start()
	s.logger.Info().Int("artists", len(artists)).Msg("Watching artist folders")
	return nil
}

// Stop shuts the underlying watcher down.
func (s *Service) Stop() error {
	return s.watcher.Stop()
}

// WatchArtist adds one artist folder to the watch set.
func (s *Service) WatchArtist(artistID int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.watched[artistID]; ok {
		return nil
	}
	if err := s.watcher.AddPath(path); err != nil {
		return err
	}
	s.watched[artistID] = path
	return nil
}

// UnwatchArtist removes an artist folder from the watch set, typically after
// the artist is deleted.
func (s *Service) UnwatchArtist(artistID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.watched[artistID]
	if !ok {
		return
	}
	s.watcher.RemovePath(path)
	delete(s.watched, artistID)
}

// handleBatch maps a debounced batch to the artists it touched and scans
// each once.
func (s *Service) handleBatch(events []FileEvent) {
	ctx := context.Background()
	for artistID := range s.artistsForEvents(events) {
		artist, err := s.library.GetArtist(ctx, artistID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("artistId", artistID).Msg("Failed to load artist for rescan")
			continue
		}
		s.logger.Info().Str("artist", artist.Name).Msg("Rescanning after filesystem change")
		if err := s.scanner.Scan(ctx, artist); err != nil {
			s.logger.Warn().Err(err).Str("artist", artist.Name).Msg("Change-triggered scan failed")
		}
	}
}

func (s *Service) artistsForEvents(events []FileEvent) map[int64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	artists := make(map[int64]bool)
	for _, e := range events {
		for id, root := range s.watched {
			if strings.HasPrefix(e.Path, root+string(filepath.Separator)) {
				artists[id] = true
				break
			}
		}
	}
	return artists
}
