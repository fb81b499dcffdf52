package importer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/decision"
	"github.com/driftarr/driftarr/internal/filesystem"
	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/library"
)

// ManualItem is one candidate file in a manual import preview. The ID
// correlates preview items with the commit request.
type ManualItem struct {
	ID         string   `json:"id"`
	Path       string   `json:"path"`
	Size       int64    `json:"size"`
	ArtistID   int64    `json:"artistId,omitempty"`
	AlbumID    int64    `json:"albumId,omitempty"`
	TrackIDs   []int64  `json:"trackIds,omitempty"`
	Quality    string   `json:"quality"`
	Rejections []string `json:"rejections,omitempty"`
	Approved   bool     `json:"approved"`
}

// ManualService builds import previews for a dropped folder and commits the
// user's selections.
type ManualService struct {
	disk     filesystem.DiskProvider
	library  *library.Store
	identify *identification.Service
	engine   *decision.Engine
	importer *Service
	logger   zerolog.Logger

	// preview decisions held between GetMediaFiles and Commit, keyed by item id.
	pending map[string]decision.ImportDecision
}

// NewManualService creates the manual import service.
func NewManualService(disk filesystem.DiskProvider, lib *library.Store,
	identify *identification.Service, engine *decision.Engine, imp *Service,
	logger zerolog.Logger) *ManualService {
	return &ManualService{
		disk:     disk,
		library:  lib,
		identify: identify,
		engine:   engine,
		importer: imp,
		logger:   logger.With().Str("component", "manualImport").Logger(),
		pending:  make(map[string]decision.ImportDecision),
	}
}

// GetMediaFiles previews a folder: every media file with its identification
// result and decision, approved or not, so the user can correct matches
// before committing.
func (s *ManualService) GetMediaFiles(ctx context.Context, path string, artistID int64) ([]ManualItem, error) {
	if !s.disk.FolderExists(path) {
		return nil, fmt.Errorf("folder %q does not exist", path)
	}

	var artist *library.Artist
	if artistID != 0 {
		var err error
		artist, err = s.library.GetArtist(ctx, artistID)
		if err != nil {
			return nil, fmt.Errorf("load artist %d: %w", artistID, err)
		}
	}

	files, err := s.disk.GetFiles(path)
	if err != nil {
		return nil, err
	}
	scanned := make([]identification.ScannedFile, 0, len(files))
	for _, f := range files {
		scanned = append(scanned, identification.ScannedFile{
			Path:     f.Path,
			Size:     f.Size,
			Modified: f.Modified,
		})
	}

	releases, err := s.identify.Identify(ctx, scanned, identification.Options{
		Artist:      artist,
		NewDownload: true,
	})
	if err != nil {
		return nil, err
	}
	decisions := s.engine.GetDecisions(ctx, releases)

	items := make([]ManualItem, 0, len(decisions))
	for _, d := range decisions {
		item := s.toItem(d)
		s.pending[item.ID] = d
		items = append(items, item)
	}
	return items, nil
}

// ReprocessItem re-runs identification and decisioning for one previewed
// file with a corrected artist or album, replacing the held decision.
func (s *ManualService) ReprocessItem(ctx context.Context, itemID string, artistID, albumID int64) (ManualItem, error) {
	held, ok := s.pending[itemID]
	if !ok {
		return ManualItem{}, fmt.Errorf("unknown manual import item %q", itemID)
	}

	artist, err := s.library.GetArtist(ctx, artistID)
	if err != nil {
		return ManualItem{}, fmt.Errorf("load artist %d: %w", artistID, err)
	}
	opts := identification.Options{Artist: artist, NewDownload: true, SingleRelease: true}
	if albumID != 0 {
		album, err := s.library.GetAlbum(ctx, albumID)
		if err != nil {
			return ManualItem{}, fmt.Errorf("load album %d: %w", albumID, err)
		}
		opts.Album = album
	}

	local := held.Item
	releases, err := s.identify.Identify(ctx, []identification.ScannedFile{{
		Path:     local.Path,
		Size:     local.Size,
		Modified: local.Modified,
	}}, opts)
	if err != nil {
		return ManualItem{}, err
	}
	decisions := s.engine.GetDecisions(ctx, releases)
	if len(decisions) == 0 {
		return ManualItem{}, fmt.Errorf("no decision produced for %q", local.Path)
	}

	item := s.toItem(decisions[0])
	item.ID = itemID
	s.pending[itemID] = decisions[0]
	return item, nil
}

// Commit imports the selected preview items. Items whose decisions were
// rejected come back as rejected results rather than being silently
// dropped.
func (s *ManualService) Commit(ctx context.Context, itemIDs []string, mode Mode) ([]ImportResult, error) {
	decisions := make([]decision.ImportDecision, 0, len(itemIDs))
	for _, id := range itemIDs {
		d, ok := s.pending[id]
		if !ok {
			return nil, fmt.Errorf("unknown manual import item %q", id)
		}
		decisions = append(decisions, d)
	}

	results := s.importer.Import(ctx, decisions, true, nil, mode)
	for _, id := range itemIDs {
		delete(s.pending, id)
	}
	s.logger.Info().Int("files", len(results)).Msg("Manual import committed")
	return results, nil
}

func (s *ManualService) toItem(d decision.ImportDecision) ManualItem {
	local := d.Item
	item := ManualItem{
		ID:       uuid.NewString(),
		Path:     filepath.Clean(local.Path),
		Size:     local.Size,
		Quality:  local.Quality.String(),
		Approved: d.Approved(),
	}
	if local.Artist != nil {
		item.ArtistID = local.Artist.ID
	}
	if local.Album != nil {
		item.AlbumID = local.Album.ID
	}
	for _, t := range local.Tracks {
		item.TrackIDs = append(item.TrackIDs, t.ID)
	}
	item.Rejections = d.Reasons()
	return item
}
