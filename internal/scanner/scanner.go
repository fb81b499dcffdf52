// Package scanner walks artist folders, filters out junk and unchanged
// files, and feeds the remainder through identification, decisioning and
// import.
package scanner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/decision"
	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/filesystem"
	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/importer"
	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/pathutil"
)

var mediaExtensions = map[string]bool{
	".flac": true,
	".mp3":  true,
	".m4a":  true,
	".aac":  true,
	".wav":  true,
	".ogg":  true,
	".wma":  true,
}

// IsMediaFile reports whether the path has a recognized audio extension.
func IsMediaFile(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

// Options configures scan behavior.
type Options struct {
	// RemoveEmptyFolders deletes empty album folders after a scan.
	RemoveEmptyFolders bool
}

// Service scans artist folders and reconciles the file store with disk.
type Service struct {
	disk     filesystem.DiskProvider
	library  *library.Store
	files    *mediafile.Store
	identify *identification.Service
	engine   *decision.Engine
	importer *importer.Service
	bus      *events.Bus
	opts     Options
	logger   zerolog.Logger
}

// NewService creates a scanner.
func NewService(disk filesystem.DiskProvider, lib *library.Store, files *mediafile.Store,
	identify *identification.Service, engine *decision.Engine, imp *importer.Service,
	bus *events.Bus, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		disk:     disk,
		library:  lib,
		files:    files,
		identify: identify,
		engine:   engine,
		importer: imp,
		bus:      bus,
		opts:     opts,
		logger:   logger.With().Str("component", "scanner").Logger(),
	}
}

// ScanAll scans every artist in the library. Per-artist failures are logged
// and do not stop the run.
func (s *Service) ScanAll(ctx context.Context) error {
	artists, err := s.library.ListArtists(ctx)
	if err != nil {
		return fmt.Errorf("list artists: %w", err)
	}
	for i := range artists {
		if err := s.Scan(ctx, &artists[i]); err != nil {
			s.logger.Warn().Err(err).Str("artist", artists[i].Name).Msg("Scan failed")
		}
	}
	return nil
}

// Scan reconciles one artist folder with the file store.
func (s *Service) Scan(ctx context.Context, artist *library.Artist) error {
	if !s.disk.FolderExists(artist.Path) {
		// Missing root: known files are gone; remove their records and
		// stop. This is a warning, not an error.
		s.logger.Warn().Str("artist", artist.Name).Str("path", artist.Path).
			Msg("Artist folder does not exist, cleaning up stored files")
		return s.cleanupAll(ctx, artist)
	}

	empty, err := s.disk.IsFolderEmpty(artist.Path)
	if err != nil {
		return fmt.Errorf("check folder %q: %w", artist.Path, err)
	}
	if empty {
		// An empty root is likely a transient unmounted share; never wipe
		// records for it.
		s.logger.Warn().Str("artist", artist.Name).Str("path", artist.Path).
			Msg("Artist folder is empty, skipping scan")
		return nil
	}

	all, err := s.disk.GetFiles(artist.Path)
	if err != nil {
		return fmt.Errorf("enumerate %q: %w", artist.Path, err)
	}

	mediaFiles := filterMediaFiles(artist.Path, all)
	s.logger.Debug().Str("artist", artist.Name).Int("total", len(all)).
		Int("media", len(mediaFiles)).Msg("Enumerated artist folder")

	if err := s.cleanupMissing(ctx, artist, mediaFiles); err != nil {
		return err
	}

	candidates := make([]mediafile.FileInfo, len(mediaFiles))
	for i, f := range mediaFiles {
		candidates[i] = mediafile.FileInfo(f)
	}
	changed, err := s.files.FilterUnchangedFiles(ctx, artist.ID, artist.Path, candidates, mediafile.FilterKnown)
	if err != nil {
		return err
	}

	if len(changed) > 0 {
		scanned := make([]identification.ScannedFile, len(changed))
		for i, f := range changed {
			scanned[i] = identification.ScannedFile{
				Path:         f.Path,
				Size:         f.Size,
				Modified:     f.Modified,
				ExistingFile: true,
			}
		}
		releases, err := s.identify.Identify(ctx, scanned, identification.Options{Artist: artist})
		if err != nil {
			return fmt.Errorf("identify files for %q: %w", artist.Name, err)
		}
		decisions := s.engine.GetDecisions(ctx, releases)
		results := s.importer.Import(ctx, decisions, false, nil, importer.Move)
		s.storeUnmatched(ctx, artist, results)
	}

	if s.opts.RemoveEmptyFolders {
		s.removeEmptyFolders(artist.Path)
	}
	return nil
}

// storeUnmatched inserts records for rejected scan files so the library
// still tracks them; download imports never reach this path.
func (s *Service) storeUnmatched(ctx context.Context, artist *library.Artist, results []importer.ImportResult) {
	for _, r := range results {
		if r.Kind() != importer.Rejected {
			continue
		}
		local := r.Decision.Item
		rel, err := mediafile.RelativeTo(artist.Path, local.Path)
		if err != nil {
			continue
		}
		if existing, err := s.files.GetFileByRelativePath(ctx, artist.ID, rel); err == nil {
			existing.Size = local.Size
			existing.Modified = local.Modified
			existing.Quality = local.Quality
			if err := s.files.Update(ctx, existing); err != nil {
				s.logger.Warn().Err(err).Str("path", rel).Msg("Failed to update unmatched file")
			}
			continue
		}
		file := &mediafile.TrackFile{
			ArtistID:     artist.ID,
			RelativePath: rel,
			Size:         local.Size,
			Modified:     local.Modified,
			Quality:      local.Quality,
			Languages:    local.Languages,
		}
		if err := s.files.Add(ctx, file); err != nil {
			s.logger.Warn().Err(err).Str("path", rel).Msg("Failed to store unmatched file")
		}
	}
}

func (s *Service) cleanupAll(ctx context.Context, artist *library.Artist) error {
	known, err := s.files.GetFilesByArtist(ctx, artist.ID)
	if err != nil {
		return err
	}
	return s.deleteRecords(ctx, known)
}

// cleanupMissing removes records whose file is no longer on disk.
func (s *Service) cleanupMissing(ctx context.Context, artist *library.Artist, onDisk []filesystem.FileInfo) error {
	known, err := s.files.GetFilesByArtist(ctx, artist.ID)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(onDisk))
	for _, f := range onDisk {
		present[f.Path] = true
	}
	var missing []mediafile.TrackFile
	for _, f := range known {
		if !present[f.Path(artist.Path)] {
			missing = append(missing, f)
		}
	}
	return s.deleteRecords(ctx, missing)
}

func (s *Service) deleteRecords(ctx context.Context, files []mediafile.TrackFile) error {
	if len(files) == 0 {
		return nil
	}
	ids := make([]int64, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	if err := s.files.DeleteMany(ctx, ids); err != nil {
		return err
	}
	if err := s.library.ClearTrackFiles(ctx, ids); err != nil {
		return err
	}
	for _, f := range files {
		s.bus.Publish(ctx, events.TrackFileDeleted{File: f, Reason: events.DeleteReasonMissingFromDisk})
	}
	s.logger.Info().Int("count", len(files)).Msg("Removed records for files missing from disk")
	return nil
}

func (s *Service) removeEmptyFolders(root string) {
	dirs, err := s.disk.GetDirectories(root)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", root).Msg("Failed to list folders for cleanup")
		return
	}
	for _, dir := range dirs {
		s.removeEmptyFolders(dir)
		empty, err := s.disk.IsFolderEmpty(dir)
		if err != nil || !empty {
			continue
		}
		if err := s.disk.DeleteFolder(dir); err != nil {
			s.logger.Warn().Err(err).Str("path", dir).Msg("Failed to remove empty folder")
			continue
		}
		s.logger.Debug().Str("path", dir).Msg("Removed empty folder")
	}
}

// filterMediaFiles drops excluded paths and non-media extensions. Exclusion
// is by reserved names and prefixes, not by "any dotfile": a file like
// ".t01.flac" is kept.
func filterMediaFiles(root string, files []filesystem.FileInfo) []filesystem.FileInfo {
	rootBase := filepath.Base(root)
	var media []filesystem.FileInfo
	for _, f := range files {
		if !IsMediaFile(f.Path) {
			continue
		}
		if isExcluded(root, rootBase, f.Path) {
			continue
		}
		media = append(media, f)
	}
	return media
}

func isExcluded(root, rootBase, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return true
	}

	segments := strings.Split(pathutil.NormalizePath(rel), "/")
	dirs, name := segments[:len(segments)-1], segments[len(segments)-1]

	for _, seg := range dirs {
		lower := strings.ToLower(seg)
		if lower == "extras" || lower == "@eadir" || lower == "extrafanart" || lower == "plex versions" {
			return true
		}
		// Dot-folders are excluded, except an artist folder that itself
		// starts with a dot.
		if strings.HasPrefix(seg, ".") && seg != rootBase {
			return true
		}
	}

	switch {
	case name == ".DS_Store", name == "Thumbs.db":
		return true
	case strings.HasPrefix(name, "._"):
		return true
	case strings.HasSuffix(name, ".partial~"):
		return true
	}
	return false
}
