// Package importer materializes approved import decisions: it resolves
// move-vs-copy, supersedes upgraded files, writes files into the library and
// emits the import events history records.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/decision"
	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/filesystem"
	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/pathutil"
)

// Mode selects the file transfer policy.
type Mode int

const (
	// Auto moves unless the download client item reports it cannot release
	// its files, in which case it copies.
	Auto Mode = iota
	// Move always moves.
	Move
	// Copy always copies.
	Copy
)

// DownloadItem carries the download-client context of an import, when the
// batch originates from a completed download.
type DownloadItem struct {
	DownloadID     string
	DownloadClient string
	Title          string
	OutputPath     string
	CanMoveFiles   bool
}

// ResultKind classifies one import attempt.
type ResultKind int

const (
	Imported ResultKind = iota
	Skipped
	Rejected
)

func (k ResultKind) String() string {
	switch k {
	case Imported:
		return "imported"
	case Skipped:
		return "skipped"
	default:
		return "rejected"
	}
}

// ImportResult is the outcome of one attempted file.
type ImportResult struct {
	Decision     decision.ImportDecision
	Errors       []string
	ImportedFile *mediafile.TrackFile
}

// Kind derives the result class: Imported when there are no errors, Skipped
// when an approved decision failed, Rejected when the decision never was
// approved.
func (r ImportResult) Kind() ResultKind {
	if len(r.Errors) == 0 {
		return Imported
	}
	if r.Decision.Approved() {
		return Skipped
	}
	return Rejected
}

// Service applies import decisions.
type Service struct {
	files   *mediafile.Store
	library *library.Store
	disk    filesystem.DiskProvider
	bus     *events.Bus
	logger  zerolog.Logger
}

// NewService creates an import service.
func NewService(files *mediafile.Store, lib *library.Store, disk filesystem.DiskProvider, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		files:   files,
		library: lib,
		disk:    disk,
		bus:     bus,
		logger:  logger.With().Str("component", "importer").Logger(),
	}
}

// Import attempts every decision and returns one result per input decision.
// Individual failures never abort the batch.
func (s *Service) Import(ctx context.Context, decisions []decision.ImportDecision, newDownload bool, item *DownloadItem, mode Mode) []ImportResult {
	var results []ImportResult

	var approved []decision.ImportDecision
	for _, d := range decisions {
		if d.Approved() {
			approved = append(approved, d)
			continue
		}
		// Rejected decisions are converted straight to results without
		// touching disk.
		results = append(results, ImportResult{Decision: d, Errors: d.Reasons()})
	}

	copyOnly := mode == Copy || (mode == Auto && item != nil && !item.CanMoveFiles)

	importedTracks := make(map[int64]bool)
	for _, group := range groupByArtist(approved) {
		results = append(results, s.importGroup(ctx, group, newDownload, item, copyOnly, importedTracks)...)
	}
	return results
}

// importGroup processes one artist's decisions in deterministic order and
// emits the per-album imported event after all its files are attempted.
func (s *Service) importGroup(ctx context.Context, group []decision.ImportDecision, newDownload bool, item *DownloadItem, copyOnly bool, importedTracks map[int64]bool) []ImportResult {
	// Lowest track number first, then largest file, so duplicate tracks
	// resolve deterministically to the primary candidate.
	sort.SliceStable(group, func(i, j int) bool {
		a, b := group[i].Item, group[j].Item
		an, bn := firstTrackNumber(a), firstTrackNumber(b)
		if an != bn {
			return an < bn
		}
		return a.Size > b.Size
	})

	results := make([]ImportResult, 0, len(group))
	importedByAlbum := make(map[int64][]mediafile.TrackFile)

	for _, d := range group {
		result := ImportResult{Decision: d}

		if dup := duplicateTrack(d.Item, importedTracks); dup != 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("Track %d has already been imported", dup))
			results = append(results, result)
			continue
		}

		file, oldFiles, err := s.importFile(ctx, d.Item, newDownload, copyOnly)
		if err != nil {
			result.Errors = append(result.Errors, importFaultReason(d.Item, err))
			s.logger.Warn().Err(err).Str("path", d.Item.Path).Msg("Failed to import file")
			results = append(results, result)
			continue
		}

		for _, t := range d.Item.Tracks {
			importedTracks[t.ID] = true
		}
		result.ImportedFile = file
		results = append(results, result)
		if file.AlbumID != 0 {
			importedByAlbum[file.AlbumID] = append(importedByAlbum[file.AlbumID], *file)
		}

		imported := events.TrackFileImported{
			ImportedFile: *file,
			OldFiles:     oldFiles,
			SourcePath:   d.Item.Path,
			NewDownload:  newDownload,
		}
		if item != nil {
			imported.DownloadClient = item.DownloadClient
			imported.DownloadID = item.DownloadID
		}
		s.bus.Publish(ctx, imported)
	}

	// One album-imported event per album with at least one success,
	// regardless of how many files failed.
	for albumID, files := range importedByAlbum {
		e := events.AlbumImported{
			ArtistID:      files[0].ArtistID,
			AlbumID:       albumID,
			ImportedFiles: files,
			NewDownload:   newDownload,
		}
		if item != nil {
			e.DownloadID = item.DownloadID
		}
		s.bus.Publish(ctx, e)
	}
	return results
}

func (s *Service) importFile(ctx context.Context, local *identification.LocalTrack, newDownload bool, copyOnly bool) (*mediafile.TrackFile, []mediafile.TrackFile, error) {
	artist := local.Artist

	var relativePath string
	var oldFiles []mediafile.TrackFile

	if newDownload {
		if !s.disk.FolderExists(artist.Path) {
			return nil, nil, fmt.Errorf("artist folder %q: %w", artist.Path, os.ErrNotExist)
		}

		destination := s.destinationPath(local)
		if s.disk.FileExists(destination) {
			return nil, nil, fmt.Errorf("destination %q: %w", destination, os.ErrExist)
		}
		if err := s.disk.EnsureFolder(filepath.Dir(destination)); err != nil {
			return nil, nil, err
		}

		// Upgrades supersede the unit's existing files before the new one
		// lands; the removed files are reported on the import event.
		var err error
		oldFiles, err = s.upgrade(ctx, local)
		if err != nil {
			return nil, nil, err
		}

		if copyOnly {
			err = s.disk.CopyFile(local.Path, destination)
		} else {
			err = s.disk.MoveFile(local.Path, destination)
		}
		if err != nil {
			return nil, nil, err
		}

		relativePath, err = mediafile.RelativeTo(artist.Path, destination)
		if err != nil {
			return nil, nil, err
		}
	} else {
		// Existing file imported in place: replace any stale record at the
		// same relative path, no move and no upgrade.
		var err error
		relativePath, err = mediafile.RelativeTo(artist.Path, local.Path)
		if err != nil {
			return nil, nil, err
		}
		if stale, err := s.files.GetFileByRelativePath(ctx, artist.ID, relativePath); err == nil {
			if err := s.files.DeleteMany(ctx, []int64{stale.ID}); err != nil {
				return nil, nil, err
			}
		} else if !errors.Is(err, mediafile.ErrNotFound) {
			return nil, nil, err
		}
	}

	file := &mediafile.TrackFile{
		ArtistID:     artist.ID,
		RelativePath: relativePath,
		Size:         local.Size,
		Modified:     local.Modified,
		Quality:      local.Quality,
		Languages:    local.Languages,
		ReleaseGroup: local.ReleaseGroup,
		SceneName:    local.SceneName,
	}
	if local.Album != nil {
		file.AlbumID = local.Album.ID
	}
	for _, t := range local.Tracks {
		file.TrackIDs = append(file.TrackIDs, t.ID)
	}
	if err := s.files.Add(ctx, file); err != nil {
		return nil, nil, err
	}
	for _, t := range local.Tracks {
		if err := s.library.SetTrackFile(ctx, t.ID, file.ID); err != nil {
			s.logger.Warn().Err(err).Int64("trackId", t.ID).Msg("Failed to link track to file")
		}
	}

	s.logger.Info().Str("path", relativePath).Str("artist", artist.Name).
		Str("quality", file.Quality.String()).Msg("Imported track file")
	return file, oldFiles, nil
}

// upgrade removes existing files for the same track units, returning them so
// the caller can report them as superseded.
func (s *Service) upgrade(ctx context.Context, local *identification.LocalTrack) ([]mediafile.TrackFile, error) {
	var oldFiles []mediafile.TrackFile
	seen := make(map[int64]bool)
	for _, t := range local.Tracks {
		if t.TrackFileID == 0 || seen[t.TrackFileID] {
			continue
		}
		seen[t.TrackFileID] = true

		existing, err := s.files.Get(ctx, t.TrackFileID)
		if errors.Is(err, mediafile.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		path := existing.Path(local.Artist.Path)
		if s.disk.FileExists(path) {
			if err := s.disk.DeleteFile(path); err != nil {
				return nil, err
			}
		}
		if err := s.files.DeleteMany(ctx, []int64{existing.ID}); err != nil {
			return nil, err
		}
		if err := s.library.ClearTrackFiles(ctx, []int64{existing.ID}); err != nil {
			return nil, err
		}
		s.bus.Publish(ctx, events.TrackFileDeleted{File: *existing, Reason: events.DeleteReasonUpgrade})
		oldFiles = append(oldFiles, *existing)
	}
	return oldFiles, nil
}

// destinationPath builds ArtistPath/Album Title/NN - Title.ext, falling back
// to the source base name when no track metadata parsed.
func (s *Service) destinationPath(local *identification.LocalTrack) string {
	dir := local.Artist.Path
	if local.Album != nil {
		dir = filepath.Join(dir, pathutil.SanitizeFileName(local.Album.Title))
	}
	name := filepath.Base(local.Path)
	if info := local.FileTrackInfo; info.TrackNumber > 0 && info.Title != "" {
		name = fmt.Sprintf("%02d - %s%s", info.TrackNumber, pathutil.SanitizeFileName(info.Title), filepath.Ext(local.Path))
	}
	return filepath.Join(dir, name)
}

func duplicateTrack(local *identification.LocalTrack, imported map[int64]bool) int64 {
	for _, t := range local.Tracks {
		if imported[t.ID] {
			return t.ID
		}
	}
	return 0
}

func firstTrackNumber(local *identification.LocalTrack) int {
	if len(local.Tracks) > 0 {
		return local.Tracks[0].TrackNumber
	}
	return local.FileTrackInfo.TrackNumber
}

func groupByArtist(decisions []decision.ImportDecision) [][]decision.ImportDecision {
	byArtist := make(map[int64][]decision.ImportDecision)
	var order []int64
	for _, d := range decisions {
		id := d.Item.Artist.ID
		if _, ok := byArtist[id]; !ok {
			order = append(order, id)
		}
		byArtist[id] = append(byArtist[id], d)
	}
	groups := make([][]decision.ImportDecision, 0, len(order))
	for _, id := range order {
		groups = append(groups, byArtist[id])
	}
	return groups
}

// importFaultReason maps known filesystem failures to the distinct reasons
// surfaced to the user.
func importFaultReason(local *identification.LocalTrack, err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("Artist folder does not exist for %q", local.Path)
	case errors.Is(err, os.ErrExist):
		return fmt.Sprintf("Destination already exists for %q", local.Path)
	case errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("Permission denied importing %q", local.Path)
	default:
		return fmt.Sprintf("Failed to import %q: %v", local.Path, err)
	}
}
