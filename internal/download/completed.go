package download

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/decision"
	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/filesystem"
	"github.com/driftarr/driftarr/internal/history"
	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/importer"
	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/parser"
)

// CompletedService moves completed downloads through import: Check gates
// the Downloading to ImportPending transition, Import runs the decision and
// import pipeline on the output path, and VerifyImport settles the terminal
// state.
type CompletedService struct {
	history  *history.Service
	library  *library.Store
	identify *identification.Service
	engine   *decision.Engine
	importer *importer.Service
	disk     filesystem.DiskProvider
	bus      *events.Bus
	logger   zerolog.Logger
}

// NewCompletedService creates the completion service.
func NewCompletedService(hist *history.Service, lib *library.Store, identify *identification.Service,
	engine *decision.Engine, imp *importer.Service, disk filesystem.DiskProvider,
	bus *events.Bus, logger zerolog.Logger) *CompletedService {
	return &CompletedService{
		history:  hist,
		library:  lib,
		identify: identify,
		engine:   engine,
		importer: imp,
		disk:     disk,
		bus:      bus,
		logger:   logger.With().Str("component", "completedDownloads").Logger(),
	}
}

// Check promotes a completed download to ImportPending once its output path
// is known and it can be matched to a library entity. Anything short of
// that is "not yet", not a failure; only an outright match failure moves
// the download to Warning.
func (s *CompletedService) Check(ctx context.Context, td *TrackedDownload) {
	if td.State != StateDownloading {
		return
	}
	if td.Item.Status != StatusCompleted || td.Item.OutputPath == "" {
		return
	}

	grab, err := s.history.MostRecentByDownloadID(ctx, td.DownloadID)
	if err != nil {
		s.logger.Warn().Err(err).Str("downloadId", td.DownloadID).Msg("Failed to load grab history")
		return
	}
	if td.Item.Category == "" && grab == nil {
		// Neither a category hint nor a grab of ours: not our download.
		return
	}

	if td.Artist == nil {
		s.resolveEntity(ctx, td, grab)
	}
	if td.Artist == nil {
		td.setStatusMessage("Unable to match download to a library artist")
		td.TransitionTo(StateWarning)
		s.logger.Warn().Str("downloadId", td.DownloadID).Str("title", td.Item.Title).
			Msg("Completed download could not be matched")
		return
	}

	td.TransitionTo(StateImportPending)
}

// resolveEntity matches the client item's title directly, then falls back
// to the grabbed history title for externally initiated downloads.
func (s *CompletedService) resolveEntity(ctx context.Context, td *TrackedDownload, grab *history.Record) {
	titles := []string{td.Item.Title}
	if grab != nil && grab.SourceTitle != "" {
		titles = append(titles, grab.SourceTitle)
	}
	for _, title := range titles {
		info := parser.ParseAlbumTitle(title)
		if info.ArtistName == "" {
			continue
		}
		artist, err := s.library.GetArtistByCleanName(ctx, info.ArtistName)
		if err != nil {
			continue
		}
		var album *library.Album
		if grab != nil && grab.AlbumID != 0 {
			if a, err := s.library.GetAlbum(ctx, grab.AlbumID); err == nil {
				album = a
			}
		}
		td.setEntity(artist, album, title)
		return
	}
}

// Import runs the full pipeline against the download's output path and
// settles the tracked state from the results.
func (s *CompletedService) Import(ctx context.Context, td *TrackedDownload) {
	if td.State != StateImportPending {
		return
	}

	files, err := s.disk.GetFiles(td.Item.OutputPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", td.Item.OutputPath).Msg("Failed to read download output")
		td.setStatusMessage("Unable to read download output path")
		td.TransitionTo(StateWarning)
		return
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
		Artist:        td.Artist,
		Album:         td.Album,
		DownloadTitle: td.SourceTitle,
		NewDownload:   true,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("downloadId", td.DownloadID).Msg("Identification failed")
		return
	}

	decisions := s.engine.GetDecisions(ctx, releases)
	item := &importer.DownloadItem{
		DownloadID:     td.DownloadID,
		DownloadClient: td.Client,
		Title:          td.Item.Title,
		OutputPath:     td.Item.OutputPath,
		CanMoveFiles:   td.Item.CanMoveFiles,
	}
	results := s.importer.Import(ctx, decisions, true, item, importer.Auto)
	s.VerifyImport(ctx, td, results)
}

// VerifyImport decides the terminal state from a batch of import results.
// Zero results or zero successes fail the import; full success imports it;
// a partial import is settled against history so multi-disc releases can
// complete across repeated runs.
func (s *CompletedService) VerifyImport(ctx context.Context, td *TrackedDownload, results []importer.ImportResult) {
	imported := 0
	for _, r := range results {
		if r.Kind() == importer.Imported {
			imported++
		}
	}

	if imported == 0 {
		td.setStatusMessage("No files were imported")
		if td.TransitionTo(StateImportFailed) {
			s.logger.Warn().Str("downloadId", td.DownloadID).Int("results", len(results)).
				Msg("Import failed, no files imported")
		}
		return
	}

	if imported == len(results) || s.allTracksAccounted(ctx, td) {
		if td.TransitionTo(StateImported) {
			s.bus.Publish(ctx, events.DownloadCompleted{
				ArtistID:    artistID(td),
				AlbumIDs:    td.AlbumIDs(),
				SourceTitle: td.SourceTitle,
				DownloadID:  td.DownloadID,
			})
			s.logger.Info().Str("downloadId", td.DownloadID).Int("imported", imported).
				Msg("Download imported")
		}
		return
	}

	// Partial import with unaccounted tracks: stay pending and record the
	// shortfall for the audit trail.
	td.setStatusMessage("Download imported partially")
	s.bus.Publish(ctx, events.AlbumImportIncomplete{
		ArtistID:    artistID(td),
		AlbumIDs:    td.AlbumIDs(),
		SourceTitle: td.SourceTitle,
		DownloadID:  td.DownloadID,
	})
}

// allTracksAccounted checks prior history for the download id: when the
// distinct track ids imported across all runs cover the album, the download
// is complete even though this batch was partial.
func (s *CompletedService) allTracksAccounted(ctx context.Context, td *TrackedDownload) bool {
	if td.Album == nil {
		return false
	}
	tracks, err := s.library.GetTracksByAlbum(ctx, td.Album.ID)
	if err != nil || len(tracks) == 0 {
		return false
	}

	records, err := s.history.FindByDownloadID(ctx, td.DownloadID)
	if err != nil {
		return false
	}
	importedTracks := make(map[int64]bool)
	for _, r := range records {
		if r.EventType != history.EventTrackFileImported {
			continue
		}
		for _, id := range parseTrackIDs(r.Data["trackIds"]) {
			importedTracks[id] = true
		}
	}

	for _, t := range tracks {
		if !importedTracks[t.ID] {
			return false
		}
	}
	return true
}

func parseTrackIDs(csv string) []int64 {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		if id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func artistID(td *TrackedDownload) int64 {
	if td.Artist == nil {
		return 0
	}
	return td.Artist.ID
}
