// Package history keeps the append-only audit trail of grabs, imports,
// failures and deletions, and answers the queries download completion
// tracking reconciles against.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/profile"
)

// EventType names a history row's event.
type EventType string

const (
	EventGrabbed               EventType = "grabbed"
	EventTrackFileImported     EventType = "trackFileImported"
	EventDownloadImported      EventType = "downloadImported"
	EventDownloadFailed        EventType = "downloadFailed"
	EventTrackFileDeleted      EventType = "trackFileDeleted"
	EventTrackFileRenamed      EventType = "trackFileRenamed"
	EventTrackFileRetagged     EventType = "trackFileRetagged"
	EventAlbumImportIncomplete EventType = "albumImportIncomplete"
	EventDownloadIgnored       EventType = "downloadIgnored"
)

// terminal event types settle an earlier grab for the same download id.
func (t EventType) terminal() bool {
	switch t {
	case EventDownloadImported, EventDownloadFailed, EventDownloadIgnored:
		return true
	}
	return false
}

// Record is one immutable history row.
type Record struct {
	ID          int64
	EventType   EventType
	Date        time.Time
	ArtistID    int64
	AlbumID     int64
	SourceTitle string
	Quality     profile.Quality
	DownloadID  string
	Data        map[string]string
}

// Service appends history rows from domain events and serves read queries.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewService creates the history service and registers its event handlers
// on the bus.
func NewService(db *sql.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	s := &Service{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}
	bus.Subscribe(events.TypeAlbumGrabbed, s.handleGrabbed)
	bus.Subscribe(events.TypeTrackFileImported, s.handleTrackFileImported)
	bus.Subscribe(events.TypeAlbumImported, s.handleAlbumImported)
	bus.Subscribe(events.TypeDownloadFailed, s.handleDownloadFailed)
	bus.Subscribe(events.TypeDownloadIgnored, s.handleDownloadIgnored)
	bus.Subscribe(events.TypeAlbumImportIncomplete, s.handleImportIncomplete)
	bus.Subscribe(events.TypeTrackFileDeleted, s.handleTrackFileDeleted)
	bus.Subscribe(events.TypeTrackFileRenamed, s.handleTrackFileRenamed)
	bus.Subscribe(events.TypeTrackFileRetagged, s.handleTrackFileRetagged)
	bus.Subscribe(events.TypeArtistDeleted, s.handleArtistDeleted)
	return s
}

func (s *Service) handleGrabbed(ctx context.Context, e events.Event) {
	grabbed, ok := e.(events.AlbumGrabbed)
	if !ok {
		return
	}
	for _, albumID := range grabbed.AlbumIDs {
		s.append(ctx, Record{
			EventType:   EventGrabbed,
			ArtistID:    grabbed.ArtistID,
			AlbumID:     albumID,
			SourceTitle: grabbed.SourceTitle,
			Quality:     grabbed.Quality,
			DownloadID:  grabbed.DownloadID,
			Data: map[string]string{
				"indexer":        grabbed.Indexer,
				"downloadClient": grabbed.DownloadClient,
			},
		})
	}
}

func (s *Service) handleTrackFileImported(ctx context.Context, e events.Event) {
	imported, ok := e.(events.TrackFileImported)
	if !ok {
		return
	}
	downloadID := imported.DownloadID
	if downloadID == "" && imported.NewDownload {
		downloadID = s.findDownloadID(ctx, imported.ImportedFile.ArtistID,
			imported.ImportedFile.AlbumID, imported.ImportedFile.Quality)
	}
	s.append(ctx, Record{
		EventType:   EventTrackFileImported,
		ArtistID:    imported.ImportedFile.ArtistID,
		AlbumID:     imported.ImportedFile.AlbumID,
		SourceTitle: imported.SourcePath,
		Quality:     imported.ImportedFile.Quality,
		DownloadID:  downloadID,
		Data: map[string]string{
			"droppedPath":    imported.SourcePath,
			"importedPath":   imported.ImportedFile.RelativePath,
			"downloadClient": imported.DownloadClient,
			"trackIds":       joinIDs(imported.ImportedFile.TrackIDs),
		},
	})
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func (s *Service) handleAlbumImported(ctx context.Context, e events.Event) {
	imported, ok := e.(events.AlbumImported)
	if !ok || !imported.NewDownload {
		return
	}
	var quality profile.Quality
	if len(imported.ImportedFiles) > 0 {
		quality = imported.ImportedFiles[0].Quality
	}
	s.append(ctx, Record{
		EventType:  EventDownloadImported,
		ArtistID:   imported.ArtistID,
		AlbumID:    imported.AlbumID,
		Quality:    quality,
		DownloadID: imported.DownloadID,
		Data:       map[string]string{"fileCount": fmt.Sprint(len(imported.ImportedFiles))},
	})
}

func (s *Service) handleDownloadFailed(ctx context.Context, e events.Event) {
	failed, ok := e.(events.DownloadFailed)
	if !ok {
		return
	}
	for _, albumID := range failed.AlbumIDs {
		s.append(ctx, Record{
			EventType:   EventDownloadFailed,
			ArtistID:    failed.ArtistID,
			AlbumID:     albumID,
			SourceTitle: failed.SourceTitle,
			Quality:     failed.Quality,
			DownloadID:  failed.DownloadID,
			Data: map[string]string{
				"downloadClient": failed.DownloadClient,
				"message":        failed.Message,
			},
		})
	}
}

func (s *Service) handleDownloadIgnored(ctx context.Context, e events.Event) {
	ignored, ok := e.(events.DownloadIgnored)
	if !ok {
		return
	}
	for _, albumID := range ignored.AlbumIDs {
		s.append(ctx, Record{
			EventType:   EventDownloadIgnored,
			ArtistID:    ignored.ArtistID,
			AlbumID:     albumID,
			SourceTitle: ignored.SourceTitle,
			DownloadID:  ignored.DownloadID,
			Data:        map[string]string{"message": ignored.Message},
		})
	}
}

func (s *Service) handleImportIncomplete(ctx context.Context, e events.Event) {
	incomplete, ok := e.(events.AlbumImportIncomplete)
	if !ok {
		return
	}
	for _, albumID := range incomplete.AlbumIDs {
		s.append(ctx, Record{
			EventType:   EventAlbumImportIncomplete,
			ArtistID:    incomplete.ArtistID,
			AlbumID:     albumID,
			SourceTitle: incomplete.SourceTitle,
			DownloadID:  incomplete.DownloadID,
		})
	}
}

func (s *Service) handleTrackFileDeleted(ctx context.Context, e events.Event) {
	deleted, ok := e.(events.TrackFileDeleted)
	if !ok {
		return
	}
	s.append(ctx, Record{
		EventType:   EventTrackFileDeleted,
		ArtistID:    deleted.File.ArtistID,
		AlbumID:     deleted.File.AlbumID,
		SourceTitle: deleted.File.RelativePath,
		Quality:     deleted.File.Quality,
		Data:        map[string]string{"reason": string(deleted.Reason)},
	})
}

func (s *Service) handleTrackFileRenamed(ctx context.Context, e events.Event) {
	renamed, ok := e.(events.TrackFileRenamed)
	if !ok {
		return
	}
	s.append(ctx, Record{
		EventType:   EventTrackFileRenamed,
		ArtistID:    renamed.File.ArtistID,
		AlbumID:     renamed.File.AlbumID,
		SourceTitle: renamed.File.RelativePath,
		Quality:     renamed.File.Quality,
		Data:        map[string]string{"previousPath": renamed.PreviousPath},
	})
}

func (s *Service) handleTrackFileRetagged(ctx context.Context, e events.Event) {
	retagged, ok := e.(events.TrackFileRetagged)
	if !ok {
		return
	}
	s.append(ctx, Record{
		EventType:   EventTrackFileRetagged,
		ArtistID:    retagged.File.ArtistID,
		AlbumID:     retagged.File.AlbumID,
		SourceTitle: retagged.File.RelativePath,
		Quality:     retagged.File.Quality,
	})
}

func (s *Service) handleArtistDeleted(ctx context.Context, e events.Event) {
	deleted, ok := e.(events.ArtistDeleted)
	if !ok {
		return
	}
	if err := s.DeleteForArtist(ctx, deleted.ArtistID); err != nil {
		s.logger.Error().Err(err).Int64("artistId", deleted.ArtistID).
			Msg("Failed to delete history for artist")
	}
}

func (s *Service) append(ctx context.Context, r Record) {
	r.Date = time.Now().UTC()
	var data []byte
	if len(r.Data) > 0 {
		var err error
		data, err = json.Marshal(r.Data)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to encode history data")
		}
	}
	var downloadID sql.NullString
	if r.DownloadID != "" {
		downloadID = sql.NullString{String: r.DownloadID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (event_type, date, artist_id, album_id, source_title, quality, download_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.EventType), r.Date, r.ArtistID, r.AlbumID, r.SourceTitle,
		r.Quality.String(), downloadID, string(data))
	if err != nil {
		s.logger.Error().Err(err).Str("eventType", string(r.EventType)).
			Msg("Failed to append history record")
	}
}

// findDownloadID backfills a missing download id from prior Grabbed history:
// only when exactly one grab for the album at the same quality has no
// terminal outcome yet. Zero or several candidates leave the id empty, an
// ambiguous correlation is never guessed.
func (s *Service) findDownloadID(ctx context.Context, artistID, albumID int64, quality profile.Quality) string {
	grabs, err := s.GetByAlbum(ctx, albumID, EventGrabbed)
	if err != nil {
		s.logger.Warn().Err(err).Int64("albumId", albumID).Msg("Failed to load grab history")
		return ""
	}

	var candidate string
	for _, grab := range grabs {
		if grab.ArtistID != artistID || grab.Quality != quality || grab.DownloadID == "" {
			continue
		}
		settled, err := s.hasTerminalEvent(ctx, grab.DownloadID)
		if err != nil {
			s.logger.Warn().Err(err).Str("downloadId", grab.DownloadID).
				Msg("Failed to check terminal history")
			return ""
		}
		if settled {
			continue
		}
		if candidate != "" && candidate != grab.DownloadID {
			s.logger.Debug().Int64("albumId", albumID).
				Msg("Multiple grab candidates for import, leaving download id unset")
			return ""
		}
		candidate = grab.DownloadID
	}
	return candidate
}

func (s *Service) hasTerminalEvent(ctx context.Context, downloadID string) (bool, error) {
	records, err := s.FindByDownloadID(ctx, downloadID)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.EventType.terminal() {
			return true, nil
		}
	}
	return false, nil
}

// MostRecentByDownloadID returns the newest record for a download id, or
// nil when none exists.
func (s *Service) MostRecentByDownloadID(ctx context.Context, downloadID string) (*Record, error) {
	records, err := s.queryRecords(ctx, `WHERE download_id = ? ORDER BY date DESC, id DESC LIMIT 1`, downloadID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// FindByDownloadID returns every record correlated to a download id.
func (s *Service) FindByDownloadID(ctx context.Context, downloadID string) ([]Record, error) {
	return s.queryRecords(ctx, `WHERE download_id = ? ORDER BY date, id`, downloadID)
}

// GetByArtist returns an artist's records, optionally filtered by event
// type (pass "" for all).
func (s *Service) GetByArtist(ctx context.Context, artistID int64, eventType EventType) ([]Record, error) {
	if eventType == "" {
		return s.queryRecords(ctx, `WHERE artist_id = ? ORDER BY date DESC, id DESC`, artistID)
	}
	return s.queryRecords(ctx, `WHERE artist_id = ? AND event_type = ? ORDER BY date DESC, id DESC`,
		artistID, string(eventType))
}

// GetByAlbum returns an album's records, optionally filtered by event type.
func (s *Service) GetByAlbum(ctx context.Context, albumID int64, eventType EventType) ([]Record, error) {
	if eventType == "" {
		return s.queryRecords(ctx, `WHERE album_id = ? ORDER BY date DESC, id DESC`, albumID)
	}
	return s.queryRecords(ctx, `WHERE album_id = ? AND event_type = ? ORDER BY date DESC, id DESC`,
		albumID, string(eventType))
}

// Since returns every record on or after the given time.
func (s *Service) Since(ctx context.Context, t time.Time) ([]Record, error) {
	return s.queryRecords(ctx, `WHERE date >= ? ORDER BY date, id`, t)
}

// DeleteForArtist removes an artist's history as part of cascading entity
// deletion. This is the only path that ever deletes history.
func (s *Service) DeleteForArtist(ctx context.Context, artistID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE artist_id = ?`, artistID); err != nil {
		return fmt.Errorf("delete history for artist %d: %w", artistID, err)
	}
	return nil
}

func (s *Service) queryRecords(ctx context.Context, where string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, date, artist_id, album_id, source_title, quality, download_id, data
		FROM history `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var eventType, quality string
		var downloadID sql.NullString
		var data sql.NullString
		if err := rows.Scan(&r.ID, &eventType, &r.Date, &r.ArtistID, &r.AlbumID,
			&r.SourceTitle, &quality, &downloadID, &data); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		r.EventType = EventType(eventType)
		r.Quality = profile.ParseQuality(quality)
		r.DownloadID = downloadID.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &r.Data); err != nil {
				s.logger.Warn().Err(err).Int64("id", r.ID).Msg("Failed to decode history data")
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
