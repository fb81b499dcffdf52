// Package mediafile stores track files and decides which files on disk have
// changed since the last scan.
package mediafile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/profile"
)

// ErrNotFound is returned when a requested file does not exist.
var ErrNotFound = errors.New("not found")

// TrackFile is a media file attributed to an artist. Files that could not be
// matched to an album keep AlbumID zero and empty TrackIDs.
type TrackFile struct {
	ID           int64
	ArtistID     int64
	AlbumID      int64
	RelativePath string
	Size         int64
	Modified     time.Time
	DateAdded    time.Time
	Quality      profile.Quality
	Languages    []string
	ReleaseGroup string
	SceneName    string
	TrackIDs     []int64
}

// Path joins the file's relative path onto the artist root.
func (f TrackFile) Path(artistPath string) string {
	return filepath.Join(artistPath, f.RelativePath)
}

// FilterMode controls which known files FilterUnchangedFiles removes.
type FilterMode int

const (
	// FilterNone keeps every file.
	FilterNone FilterMode = iota
	// FilterKnown removes files whose size and modification time match the
	// stored record.
	FilterKnown
)

// Store provides track file persistence.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a track file store on the given connection.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "mediafile").Logger(),
	}
}

// Add inserts a track file, setting ID and DateAdded on the struct.
func (s *Store) Add(ctx context.Context, f *TrackFile) error {
	f.DateAdded = time.Now().UTC()
	langs, err := json.Marshal(f.Languages)
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}
	trackIDs, err := json.Marshal(f.TrackIDs)
	if err != nil {
		return fmt.Errorf("marshal track ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO track_files (artist_id, album_id, relative_path, size, modified, date_added,
			quality, languages, release_group, scene_name, track_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ArtistID, f.AlbumID, f.RelativePath, f.Size, f.Modified, f.DateAdded,
		f.Quality.String(), string(langs), f.ReleaseGroup, f.SceneName, string(trackIDs))
	if err != nil {
		return fmt.Errorf("insert track file %q: %w", f.RelativePath, err)
	}
	f.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get track file id: %w", err)
	}
	return nil
}

// Update rewrites a stored file's mutable fields.
func (s *Store) Update(ctx context.Context, f *TrackFile) error {
	langs, err := json.Marshal(f.Languages)
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}
	trackIDs, err := json.Marshal(f.TrackIDs)
	if err != nil {
		return fmt.Errorf("marshal track ids: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE track_files SET album_id = ?, relative_path = ?, size = ?, modified = ?,
			quality = ?, languages = ?, release_group = ?, scene_name = ?, track_ids = ?
		WHERE id = ?`,
		f.AlbumID, f.RelativePath, f.Size, f.Modified,
		f.Quality.String(), string(langs), f.ReleaseGroup, f.SceneName, string(trackIDs), f.ID); err != nil {
		return fmt.Errorf("update track file %d: %w", f.ID, err)
	}
	return nil
}

// Get retrieves a track file by id.
func (s *Store) Get(ctx context.Context, id int64) (*TrackFile, error) {
	files, err := s.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNotFound
	}
	return &files[0], nil
}

// GetFilesByArtist returns every stored file for the artist.
func (s *Store) GetFilesByArtist(ctx context.Context, artistID int64) ([]TrackFile, error) {
	return s.query(ctx, `WHERE artist_id = ? ORDER BY relative_path`, artistID)
}

// GetFilesByAlbum returns the files attributed to an album.
func (s *Store) GetFilesByAlbum(ctx context.Context, albumID int64) ([]TrackFile, error) {
	return s.query(ctx, `WHERE album_id = ? ORDER BY relative_path`, albumID)
}

// GetFileByRelativePath looks up an artist's file by its relative path.
func (s *Store) GetFileByRelativePath(ctx context.Context, artistID int64, relativePath string) (*TrackFile, error) {
	files, err := s.query(ctx, `WHERE artist_id = ? AND relative_path = ?`, artistID, relativePath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNotFound
	}
	return &files[0], nil
}

// DeleteMany removes the given files.
func (s *Store) DeleteMany(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM track_files WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete track file %d: %w", id, err)
		}
	}
	return nil
}

func (s *Store) query(ctx context.Context, where string, args ...any) ([]TrackFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artist_id, album_id, relative_path, size, modified, date_added,
			quality, languages, release_group, scene_name, track_ids
		FROM track_files `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query track files: %w", err)
	}
	defer rows.Close()

	var files []TrackFile
	for rows.Next() {
		var f TrackFile
		var quality, langs, trackIDs string
		if err := rows.Scan(&f.ID, &f.ArtistID, &f.AlbumID, &f.RelativePath, &f.Size, &f.Modified,
			&f.DateAdded, &quality, &langs, &f.ReleaseGroup, &f.SceneName, &trackIDs); err != nil {
			return nil, fmt.Errorf("scan track file: %w", err)
		}
		f.Quality = profile.ParseQuality(quality)
		if langs != "" {
			if err := json.Unmarshal([]byte(langs), &f.Languages); err != nil {
				s.logger.Warn().Err(err).Int64("fileId", f.ID).Msg("Failed to decode stored languages")
			}
		}
		if trackIDs != "" {
			if err := json.Unmarshal([]byte(trackIDs), &f.TrackIDs); err != nil {
				s.logger.Warn().Err(err).Int64("fileId", f.ID).Msg("Failed to decode stored track ids")
			}
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FileInfo is the on-disk state of a candidate file.
type FileInfo struct {
	Path     string
	Size     int64
	Modified time.Time
}

// FilterUnchangedFiles removes files the store already knows about and whose
// size and modification time are unchanged. FilterNone returns the input
// as-is.
func (s *Store) FilterUnchangedFiles(ctx context.Context, artistID int64, artistPath string, files []FileInfo, mode FilterMode) ([]FileInfo, error) {
	if mode == FilterNone || len(files) == 0 {
		return files, nil
	}

	known, err := s.GetFilesByArtist(ctx, artistID)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]TrackFile, len(known))
	for _, f := range known {
		byPath[f.Path(artistPath)] = f
	}

	filtered := files[:0:0]
	for _, f := range files {
		existing, ok := byPath[f.Path]
		if ok && existing.Size == f.Size && existing.Modified.Equal(f.Modified) {
			s.logger.Trace().Str("path", f.Path).Msg("Skipping unchanged file")
			continue
		}
		filtered = append(filtered, f)
	}

	if skipped := len(files) - len(filtered); skipped > 0 {
		s.logger.Debug().Int("skipped", skipped).Msg("Filtered unchanged files from scan")
	}
	return filtered, nil
}

// RelativeTo rewrites an absolute path to be relative to the artist root.
func RelativeTo(artistPath, path string) (string, error) {
	rel, err := filepath.Rel(artistPath, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q is not under %q", path, artistPath)
	}
	return rel, nil
}
