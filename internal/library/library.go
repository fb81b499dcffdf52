// Package library stores artists, albums and tracks and provides the
// lookups the identification and import pipeline needs.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Artist is a monitored artist rooted at a library path.
type Artist struct {
	ID               int64
	Name             string
	CleanName        string
	Path             string
	QualityProfileID int64
	Added            time.Time
}

// Album belongs to an artist.
type Album struct {
	ID          int64
	ArtistID    int64
	Title       string
	CleanTitle  string
	ReleaseDate time.Time
	Monitored   bool
}

// Track belongs to an album. TrackFileID is zero while the track has no
// file on disk.
type Track struct {
	ID          int64
	AlbumID     int64
	Title       string
	TrackNumber int
	DiscNumber  int
	TrackFileID int64
}

var cleanTitleRe = regexp.MustCompile(`[^a-z0-9]+`)

// CleanTitle normalizes a title for fuzzy lookups: lowercase with all
// non-alphanumerics stripped.
func CleanTitle(title string) string {
	return cleanTitleRe.ReplaceAllString(strings.ToLower(title), "")
}

// Store provides artist, album and track persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a library store on the given connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AddArtist inserts an artist, setting ID, CleanName and Added on the struct.
func (s *Store) AddArtist(ctx context.Context, a *Artist) error {
	a.CleanName = CleanTitle(a.Name)
	a.Added = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO artists (name, clean_name, path, quality_profile_id, added)
		VALUES (?, ?, ?, ?, ?)`,
		a.Name, a.CleanName, a.Path, a.QualityProfileID, a.Added)
	if err != nil {
		return fmt.Errorf("insert artist: %w", err)
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get artist id: %w", err)
	}
	return nil
}

// GetArtist retrieves an artist by id.
func (s *Store) GetArtist(ctx context.Context, id int64) (*Artist, error) {
	return s.scanArtist(s.db.QueryRowContext(ctx, `
		SELECT id, name, clean_name, path, quality_profile_id, added
		FROM artists WHERE id = ?`, id))
}

// GetArtistByPath retrieves the artist whose library path matches exactly.
func (s *Store) GetArtistByPath(ctx context.Context, path string) (*Artist, error) {
	return s.scanArtist(s.db.QueryRowContext(ctx, `
		SELECT id, name, clean_name, path, quality_profile_id, added
		FROM artists WHERE path = ?`, path))
}

// GetArtistByCleanName retrieves an artist by its normalized name.
func (s *Store) GetArtistByCleanName(ctx context.Context, name string) (*Artist, error) {
	return s.scanArtist(s.db.QueryRowContext(ctx, `
		SELECT id, name, clean_name, path, quality_profile_id, added
		FROM artists WHERE clean_name = ?`, CleanTitle(name)))
}

// ListArtists returns every artist ordered by name.
func (s *Store) ListArtists(ctx context.Context) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, clean_name, path, quality_profile_id, added
		FROM artists ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list artists: %w", err)
	}
	defer rows.Close()

	var artists []Artist
	for rows.Next() {
		var a Artist
		if err := rows.Scan(&a.ID, &a.Name, &a.CleanName, &a.Path, &a.QualityProfileID, &a.Added); err != nil {
			return nil, fmt.Errorf("scan artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

// DeleteArtist removes an artist. Albums and tracks cascade.
func (s *Store) DeleteArtist(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete artist %d: %w", id, err)
	}
	return nil
}

func (s *Store) scanArtist(row *sql.Row) (*Artist, error) {
	var a Artist
	err := row.Scan(&a.ID, &a.Name, &a.CleanName, &a.Path, &a.QualityProfileID, &a.Added)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan artist: %w", err)
	}
	return &a, nil
}

// AddAlbum inserts an album, setting ID and CleanTitle on the struct.
func (s *Store) AddAlbum(ctx context.Context, al *Album) error {
	al.CleanTitle = CleanTitle(al.Title)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO albums (artist_id, title, clean_title, release_date, monitored)
		VALUES (?, ?, ?, ?, ?)`,
		al.ArtistID, al.Title, al.CleanTitle, al.ReleaseDate, al.Monitored)
	if err != nil {
		return fmt.Errorf("insert album: %w", err)
	}
	al.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get album id: %w", err)
	}
	return nil
}

// GetAlbum retrieves an album by id.
func (s *Store) GetAlbum(ctx context.Context, id int64) (*Album, error) {
	var al Album
	err := s.db.QueryRowContext(ctx, `
		SELECT id, artist_id, title, clean_title, release_date, monitored
		FROM albums WHERE id = ?`, id).
		Scan(&al.ID, &al.ArtistID, &al.Title, &al.CleanTitle, &al.ReleaseDate, &al.Monitored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get album %d: %w", id, err)
	}
	return &al, nil
}

// GetAlbumsByArtist returns the artist's albums ordered by release date.
func (s *Store) GetAlbumsByArtist(ctx context.Context, artistID int64) ([]Album, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artist_id, title, clean_title, release_date, monitored
		FROM albums WHERE artist_id = ? ORDER BY release_date`, artistID)
	if err != nil {
		return nil, fmt.Errorf("list albums for artist %d: %w", artistID, err)
	}
	defer rows.Close()

	var albums []Album
	for rows.Next() {
		var al Album
		if err := rows.Scan(&al.ID, &al.ArtistID, &al.Title, &al.CleanTitle, &al.ReleaseDate, &al.Monitored); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		albums = append(albums, al)
	}
	return albums, rows.Err()
}

// AddTrack inserts a track, setting ID on the struct.
func (s *Store) AddTrack(ctx context.Context, t *Track) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (album_id, title, track_number, disc_number, track_file_id)
		VALUES (?, ?, ?, ?, ?)`,
		t.AlbumID, t.Title, t.TrackNumber, t.DiscNumber, t.TrackFileID)
	if err != nil {
		return fmt.Errorf("insert track: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get track id: %w", err)
	}
	return nil
}

// GetTracksByAlbum returns the album's tracks ordered by disc then track
// number.
func (s *Store) GetTracksByAlbum(ctx context.Context, albumID int64) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, album_id, title, track_number, disc_number, track_file_id
		FROM tracks WHERE album_id = ? ORDER BY disc_number, track_number`, albumID)
	if err != nil {
		return nil, fmt.Errorf("list tracks for album %d: %w", albumID, err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		var t Track
		if err := rows.Scan(&t.ID, &t.AlbumID, &t.Title, &t.TrackNumber, &t.DiscNumber, &t.TrackFileID); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

// SetTrackFile links a track to the file that now contains it.
func (s *Store) SetTrackFile(ctx context.Context, trackID, fileID int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE tracks SET track_file_id = ? WHERE id = ?`, fileID, trackID); err != nil {
		return fmt.Errorf("link track %d to file %d: %w", trackID, fileID, err)
	}
	return nil
}

// ClearTrackFiles unlinks every track pointing at the given file ids, used
// when files are deleted or upgraded away.
func (s *Store) ClearTrackFiles(ctx context.Context, fileIDs []int64) error {
	for _, id := range fileIDs {
		if _, err := s.db.ExecContext(ctx, `UPDATE tracks SET track_file_id = 0 WHERE track_file_id = ?`, id); err != nil {
			return fmt.Errorf("unlink track file %d: %w", id, err)
		}
	}
	return nil
}
