package download

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/profile"
)

// PendingRelease is a temporarily rejected release held for re-evaluation.
type PendingRelease struct {
	ID          int64
	ArtistID    int64
	Title       string
	Added       time.Time
	Indexer     string
	PublishDate time.Time
	Quality     profile.Quality
	Size        int64
	AlbumIDs    []int64
	Reason      string
}

// PendingQueueItem is one (release, album) pair as shown in the queue.
type PendingQueueItem struct {
	QueueID   int64
	PendingID int64
	ArtistID  int64
	AlbumID   int64
	Title     string
	Quality   profile.Quality
	Size      int64
	Added     time.Time
	Reason    string
}

// QueueID derives the stable queue id for a pending release and album pair.
func QueueID(pendingID, albumID int64) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "pending-%d-%d", pendingID, albumID)
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// PendingService stores pending releases.
type PendingService struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPendingService creates the pending release service and registers the
// grab handler that clears superseded releases.
func NewPendingService(db *sql.DB, bus *events.Bus, logger zerolog.Logger) *PendingService {
	s := &PendingService{
		db:     db,
		logger: logger.With().Str("component", "pendingReleases").Logger(),
	}
	bus.Subscribe(events.TypeAlbumGrabbed, s.handleGrabbed)
	return s
}

func (s *PendingService) handleGrabbed(ctx context.Context, e events.Event) {
	grabbed, ok := e.(events.AlbumGrabbed)
	if !ok {
		return
	}
	if err := s.RemoveGrabbed(ctx, grabbed.ArtistID, grabbed.AlbumIDs, grabbed.Quality); err != nil {
		s.logger.Error().Err(err).Str("downloadId", grabbed.DownloadID).
			Msg("Failed to clear pending releases for grab")
	}
}

// Add stores a pending release unless an identical one already exists.
// Identity is the {title, indexer, publish date} tuple for the artist, so
// repeated RSS syncs of the same release do not pile up duplicates. Returns
// whether a row was inserted.
func (s *PendingService) Add(ctx context.Context, p *PendingRelease) (bool, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM pending_releases
		WHERE artist_id = ? AND title = ? AND indexer = ? AND publish_date = ?`,
		p.ArtistID, p.Title, p.Indexer, p.PublishDate).Scan(&existing)
	if err == nil {
		s.logger.Trace().Str("title", p.Title).Str("indexer", p.Indexer).
			Msg("Pending release already exists")
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("check pending release: %w", err)
	}

	p.Added = time.Now().UTC()
	albumIDs, err := json.Marshal(p.AlbumIDs)
	if err != nil {
		return false, fmt.Errorf("marshal album ids: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_releases (artist_id, title, added, indexer, publish_date, quality, size, album_ids, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ArtistID, p.Title, p.Added, p.Indexer, p.PublishDate,
		p.Quality.String(), p.Size, string(albumIDs), p.Reason)
	if err != nil {
		return false, fmt.Errorf("insert pending release: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("get pending release id: %w", err)
	}
	return true, nil
}

// GetPendingQueue expands pending releases into queue items, one per album.
func (s *PendingService) GetPendingQueue(ctx context.Context) ([]PendingQueueItem, error) {
	pending, err := s.list(ctx, ``)
	if err != nil {
		return nil, err
	}
	var queue []PendingQueueItem
	for _, p := range pending {
		for _, albumID := range p.AlbumIDs {
			queue = append(queue, PendingQueueItem{
				QueueID:   QueueID(p.ID, albumID),
				PendingID: p.ID,
				ArtistID:  p.ArtistID,
				AlbumID:   albumID,
				Title:     p.Title,
				Quality:   p.Quality,
				Size:      p.Size,
				Added:     p.Added,
				Reason:    p.Reason,
			})
		}
	}
	return queue, nil
}

// RemovePendingQueueItems removes the pending release behind a queue id,
// but only when the release covers exactly the one album the queue id was
// derived from. A multi-album release is never removed through one of its
// single-album queue ids.
func (s *PendingService) RemovePendingQueueItems(ctx context.Context, queueID int64) error {
	pending, err := s.list(ctx, ``)
	if err != nil {
		return err
	}
	for _, p := range pending {
		for _, albumID := range p.AlbumIDs {
			if QueueID(p.ID, albumID) != queueID {
				continue
			}
			if len(p.AlbumIDs) != 1 {
				s.logger.Debug().Int64("pendingId", p.ID).Int("albums", len(p.AlbumIDs)).
					Msg("Not removing multi-album pending release by single queue id")
				return nil
			}
			return s.delete(ctx, p.ID)
		}
	}
	return nil
}

// RemoveGrabbed deletes pending releases superseded by a grab of equal or
// better quality covering the same albums.
func (s *PendingService) RemoveGrabbed(ctx context.Context, artistID int64, albumIDs []int64, quality profile.Quality) error {
	pending, err := s.list(ctx, `WHERE artist_id = ?`, artistID)
	if err != nil {
		return err
	}
	grabbed := make(map[int64]bool, len(albumIDs))
	for _, id := range albumIDs {
		grabbed[id] = true
	}
	for _, p := range pending {
		if p.Quality > quality {
			continue
		}
		covered := len(p.AlbumIDs) > 0
		for _, id := range p.AlbumIDs {
			if !grabbed[id] {
				covered = false
				break
			}
		}
		if !covered {
			continue
		}
		if err := s.delete(ctx, p.ID); err != nil {
			return err
		}
		s.logger.Debug().Int64("pendingId", p.ID).Str("title", p.Title).
			Msg("Removed pending release superseded by grab")
	}
	return nil
}

// RemoveRejected deletes a pending release that a later sync permanently
// rejected, identified by the same tuple Add deduplicates on. Reached
// through the queue API; re-evaluation itself is owned by the caller.
func (s *PendingService) RemoveRejected(ctx context.Context, artistID int64, title, indexer string, publishDate time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_releases
		WHERE artist_id = ? AND title = ? AND indexer = ? AND publish_date = ?`,
		artistID, title, indexer, publishDate)
	if err != nil {
		return fmt.Errorf("delete rejected pending release: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Debug().Str("title", title).Msg("Removed permanently rejected pending release")
	}
	return nil
}

func (s *PendingService) delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_releases WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete pending release %d: %w", id, err)
	}
	return nil
}

func (s *PendingService) list(ctx context.Context, where string, args ...any) ([]PendingRelease, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artist_id, title, added, indexer, publish_date, quality, size, album_ids, reason
		FROM pending_releases `+where+` ORDER BY added, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending releases: %w", err)
	}
	defer rows.Close()

	var pending []PendingRelease
	for rows.Next() {
		var p PendingRelease
		var quality, albumIDs string
		if err := rows.Scan(&p.ID, &p.ArtistID, &p.Title, &p.Added, &p.Indexer,
			&p.PublishDate, &quality, &p.Size, &albumIDs, &p.Reason); err != nil {
			return nil, fmt.Errorf("scan pending release: %w", err)
		}
		p.Quality = profile.ParseQuality(quality)
		if albumIDs != "" {
			if err := json.Unmarshal([]byte(albumIDs), &p.AlbumIDs); err != nil {
				s.logger.Warn().Err(err).Int64("id", p.ID).Msg("Failed to decode album ids")
			}
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
