package download

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/library"
)

// State is a tracked download's position in its lifecycle.
type State int

const (
	StateDownloading State = iota
	StateImportPending
	StateImported
	StateImportFailed
	StateWarning
)

func (s State) String() string {
	switch s {
	case StateImportPending:
		return "importPending"
	case StateImported:
		return "imported"
	case StateImportFailed:
		return "importFailed"
	case StateWarning:
		return "warning"
	default:
		return "downloading"
	}
}

// Terminal reports whether the state is final for the tracked lifetime.
func (s State) Terminal() bool {
	return s == StateImported || s == StateImportFailed
}

// TrackedDownload is the in-memory record of one download client job being
// watched for completion. The poll cycle is the only writer; queue readers
// on other goroutines go through Snapshot, so every field write below holds
// mu.
type TrackedDownload struct {
	DownloadID string
	Client     string

	mu            sync.RWMutex
	Item          ClientItem
	Artist        *library.Artist
	Album         *library.Album
	SourceTitle   string
	State         State
	StatusMessage string

	// seen marks the entry as present in the latest client poll. Poll
	// cycle only, never read across goroutines.
	seen bool
}

// TrackedSnapshot is a read-only copy of a tracked download for queue views.
type TrackedSnapshot struct {
	DownloadID    string
	Client        string
	Title         string
	SourceTitle   string
	State         State
	StatusMessage string
	ArtistID      int64
	AlbumID       int64
}

// AlbumIDs returns the snapshot's album ids, empty when unresolved.
func (s TrackedSnapshot) AlbumIDs() []int64 {
	if s.AlbumID == 0 {
		return nil
	}
	return []int64{s.AlbumID}
}

// Snapshot copies the mutable fields under the entry lock.
func (t *TrackedDownload) Snapshot() TrackedSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := TrackedSnapshot{
		DownloadID:    t.DownloadID,
		Client:        t.Client,
		Title:         t.Item.Title,
		SourceTitle:   t.SourceTitle,
		State:         t.State,
		StatusMessage: t.StatusMessage,
	}
	if t.Artist != nil {
		snap.ArtistID = t.Artist.ID
	}
	if t.Album != nil {
		snap.AlbumID = t.Album.ID
	}
	return snap
}

// AlbumIDs returns the resolved album ids, empty when unresolved.
func (t *TrackedDownload) AlbumIDs() []int64 {
	if t.Album == nil {
		return nil
	}
	return []int64{t.Album.ID}
}

// TransitionTo moves the download to the given state. Terminal states never
// regress: a transition away from Imported or ImportFailed is refused.
func (t *TrackedDownload) TransitionTo(state State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State.Terminal() && state != t.State {
		return false
	}
	t.State = state
	return true
}

func (t *TrackedDownload) setItem(item ClientItem) {
	t.mu.Lock()
	t.Item = item
	t.mu.Unlock()
}

func (t *TrackedDownload) setStatusMessage(msg string) {
	t.mu.Lock()
	t.StatusMessage = msg
	t.mu.Unlock()
}

func (t *TrackedDownload) setEntity(artist *library.Artist, album *library.Album, sourceTitle string) {
	t.mu.Lock()
	t.Artist = artist
	t.Album = album
	t.SourceTitle = sourceTitle
	t.mu.Unlock()
}

// TrackedStore keys tracked downloads by download id.
type TrackedStore struct {
	mu     sync.Mutex
	items  map[string]*TrackedDownload
	logger zerolog.Logger
}

// NewTrackedStore creates an empty tracked download store.
func NewTrackedStore(logger zerolog.Logger) *TrackedStore {
	return &TrackedStore{
		items:  make(map[string]*TrackedDownload),
		logger: logger.With().Str("component", "trackedDownloads").Logger(),
	}
}

// GetOrAdd returns the tracked download for the id, creating it in the
// Downloading state when first seen.
func (s *TrackedStore) GetOrAdd(downloadID, client string) *TrackedDownload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if td, ok := s.items[downloadID]; ok {
		return td
	}
	td := &TrackedDownload{
		DownloadID: downloadID,
		Client:     client,
		State:      StateDownloading,
	}
	s.items[downloadID] = td
	s.logger.Debug().Str("downloadId", downloadID).Str("client", client).
		Msg("Started tracking download")
	return td
}

// Get returns the tracked download for the id, or nil.
func (s *TrackedStore) Get(downloadID string) *TrackedDownload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[downloadID]
}

// All returns a snapshot of every tracked download. Snapshots are copies:
// the poll cycle keeps mutating the live entries after All returns.
func (s *TrackedStore) All() []TrackedSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]TrackedSnapshot, 0, len(s.items))
	for _, td := range s.items {
		all = append(all, td.Snapshot())
	}
	return all
}

// Remove drops a tracked download, typically after the item disappears from
// the client or on manual removal.
func (s *TrackedStore) Remove(downloadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, downloadID)
}

// markAllUnseen and sweepUnseen bracket one poll cycle: entries the client
// no longer reports are dropped.
func (s *TrackedStore) markAllUnseen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, td := range s.items {
		td.seen = false
	}
}

func (s *TrackedStore) sweepUnseen() []*TrackedDownload {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*TrackedDownload
	for id, td := range s.items {
		if !td.seen {
			delete(s.items, id)
			removed = append(removed, td)
		}
	}
	return removed
}
