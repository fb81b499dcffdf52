package events

import (
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/profile"
)

// Event type names used for subscription keys.
const (
	TypeAlbumGrabbed          = "albumGrabbed"
	TypeTrackFileImported     = "trackFileImported"
	TypeAlbumImported         = "albumImported"
	TypeAlbumImportIncomplete = "albumImportIncomplete"
	TypeDownloadFailed        = "downloadFailed"
	TypeDownloadCompleted     = "downloadCompleted"
	TypeDownloadIgnored       = "downloadIgnored"
	TypeTrackFileDeleted      = "trackFileDeleted"
	TypeTrackFileRenamed      = "trackFileRenamed"
	TypeTrackFileRetagged     = "trackFileRetagged"
	TypeArtistDeleted         = "artistDeleted"
)

// AlbumGrabbed is published when a release is sent to a download client.
type AlbumGrabbed struct {
	ArtistID       int64
	AlbumIDs       []int64
	SourceTitle    string
	Quality        profile.Quality
	Indexer        string
	DownloadClient string
	DownloadID     string
}

func (AlbumGrabbed) EventType() string { return TypeAlbumGrabbed }

// TrackFileImported is published once per file that the import applier
// successfully moved into the library.
type TrackFileImported struct {
	ImportedFile   mediafile.TrackFile
	OldFiles       []mediafile.TrackFile
	SourcePath     string
	NewDownload    bool
	DownloadClient string
	DownloadID     string
}

func (TrackFileImported) EventType() string { return TypeTrackFileImported }

// AlbumImported is published once per album that received at least one
// imported file in an import batch.
type AlbumImported struct {
	ArtistID      int64
	AlbumID       int64
	ImportedFiles []mediafile.TrackFile
	NewDownload   bool
	DownloadID    string
}

func (AlbumImported) EventType() string { return TypeAlbumImported }

// AlbumImportIncomplete is published when a completed download could not be
// fully imported.
type AlbumImportIncomplete struct {
	ArtistID    int64
	AlbumIDs    []int64
	SourceTitle string
	DownloadID  string
}

func (AlbumImportIncomplete) EventType() string { return TypeAlbumImportIncomplete }

// DownloadFailed is published when a download client reports a failed item.
type DownloadFailed struct {
	ArtistID       int64
	AlbumIDs       []int64
	SourceTitle    string
	Quality        profile.Quality
	DownloadClient string
	DownloadID     string
	Message        string
}

func (DownloadFailed) EventType() string { return TypeDownloadFailed }

// DownloadCompleted is published when a tracked download reaches the
// Imported state.
type DownloadCompleted struct {
	ArtistID    int64
	AlbumIDs    []int64
	SourceTitle string
	DownloadID  string
}

func (DownloadCompleted) EventType() string { return TypeDownloadCompleted }

// DownloadIgnored is published when a tracked download is removed from the
// queue without importing.
type DownloadIgnored struct {
	ArtistID    int64
	AlbumIDs    []int64
	SourceTitle string
	DownloadID  string
	Message     string
}

func (DownloadIgnored) EventType() string { return TypeDownloadIgnored }

// DeleteReason explains why a track file was removed.
type DeleteReason string

const (
	DeleteReasonManual          DeleteReason = "manual"
	DeleteReasonUpgrade         DeleteReason = "upgrade"
	DeleteReasonMissingFromDisk DeleteReason = "missingFromDisk"
)

// TrackFileDeleted is published when a track file record is removed.
type TrackFileDeleted struct {
	File   mediafile.TrackFile
	Reason DeleteReason
}

func (TrackFileDeleted) EventType() string { return TypeTrackFileDeleted }

// TrackFileRenamed is published when the organizer moves a file.
type TrackFileRenamed struct {
	File         mediafile.TrackFile
	PreviousPath string
}

func (TrackFileRenamed) EventType() string { return TypeTrackFileRenamed }

// TrackFileRetagged is published when embedded tags are rewritten.
type TrackFileRetagged struct {
	File mediafile.TrackFile
}

func (TrackFileRetagged) EventType() string { return TypeTrackFileRetagged }

// ArtistDeleted is published when an artist is removed from the library.
type ArtistDeleted struct {
	ArtistID int64
	Name     string
}

func (ArtistDeleted) EventType() string { return TypeArtistDeleted }
