// Package download watches download clients, drives tracked downloads from
// Downloading through import, and holds temporarily rejected releases for
// re-evaluation.
package download

import "context"

// ItemStatus is the download client's view of an item.
type ItemStatus string

const (
	StatusQueued      ItemStatus = "queued"
	StatusPaused      ItemStatus = "paused"
	StatusDownloading ItemStatus = "downloading"
	StatusCompleted   ItemStatus = "completed"
	StatusFailed      ItemStatus = "failed"
	StatusWarning     ItemStatus = "warning"
)

// ClientItem is one job reported by a download client.
type ClientItem struct {
	DownloadID    string
	Title         string
	OutputPath    string
	Status        ItemStatus
	Category      string
	CanMoveFiles  bool
	TotalSize     int64
	RemainingSize int64
	Message       string
}

// Client is the adapter contract for a download client.
type Client interface {
	Name() string
	GetItems(ctx context.Context) ([]ClientItem, error)
	RemoveItem(ctx context.Context, downloadID string, deleteData bool) error
	AddFromMagnet(ctx context.Context, magnet string, category string) (string, error)
	AddFromFile(ctx context.Context, contents []byte, category string) (string, error)
}
