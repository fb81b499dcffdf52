package download

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/events"
)

// TrackingService polls the configured download clients and drives each
// tracked download's state machine.
type TrackingService struct {
	clients   []Client
	tracked   *TrackedStore
	completed *CompletedService
	bus       *events.Bus
	logger    zerolog.Logger
}

// NewTrackingService creates the polling service.
func NewTrackingService(clients []Client, tracked *TrackedStore, completed *CompletedService,
	bus *events.Bus, logger zerolog.Logger) *TrackingService {
	return &TrackingService{
		clients:   clients,
		tracked:   tracked,
		completed: completed,
		bus:       bus,
		logger:    logger.With().Str("component", "downloadTracking").Logger(),
	}
}

// Refresh runs one poll cycle: pulls items from every client, updates
// tracked state, promotes completed items through Check and Import, and
// drops entries the clients no longer report. Per-client failures are
// logged and skip sweeping so a flapping client does not untrack its items.
func (s *TrackingService) Refresh(ctx context.Context) {
	cycle := s.logger.With().Str("cycleId", uuid.NewString()).Logger()

	s.tracked.markAllUnseen()
	sweep := true

	for _, client := range s.clients {
		items, err := client.GetItems(ctx)
		if err != nil {
			cycle.Warn().Err(err).Str("client", client.Name()).Msg("Failed to poll download client")
			sweep = false
			continue
		}

		for _, item := range items {
			td := s.tracked.GetOrAdd(item.DownloadID, client.Name())
			td.setItem(item)
			td.seen = true

			switch item.Status {
			case StatusFailed:
				s.handleFailed(ctx, td)
			case StatusCompleted:
				s.completed.Check(ctx, td)
				if td.State == StateImportPending {
					s.completed.Import(ctx, td)
				}
			}
		}
	}

	if sweep {
		for _, td := range s.tracked.sweepUnseen() {
			cycle.Debug().Str("downloadId", td.DownloadID).Str("state", td.State.String()).
				Msg("Stopped tracking download")
		}
	}
}

func (s *TrackingService) handleFailed(ctx context.Context, td *TrackedDownload) {
	// already failed on a previous poll; don't publish again
	if td.State == StateImportFailed || !td.TransitionTo(StateImportFailed) {
		return
	}
	td.setStatusMessage(td.Item.Message)
	s.bus.Publish(ctx, events.DownloadFailed{
		ArtistID:       artistID(td),
		AlbumIDs:       td.AlbumIDs(),
		SourceTitle:    td.Item.Title,
		DownloadClient: td.Client,
		DownloadID:     td.DownloadID,
		Message:        td.Item.Message,
	})
	s.logger.Warn().Str("downloadId", td.DownloadID).Str("title", td.Item.Title).
		Msg("Download failed")
}

// Ignore removes a tracked download from the queue without importing and
// records the decision. Called from API goroutines, so it reads the entry
// through a snapshot instead of the live pointer.
func (s *TrackingService) Ignore(ctx context.Context, downloadID, message string) bool {
	td := s.tracked.Get(downloadID)
	if td == nil {
		return false
	}
	snap := td.Snapshot()
	s.bus.Publish(ctx, events.DownloadIgnored{
		ArtistID:    snap.ArtistID,
		AlbumIDs:    snap.AlbumIDs(),
		SourceTitle: snap.Title,
		DownloadID:  downloadID,
		Message:     message,
	})
	s.tracked.Remove(downloadID)
	return true
}
