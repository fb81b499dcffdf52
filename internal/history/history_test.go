package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/history"
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/profile"
	"github.com/driftarr/driftarr/internal/testutil"
)

func newHistory(t *testing.T) (*history.Service, *events.Bus) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	bus := events.NewBus(tdb.Logger)
	return history.NewService(tdb.Conn, bus, tdb.Logger), bus
}

func grab(bus *events.Bus, downloadID string, albumIDs ...int64) {
	bus.Publish(context.Background(), events.AlbumGrabbed{
		ArtistID:       1,
		AlbumIDs:       albumIDs,
		SourceTitle:    "Daft Punk - Discovery (2001) [FLAC]",
		Quality:        profile.QualityFLAC,
		Indexer:        "indexer-a",
		DownloadClient: "qbittorrent",
		DownloadID:     downloadID,
	})
}

func importFile(bus *events.Bus, downloadID string, albumID int64, trackIDs ...int64) {
	bus.Publish(context.Background(), events.TrackFileImported{
		ImportedFile: mediafile.TrackFile{
			ArtistID:     1,
			AlbumID:      albumID,
			RelativePath: "Discovery/01 - One More Time.flac",
			Quality:      profile.QualityFLAC,
			TrackIDs:     trackIDs,
		},
		SourcePath:  "/downloads/release/01 - One More Time.flac",
		NewDownload: true,
		DownloadID:  downloadID,
	})
}

func TestGrabbed_OneRecordPerAlbum(t *testing.T) {
	svc, bus := newHistory(t)
	grab(bus, "abc", 1, 2)

	records, err := svc.GetByArtist(context.Background(), 1, history.EventGrabbed)
	if err != nil {
		t.Fatalf("GetByArtist() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	for _, r := range records {
		if r.DownloadID != "abc" {
			t.Errorf("DownloadID = %q, want abc", r.DownloadID)
		}
		if r.Data["indexer"] != "indexer-a" {
			t.Errorf("Data = %v, want indexer carried", r.Data)
		}
	}
}

func TestImported_BackfillsSingleOpenGrab(t *testing.T) {
	svc, bus := newHistory(t)
	ctx := context.Background()
	grab(bus, "abc", 1)

	importFile(bus, "", 1, 10, 11)

	records, err := svc.GetByAlbum(ctx, 1, history.EventTrackFileImported)
	if err != nil {
		t.Fatalf("GetByAlbum() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].DownloadID != "abc" {
		t.Errorf("DownloadID = %q, want backfilled abc", records[0].DownloadID)
	}
	if records[0].Data["trackIds"] != "10,11" {
		t.Errorf("trackIds = %q, want 10,11", records[0].Data["trackIds"])
	}
}

func TestImported_AmbiguousGrabsNeverGuessed(t *testing.T) {
	svc, bus := newHistory(t)
	grab(bus, "abc", 1)
	grab(bus, "def", 1)

	importFile(bus, "", 1, 10)

	records, err := svc.GetByAlbum(context.Background(), 1, history.EventTrackFileImported)
	if err != nil {
		t.Fatalf("GetByAlbum() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].DownloadID != "" {
		t.Errorf("DownloadID = %q, want empty for ambiguous correlation", records[0].DownloadID)
	}
}

func TestImported_SettledGrabNotACandidate(t *testing.T) {
	svc, bus := newHistory(t)
	ctx := context.Background()

	// first download completed end to end
	grab(bus, "abc", 1)
	bus.Publish(ctx, events.AlbumImported{
		ArtistID:    1,
		AlbumID:     1,
		NewDownload: true,
		DownloadID:  "abc",
		ImportedFiles: []mediafile.TrackFile{
			{ArtistID: 1, AlbumID: 1, Quality: profile.QualityFLAC},
		},
	})

	// second grab of the same album is the only open one left
	grab(bus, "def", 1)
	importFile(bus, "", 1, 10)

	records, err := svc.GetByAlbum(ctx, 1, history.EventTrackFileImported)
	if err != nil {
		t.Fatalf("GetByAlbum() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].DownloadID != "def" {
		t.Errorf("DownloadID = %q, want def", records[0].DownloadID)
	}
}

func TestImported_DifferentQualityGrabNotACandidate(t *testing.T) {
	svc, bus := newHistory(t)
	ctx := context.Background()
	bus.Publish(ctx, events.AlbumGrabbed{
		ArtistID:   1,
		AlbumIDs:   []int64{1},
		Quality:    profile.QualityMP3_320,
		DownloadID: "abc",
	})

	importFile(bus, "", 1, 10)

	records, err := svc.GetByAlbum(ctx, 1, history.EventTrackFileImported)
	if err != nil {
		t.Fatalf("GetByAlbum() error = %v", err)
	}
	if records[0].DownloadID != "" {
		t.Errorf("DownloadID = %q, want empty when qualities differ", records[0].DownloadID)
	}
}

func TestAlbumImported_WritesDownloadImported(t *testing.T) {
	svc, bus := newHistory(t)
	ctx := context.Background()
	bus.Publish(ctx, events.AlbumImported{
		ArtistID:    1,
		AlbumID:     1,
		NewDownload: true,
		DownloadID:  "abc",
		ImportedFiles: []mediafile.TrackFile{
			{ArtistID: 1, AlbumID: 1, Quality: profile.QualityFLAC},
			{ArtistID: 1, AlbumID: 1, Quality: profile.QualityFLAC},
		},
	})

	records, err := svc.FindByDownloadID(ctx, "abc")
	if err != nil {
		t.Fatalf("FindByDownloadID() error = %v", err)
	}
	if len(records) != 1 || records[0].EventType != history.EventDownloadImported {
		t.Fatalf("records = %+v, want one downloadImported", records)
	}
	if records[0].Data["fileCount"] != "2" {
		t.Errorf("fileCount = %q, want 2", records[0].Data["fileCount"])
	}

	// a library rescan import must not register as a download outcome
	bus.Publish(ctx, events.AlbumImported{ArtistID: 1, AlbumID: 2, NewDownload: false})
	rescans, err := svc.GetByAlbum(ctx, 2, "")
	if err != nil {
		t.Fatalf("GetByAlbum() error = %v", err)
	}
	if len(rescans) != 0 {
		t.Errorf("rescan import wrote history: %+v", rescans)
	}
}

func TestQueries(t *testing.T) {
	svc, bus := newHistory(t)
	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Minute)

	grab(bus, "abc", 1)
	bus.Publish(ctx, events.DownloadFailed{
		ArtistID:    1,
		AlbumIDs:    []int64{1},
		SourceTitle: "Daft Punk - Discovery",
		Quality:     profile.QualityFLAC,
		DownloadID:  "abc",
		Message:     "hash check failed",
	})

	recent, err := svc.MostRecentByDownloadID(ctx, "abc")
	if err != nil {
		t.Fatalf("MostRecentByDownloadID() error = %v", err)
	}
	if recent == nil || recent.EventType != history.EventDownloadFailed {
		t.Errorf("most recent = %+v, want downloadFailed", recent)
	}

	none, err := svc.MostRecentByDownloadID(ctx, "missing")
	if err != nil {
		t.Fatalf("MostRecentByDownloadID() error = %v", err)
	}
	if none != nil {
		t.Errorf("got %+v for unknown download id, want nil", none)
	}

	failures, err := svc.GetByAlbum(ctx, 1, history.EventDownloadFailed)
	if err != nil {
		t.Fatalf("GetByAlbum() error = %v", err)
	}
	if len(failures) != 1 || failures[0].Data["message"] != "hash check failed" {
		t.Errorf("failures = %+v", failures)
	}

	since, err := svc.Since(ctx, before)
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if len(since) != 2 {
		t.Errorf("Since() returned %d records, want 2", len(since))
	}
	future, err := svc.Since(ctx, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("Since() error = %v", err)
	}
	if len(future) != 0 {
		t.Errorf("Since(future) returned %d records, want 0", len(future))
	}
}

func TestArtistDeleted_PurgesHistory(t *testing.T) {
	svc, bus := newHistory(t)
	ctx := context.Background()
	grab(bus, "abc", 1)

	bus.Publish(ctx, events.ArtistDeleted{ArtistID: 1, Name: "Daft Punk"})

	records, err := svc.GetByArtist(ctx, 1, "")
	if err != nil {
		t.Fatalf("GetByArtist() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records after artist deletion, want 0", len(records))
	}
}
