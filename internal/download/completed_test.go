package download_test

import (
	"context"
	"testing"
	"time"

	"github.com/driftarr/driftarr/internal/decision"
	"github.com/driftarr/driftarr/internal/download"
	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/history"
	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/importer"
	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/parser"
	"github.com/driftarr/driftarr/internal/profile"
	"github.com/driftarr/driftarr/internal/testutil"
)

type completedFixture struct {
	completed *download.CompletedService
	history   *history.Service
	lib       *library.Store
	disk      *testutil.FakeDisk
	bus       *events.Bus

	artist *library.Artist
	album  *library.Album
	tracks []library.Track

	completions []events.DownloadCompleted
	incompletes []events.AlbumImportIncomplete
}

func newCompletedFixture(t *testing.T) *completedFixture {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	ctx := context.Background()

	f := &completedFixture{
		disk: testutil.NewFakeDisk(),
		bus:  events.NewBus(tdb.Logger),
		lib:  library.NewStore(tdb.Conn),
	}
	files := mediafile.NewStore(tdb.Conn, tdb.Logger)
	registry := profile.NewRegistry(profile.DefaultProfile())
	identify := identification.NewService(f.lib, registry, parser.FilenameTagReader{}, tdb.Logger)
	engine := decision.NewEngine(registry, files, 1<<20, tdb.Logger)
	imp := importer.NewService(files, f.lib, f.disk, f.bus, tdb.Logger)
	f.history = history.NewService(tdb.Conn, f.bus, tdb.Logger)
	f.completed = download.NewCompletedService(f.history, f.lib, identify, engine, imp,
		f.disk, f.bus, tdb.Logger)

	f.artist = &library.Artist{Name: "Daft Punk", Path: "/music/Daft Punk", QualityProfileID: 1}
	if err := f.lib.AddArtist(ctx, f.artist); err != nil {
		t.Fatalf("AddArtist() error = %v", err)
	}
	f.album = &library.Album{ArtistID: f.artist.ID, Title: "Discovery", ReleaseDate: time.Now()}
	if err := f.lib.AddAlbum(ctx, f.album); err != nil {
		t.Fatalf("AddAlbum() error = %v", err)
	}
	for i, title := range []string{"One More Time", "Aerodynamic"} {
		tr := library.Track{AlbumID: f.album.ID, Title: title, TrackNumber: i + 1, DiscNumber: 1}
		if err := f.lib.AddTrack(ctx, &tr); err != nil {
			t.Fatalf("AddTrack() error = %v", err)
		}
		f.tracks = append(f.tracks, tr)
	}
	f.disk.AddFolder(f.artist.Path)

	f.bus.Subscribe(events.TypeDownloadCompleted, func(_ context.Context, e events.Event) {
		f.completions = append(f.completions, e.(events.DownloadCompleted))
	})
	f.bus.Subscribe(events.TypeAlbumImportIncomplete, func(_ context.Context, e events.Event) {
		f.incompletes = append(f.incompletes, e.(events.AlbumImportIncomplete))
	})
	return f
}

func (f *completedFixture) tracked(item download.ClientItem) *download.TrackedDownload {
	return &download.TrackedDownload{
		DownloadID: item.DownloadID,
		Client:     "qbittorrent",
		Item:       item,
		State:      download.StateDownloading,
	}
}

func TestCheck_NotCompletedIsLeftAlone(t *testing.T) {
	f := newCompletedFixture(t)
	td := f.tracked(download.ClientItem{
		DownloadID: "abc",
		Title:      "Daft Punk - Discovery (2001) [FLAC]",
		Status:     download.StatusDownloading,
		Category:   "music",
	})

	f.completed.Check(context.Background(), td)

	if td.State != download.StateDownloading {
		t.Errorf("state = %s, want downloading", td.State)
	}
}

func TestCheck_CompletedWithoutOutputPathWaits(t *testing.T) {
	f := newCompletedFixture(t)
	td := f.tracked(download.ClientItem{
		DownloadID: "abc",
		Title:      "Daft Punk - Discovery (2001) [FLAC]",
		Status:     download.StatusCompleted,
		Category:   "music",
	})

	f.completed.Check(context.Background(), td)

	if td.State != download.StateDownloading {
		t.Errorf("state = %s, want downloading until the output path is known", td.State)
	}
}

func TestCheck_ForeignDownloadIgnored(t *testing.T) {
	f := newCompletedFixture(t)
	// no category and no grab of ours: someone else's torrent
	td := f.tracked(download.ClientItem{
		DownloadID: "abc",
		Title:      "Daft Punk - Discovery (2001) [FLAC]",
		Status:     download.StatusCompleted,
		OutputPath: "/downloads/release",
	})

	f.completed.Check(context.Background(), td)

	if td.State != download.StateDownloading {
		t.Errorf("state = %s, want downloading for a foreign item", td.State)
	}
}

func TestCheck_UnmatchableTitleWarns(t *testing.T) {
	f := newCompletedFixture(t)
	td := f.tracked(download.ClientItem{
		DownloadID: "abc",
		Title:      "Totally Unrelated - Some Album",
		Status:     download.StatusCompleted,
		OutputPath: "/downloads/release",
		Category:   "music",
	})

	f.completed.Check(context.Background(), td)

	if td.State != download.StateWarning {
		t.Errorf("state = %s, want warning", td.State)
	}
	if td.StatusMessage == "" {
		t.Error("no status message set for unmatched download")
	}
}

func TestCheck_ResolvesThroughGrabHistory(t *testing.T) {
	f := newCompletedFixture(t)
	ctx := context.Background()
	f.bus.Publish(ctx, events.AlbumGrabbed{
		ArtistID:    f.artist.ID,
		AlbumIDs:    []int64{f.album.ID},
		SourceTitle: "Daft Punk - Discovery (2001) [FLAC]",
		Quality:     profile.QualityFLAC,
		DownloadID:  "abc",
	})

	// the client mangled the item name, only the grab title matches
	td := f.tracked(download.ClientItem{
		DownloadID: "abc",
		Title:      "dp-discovery.2001.repack",
		Status:     download.StatusCompleted,
		OutputPath: "/downloads/release",
	})

	f.completed.Check(ctx, td)

	if td.State != download.StateImportPending {
		t.Fatalf("state = %s, want importPending", td.State)
	}
	if td.Artist == nil || td.Artist.ID != f.artist.ID {
		t.Errorf("artist = %+v, want resolved from grab", td.Artist)
	}
	if td.Album == nil || td.Album.ID != f.album.ID {
		t.Errorf("album = %+v, want resolved from grab", td.Album)
	}
}

func TestImport_FullSuccess(t *testing.T) {
	f := newCompletedFixture(t)
	ctx := context.Background()
	mod := time.Now().Truncate(time.Second).UTC()
	f.disk.AddFile("/downloads/release/01 - One More Time.flac", 40<<20, mod)
	f.disk.AddFile("/downloads/release/02 - Aerodynamic.flac", 38<<20, mod)

	td := f.tracked(download.ClientItem{
		DownloadID:   "abc",
		Title:        "Daft Punk - Discovery (2001) [FLAC]",
		Status:       download.StatusCompleted,
		OutputPath:   "/downloads/release",
		CanMoveFiles: true,
	})
	td.Artist = f.artist
	td.Album = f.album
	td.SourceTitle = td.Item.Title
	td.State = download.StateImportPending

	f.completed.Import(ctx, td)

	if td.State != download.StateImported {
		t.Fatalf("state = %s (%s), want imported", td.State, td.StatusMessage)
	}
	if len(f.completions) != 1 || f.completions[0].DownloadID != "abc" {
		t.Errorf("completions = %+v, want one for abc", f.completions)
	}
	if !f.disk.FileExists("/music/Daft Punk/Discovery/01 - One More Time.flac") {
		t.Error("imported file missing from library")
	}
}

func TestImport_UnreadableOutputPathWarns(t *testing.T) {
	f := newCompletedFixture(t)
	td := f.tracked(download.ClientItem{
		DownloadID: "abc",
		Status:     download.StatusCompleted,
		OutputPath: "/downloads/never-extracted",
	})
	td.Artist = f.artist
	td.State = download.StateImportPending

	f.completed.Import(context.Background(), td)

	if td.State != download.StateWarning {
		t.Errorf("state = %s, want warning", td.State)
	}
}

func TestVerifyImport_NoSuccessesFails(t *testing.T) {
	f := newCompletedFixture(t)
	td := f.tracked(download.ClientItem{DownloadID: "abc"})
	td.Artist = f.artist
	td.Album = f.album
	td.State = download.StateImportPending

	results := []importer.ImportResult{
		{Errors: []string{"Destination already exists"}},
		{Errors: []string{"Permission denied"}},
	}
	f.completed.VerifyImport(context.Background(), td, results)

	if td.State != download.StateImportFailed {
		t.Errorf("state = %s, want importFailed", td.State)
	}
	if td.StatusMessage != "No files were imported" {
		t.Errorf("StatusMessage = %q", td.StatusMessage)
	}
}

func TestVerifyImport_PartialStaysPending(t *testing.T) {
	f := newCompletedFixture(t)
	td := f.tracked(download.ClientItem{DownloadID: "abc"})
	td.Artist = f.artist
	td.Album = f.album
	td.SourceTitle = "Daft Punk - Discovery"
	td.State = download.StateImportPending

	results := []importer.ImportResult{
		{},
		{Errors: []string{"Destination already exists"}},
	}
	f.completed.VerifyImport(context.Background(), td, results)

	if td.State != download.StateImportPending {
		t.Errorf("state = %s, want importPending for a partial batch", td.State)
	}
	if len(f.incompletes) != 1 {
		t.Fatalf("incompletes = %+v, want one", f.incompletes)
	}
	if got := f.incompletes[0]; got.DownloadID != "abc" || len(got.AlbumIDs) != 1 {
		t.Errorf("incomplete event = %+v", got)
	}
}

func TestVerifyImport_HistoryCompletesPartialBatch(t *testing.T) {
	f := newCompletedFixture(t)
	ctx := context.Background()
	td := f.tracked(download.ClientItem{DownloadID: "abc"})
	td.Artist = f.artist
	td.Album = f.album
	td.State = download.StateImportPending

	// earlier runs already imported both tracks under this download id
	for _, tr := range f.tracks {
		f.bus.Publish(ctx, events.TrackFileImported{
			ImportedFile: mediafile.TrackFile{
				ArtistID:     f.artist.ID,
				AlbumID:      f.album.ID,
				RelativePath: "Discovery/file.flac",
				Quality:      profile.QualityFLAC,
				TrackIDs:     []int64{tr.ID},
			},
			SourcePath:  "/downloads/release/file.flac",
			NewDownload: true,
			DownloadID:  "abc",
		})
	}

	// this run imported one file and skipped one duplicate
	results := []importer.ImportResult{
		{},
		{Errors: []string{"Track 1 has already been imported"}},
	}
	f.completed.VerifyImport(ctx, td, results)

	if td.State != download.StateImported {
		t.Errorf("state = %s, want imported once history covers the album", td.State)
	}
	if len(f.completions) != 1 {
		t.Errorf("completions = %+v, want one", f.completions)
	}
}
