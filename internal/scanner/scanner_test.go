package scanner_test

import (
	"context"
	"testing"
	"time"

	"github.com/driftarr/driftarr/internal/decision"
	"github.com/driftarr/driftarr/internal/events"
	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/importer"
	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/parser"
	"github.com/driftarr/driftarr/internal/profile"
	"github.com/driftarr/driftarr/internal/scanner"
	"github.com/driftarr/driftarr/internal/testutil"
)

type scanFixture struct {
	scanner *scanner.Service
	files   *mediafile.Store
	lib     *library.Store
	disk    *testutil.FakeDisk
	bus     *events.Bus

	artist *library.Artist
	album  *library.Album

	deleted []events.TrackFileDeleted
}

func newScanFixture(t *testing.T, opts scanner.Options) *scanFixture {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	ctx := context.Background()

	f := &scanFixture{
		files: mediafile.NewStore(tdb.Conn, tdb.Logger),
		lib:   library.NewStore(tdb.Conn),
		disk:  testutil.NewFakeDisk(),
		bus:   events.NewBus(tdb.Logger),
	}
	registry := profile.NewRegistry(profile.DefaultProfile())
	identify := identification.NewService(f.lib, registry, parser.FilenameTagReader{}, tdb.Logger)
	engine := decision.NewEngine(registry, f.files, 1<<20, tdb.Logger)
	imp := importer.NewService(f.files, f.lib, f.disk, f.bus, tdb.Logger)
	f.scanner = scanner.NewService(f.disk, f.lib, f.files, identify, engine, imp, f.bus, opts, tdb.Logger)

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
	}

	f.bus.Subscribe(events.TypeTrackFileDeleted, func(_ context.Context, e events.Event) {
		f.deleted = append(f.deleted, e.(events.TrackFileDeleted))
	})
	return f
}

func (f *scanFixture) addAlbumFiles() {
	mod := time.Now().Truncate(time.Second).UTC()
	f.disk.AddFile("/music/Daft Punk/Discovery/01 - One More Time.flac", 40<<20, mod)
	f.disk.AddFile("/music/Daft Punk/Discovery/02 - Aerodynamic.flac", 38<<20, mod)
}

func TestScan_ImportsMediaAndSkipsJunk(t *testing.T) {
	f := newScanFixture(t, scanner.Options{})
	ctx := context.Background()
	f.addAlbumFiles()
	mod := time.Now().Truncate(time.Second).UTC()
	f.disk.AddFile("/music/Daft Punk/EXTRAS/01 - Bonus.flac", 30<<20, mod)
	f.disk.AddFile("/music/Daft Punk/Discovery/._01 - One More Time.flac", 4096, mod)
	f.disk.AddFile("/music/Daft Punk/Discovery/cover.jpg", 1<<20, mod)
	f.disk.AddFile("/music/Daft Punk/Discovery/02 - Aerodynamic.flac.partial~", 1<<20, mod)

	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	records, err := f.files.GetFilesByArtist(ctx, f.artist.ID)
	if err != nil {
		t.Fatalf("GetFilesByArtist() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}
	for _, r := range records {
		if r.AlbumID != f.album.ID {
			t.Errorf("record %q album = %d, want %d", r.RelativePath, r.AlbumID, f.album.ID)
		}
	}

	tracks, err := f.lib.GetTracksByAlbum(ctx, f.album.ID)
	if err != nil {
		t.Fatalf("GetTracksByAlbum() error = %v", err)
	}
	for _, tr := range tracks {
		if tr.TrackFileID == 0 {
			t.Errorf("track %d not linked to a file", tr.TrackNumber)
		}
	}
}

func TestScan_SecondScanLeavesUnchangedFilesAlone(t *testing.T) {
	f := newScanFixture(t, scanner.Options{})
	ctx := context.Background()
	f.addAlbumFiles()

	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("first Scan() error = %v", err)
	}
	first, err := f.files.GetFilesByArtist(ctx, f.artist.ID)
	if err != nil {
		t.Fatalf("GetFilesByArtist() error = %v", err)
	}

	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	second, err := f.files.GetFilesByArtist(ctx, f.artist.ID)
	if err != nil {
		t.Fatalf("GetFilesByArtist() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("record count changed across scans: %d then %d", len(first), len(second))
	}
	// unchanged files must not be reprocessed, so the records keep their ids
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("record %q was recreated (id %d then %d)",
				first[i].RelativePath, first[i].ID, second[i].ID)
		}
	}
}

func TestScan_MissingRootCleansRecords(t *testing.T) {
	f := newScanFixture(t, scanner.Options{})
	ctx := context.Background()

	record := &mediafile.TrackFile{
		ArtistID:     f.artist.ID,
		AlbumID:      f.album.ID,
		RelativePath: "Discovery/01 - One More Time.flac",
		Size:         40 << 20,
		Modified:     time.Now(),
		Quality:      profile.QualityFLAC,
	}
	if err := f.files.Add(ctx, record); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	// artist root never created on the fake disk
	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	records, err := f.files.GetFilesByArtist(ctx, f.artist.ID)
	if err != nil {
		t.Fatalf("GetFilesByArtist() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records after cleanup, want 0", len(records))
	}
	if len(f.deleted) != 1 || f.deleted[0].Reason != events.DeleteReasonMissingFromDisk {
		t.Errorf("deleted events = %+v, want one missingFromDisk deletion", f.deleted)
	}
}

func TestScan_EmptyRootSkipsWithoutCleanup(t *testing.T) {
	f := newScanFixture(t, scanner.Options{})
	ctx := context.Background()

	record := &mediafile.TrackFile{
		ArtistID:     f.artist.ID,
		AlbumID:      f.album.ID,
		RelativePath: "Discovery/01 - One More Time.flac",
		Size:         40 << 20,
		Modified:     time.Now(),
		Quality:      profile.QualityFLAC,
	}
	if err := f.files.Add(ctx, record); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	f.disk.AddFolder(f.artist.Path)

	// an empty root looks like an unmounted share; records must survive
	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	records, err := f.files.GetFilesByArtist(ctx, f.artist.ID)
	if err != nil {
		t.Fatalf("GetFilesByArtist() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1 untouched", len(records))
	}
	if len(f.deleted) != 0 {
		t.Errorf("deletion events published for an empty root: %+v", f.deleted)
	}
}

func TestScan_RemovesRecordsForVanishedFiles(t *testing.T) {
	f := newScanFixture(t, scanner.Options{})
	ctx := context.Background()
	f.addAlbumFiles()

	gone := &mediafile.TrackFile{
		ArtistID:     f.artist.ID,
		AlbumID:      f.album.ID,
		RelativePath: "Homework/01 - Daftendirekt.flac",
		Size:         35 << 20,
		Modified:     time.Now(),
		Quality:      profile.QualityFLAC,
	}
	if err := f.files.Add(ctx, gone); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	records, err := f.files.GetFilesByArtist(ctx, f.artist.ID)
	if err != nil {
		t.Fatalf("GetFilesByArtist() error = %v", err)
	}
	for _, r := range records {
		if r.ID == gone.ID {
			t.Errorf("record for vanished file %q survived the scan", gone.RelativePath)
		}
	}
	if len(f.deleted) != 1 {
		t.Errorf("got %d deletion events, want 1", len(f.deleted))
	}
}

func TestScan_StoresUnmatchedFiles(t *testing.T) {
	f := newScanFixture(t, scanner.Options{})
	ctx := context.Background()
	f.addAlbumFiles()
	mod := time.Now().Truncate(time.Second).UTC()
	f.disk.AddFile("/music/Daft Punk/Bootleg Sessions/01 - Mystery.flac", 25<<20, mod)

	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	got, err := f.files.GetFileByRelativePath(ctx, f.artist.ID, "Bootleg Sessions/01 - Mystery.flac")
	if err != nil {
		t.Fatalf("unmatched file not stored: %v", err)
	}
	if got.AlbumID != 0 {
		t.Errorf("unmatched record album = %d, want 0", got.AlbumID)
	}
}

func TestScan_RemovesEmptyFolders(t *testing.T) {
	f := newScanFixture(t, scanner.Options{RemoveEmptyFolders: true})
	ctx := context.Background()
	f.addAlbumFiles()
	f.disk.AddFolder("/music/Daft Punk/Old Album")

	if err := f.scanner.Scan(ctx, f.artist); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if f.disk.FolderExists("/music/Daft Punk/Old Album") {
		t.Error("empty album folder survived the scan")
	}
	if !f.disk.FolderExists("/music/Daft Punk/Discovery") {
		t.Error("non-empty album folder was removed")
	}
}
