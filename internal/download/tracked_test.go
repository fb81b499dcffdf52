package download

import (
	"sync"
	"testing"

	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/testutil"
)

func TestStateTerminal(t *testing.T) {
	cases := []struct {
		state State
		want  bool
	}{
		{StateDownloading, false},
		{StateImportPending, false},
		{StateWarning, false},
		{StateImported, true},
		{StateImportFailed, true},
	}
	for _, tc := range cases {
		if got := tc.state.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestTransitionTo_TerminalStatesNeverRegress(t *testing.T) {
	td := &TrackedDownload{DownloadID: "abc", State: StateImportPending}

	if !td.TransitionTo(StateImported) {
		t.Fatal("transition to Imported refused")
	}
	for _, state := range []State{StateDownloading, StateImportPending, StateWarning, StateImportFailed} {
		if td.TransitionTo(state) {
			t.Errorf("Imported download transitioned to %s", state)
		}
		if td.State != StateImported {
			t.Fatalf("state regressed to %s", td.State)
		}
	}
	// transitioning to the current terminal state is a no-op, not a refusal
	if !td.TransitionTo(StateImported) {
		t.Error("same-state transition refused")
	}

	failed := &TrackedDownload{DownloadID: "def", State: StateDownloading}
	failed.TransitionTo(StateImportFailed)
	if failed.TransitionTo(StateImportPending) {
		t.Error("ImportFailed download transitioned back to ImportPending")
	}
}

func TestTrackedStore_GetOrAdd(t *testing.T) {
	store := NewTrackedStore(testutil.NewTestLogger(t))

	td := store.GetOrAdd("abc", "qbittorrent")
	if td.State != StateDownloading {
		t.Errorf("new download state = %s, want downloading", td.State)
	}
	if again := store.GetOrAdd("abc", "other"); again != td {
		t.Error("GetOrAdd created a second entry for the same id")
	}
	if store.Get("missing") != nil {
		t.Error("Get returned an entry for an unknown id")
	}
}

func TestTrackedStore_AllReturnsCopies(t *testing.T) {
	store := NewTrackedStore(testutil.NewTestLogger(t))
	td := store.GetOrAdd("abc", "qbittorrent")
	td.setItem(ClientItem{DownloadID: "abc", Title: "Daft Punk - Discovery"})
	td.setEntity(&library.Artist{ID: 7, Name: "Daft Punk"}, &library.Album{ID: 3}, "Daft Punk - Discovery")

	all := store.All()
	if len(all) != 1 {
		t.Fatalf("All() returned %d entries, want 1", len(all))
	}
	snap := all[0]
	if snap.Title != "Daft Punk - Discovery" || snap.ArtistID != 7 || snap.AlbumID != 3 {
		t.Fatalf("snapshot = %+v, want tracked fields copied", snap)
	}

	// later poll-cycle mutations must not show through the snapshot
	td.setItem(ClientItem{DownloadID: "abc", Title: "renamed"})
	td.setStatusMessage("No files were imported")
	td.TransitionTo(StateImportFailed)

	if snap.Title != "Daft Punk - Discovery" || snap.State != StateDownloading || snap.StatusMessage != "" {
		t.Errorf("snapshot changed after mutation: %+v", snap)
	}
	if fresh := store.All()[0]; fresh.State != StateImportFailed || fresh.Title != "renamed" {
		t.Errorf("fresh snapshot = %+v, want mutated fields", fresh)
	}
}

func TestTrackedDownload_SnapshotDuringPollWrites(t *testing.T) {
	store := NewTrackedStore(testutil.NewTestLogger(t))
	td := store.GetOrAdd("abc", "qbittorrent")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			td.setItem(ClientItem{DownloadID: "abc", Title: "Daft Punk - Discovery"})
			td.setStatusMessage("Download imported partially")
			td.TransitionTo(StateImportPending)
		}
	}()
	for i := 0; i < 1000; i++ {
		for _, snap := range store.All() {
			_ = snap.State.String()
		}
	}
	wg.Wait()
}

func TestTrackedStore_SweepRemovesUnseen(t *testing.T) {
	store := NewTrackedStore(testutil.NewTestLogger(t))
	kept := store.GetOrAdd("kept", "qbittorrent")
	store.GetOrAdd("gone", "qbittorrent")

	store.markAllUnseen()
	kept.seen = true
	removed := store.sweepUnseen()

	if len(removed) != 1 || removed[0].DownloadID != "gone" {
		t.Fatalf("removed = %+v, want the unseen entry", removed)
	}
	if store.Get("kept") == nil {
		t.Error("seen entry was swept")
	}
	if store.Get("gone") != nil {
		t.Error("unseen entry survived the sweep")
	}
}
