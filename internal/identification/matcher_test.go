package identification

import (
	"testing"

	"github.com/driftarr/driftarr/internal/library"
)

func album(id int64, title string) library.Album {
	return library.Album{ID: id, Title: title, CleanTitle: library.CleanTitle(title)}
}

func TestMatchAlbum_Found(t *testing.T) {
	albums := []library.Album{
		album(1, "Discovery"),
		album(2, "Homework"),
	}

	match := MatchAlbum("Discovery", albums)
	if match.Outcome != MatchFound {
		t.Fatalf("Outcome = %v, want MatchFound", match.Outcome)
	}
	if match.Album.ID != 1 {
		t.Errorf("matched album %d, want 1", match.Album.ID)
	}
	if match.Score < 0.99 {
		t.Errorf("exact match score = %f", match.Score)
	}
}

func TestMatchAlbum_FuzzyFound(t *testing.T) {
	albums := []library.Album{
		album(1, "OK Computer"),
		album(2, "Kid A"),
	}

	match := MatchAlbum("OK Computerr", albums)
	if match.Outcome != MatchFound {
		t.Fatalf("Outcome = %v, want MatchFound", match.Outcome)
	}
	if match.Album.ID != 1 {
		t.Errorf("matched album %d, want 1", match.Album.ID)
	}
}

func TestMatchAlbum_NotFound(t *testing.T) {
	albums := []library.Album{album(1, "Discovery")}

	if match := MatchAlbum("Completely Unrelated", albums); match.Outcome != MatchNotFound {
		t.Errorf("Outcome = %v, want MatchNotFound", match.Outcome)
	}
	if match := MatchAlbum("", albums); match.Outcome != MatchNotFound {
		t.Errorf("empty title Outcome = %v, want MatchNotFound", match.Outcome)
	}
	if match := MatchAlbum("Discovery", nil); match.Outcome != MatchNotFound {
		t.Errorf("no candidates Outcome = %v, want MatchNotFound", match.Outcome)
	}
}

// Two near-identical titles must surface as ambiguous, never a silent pick.
func TestMatchAlbum_Ambiguous(t *testing.T) {
	albums := []library.Album{
		album(1, "Greatest Hits Vol 1"),
		album(2, "Greatest Hits Vol 2"),
	}

	match := MatchAlbum("Greatest Hits Vol", albums)
	if match.Outcome != MatchAmbiguous {
		t.Fatalf("Outcome = %v, want MatchAmbiguous", match.Outcome)
	}
	if len(match.Candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(match.Candidates))
	}
}

func TestBestArtistMatch(t *testing.T) {
	artists := []library.Artist{
		{ID: 1, Name: "Daft Punk", CleanName: "daftpunk"},
		{ID: 2, Name: "Justice", CleanName: "justice"},
	}

	best, score := bestArtistMatch("Daft Punk", artists)
	if best == nil || best.ID != 1 {
		t.Fatalf("best = %+v, want artist 1", best)
	}
	if score < 0.99 {
		t.Errorf("score = %f, want ~1.0", score)
	}

	if best, _ := bestArtistMatch("Nobody Here", artists); best != nil {
		t.Errorf("expected no match, got %+v", best)
	}
}
