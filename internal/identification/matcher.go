package identification

import (
	"github.com/hbollon/go-edlib"

	"github.com/driftarr/driftarr/internal/library"
)

const (
	// acceptThreshold is the minimum Jaro-Winkler similarity for a match.
	acceptThreshold = 0.85
	// ambiguityWindow flags a match as ambiguous when a second candidate
	// scores within this distance of the best.
	ambiguityWindow = 0.05
)

// MatchOutcome tags an album match result.
type MatchOutcome int

const (
	MatchNotFound MatchOutcome = iota
	MatchFound
	MatchAmbiguous
)

// AlbumMatch is the result of matching a parsed title against an artist's
// albums.
type AlbumMatch struct {
	Outcome    MatchOutcome
	Album      *library.Album
	Candidates []library.Album
	Score      float64
}

// MatchAlbum fuzzy-matches a title against the candidate albums. When two
// candidates score within the ambiguity window the result is Ambiguous and
// carries both, so the caller can reject instead of guessing.
func MatchAlbum(title string, albums []library.Album) AlbumMatch {
	clean := library.CleanTitle(title)
	if clean == "" || len(albums) == 0 {
		return AlbumMatch{Outcome: MatchNotFound}
	}

	type scored struct {
		album library.Album
		score float64
	}
	var matches []scored
	for _, al := range albums {
		score := float64(edlib.JaroWinklerSimilarity(clean, al.CleanTitle))
		if score >= acceptThreshold {
			matches = append(matches, scored{album: al, score: score})
		}
	}
	if len(matches) == 0 {
		return AlbumMatch{Outcome: MatchNotFound}
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.score > best.score {
			best = m
		}
	}

	var ambiguous []library.Album
	for _, m := range matches {
		if m.album.ID != best.album.ID && best.score-m.score <= ambiguityWindow {
			ambiguous = append(ambiguous, m.album)
		}
	}
	if len(ambiguous) > 0 {
		return AlbumMatch{
			Outcome:    MatchAmbiguous,
			Candidates: append([]library.Album{best.album}, ambiguous...),
			Score:      best.score,
		}
	}

	album := best.album
	return AlbumMatch{Outcome: MatchFound, Album: &album, Score: best.score}
}

// bestArtistMatch returns the artist whose clean name scores highest against
// the parsed name, or nil when nothing clears the accept threshold.
func bestArtistMatch(name string, artists []library.Artist) (*library.Artist, float64) {
	clean := library.CleanTitle(name)
	if clean == "" {
		return nil, 0
	}
	var best *library.Artist
	var bestScore float64
	for i := range artists {
		score := float64(edlib.JaroWinklerSimilarity(clean, artists[i].CleanName))
		if score >= acceptThreshold && score > bestScore {
			best = &artists[i]
			bestScore = score
		}
	}
	return best, bestScore
}
