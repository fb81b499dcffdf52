package parser

import (
	"testing"

	"github.com/driftarr/driftarr/internal/profile"
)

func TestParseAlbumTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  ParsedAlbumInfo
	}{
		{
			name:  "dash separated with year and quality",
			title: "Daft Punk - Discovery (2001) [FLAC]",
			want: ParsedAlbumInfo{
				ArtistName: "Daft Punk",
				AlbumTitle: "Discovery",
				Year:       2001,
				Quality:    profile.QualityFLAC,
			},
		},
		{
			name:  "dash separated without year",
			title: "Radiohead - OK Computer",
			want: ParsedAlbumInfo{
				ArtistName: "Radiohead",
				AlbumTitle: "OK Computer",
			},
		},
		{
			name:  "scene style with group",
			title: "Daft_Punk-Discovery-2001-FLAC-LOSSLESSFAN",
			want: ParsedAlbumInfo{
				ArtistName:   "Daft Punk",
				AlbumTitle:   "Discovery",
				Year:         2001,
				Quality:      profile.QualityFLAC,
				ReleaseGroup: "LOSSLESSFAN",
			},
		},
		{
			name:  "unparseable keeps quality hint",
			title: "random noise 320",
			want: ParsedAlbumInfo{
				Quality: profile.QualityMP3_320,
			},
		},
		{
			name:  "empty input",
			title: "",
			want:  ParsedAlbumInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAlbumTitle(tt.title)
			if got.ArtistName != tt.want.ArtistName {
				t.Errorf("ArtistName = %q, want %q", got.ArtistName, tt.want.ArtistName)
			}
			if got.AlbumTitle != tt.want.AlbumTitle {
				t.Errorf("AlbumTitle = %q, want %q", got.AlbumTitle, tt.want.AlbumTitle)
			}
			if got.Year != tt.want.Year {
				t.Errorf("Year = %d, want %d", got.Year, tt.want.Year)
			}
			if got.Quality != tt.want.Quality {
				t.Errorf("Quality = %s, want %s", got.Quality, tt.want.Quality)
			}
			if got.ReleaseGroup != tt.want.ReleaseGroup {
				t.Errorf("ReleaseGroup = %q, want %q", got.ReleaseGroup, tt.want.ReleaseGroup)
			}
		})
	}
}

func TestParseAlbumTitle_UnparseableIsNotAnError(t *testing.T) {
	got := ParseAlbumTitle("!!!!")
	if !got.IsEmpty() {
		t.Errorf("expected empty parse, got %+v", got)
	}
	if got.Quality != profile.QualityUnknown {
		t.Errorf("Quality = %s, want Unknown", got.Quality)
	}
}

func TestParseTrackFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		track    int
		disc     int
		title    string
		quality  profile.Quality
	}{
		{
			name:     "numbered with dash",
			filename: "02 - Aerodynamic.flac",
			track:    2,
			title:    "Aerodynamic",
			quality:  profile.QualityFLAC,
		},
		{
			name:     "disc and track",
			filename: "1-05 Nightvision.mp3",
			track:    5,
			disc:     1,
			title:    "Nightvision",
		},
		{
			name:     "dotted number",
			filename: "03. Digital Love.m4a",
			track:    3,
			title:    "Digital Love",
			quality:  profile.QualityAAC,
		},
		{
			name:     "no number",
			filename: "hidden track.wav",
			track:    0,
			title:    "hidden track",
			quality:  profile.QualityWAV,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTrackFilename(tt.filename)
			if got.TrackNumber != tt.track {
				t.Errorf("TrackNumber = %d, want %d", got.TrackNumber, tt.track)
			}
			if got.DiscNumber != tt.disc {
				t.Errorf("DiscNumber = %d, want %d", got.DiscNumber, tt.disc)
			}
			if got.Title != tt.title {
				t.Errorf("Title = %q, want %q", got.Title, tt.title)
			}
			if got.Quality != tt.quality {
				t.Errorf("Quality = %s, want %s", got.Quality, tt.quality)
			}
		})
	}
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		text string
		want profile.Quality
	}{
		{"Artist - Album [FLAC]", profile.QualityFLAC},
		{"Artist - Album MP3 320", profile.QualityMP3_320},
		{"Artist - Album V0", profile.QualityMP3_256},
		{"Artist - Album WEB aac", profile.QualityAAC},
		{"Artist - Album", profile.QualityUnknown},
		// token must stand alone, not be embedded in a word
		{"Artist - Reflection", profile.QualityUnknown},
	}
	for _, tt := range tests {
		if got := ParseQuality(tt.text); got != tt.want {
			t.Errorf("ParseQuality(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}
