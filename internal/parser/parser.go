// Package parser turns release titles, folder names and filenames into
// structured guesses. Parsing never fails hard: anything it cannot make
// sense of comes back with empty titles and Unknown quality, and callers
// treat that as "needs augmentation".
package parser

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/driftarr/driftarr/internal/profile"
)

// ParsedAlbumInfo is the guess extracted from a release or folder name.
type ParsedAlbumInfo struct {
	ArtistName   string
	AlbumTitle   string
	Year         int
	Quality      profile.Quality
	ReleaseGroup string
	Languages    []string
}

// IsEmpty reports whether nothing useful was parsed.
func (p ParsedAlbumInfo) IsEmpty() bool {
	return p.ArtistName == "" && p.AlbumTitle == ""
}

// ParsedTrackInfo is the guess extracted from a single file.
type ParsedTrackInfo struct {
	Title       string
	ArtistName  string
	AlbumTitle  string
	TrackNumber int
	DiscNumber  int
	Quality     profile.Quality
	Languages   []string
}

var (
	// "Artist - Album (2019) [FLAC]" and scene style "Artist-Album-2019-FLAC-GROUP"
	dashSeparatedRe = regexp.MustCompile(`^(?P<artist>.+?)\s+-\s+(?P<album>.+?)(?:\s+\((?P<year>\d{4})\))?(?:\s+\[(?P<tags>[^\]]+)\])?$`)
	sceneRe         = regexp.MustCompile(`^(?P<artist>[^-]+(?:-[^-]+)*?)-(?P<album>[^-]+(?:-[^-]+)*?)-(?:(?P<year>\d{4})-)?(?P<tags>[A-Za-z0-9_]+)-(?P<group>[A-Za-z0-9_]+)$`)
	yearRe          = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	groupRe         = regexp.MustCompile(`-([A-Za-z0-9_]+)$`)

	// "1-02 Title", "02 - Title", "02. Title", "02 Title"
	trackNumberRe = regexp.MustCompile(`^(?:(?P<disc>\d{1,2})[-.])?(?P<track>\d{1,3})(?:\s*[-._]\s*|\s+)(?P<title>.+)$`)
)

var qualityTokens = []struct {
	token   string
	quality profile.Quality
}{
	{"flac", profile.QualityFLAC},
	{"lossless", profile.QualityFLAC},
	{"wav", profile.QualityWAV},
	{"320", profile.QualityMP3_320},
	{"v0", profile.QualityMP3_256},
	{"256", profile.QualityMP3_256},
	{"192", profile.QualityMP3_192},
	{"aac", profile.QualityAAC},
	{"m4a", profile.QualityAAC},
}

var languageTokens = map[string]string{
	"english":  "English",
	"eng":      "English",
	"french":   "French",
	"german":   "German",
	"spanish":  "Spanish",
	"italian":  "Italian",
	"japanese": "Japanese",
}

// ParseAlbumTitle parses a release or album-folder title. The zero value is
// returned for titles that yield nothing.
func ParseAlbumTitle(title string) ParsedAlbumInfo {
	title = strings.TrimSpace(title)
	if title == "" {
		return ParsedAlbumInfo{}
	}

	normalized := strings.NewReplacer("_", " ", ".", " ").Replace(title)

	if m := matchNamed(dashSeparatedRe, normalized); m != nil {
		info := ParsedAlbumInfo{
			ArtistName: strings.TrimSpace(m["artist"]),
			AlbumTitle: strings.TrimSpace(m["album"]),
			Quality:    ParseQuality(title),
			Languages:  parseLanguages(normalized),
		}
		if m["year"] != "" {
			info.Year, _ = strconv.Atoi(m["year"])
		}
		info.ReleaseGroup = parseReleaseGroup(title)
		return info
	}

	if m := matchNamed(sceneRe, title); m != nil {
		info := ParsedAlbumInfo{
			ArtistName:   strings.TrimSpace(strings.ReplaceAll(m["artist"], "_", " ")),
			AlbumTitle:   strings.TrimSpace(strings.ReplaceAll(m["album"], "_", " ")),
			Quality:      ParseQuality(title),
			ReleaseGroup: m["group"],
			Languages:    parseLanguages(normalized),
		}
		if m["year"] != "" {
			info.Year, _ = strconv.Atoi(m["year"])
		}
		return info
	}

	// Nothing structured; keep whatever quality hints are present so even an
	// unmatched file carries quality and language.
	info := ParsedAlbumInfo{
		Quality:   ParseQuality(title),
		Languages: parseLanguages(normalized),
	}
	if y := yearRe.FindString(normalized); y != "" {
		info.Year, _ = strconv.Atoi(y)
	}
	return info
}

// ParseTrackFilename parses a track filename, without extension handling by
// the caller. Track and disc numbers are zero when absent.
func ParseTrackFilename(filename string) ParsedTrackInfo {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	info := ParsedTrackInfo{
		Quality:   qualityFromExtension(filename),
		Languages: parseLanguages(base),
	}
	if q := ParseQuality(base); q != profile.QualityUnknown {
		info.Quality = q
	}

	if m := matchNamed(trackNumberRe, base); m != nil {
		info.TrackNumber, _ = strconv.Atoi(m["track"])
		if m["disc"] != "" {
			info.DiscNumber, _ = strconv.Atoi(m["disc"])
		}
		title := strings.TrimSpace(m["title"])
		// "Artist - Title" inside the remainder
		if parts := strings.SplitN(title, " - ", 2); len(parts) == 2 {
			info.ArtistName = strings.TrimSpace(parts[0])
			info.Title = strings.TrimSpace(parts[1])
		} else {
			info.Title = title
		}
		return info
	}

	info.Title = strings.TrimSpace(base)
	return info
}

// ParseQuality scans text for a quality token. Unknown when none matches.
func ParseQuality(text string) profile.Quality {
	lower := strings.ToLower(text)
	for _, qt := range qualityTokens {
		if containsToken(lower, qt.token) {
			return qt.quality
		}
	}
	return profile.QualityUnknown
}

func qualityFromExtension(filename string) profile.Quality {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".flac":
		return profile.QualityFLAC
	case ".wav":
		return profile.QualityWAV
	case ".m4a", ".aac":
		return profile.QualityAAC
	default:
		return profile.QualityUnknown
	}
}

func parseReleaseGroup(title string) string {
	// Scene group is the trailing -GROUP token, but not a bare year or a
	// quality token.
	m := groupRe.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return ""
	}
	candidate := m[1]
	if yearRe.MatchString(candidate) {
		return ""
	}
	lower := strings.ToLower(candidate)
	for _, qt := range qualityTokens {
		if lower == qt.token {
			return ""
		}
	}
	return candidate
}

func parseLanguages(text string) []string {
	lower := strings.ToLower(text)
	var langs []string
	for token, name := range languageTokens {
		if containsToken(lower, token) {
			langs = append(langs, name)
		}
	}
	if len(langs) > 1 {
		// map iteration order is random
		sort.Strings(langs)
	}
	return langs
}

func containsToken(lower, token string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], token)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isAlphanumeric(lower[i-1])
		afterIdx := i + len(token)
		after := afterIdx >= len(lower) || !isAlphanumeric(lower[afterIdx])
		if before && after {
			return true
		}
		idx = i + 1
	}
}

func isAlphanumeric(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func matchNamed(re *regexp.Regexp, s string) map[string]string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	out := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" {
			out[name] = m[i]
		}
	}
	return out
}
