// Package identification groups scanned files into candidate releases and
// resolves them against the library.
package identification

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/parser"
	"github.com/driftarr/driftarr/internal/profile"
)

// LocalTrack is one candidate file flowing through an import run. It is
// built per run and discarded afterwards; only fields copied into persisted
// records survive.
type LocalTrack struct {
	Path         string
	Size         int64
	Modified     time.Time
	Quality      profile.Quality
	Languages    []string
	ReleaseGroup string
	SceneName    string

	FileTrackInfo   parser.ParsedTrackInfo
	FolderAlbumInfo parser.ParsedAlbumInfo

	Artist *library.Artist
	Album  *library.Album
	Tracks []library.Track

	ExistingFile bool
	SceneSource  bool
}

// LocalRelease groups the LocalTracks believed to belong to one album.
// Artist and Album are nil when the files could not be matched.
type LocalRelease struct {
	Artist      *library.Artist
	Album       *library.Album
	Tracks      []*LocalTrack
	NewDownload bool

	// Ambiguous carries the candidate albums when more than one matched
	// with near-equal confidence. A release with Ambiguous set must be
	// rejected, never silently resolved.
	Ambiguous []library.Album
}

// Options controls a single Identify call.
type Options struct {
	// Artist and Album pin the resolution when the caller already knows
	// them (manual import, tracked download).
	Artist *library.Artist
	Album  *library.Album
	// DownloadTitle is the grabbed release title of an active tracked
	// download, tried before folder parsing.
	DownloadTitle string
	NewDownload   bool
	// SingleRelease forces all files into one release regardless of
	// folder grouping.
	SingleRelease bool
}

// Service resolves scanned files to library entities.
type Service struct {
	library  *library.Store
	registry *profile.Registry
	tags     parser.TagReader
	logger   zerolog.Logger
}

// NewService creates an identification service.
func NewService(lib *library.Store, registry *profile.Registry, tags parser.TagReader, logger zerolog.Logger) *Service {
	return &Service{
		library:  lib,
		registry: registry,
		tags:     tags,
		logger:   logger.With().Str("component", "identification").Logger(),
	}
}

// ScannedFile is the scanner's view of a candidate file.
type ScannedFile struct {
	Path         string
	Size         int64
	Modified     time.Time
	ExistingFile bool
}

// Identify groups files by containing folder and resolves each group. Files
// that match nothing are passed through in a release with a nil artist so
// the decision engine can reject them with a reason instead of dropping
// them.
func (s *Service) Identify(ctx context.Context, files []ScannedFile, opts Options) ([]LocalRelease, error) {
	if len(files) == 0 {
		return nil, nil
	}

	locals := make([]*LocalTrack, 0, len(files))
	for _, f := range files {
		local, err := s.buildLocalTrack(f)
		if err != nil {
			s.logger.Warn().Err(err).Str("path", f.Path).Msg("Failed to read file metadata")
			continue
		}
		locals = append(locals, local)
	}

	var groups [][]*LocalTrack
	if opts.SingleRelease {
		groups = [][]*LocalTrack{locals}
	} else {
		groups = groupByFolder(locals)
	}

	releases := make([]LocalRelease, 0, len(groups))
	for _, group := range groups {
		release, err := s.resolveGroup(ctx, group, opts)
		if err != nil {
			return nil, err
		}
		releases = append(releases, release)
	}
	return releases, nil
}

func (s *Service) buildLocalTrack(f ScannedFile) (*LocalTrack, error) {
	trackInfo, err := s.tags.ReadTags(f.Path)
	if err != nil {
		return nil, err
	}
	folderInfo := parser.ParseAlbumTitle(filepath.Base(filepath.Dir(f.Path)))

	local := &LocalTrack{
		Path:            f.Path,
		Size:            f.Size,
		Modified:        f.Modified,
		Quality:         trackInfo.Quality,
		Languages:       trackInfo.Languages,
		ReleaseGroup:    folderInfo.ReleaseGroup,
		FileTrackInfo:   trackInfo,
		FolderAlbumInfo: folderInfo,
		ExistingFile:    f.ExistingFile,
		SceneSource:     folderInfo.ReleaseGroup != "",
	}
	if local.Quality == profile.QualityUnknown {
		local.Quality = folderInfo.Quality
	}
	if len(local.Languages) == 0 {
		local.Languages = folderInfo.Languages
	}
	if local.SceneSource {
		local.SceneName = filepath.Base(filepath.Dir(f.Path))
	}
	return local, nil
}

// resolveGroup applies the resolution order: explicit entity, tracked
// download title, folder parse, file parse, unmatched.
func (s *Service) resolveGroup(ctx context.Context, group []*LocalTrack, opts Options) (LocalRelease, error) {
	release := LocalRelease{Tracks: group, NewDownload: opts.NewDownload}

	if opts.Artist != nil {
		release.Artist = opts.Artist
		release.Album = opts.Album
		if release.Album == nil {
			if err := s.resolveAlbum(ctx, &release, group); err != nil {
				return release, err
			}
		}
		s.attachTracks(ctx, &release)
		return release, nil
	}

	if opts.DownloadTitle != "" {
		info := parser.ParseAlbumTitle(opts.DownloadTitle)
		if matched, err := s.matchArtist(ctx, &release, info); err != nil {
			return release, err
		} else if matched {
			s.attachTracks(ctx, &release)
			return release, nil
		}
	}

	for _, local := range group {
		if matched, err := s.matchArtist(ctx, &release, local.FolderAlbumInfo); err != nil {
			return release, err
		} else if matched {
			s.attachTracks(ctx, &release)
			return release, nil
		}
		if local.FileTrackInfo.ArtistName != "" {
			info := parser.ParsedAlbumInfo{
				ArtistName: local.FileTrackInfo.ArtistName,
				AlbumTitle: local.FileTrackInfo.AlbumTitle,
			}
			if matched, err := s.matchArtist(ctx, &release, info); err != nil {
				return release, err
			} else if matched {
				s.attachTracks(ctx, &release)
				return release, nil
			}
		}
	}

	// Unmatched: the release flows on carrying only quality, language and
	// size so the decision engine rejects it with an explicit reason.
	s.logger.Debug().Int("files", len(group)).Msg("Could not match files to any artist")
	return release, nil
}

func (s *Service) matchArtist(ctx context.Context, release *LocalRelease, info parser.ParsedAlbumInfo) (bool, error) {
	if info.ArtistName == "" {
		return false, nil
	}
	artist, err := s.library.GetArtistByCleanName(ctx, info.ArtistName)
	if errors.Is(err, library.ErrNotFound) {
		artist, err = s.fuzzyMatchArtist(ctx, info.ArtistName)
	}
	if err != nil || artist == nil {
		return false, err
	}
	release.Artist = artist

	if info.AlbumTitle != "" {
		albums, err := s.library.GetAlbumsByArtist(ctx, artist.ID)
		if err != nil {
			return false, err
		}
		match := MatchAlbum(info.AlbumTitle, albums)
		switch match.Outcome {
		case MatchFound:
			release.Album = match.Album
		case MatchAmbiguous:
			release.Ambiguous = match.Candidates
		}
	}
	return true, nil
}

func (s *Service) fuzzyMatchArtist(ctx context.Context, name string) (*library.Artist, error) {
	artists, err := s.library.ListArtists(ctx)
	if err != nil {
		return nil, err
	}
	best, score := bestArtistMatch(name, artists)
	if best == nil {
		return nil, nil
	}
	s.logger.Debug().Str("parsed", name).Str("matched", best.Name).Float64("score", score).
		Msg("Fuzzy matched artist")
	return best, nil
}

// resolveAlbum fills in the album when only the artist is pinned, using the
// first file whose folder or tags yield a matchable album title.
func (s *Service) resolveAlbum(ctx context.Context, release *LocalRelease, group []*LocalTrack) error {
	albums, err := s.library.GetAlbumsByArtist(ctx, release.Artist.ID)
	if err != nil {
		return err
	}
	for _, local := range group {
		title := local.FolderAlbumInfo.AlbumTitle
		if title == "" {
			title = local.FileTrackInfo.AlbumTitle
		}
		if title == "" {
			// Library layouts name the album folder after the album itself,
			// which the release parser yields nothing for.
			title = filepath.Base(filepath.Dir(local.Path))
		}
		match := MatchAlbum(title, albums)
		switch match.Outcome {
		case MatchFound:
			release.Album = match.Album
			return nil
		case MatchAmbiguous:
			release.Ambiguous = match.Candidates
			return nil
		}
	}
	return nil
}

// attachTracks resolves track records by number for each file, and copies
// the resolved entity onto every LocalTrack in the release.
func (s *Service) attachTracks(ctx context.Context, release *LocalRelease) {
	var tracks []library.Track
	if release.Album != nil {
		var err error
		tracks, err = s.library.GetTracksByAlbum(ctx, release.Album.ID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("albumId", release.Album.ID).Msg("Failed to load album tracks")
		}
	}

	for _, local := range release.Tracks {
		local.Artist = release.Artist
		local.Album = release.Album
		if local.FileTrackInfo.TrackNumber == 0 {
			continue
		}
		for _, t := range tracks {
			if t.TrackNumber != local.FileTrackInfo.TrackNumber {
				continue
			}
			if local.FileTrackInfo.DiscNumber != 0 && t.DiscNumber != local.FileTrackInfo.DiscNumber {
				continue
			}
			local.Tracks = append(local.Tracks, t)
			break
		}
	}
}

func groupByFolder(locals []*LocalTrack) [][]*LocalTrack {
	byFolder := make(map[string][]*LocalTrack)
	var order []string
	for _, local := range locals {
		dir := filepath.Dir(local.Path)
		if _, ok := byFolder[dir]; !ok {
			order = append(order, dir)
		}
		byFolder[dir] = append(byFolder[dir], local)
	}
	groups := make([][]*LocalTrack, 0, len(order))
	for _, dir := range order {
		groups = append(groups, byFolder[dir])
	}
	return groups
}
