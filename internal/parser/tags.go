package parser

import (
	"os"

	"github.com/dhowden/tag"
)

// TagReader extracts embedded metadata from a media file. Implementations
// must not fail on files without tags; they fall back to filename parsing.
type TagReader interface {
	ReadTags(path string) (ParsedTrackInfo, error)
}

// FileTagReader reads embedded tags (ID3v1/v2, Vorbis comments, MP4 atoms)
// and keeps the filename-derived quality and track-number hints for fields
// the tags leave empty. It is the default TagReader.
type FileTagReader struct{}

// ReadTags never returns an error: an unreadable or untagged file parses as
// its filename, per the TagReader contract.
func (FileTagReader) ReadTags(path string) (ParsedTrackInfo, error) {
	info := ParseTrackFilename(path)

	f, err := os.Open(path)
	if err != nil {
		return info, nil
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return info, nil
	}

	if title := m.Title(); title != "" {
		info.Title = title
	}
	if artist := m.AlbumArtist(); artist != "" {
		info.ArtistName = artist
	} else if artist := m.Artist(); artist != "" {
		info.ArtistName = artist
	}
	if album := m.Album(); album != "" {
		info.AlbumTitle = album
	}
	if track, _ := m.Track(); track > 0 {
		info.TrackNumber = track
	}
	if disc, _ := m.Disc(); disc > 0 {
		info.DiscNumber = disc
	}
	return info, nil
}

// FilenameTagReader derives track info purely from the file and folder
// names, skipping file I/O. Used by tests and as the explicit no-tags
// fallback.
type FilenameTagReader struct{}

// ReadTags parses the filename. It never returns an error; the error is in
// the signature for implementations that do real I/O.
func (FilenameTagReader) ReadTags(path string) (ParsedTrackInfo, error) {
	return ParseTrackFilename(path), nil
}
