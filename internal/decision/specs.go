package decision

import (
	"context"
	"fmt"

	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/profile"
)

func unknownArtist(_ context.Context, _ *Engine, release *identification.LocalRelease) *Rejection {
	if release.Artist == nil {
		return &Rejection{Reason: "Unknown Artist", Type: Permanent}
	}
	return nil
}

func ambiguousAlbum(_ context.Context, _ *Engine, release *identification.LocalRelease) *Rejection {
	if len(release.Ambiguous) == 0 {
		return nil
	}
	return &Rejection{
		Reason: fmt.Sprintf("Multiple albums matched (%d candidates)", len(release.Ambiguous)),
		Type:   Permanent,
	}
}

func unknownAlbum(_ context.Context, _ *Engine, release *identification.LocalRelease) *Rejection {
	if release.Artist != nil && release.Album == nil && len(release.Ambiguous) == 0 {
		return &Rejection{Reason: "Unknown Album", Type: Permanent}
	}
	return nil
}

// alreadyImported rejects a new download when the target album already has a
// file for every track at a quality the profile would not upgrade.
func alreadyImported(ctx context.Context, e *Engine, release *identification.LocalRelease) *Rejection {
	if !release.NewDownload || release.Artist == nil || release.Album == nil {
		return nil
	}

	existing, err := e.files.GetFilesByAlbum(ctx, release.Album.ID)
	if err != nil {
		// Treated as unknown rather than rejected; the importer will catch
		// real conflicts.
		e.logger.Warn().Err(err).Int64("albumId", release.Album.ID).
			Msg("Failed to load existing album files")
		return nil
	}
	if len(existing) == 0 {
		return nil
	}

	covered := make(map[int64]profile.Quality)
	for _, f := range existing {
		for _, trackID := range f.TrackIDs {
			if q, ok := covered[trackID]; !ok || f.Quality > q {
				covered[trackID] = f.Quality
			}
		}
	}

	prof := e.registry.Get(release.Artist.QualityProfileID)
	for _, local := range release.Tracks {
		for _, t := range local.Tracks {
			current, ok := covered[t.ID]
			if !ok {
				return nil
			}
			if prof.IsUpgrade(current, local.Quality) {
				return nil
			}
		}
	}
	return &Rejection{Reason: "Album already imported", Type: Permanent}
}

func notSample(_ context.Context, e *Engine, local *identification.LocalTrack) *Rejection {
	if e.minFileSize > 0 && local.Size < e.minFileSize {
		return &Rejection{
			Reason: fmt.Sprintf("Sample file (%d bytes)", local.Size),
			Type:   Permanent,
		}
	}
	return nil
}

func qualityAllowed(_ context.Context, e *Engine, local *identification.LocalTrack) *Rejection {
	prof := e.registry.Get(local.Artist.QualityProfileID)
	if !prof.IsAllowed(local.Quality) {
		return &Rejection{
			Reason: fmt.Sprintf("Quality %s is not allowed by profile %s", local.Quality, prof.Name),
			Type:   Permanent,
		}
	}
	return nil
}

// upgradeAllowed rejects new downloads whose quality would not improve on
// the file a track already has. Existing files scanned in place are exempt.
func upgradeAllowed(ctx context.Context, e *Engine, local *identification.LocalTrack) *Rejection {
	if local.ExistingFile {
		return nil
	}
	prof := e.registry.Get(local.Artist.QualityProfileID)
	for _, t := range local.Tracks {
		if t.TrackFileID == 0 {
			continue
		}
		existing, err := e.files.Get(ctx, t.TrackFileID)
		if err != nil {
			continue
		}
		if existing.Quality >= local.Quality {
			return &Rejection{
				Reason: fmt.Sprintf("Existing file has equal or better quality (%s)", existing.Quality),
				Type:   Permanent,
			}
		}
		if !prof.IsUpgrade(existing.Quality, local.Quality) {
			return &Rejection{
				Reason: fmt.Sprintf("Upgrade from %s to %s is not allowed by profile %s",
					existing.Quality, local.Quality, prof.Name),
				Type: Permanent,
			}
		}
	}
	return nil
}
