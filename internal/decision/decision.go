// Package decision evaluates candidate files against release-level and
// file-level specifications and produces import decisions.
package decision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/identification"
	"github.com/driftarr/driftarr/internal/mediafile"
	"github.com/driftarr/driftarr/internal/profile"
)

// RejectionType distinguishes rejections that may be retried from ones that
// never will be.
type RejectionType int

const (
	// Permanent rejections are final for this candidate.
	Permanent RejectionType = iota
	// Temporary rejections are eligible for re-queue into the pending
	// release list.
	Temporary
)

func (t RejectionType) String() string {
	if t == Temporary {
		return "temporary"
	}
	return "permanent"
}

// Rejection is one typed reason a candidate was not approved.
type Rejection struct {
	Reason string
	Type   RejectionType
}

// ImportDecision is the verdict for one candidate file. Approved iff there
// are zero rejections.
type ImportDecision struct {
	Item       *identification.LocalTrack
	Release    *identification.LocalRelease
	Rejections []Rejection
}

// Approved reports whether the decision carries no rejections.
func (d ImportDecision) Approved() bool {
	return len(d.Rejections) == 0
}

// Reasons returns the rejection reasons as strings.
func (d ImportDecision) Reasons() []string {
	reasons := make([]string, len(d.Rejections))
	for i, r := range d.Rejections {
		reasons[i] = r.Reason
	}
	return reasons
}

type releaseSpec struct {
	name  string
	check func(ctx context.Context, e *Engine, release *identification.LocalRelease) *Rejection
}

type fileSpec struct {
	name  string
	check func(ctx context.Context, e *Engine, local *identification.LocalTrack) *Rejection
}

// Engine runs the specification sets. Release-level specifications are
// evaluated first; a rejected release's files inherit its rejections without
// individual evaluation.
type Engine struct {
	registry    *profile.Registry
	files       *mediafile.Store
	minFileSize int64
	logger      zerolog.Logger

	releaseSpecs []releaseSpec
	fileSpecs    []fileSpec
}

// NewEngine creates a decision engine.
func NewEngine(registry *profile.Registry, files *mediafile.Store, minFileSize int64, logger zerolog.Logger) *Engine {
	e := &Engine{
		registry:    registry,
		files:       files,
		minFileSize: minFileSize,
		logger:      logger.With().Str("component", "decision").Logger(),
	}
	e.releaseSpecs = []releaseSpec{
		{name: "UnknownArtist", check: unknownArtist},
		{name: "AmbiguousAlbum", check: ambiguousAlbum},
		{name: "UnknownAlbum", check: unknownAlbum},
		{name: "AlreadyImported", check: alreadyImported},
	}
	e.fileSpecs = []fileSpec{
		{name: "NotSample", check: notSample},
		{name: "QualityAllowed", check: qualityAllowed},
		{name: "UpgradeAllowed", check: upgradeAllowed},
	}
	return e
}

// GetDecisions evaluates every file in the given releases and returns one
// decision per file, in input order.
func (e *Engine) GetDecisions(ctx context.Context, releases []identification.LocalRelease) []ImportDecision {
	var decisions []ImportDecision
	for i := range releases {
		release := &releases[i]
		releaseRejections := e.evaluateRelease(ctx, release)

		for _, local := range release.Tracks {
			d := ImportDecision{Item: local, Release: release}
			if len(releaseRejections) > 0 {
				// Files inherit the release's rejections verbatim and are
				// not evaluated individually.
				d.Rejections = releaseRejections
			} else {
				d.Rejections = e.evaluateFile(ctx, local)
			}
			if !d.Approved() {
				e.logger.Debug().Str("path", local.Path).Strs("reasons", d.Reasons()).
					Msg("File rejected")
			}
			decisions = append(decisions, d)
		}
	}
	return decisions
}

func (e *Engine) evaluateRelease(ctx context.Context, release *identification.LocalRelease) []Rejection {
	var rejections []Rejection
	for _, spec := range e.releaseSpecs {
		if r := e.runReleaseSpec(ctx, spec, release); r != nil {
			rejections = append(rejections, *r)
		}
	}
	return rejections
}

func (e *Engine) evaluateFile(ctx context.Context, local *identification.LocalTrack) []Rejection {
	// Files that resolved to no track unit cannot be evaluated; reject
	// before any specification runs.
	if len(local.Tracks) == 0 {
		return []Rejection{{Reason: "Couldn't parse tracks from file", Type: Permanent}}
	}
	var rejections []Rejection
	for _, spec := range e.fileSpecs {
		if r := e.runFileSpec(ctx, spec, local); r != nil {
			rejections = append(rejections, *r)
		}
	}
	return rejections
}

// runReleaseSpec isolates faults: a panicking specification becomes a
// rejection naming it, never an aborted evaluation.
func (e *Engine) runReleaseSpec(ctx context.Context, spec releaseSpec, release *identification.LocalRelease) (rejection *Rejection) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("specification", spec.name).Interface("panic", r).
				Msg("Specification panicked")
			rejection = &Rejection{
				Reason: fmt.Sprintf("%s: %v", spec.name, r),
				Type:   Permanent,
			}
		}
	}()
	return spec.check(ctx, e, release)
}

func (e *Engine) runFileSpec(ctx context.Context, spec fileSpec, local *identification.LocalTrack) (rejection *Rejection) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("specification", spec.name).Interface("panic", r).
				Msg("Specification panicked")
			rejection = &Rejection{
				Reason: fmt.Sprintf("%s: %v", spec.name, r),
				Type:   Permanent,
			}
		}
	}()
	return spec.check(ctx, e, local)
}
