// Package profile defines the quality model and the profile registry the
// decision engine and identification service are configured with.
package profile

import "strings"

// Quality identifies a source quality, ordered from worst to best.
type Quality int

const (
	QualityUnknown Quality = iota
	QualityMP3_192
	QualityMP3_256
	QualityMP3_320
	QualityAAC
	QualityFLAC
	QualityWAV
)

var qualityNames = map[Quality]string{
	QualityUnknown: "Unknown",
	QualityMP3_192: "MP3-192",
	QualityMP3_256: "MP3-256",
	QualityMP3_320: "MP3-320",
	QualityAAC:     "AAC-VBR",
	QualityFLAC:    "FLAC",
	QualityWAV:     "WAV",
}

func (q Quality) String() string {
	if name, ok := qualityNames[q]; ok {
		return name
	}
	return "Unknown"
}

// ParseQuality maps a stored quality name back to a Quality.
func ParseQuality(name string) Quality {
	for q, n := range qualityNames {
		if strings.EqualFold(n, name) {
			return q
		}
	}
	return QualityUnknown
}

// Profile describes which qualities an artist accepts and when an existing
// file should be upgraded.
type Profile struct {
	ID             int64
	Name           string
	Allowed        []Quality
	Cutoff         Quality
	UpgradeAllowed bool
}

// IsAllowed reports whether the profile accepts the quality. Unknown is
// always allowed so unmatched files can still be catalogued.
func (p Profile) IsAllowed(q Quality) bool {
	if q == QualityUnknown {
		return true
	}
	for _, allowed := range p.Allowed {
		if allowed == q {
			return true
		}
	}
	return false
}

// IsUpgrade reports whether candidate is a better quality than current under
// this profile, honoring the cutoff.
func (p Profile) IsUpgrade(current, candidate Quality) bool {
	if !p.UpgradeAllowed {
		return false
	}
	if current >= p.Cutoff {
		return false
	}
	return candidate > current
}

// Registry resolves profiles by id. It is passed explicitly into the
// services that need profile lookups.
type Registry struct {
	profiles map[int64]Profile
}

// NewRegistry creates a registry from the given profiles.
func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[int64]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.ID] = p
	}
	return r
}

// Get returns the profile for the id, falling back to a permissive default
// when the id is unknown.
func (r *Registry) Get(id int64) Profile {
	if p, ok := r.profiles[id]; ok {
		return p
	}
	return DefaultProfile()
}

// DefaultProfile allows every quality with FLAC as the upgrade cutoff.
func DefaultProfile() Profile {
	return Profile{
		ID:   1,
		Name: "Any",
		Allowed: []Quality{
			QualityMP3_192, QualityMP3_256, QualityMP3_320,
			QualityAAC, QualityFLAC, QualityWAV,
		},
		Cutoff:         QualityFLAC,
		UpgradeAllowed: true,
	}
}
