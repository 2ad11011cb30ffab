package facematch

import (
	"math"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// LabeledDescriptor pairs a member identity with its reference descriptor.
type LabeledDescriptor struct {
	Label      string
	Descriptor Descriptor
}

// Match is the outcome of a nearest-neighbor query.
type Match struct {
	Label    string
	Distance float64
}

// IsKnown reports whether the match resolved to a labeled identity.
func (m Match) IsKnown() bool {
	return m.Label != constants.UnknownLabel
}

// Matcher is a nearest-neighbor classifier over a fixed labeled set.
// It is immutable after construction and safe for concurrent use.
type Matcher struct {
	labeled   []LabeledDescriptor
	tolerance float64
}

// NewMatcher copies the labeled set. A non-positive tolerance selects the default (0.6).
func NewMatcher(labeled []LabeledDescriptor, tolerance float64) *Matcher {
	if tolerance <= 0 {
		tolerance = constants.DefaultMatchTolerance
	}
	set := make([]LabeledDescriptor, len(labeled))
	copy(set, labeled)
	return &Matcher{labeled: set, tolerance: tolerance}
}

// Tolerance returns the distance threshold.
func (m *Matcher) Tolerance() float64 {
	return m.tolerance
}

// Len returns the number of labeled descriptors.
func (m *Matcher) Len() int {
	return len(m.labeled)
}

// FindBestMatch returns the closest label when its distance is below the
// tolerance, otherwise UnknownLabel with the minimum distance so callers can
// inspect near misses. Ties keep the earliest entry. An empty set returns
// UnknownLabel with an infinite distance.
func (m *Matcher) FindBestMatch(query Descriptor) Match {
	best := Match{Label: constants.UnknownLabel, Distance: math.Inf(1)}
	bestIdx := -1
	for i := range m.labeled {
		d := EuclideanDistance(query, m.labeled[i].Descriptor)
		if d < best.Distance {
			best.Distance = d
			bestIdx = i
		}
	}
	if bestIdx >= 0 && best.Distance < m.tolerance {
		best.Label = m.labeled[bestIdx].Label
	}
	return best
}
