// Package band buckets students into performance bands and ranks them.
package band

import (
	"sort"

	"github.com/okian/classboard/internal/domain/model"
)

// Default band lower bounds, inclusive.
const (
	defaultExcellent = 90
	defaultGood      = 80
	defaultAverage   = 70
	maxGrade         = 100
)

// Thresholds are the inclusive lower bounds of the upper three bands.
type Thresholds struct {
	Excellent float64
	Good      float64
	Average   float64
}

// DefaultThresholds returns the 90 / 80 / 70 cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Excellent: defaultExcellent, Good: defaultGood, Average: defaultAverage}
}

// Valid reports whether the bounds are strictly descending within [0, 100].
func (t Thresholds) Valid() bool {
	return t.Excellent <= maxGrade && t.Excellent > t.Good && t.Good > t.Average && t.Average >= 0
}

// Option applies a configuration option to the Classifier.
type Option func(*Classifier)

// WithThresholds replaces the default cut-offs. Invalid bounds are ignored.
func WithThresholds(t Thresholds) Option {
	return func(c *Classifier) {
		if t.Valid() {
			c.thresholds = t
		}
	}
}

// Classifier assigns bands from average grades.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier with the default cut-offs unless
// overridden.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{thresholds: DefaultThresholds()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Thresholds returns the cut-offs in use.
func (c *Classifier) Thresholds() Thresholds { return c.thresholds }

// Classify maps an average grade to a band, checking the highest band
// first. A student with no graded work has an average of 0 and lands in
// Needs Improvement.
func (c *Classifier) Classify(avg float64) model.Band {
	switch {
	case avg >= c.thresholds.Excellent:
		return model.BandExcellent
	case avg >= c.thresholds.Good:
		return model.BandGood
	case avg >= c.thresholds.Average:
		return model.BandAverage
	default:
		return model.BandNeedsImprovement
	}
}

// Apply returns a copy of rollups with bands set, ordered and ranked.
func (c *Classifier) Apply(rollups []model.StudentRollup) []model.StudentRollup {
	out := make([]model.StudentRollup, len(rollups))
	copy(out, rollups)
	for i := range out {
		out[i].Band = c.Classify(out[i].AverageGrade)
	}
	Rank(out)
	return out
}

// Rank orders rollups by average grade descending, then student id, and
// sets 1-based competition ranks: equal averages share a rank and the
// next distinct average skips past them.
func Rank(rollups []model.StudentRollup) {
	sort.SliceStable(rollups, func(i, j int) bool {
		if rollups[i].AverageGrade != rollups[j].AverageGrade {
			return rollups[i].AverageGrade > rollups[j].AverageGrade
		}
		return rollups[i].StudentID < rollups[j].StudentID
	})
	for i := range rollups {
		if i > 0 && rollups[i].AverageGrade == rollups[i-1].AverageGrade {
			rollups[i].Rank = rollups[i-1].Rank
			continue
		}
		rollups[i].Rank = i + 1
	}
}

// Distribution counts rollups per band. Every band is present, so the
// counts always sum to len(rollups).
func Distribution(rollups []model.StudentRollup) map[model.Band]int {
	d := make(map[model.Band]int, len(model.Bands()))
	for _, b := range model.Bands() {
		d[b] = 0
	}
	for _, r := range rollups {
		d[r.Band]++
	}
	return d
}
