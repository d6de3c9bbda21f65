// Package snapshot composes the reducers into immutable performance
// snapshots and renders them for the outside world.
package snapshot

import (
	"time"

	"github.com/okian/classboard/internal/domain/band"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/internal/domain/reduce"
	"github.com/okian/classboard/internal/domain/timeline"
)

// Builder turns resolved sets into snapshots. It holds no mutable state
// and is safe for concurrent use.
type Builder struct {
	classifier *band.Classifier
	location   *time.Location
}

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithClassifier sets the band classifier.
func WithClassifier(c *band.Classifier) Option {
	return func(b *Builder) {
		if c != nil {
			b.classifier = c
		}
	}
}

// WithLocation sets the zone used to place submissions on calendar days.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		if loc != nil {
			b.location = loc
		}
	}
}

// NewBuilder creates a builder with default bands in UTC.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{classifier: band.NewClassifier(), location: time.UTC}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build reduces set into a snapshot stamped asOf. The same set and asOf
// always produce equal snapshots.
func (b *Builder) Build(scope model.Scope, set model.ResolvedSet, asOf time.Time) *model.Snapshot {
	ix := reduce.NewIndex(set)
	students := b.classifier.Apply(ix.StudentRollups())
	dist := band.Distribution(students)

	overview := ix.Overview(students)
	overview.TopPerformers = dist[model.BandExcellent]
	overview.NeedsImprovement = dist[model.BandNeedsImprovement]

	return &model.Snapshot{
		Scope:             scope,
		AsOf:              asOf,
		ClassRollups:      ix.Classes(),
		StudentRollups:    students,
		SubjectAggregates: ix.Subjects(),
		Distribution:      dist,
		Timeline:          timeline.Build(set, b.location),
		Overview:          overview,
	}
}
