// Package join resolves a scope into the joined record set the reducers
// consume. Resolve does the staged store reads; Join is the pure half.
package join

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Raw holds the rows fetched for a scope before they are joined.
type Raw struct {
	Enrollments []model.Enrollment
	Classes     []model.ClassRecord
	Assignments []model.Assignment
	Submissions []model.Submission
	Attendance  []model.AttendanceRecord
}

// Resolver fetches the rows of a scope through the store client.
type Resolver struct {
	store  repository.Reader
	logger logger.Logger
}

// Option applies a configuration option to the Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver reading from store.
func NewResolver(store repository.Reader, opts ...Option) *Resolver {
	r := &Resolver{store: store, logger: logger.Get().Named("join")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches and joins every record relevant to scope. Independent
// queries of a stage run concurrently. A scope with no enrollments
// resolves to a set without rows. Store failures are wrapped in
// ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, scope model.Scope) (model.ResolvedSet, error) {
	if err := scope.Validate(); err != nil {
		return model.ResolvedSet{}, err
	}
	start := time.Now()

	var (
		raw Raw
		err error
	)
	switch scope.Kind {
	case model.ScopeClass:
		raw, err = r.fetchClasses(ctx, []string{scope.ID}, nil)
	case model.ScopeStudent:
		raw, err = r.fetchStudent(ctx, scope.ID)
	case model.ScopeTeacher:
		raw, err = r.fetchTeacher(ctx, scope.ID)
	}
	if err != nil {
		return model.ResolvedSet{}, fmt.Errorf("%w: %s: %w", ErrResolutionFailed, scope, err)
	}

	set := Join(scope, raw)
	r.logger.Debug(ctx, "scope resolved",
		logger.String("scope", scope.Key()),
		logger.Int("enrollments", len(set.Enrollments)),
		logger.Int("submissions", len(set.Submissions)),
		logger.Int("attendance", len(set.Attendance)),
		logger.Duration("took", time.Since(start)),
	)
	return set, nil
}

// fetchClasses reads every row of the given classes. Known class records
// from an earlier stage are reused instead of re-read.
func (r *Resolver) fetchClasses(ctx context.Context, classIDs []string, known []model.ClassRecord) (Raw, error) {
	var raw Raw
	in := classFilter(classIDs)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		raw.Enrollments, err = r.store.Enrollments(gctx, in)
		return err
	})
	if known == nil {
		g.Go(func() (err error) {
			raw.Classes, err = r.store.Classes(gctx, idFilter(classIDs))
			return err
		})
	} else {
		raw.Classes = known
	}
	g.Go(func() (err error) {
		raw.Assignments, err = r.store.Assignments(gctx, in)
		return err
	})
	g.Go(func() (err error) {
		raw.Attendance, err = r.store.Attendance(gctx, in)
		return err
	})
	if err := g.Wait(); err != nil {
		return Raw{}, err
	}
	if len(raw.Enrollments) == 0 || len(raw.Assignments) == 0 {
		return raw, nil
	}

	var err error
	raw.Submissions, err = r.store.Submissions(ctx,
		repository.In(repository.FieldAssignmentID, assignmentIDs(raw.Assignments)))
	if err != nil {
		return Raw{}, err
	}
	return raw, nil
}

func (r *Resolver) fetchStudent(ctx context.Context, studentID string) (Raw, error) {
	var raw Raw
	var err error
	raw.Enrollments, err = r.store.Enrollments(ctx, repository.Eq(repository.FieldStudentID, studentID))
	if err != nil || len(raw.Enrollments) == 0 {
		return raw, err
	}
	classIDs := make([]string, 0, len(raw.Enrollments))
	for _, e := range raw.Enrollments {
		classIDs = append(classIDs, e.ClassID)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		raw.Classes, err = r.store.Classes(gctx, idFilter(classIDs))
		return err
	})
	g.Go(func() (err error) {
		raw.Assignments, err = r.store.Assignments(gctx, classFilter(classIDs))
		return err
	})
	g.Go(func() (err error) {
		raw.Attendance, err = r.store.Attendance(gctx, classFilter(classIDs),
			repository.Eq(repository.FieldStudentID, studentID))
		return err
	})
	if err := g.Wait(); err != nil {
		return Raw{}, err
	}
	if len(raw.Assignments) == 0 {
		return raw, nil
	}

	raw.Submissions, err = r.store.Submissions(ctx,
		repository.Eq(repository.FieldStudentID, studentID),
		repository.In(repository.FieldAssignmentID, assignmentIDs(raw.Assignments)))
	if err != nil {
		return Raw{}, err
	}
	return raw, nil
}

func (r *Resolver) fetchTeacher(ctx context.Context, teacherID string) (Raw, error) {
	classes, err := r.store.Classes(ctx, repository.Eq(repository.FieldTeacherID, teacherID))
	if err != nil || len(classes) == 0 {
		return Raw{}, err
	}
	classIDs := make([]string, 0, len(classes))
	for _, c := range classes {
		classIDs = append(classIDs, c.ClassID)
	}
	return r.fetchClasses(ctx, classIDs, classes)
}

func classFilter(classIDs []string) repository.Predicate {
	if len(classIDs) == 1 {
		return repository.Eq(repository.FieldClassID, classIDs[0])
	}
	return repository.In(repository.FieldClassID, classIDs)
}

func idFilter(ids []string) repository.Predicate {
	if len(ids) == 1 {
		return repository.Eq(repository.FieldID, ids[0])
	}
	return repository.In(repository.FieldID, ids)
}

func assignmentIDs(assignments []model.Assignment) []string {
	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.AssignmentID
	}
	return ids
}
