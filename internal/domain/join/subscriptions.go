package join

import (
	"sort"

	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/domain/model"
)

// Subscriptions returns the store queries whose changes can alter the set
// of scope. Membership predicates depend on the current set, so the list
// must be re-derived after every resolve.
func Subscriptions(scope model.Scope, s model.ResolvedSet) []repository.Query {
	var qs []repository.Query
	switch scope.Kind {
	case model.ScopeClass:
		byClass := repository.Eq(repository.FieldClassID, scope.ID)
		qs = append(qs,
			repository.NewQuery(repository.Enrollments, byClass),
			repository.NewQuery(repository.Classes, repository.Eq(repository.FieldID, scope.ID)),
			repository.NewQuery(repository.Assignments, byClass),
			repository.NewQuery(repository.Attendance, byClass),
		)
		if ids := assignmentIDs(s.Assignments); len(ids) > 0 {
			qs = append(qs, repository.NewQuery(repository.Submissions, repository.In(repository.FieldAssignmentID, ids)))
		}

	case model.ScopeStudent:
		byStudent := repository.Eq(repository.FieldStudentID, scope.ID)
		qs = append(qs,
			repository.NewQuery(repository.Enrollments, byStudent),
			repository.NewQuery(repository.Attendance, byStudent),
			repository.NewQuery(repository.Submissions, byStudent),
		)
		if ids := classIDsOf(s); len(ids) > 0 {
			qs = append(qs,
				repository.NewQuery(repository.Classes, repository.In(repository.FieldID, ids)),
				repository.NewQuery(repository.Assignments, repository.In(repository.FieldClassID, ids)),
			)
		}

	case model.ScopeTeacher:
		qs = append(qs, repository.NewQuery(repository.Classes, repository.Eq(repository.FieldTeacherID, scope.ID)))
		if ids := classIDsOf(s); len(ids) > 0 {
			byClass := repository.In(repository.FieldClassID, ids)
			qs = append(qs,
				repository.NewQuery(repository.Enrollments, byClass),
				repository.NewQuery(repository.Assignments, byClass),
				repository.NewQuery(repository.Attendance, byClass),
			)
		}
		if ids := assignmentIDs(s.Assignments); len(ids) > 0 {
			qs = append(qs, repository.NewQuery(repository.Submissions, repository.In(repository.FieldAssignmentID, ids)))
		}
	}
	return qs
}

// classIDsOf returns the distinct class ids of the set's classes and
// enrollments.
func classIDsOf(s model.ResolvedSet) []string {
	seen := make(map[string]struct{})
	for _, c := range s.Classes {
		seen[c.ClassID] = struct{}{}
	}
	for _, e := range s.Enrollments {
		seen[e.ClassID] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
