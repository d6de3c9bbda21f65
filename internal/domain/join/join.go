package join

import (
	"sort"

	"github.com/okian/classboard/internal/domain/model"
)

type set map[string]struct{}

func (s set) has(k string) bool {
	_, ok := s[k]
	return ok
}

// Join restricts raw to scope and joins it through key indices built once.
// Enrollments are deduplicated, attendance collapses to one row per class,
// student and day (the last row delivered wins), and rows of students not
// enrolled in the class are dropped. Every slice is sorted by its
// identifiers so equal inputs give equal sets.
//
// Without enrollments the set carries only the scope's class records.
func Join(scope model.Scope, raw Raw) model.ResolvedSet {
	var out model.ResolvedSet

	classIDs := scopeClasses(scope, raw)
	for _, c := range raw.Classes {
		if classIDs.has(c.ClassID) {
			out.Classes = append(out.Classes, c)
		}
	}
	out.Classes = dedupeClasses(out.Classes)

	// class id -> enrolled students
	enrolled := make(map[string]set)
	for _, e := range raw.Enrollments {
		if !classIDs.has(e.ClassID) {
			continue
		}
		if scope.Kind == model.ScopeStudent && e.StudentID != scope.ID {
			continue
		}
		students, ok := enrolled[e.ClassID]
		if !ok {
			students = make(set)
			enrolled[e.ClassID] = students
		}
		if students.has(e.StudentID) {
			continue
		}
		students[e.StudentID] = struct{}{}
		out.Enrollments = append(out.Enrollments, e)
	}
	if len(out.Enrollments) == 0 {
		sortSet(&out)
		return out
	}

	// assignment id -> class id
	assignmentClass := make(map[string]string)
	for _, a := range raw.Assignments {
		if !classIDs.has(a.ClassID) {
			continue
		}
		if _, dup := assignmentClass[a.AssignmentID]; dup {
			continue
		}
		assignmentClass[a.AssignmentID] = a.ClassID
		out.Assignments = append(out.Assignments, a)
	}

	seenSub := make(set)
	for _, s := range raw.Submissions {
		class, ok := assignmentClass[s.AssignmentID]
		if !ok || !enrolled[class].has(s.StudentID) || seenSub.has(s.SubmissionID) {
			continue
		}
		seenSub[s.SubmissionID] = struct{}{}
		out.Submissions = append(out.Submissions, s)
	}

	latest := make(map[model.AttendanceKey]model.AttendanceRecord)
	for _, r := range raw.Attendance {
		if !enrolled[r.ClassID].has(r.StudentID) {
			continue
		}
		latest[r.Key()] = r
	}
	out.Attendance = make([]model.AttendanceRecord, 0, len(latest))
	for _, r := range latest {
		out.Attendance = append(out.Attendance, r)
	}

	sortSet(&out)
	return out
}

// scopeClasses returns the class ids a scope covers given the raw rows.
func scopeClasses(scope model.Scope, raw Raw) set {
	ids := make(set)
	switch scope.Kind {
	case model.ScopeClass:
		ids[scope.ID] = struct{}{}
	case model.ScopeStudent:
		for _, e := range raw.Enrollments {
			if e.StudentID == scope.ID {
				ids[e.ClassID] = struct{}{}
			}
		}
	case model.ScopeTeacher:
		for _, c := range raw.Classes {
			if c.TeacherID == scope.ID {
				ids[c.ClassID] = struct{}{}
			}
		}
	}
	return ids
}

func dedupeClasses(classes []model.ClassRecord) []model.ClassRecord {
	seen := make(set, len(classes))
	out := classes[:0:0]
	for _, c := range classes {
		if seen.has(c.ClassID) {
			continue
		}
		seen[c.ClassID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func sortSet(s *model.ResolvedSet) {
	sort.Slice(s.Enrollments, func(i, j int) bool {
		a, b := s.Enrollments[i], s.Enrollments[j]
		if a.ClassID != b.ClassID {
			return a.ClassID < b.ClassID
		}
		return a.StudentID < b.StudentID
	})
	sort.Slice(s.Classes, func(i, j int) bool { return s.Classes[i].ClassID < s.Classes[j].ClassID })
	sort.Slice(s.Assignments, func(i, j int) bool { return s.Assignments[i].AssignmentID < s.Assignments[j].AssignmentID })
	sort.Slice(s.Submissions, func(i, j int) bool { return s.Submissions[i].SubmissionID < s.Submissions[j].SubmissionID })
	sort.Slice(s.Attendance, func(i, j int) bool {
		a, b := s.Attendance[i], s.Attendance[j]
		if a.ClassID != b.ClassID {
			return a.ClassID < b.ClassID
		}
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.Date < b.Date
	})
}
