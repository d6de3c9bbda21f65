package reduce

import (
	"sort"

	"github.com/okian/classboard/internal/domain/model"
)

// Index holds the lookups every rollup needs, built once per set.
type Index struct {
	set model.ResolvedSet

	classes                 map[string]model.ClassRecord
	assignments             map[string]model.Assignment
	assignmentsByClass      map[string][]model.Assignment
	studentsByClass         map[string][]string
	classesByStudent        map[string][]string
	submissionsByStudent    map[string][]model.Submission
	submissionsByAssignment map[string][]model.Submission
	attendanceByClass       map[string][]model.AttendanceRecord
	attendanceByStudent     map[string][]model.AttendanceRecord
	students                []string
}

// NewIndex indexes set by class, student and assignment.
func NewIndex(set model.ResolvedSet) *Index {
	ix := &Index{
		set:                     set,
		classes:                 make(map[string]model.ClassRecord, len(set.Classes)),
		assignments:             make(map[string]model.Assignment, len(set.Assignments)),
		assignmentsByClass:      make(map[string][]model.Assignment),
		studentsByClass:         make(map[string][]string),
		classesByStudent:        make(map[string][]string),
		submissionsByStudent:    make(map[string][]model.Submission),
		submissionsByAssignment: make(map[string][]model.Submission),
		attendanceByClass:       make(map[string][]model.AttendanceRecord),
		attendanceByStudent:     make(map[string][]model.AttendanceRecord),
	}
	for _, c := range set.Classes {
		ix.classes[c.ClassID] = c
	}
	for _, a := range set.Assignments {
		ix.assignments[a.AssignmentID] = a
		ix.assignmentsByClass[a.ClassID] = append(ix.assignmentsByClass[a.ClassID], a)
	}
	for _, e := range set.Enrollments {
		if _, seen := ix.classesByStudent[e.StudentID]; !seen {
			ix.students = append(ix.students, e.StudentID)
		}
		ix.studentsByClass[e.ClassID] = append(ix.studentsByClass[e.ClassID], e.StudentID)
		ix.classesByStudent[e.StudentID] = append(ix.classesByStudent[e.StudentID], e.ClassID)
	}
	sort.Strings(ix.students)
	for _, s := range set.Submissions {
		ix.submissionsByStudent[s.StudentID] = append(ix.submissionsByStudent[s.StudentID], s)
		ix.submissionsByAssignment[s.AssignmentID] = append(ix.submissionsByAssignment[s.AssignmentID], s)
	}
	for _, r := range set.Attendance {
		ix.attendanceByClass[r.ClassID] = append(ix.attendanceByClass[r.ClassID], r)
		ix.attendanceByStudent[r.StudentID] = append(ix.attendanceByStudent[r.StudentID], r)
	}
	return ix
}

// percents returns the grade percentages of the graded submissions in subs.
func (ix *Index) percents(subs []model.Submission) []float64 {
	var out []float64
	for _, s := range subs {
		a, ok := ix.assignments[s.AssignmentID]
		if !ok {
			continue
		}
		if p, ok := GradePercent(s, a); ok {
			out = append(out, p)
		}
	}
	return out
}

// studentRowsIn returns the attendance rows of student in class.
func (ix *Index) studentRowsIn(student, class string) []model.AttendanceRecord {
	var out []model.AttendanceRecord
	for _, r := range ix.attendanceByStudent[student] {
		if r.ClassID == class {
			out = append(out, r)
		}
	}
	return out
}

// Classes reduces every class of the set. Class attendance is the mean of
// the enrolled students' rates, where a student without rows counts as 0.
// Class average grade pools every graded submission of the class.
func (ix *Index) Classes() []model.ClassRollup {
	out := make([]model.ClassRollup, 0, len(ix.set.Classes))
	for _, c := range ix.set.Classes {
		students := ix.studentsByClass[c.ClassID]
		assignments := ix.assignmentsByClass[c.ClassID]

		rates := make([]float64, len(students))
		for i, st := range students {
			rates[i] = AttendanceRate(ix.studentRowsIn(st, c.ClassID))
		}

		var subs []model.Submission
		for _, a := range assignments {
			subs = append(subs, ix.submissionsByAssignment[a.AssignmentID]...)
		}

		present, absent := 0, 0
		for _, r := range ix.attendanceByClass[c.ClassID] {
			if r.Present() {
				present++
			} else {
				absent++
			}
		}

		out = append(out, model.ClassRollup{
			ClassID:         c.ClassID,
			Name:            c.Name,
			Subject:         c.SubjectOrUnknown(),
			StudentCount:    len(students),
			AssignmentCount: len(assignments),
			PresentCount:    present,
			AbsentCount:     absent,
			AttendanceRate:  Mean(rates),
			CompletionRate:  CompletionRate(assignments, subs),
			AverageGrade:    AverageGrade(ix.percents(subs)),
		})
	}
	return out
}

// StudentRollups reduces every enrolled student, ordered by id. Band and rank
// are left for the band package.
func (ix *Index) StudentRollups() []model.StudentRollup {
	out := make([]model.StudentRollup, 0, len(ix.students))
	for _, st := range ix.students {
		var assignments []model.Assignment
		for _, c := range ix.classesByStudent[st] {
			assignments = append(assignments, ix.assignmentsByClass[c]...)
		}
		subs := ix.submissionsByStudent[st]
		rows := ix.attendanceByStudent[st]

		submitted := make(map[string]struct{}, len(subs))
		for _, s := range subs {
			submitted[s.AssignmentID] = struct{}{}
		}
		done := 0
		for _, a := range assignments {
			if _, ok := submitted[a.AssignmentID]; ok {
				done++
			}
		}
		present := 0
		for _, r := range rows {
			if r.Present() {
				present++
			}
		}
		grades := ix.percents(subs)

		out = append(out, model.StudentRollup{
			StudentID:         st,
			AssignmentCount:   len(assignments),
			SubmittedCount:    done,
			GradedCount:       len(grades),
			AverageGrade:      AverageGrade(grades),
			AttendanceRate:    Ratio(present, len(rows)),
			ParticipationRate: ParticipationRate(present, len(rows), done, len(assignments)),
			CompletionRate:    Ratio(done, len(assignments)),
		})
	}
	return out
}

// Subjects groups graded submissions by the subject of their class and
// averages each group, ordered by subject.
func (ix *Index) Subjects() []model.SubjectAggregate {
	bySubject := make(map[string][]float64)
	var subjects []string
	for _, s := range ix.set.Submissions {
		a, ok := ix.assignments[s.AssignmentID]
		if !ok {
			continue
		}
		p, ok := GradePercent(s, a)
		if !ok {
			continue
		}
		subject := model.UnknownSubject
		if c, ok := ix.classes[a.ClassID]; ok {
			subject = c.SubjectOrUnknown()
		}
		if _, seen := bySubject[subject]; !seen {
			subjects = append(subjects, subject)
		}
		bySubject[subject] = append(bySubject[subject], p)
	}
	sort.Strings(subjects)

	out := make([]model.SubjectAggregate, 0, len(subjects))
	for _, sub := range subjects {
		out = append(out, model.SubjectAggregate{
			Subject:      sub,
			GradedCount:  len(bySubject[sub]),
			AverageGrade: AverageGrade(bySubject[sub]),
		})
	}
	return out
}

// Overview computes the headline figures from the student rollups.
// Attendance and participation are means of the per-student rates,
// matching the class-level pooling; the average grade pools every graded
// submission. Band counts are filled in by the caller.
func (ix *Index) Overview(students []model.StudentRollup) model.Overview {
	attendance := make([]float64, len(students))
	participation := make([]float64, len(students))
	for i, s := range students {
		attendance[i] = s.AttendanceRate
		participation[i] = s.ParticipationRate
	}
	return model.Overview{
		TotalStudents:     len(students),
		TotalClasses:      len(ix.set.Classes),
		AverageGrade:      AverageGrade(ix.percents(ix.set.Submissions)),
		AttendanceRate:    Mean(attendance),
		CompletionRate:    CompletionRate(ix.set.Assignments, ix.set.Submissions),
		ParticipationRate: Mean(participation),
	}
}
