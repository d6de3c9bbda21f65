// Package timeline builds the per-day grade and attendance series.
package timeline

import (
	"sort"
	"time"

	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/internal/domain/reduce"
)

type day struct {
	grades  []float64
	present int
	total   int
}

// Build returns one point per calendar day with grade or attendance
// events, ascending. A grade event falls on the submission day in loc,
// or on the assignment's due date when the submission carries no time;
// events with neither are skipped. A side with no events that day is nil.
func Build(set model.ResolvedSet, loc *time.Location) []model.TimelinePoint {
	if loc == nil {
		loc = time.UTC
	}
	assignments := make(map[string]model.Assignment, len(set.Assignments))
	for _, a := range set.Assignments {
		assignments[a.AssignmentID] = a
	}

	days := make(map[model.Date]*day)
	at := func(d model.Date) *day {
		e, ok := days[d]
		if !ok {
			e = &day{}
			days[d] = e
		}
		return e
	}

	for _, s := range set.Submissions {
		a, ok := assignments[s.AssignmentID]
		if !ok {
			continue
		}
		p, ok := reduce.GradePercent(s, a)
		if !ok {
			continue
		}
		var d model.Date
		switch {
		case !s.SubmittedAt.IsZero():
			d = model.DateOf(s.SubmittedAt, loc)
		case !a.DueDate.IsZero():
			d = model.DateOf(a.DueDate, loc)
		default:
			continue
		}
		e := at(d)
		e.grades = append(e.grades, p)
	}

	for _, r := range set.Attendance {
		if !r.Date.Valid() {
			continue
		}
		e := at(r.Date)
		e.total++
		if r.Present() {
			e.present++
		}
	}

	keys := make([]model.Date, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]model.TimelinePoint, 0, len(keys))
	for _, d := range keys {
		e := days[d]
		p := model.TimelinePoint{Date: d}
		if len(e.grades) > 0 {
			g := reduce.AverageGrade(e.grades)
			p.Grade = &g
		}
		if e.total > 0 {
			a := reduce.Ratio(e.present, e.total)
			p.Attendance = &a
		}
		out = append(out, p)
	}
	return out
}
