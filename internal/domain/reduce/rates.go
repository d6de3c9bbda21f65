// Package reduce holds the pure metric reducers. Every rate it returns lies
// in [0, 100]; a zero denominator yields exactly 0. Values keep full
// precision; rounding is an export concern.
package reduce

import (
	"github.com/montanaflynn/stats"
	"github.com/okian/classboard/internal/domain/model"
)

const percent = 100.0

// Ratio returns num / den * 100, or 0 when den is not positive.
func Ratio(num, den int) float64 {
	if den <= 0 || num <= 0 {
		return 0
	}
	if num >= den {
		return percent
	}
	return float64(num) / float64(den) * percent
}

// Mean returns the arithmetic mean of values, or 0 for no values.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return m
}

// AttendanceRate is the share of rows marked present.
func AttendanceRate(rows []model.AttendanceRecord) float64 {
	present := 0
	for _, r := range rows {
		if r.Present() {
			present++
		}
	}
	return Ratio(present, len(rows))
}

// CompletionRate is the share of assignments with at least one submission.
func CompletionRate(assignments []model.Assignment, submissions []model.Submission) float64 {
	if len(assignments) == 0 {
		return 0
	}
	submitted := make(map[string]struct{}, len(submissions))
	for _, s := range submissions {
		submitted[s.AssignmentID] = struct{}{}
	}
	done := 0
	for _, a := range assignments {
		if _, ok := submitted[a.AssignmentID]; ok {
			done++
		}
	}
	return Ratio(done, len(assignments))
}

// GradePercent converts a submission grade to a percentage of the
// assignment's points, clamped to [0, 100]. It reports false for ungraded
// submissions and for assignments without points.
func GradePercent(sub model.Submission, a model.Assignment) (float64, bool) {
	if !sub.Graded() || !a.Gradable() {
		return 0, false
	}
	p := *sub.Grade / a.TotalPoints * percent
	switch {
	case p < 0:
		p = 0
	case p > percent:
		p = percent
	}
	return p, true
}

// AverageGrade is the mean of grade percentages; ungraded work is not
// passed in and therefore never counts as zero.
func AverageGrade(percents []float64) float64 {
	return Mean(percents)
}

// ParticipationRate combines what a student showed up to and what they
// handed in: (present sessions + submitted assignments) over (recorded
// sessions + assignments).
func ParticipationRate(present, sessions, submitted, assignments int) float64 {
	return Ratio(present+submitted, sessions+assignments)
}
