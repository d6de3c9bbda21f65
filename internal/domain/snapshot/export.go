package snapshot

import (
	"math"
	"time"

	"github.com/okian/classboard/internal/domain/model"
)

// Round rounds x to one decimal place, halves to even.
func Round(x float64) float64 {
	return math.RoundToEven(x*10) / 10
}

// ClassRow is the exported form of a class rollup.
type ClassRow struct {
	ClassID         string  `json:"classId"`
	Name            string  `json:"name"`
	Subject         string  `json:"subject"`
	StudentCount    int     `json:"studentCount"`
	AssignmentCount int     `json:"assignmentCount"`
	PresentCount    int     `json:"presentCount"`
	AbsentCount     int     `json:"absentCount"`
	AttendanceRate  float64 `json:"attendanceRate"`
	CompletionRate  float64 `json:"completionRate"`
	AverageGrade    float64 `json:"averageGrade"`
}

// StudentRow is the exported form of a student rollup.
type StudentRow struct {
	StudentID         string  `json:"studentId"`
	Rank              int     `json:"rank"`
	AssignmentCount   int     `json:"assignmentCount"`
	SubmittedCount    int     `json:"submittedCount"`
	GradedCount       int     `json:"gradedCount"`
	AverageGrade      float64 `json:"averageGrade"`
	AttendanceRate    float64 `json:"attendanceRate"`
	ParticipationRate float64 `json:"participationRate"`
	CompletionRate    float64 `json:"completionRate"`
	Band              string  `json:"band"`
}

// SubjectRow is the exported form of a subject aggregate.
type SubjectRow struct {
	Subject      string  `json:"subject"`
	GradedCount  int     `json:"gradedCount"`
	AverageGrade float64 `json:"averageGrade"`
}

// BandCount is one entry of the exported distribution, in band order.
type BandCount struct {
	Band  string `json:"band"`
	Count int    `json:"count"`
}

// Point is one exported timeline point.
type Point struct {
	Date       string   `json:"date"`
	Grade      *float64 `json:"grade"`
	Attendance *float64 `json:"attendance"`
}

// OverviewRow is the exported headline figure set.
type OverviewRow struct {
	TotalStudents     int     `json:"totalStudents"`
	TotalClasses      int     `json:"totalClasses"`
	AverageGrade      float64 `json:"averageGrade"`
	AttendanceRate    float64 `json:"attendanceRate"`
	CompletionRate    float64 `json:"completionRate"`
	ParticipationRate float64 `json:"participationRate"`
	TopPerformers     int     `json:"topPerformers"`
	NeedsImprovement  int     `json:"needsImprovement"`
}

// Exported is the serialised snapshot. Every rate and percentage is
// rounded; full-precision values stay in-process.
type Exported struct {
	Scope             model.Scope  `json:"scope"`
	AsOf              time.Time    `json:"asOf"`
	Overview          OverviewRow  `json:"overview"`
	ClassRollups      []ClassRow   `json:"classRollups"`
	StudentRollups    []StudentRow `json:"studentRollups"`
	SubjectAggregates []SubjectRow `json:"subjectAggregates"`
	Distribution      []BandCount  `json:"distribution"`
	Timeline          []Point      `json:"timeline"`
}

// Export renders s for callers outside the process.
func Export(s *model.Snapshot) Exported {
	e := Exported{
		Scope: s.Scope,
		AsOf:  s.AsOf.UTC(),
		Overview: OverviewRow{
			TotalStudents:     s.Overview.TotalStudents,
			TotalClasses:      s.Overview.TotalClasses,
			AverageGrade:      Round(s.Overview.AverageGrade),
			AttendanceRate:    Round(s.Overview.AttendanceRate),
			CompletionRate:    Round(s.Overview.CompletionRate),
			ParticipationRate: Round(s.Overview.ParticipationRate),
			TopPerformers:     s.Overview.TopPerformers,
			NeedsImprovement:  s.Overview.NeedsImprovement,
		},
		ClassRollups:      make([]ClassRow, 0, len(s.ClassRollups)),
		StudentRollups:    make([]StudentRow, 0, len(s.StudentRollups)),
		SubjectAggregates: make([]SubjectRow, 0, len(s.SubjectAggregates)),
		Distribution:      make([]BandCount, 0, len(model.Bands())),
		Timeline:          make([]Point, 0, len(s.Timeline)),
	}
	for _, c := range s.ClassRollups {
		e.ClassRollups = append(e.ClassRollups, ClassRow{
			ClassID:         c.ClassID,
			Name:            c.Name,
			Subject:         c.Subject,
			StudentCount:    c.StudentCount,
			AssignmentCount: c.AssignmentCount,
			PresentCount:    c.PresentCount,
			AbsentCount:     c.AbsentCount,
			AttendanceRate:  Round(c.AttendanceRate),
			CompletionRate:  Round(c.CompletionRate),
			AverageGrade:    Round(c.AverageGrade),
		})
	}
	for _, st := range s.StudentRollups {
		e.StudentRollups = append(e.StudentRollups, StudentRow{
			StudentID:         st.StudentID,
			Rank:              st.Rank,
			AssignmentCount:   st.AssignmentCount,
			SubmittedCount:    st.SubmittedCount,
			GradedCount:       st.GradedCount,
			AverageGrade:      Round(st.AverageGrade),
			AttendanceRate:    Round(st.AttendanceRate),
			ParticipationRate: Round(st.ParticipationRate),
			CompletionRate:    Round(st.CompletionRate),
			Band:              string(st.Band),
		})
	}
	for _, sub := range s.SubjectAggregates {
		e.SubjectAggregates = append(e.SubjectAggregates, SubjectRow{
			Subject:      sub.Subject,
			GradedCount:  sub.GradedCount,
			AverageGrade: Round(sub.AverageGrade),
		})
	}
	for _, b := range model.Bands() {
		e.Distribution = append(e.Distribution, BandCount{Band: string(b), Count: s.Distribution[b]})
	}
	for _, p := range s.Timeline {
		e.Timeline = append(e.Timeline, Point{
			Date:       p.Date.String(),
			Grade:      roundPtr(p.Grade),
			Attendance: roundPtr(p.Attendance),
		})
	}
	return e
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := Round(*v)
	return &r
}
