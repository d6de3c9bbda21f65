package model

import "time"

// ResolvedSet is the materialized, joined collection of raw records
// relevant to a scope. Every slice is sorted by its identifiers.
type ResolvedSet struct {
	Enrollments []Enrollment
	Classes     []ClassRecord
	Assignments []Assignment
	Submissions []Submission
	Attendance  []AttendanceRecord
}

// Empty reports whether the set holds no enrollments. The scope's class
// records may still be present, so an empty set is not a set without rows.
func (r ResolvedSet) Empty() bool {
	return len(r.Enrollments) == 0
}

// Band is one of four ordered performance categories.
type Band string

// Bands from best to worst.
const (
	BandExcellent        Band = "Excellent"
	BandGood             Band = "Good"
	BandAverage          Band = "Average"
	BandNeedsImprovement Band = "Needs Improvement"
)

// Bands lists every band in display order.
func Bands() []Band {
	return []Band{BandExcellent, BandGood, BandAverage, BandNeedsImprovement}
}

// ClassRollup holds the reduced statistics of one class.
type ClassRollup struct {
	ClassID         string
	Name            string
	Subject         string
	StudentCount    int
	AssignmentCount int
	PresentCount    int
	AbsentCount     int
	AttendanceRate  float64
	CompletionRate  float64
	AverageGrade    float64
}

// StudentRollup holds the reduced statistics of one student.
type StudentRollup struct {
	StudentID         string
	Rank              int
	AssignmentCount   int
	SubmittedCount    int
	GradedCount       int
	AverageGrade      float64
	AttendanceRate    float64
	ParticipationRate float64
	CompletionRate    float64
	Band              Band
}

// SubjectAggregate is the average grade of one subject.
type SubjectAggregate struct {
	Subject      string
	GradedCount  int
	AverageGrade float64
}

// TimelinePoint is one calendar day of the chart series. A nil side means
// the day has no data of that kind.
type TimelinePoint struct {
	Date       Date
	Grade      *float64
	Attendance *float64
}

// Overview is the headline figure set shown above the charts.
type Overview struct {
	TotalStudents     int
	TotalClasses      int
	AverageGrade      float64
	AttendanceRate    float64
	CompletionRate    float64
	ParticipationRate float64
	TopPerformers     int
	NeedsImprovement  int
}

// Snapshot is an immutable, timestamped bundle of all rollups for a scope.
// It is replaced wholesale on recompute and never modified after build.
type Snapshot struct {
	Scope             Scope
	AsOf              time.Time
	ClassRollups      []ClassRollup
	StudentRollups    []StudentRollup
	SubjectAggregates []SubjectAggregate
	Distribution      map[Band]int
	Timeline          []TimelinePoint
	Overview          Overview
}
