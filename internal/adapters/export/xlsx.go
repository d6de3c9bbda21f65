// Package export renders exported snapshots as XLSX workbooks.
package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/okian/classboard/internal/domain/snapshot"
	"github.com/okian/classboard/pkg/metrics"
)

// Sheet names, in workbook order.
const (
	SheetOverview     = "Overview"
	SheetClasses      = "Classes"
	SheetStudents     = "Students"
	SheetSubjects     = "Subjects"
	SheetDistribution = "Distribution"
	SheetTimeline     = "Timeline"
)

// ContentType is the media type of the written workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrWorkbook wraps every excelize failure.
var ErrWorkbook = errors.New("build workbook")

// WriteXLSX writes e to w as a workbook with one sheet per section.
func WriteXLSX(w io.Writer, e snapshot.Exported) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheets := []struct {
		name string
		rows [][]interface{}
	}{
		{SheetOverview, overviewRows(e)},
		{SheetClasses, classRows(e.ClassRollups)},
		{SheetStudents, studentRows(e.StudentRollups)},
		{SheetSubjects, subjectRows(e.SubjectAggregates)},
		{SheetDistribution, distributionRows(e.Distribution)},
		{SheetTimeline, timelineRows(e.Timeline)},
	}

	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sh.name); err != nil {
				return fmt.Errorf("%w: %w", ErrWorkbook, err)
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return fmt.Errorf("%w: %w", ErrWorkbook, err)
		}
		for r, row := range sh.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrWorkbook, err)
			}
			if err := f.SetSheetRow(sh.name, cell, &row); err != nil {
				return fmt.Errorf("%w: %s row %d: %w", ErrWorkbook, sh.name, r+1, err)
			}
		}
	}
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("%w: write: %w", ErrWorkbook, err)
	}
	metrics.RecordExport()
	return nil
}

func overviewRows(e snapshot.Exported) [][]interface{} {
	o := e.Overview
	return [][]interface{}{
		{"Field", "Value"},
		{"Scope", e.Scope.Key()},
		{"As of", e.AsOf.Format("2006-01-02T15:04:05Z07:00")},
		{"Total students", o.TotalStudents},
		{"Total classes", o.TotalClasses},
		{"Average grade", o.AverageGrade},
		{"Attendance rate", o.AttendanceRate},
		{"Completion rate", o.CompletionRate},
		{"Participation rate", o.ParticipationRate},
		{"Top performers", o.TopPerformers},
		{"Needs improvement", o.NeedsImprovement},
	}
}

func classRows(rows []snapshot.ClassRow) [][]interface{} {
	out := [][]interface{}{{
		"Class", "Name", "Subject", "Students", "Assignments", "Present", "Absent",
		"Attendance rate", "Completion rate", "Average grade",
	}}
	for _, c := range rows {
		out = append(out, []interface{}{
			c.ClassID, c.Name, c.Subject, c.StudentCount, c.AssignmentCount, c.PresentCount, c.AbsentCount,
			c.AttendanceRate, c.CompletionRate, c.AverageGrade,
		})
	}
	return out
}

func studentRows(rows []snapshot.StudentRow) [][]interface{} {
	out := [][]interface{}{{
		"Rank", "Student", "Band", "Average grade", "Attendance rate", "Participation rate",
		"Completion rate", "Assignments", "Submitted", "Graded",
	}}
	for _, s := range rows {
		out = append(out, []interface{}{
			s.Rank, s.StudentID, s.Band, s.AverageGrade, s.AttendanceRate, s.ParticipationRate,
			s.CompletionRate, s.AssignmentCount, s.SubmittedCount, s.GradedCount,
		})
	}
	return out
}

func subjectRows(rows []snapshot.SubjectRow) [][]interface{} {
	out := [][]interface{}{{"Subject", "Graded", "Average grade"}}
	for _, s := range rows {
		out = append(out, []interface{}{s.Subject, s.GradedCount, s.AverageGrade})
	}
	return out
}

func distributionRows(rows []snapshot.BandCount) [][]interface{} {
	out := [][]interface{}{{"Band", "Students"}}
	for _, b := range rows {
		out = append(out, []interface{}{b.Band, b.Count})
	}
	return out
}

// timelineRows leaves a missing side as an empty cell.
func timelineRows(rows []snapshot.Point) [][]interface{} {
	out := [][]interface{}{{"Date", "Grade", "Attendance"}}
	for _, p := range rows {
		row := []interface{}{p.Date, nil, nil}
		if p.Grade != nil {
			row[1] = *p.Grade
		}
		if p.Attendance != nil {
			row[2] = *p.Attendance
		}
		out = append(out, row)
	}
	return out
}
