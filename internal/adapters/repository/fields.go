package repository

import "github.com/okian/classboard/internal/domain/model"

// fieldsOf returns a getter over the stored field names of a document.
func fieldsOf(doc any) FieldGetter {
	var m map[string]any
	switch d := doc.(type) {
	case model.User:
		m = map[string]any{FieldID: d.UserID, "email": d.Email, FieldRole: d.Role}
	case model.ClassRecord:
		m = map[string]any{FieldID: d.ClassID, FieldTeacherID: d.TeacherID, FieldSubject: d.Subject}
	case model.Enrollment:
		m = map[string]any{FieldStudentID: d.StudentID, FieldClassID: d.ClassID}
	case model.Assignment:
		m = map[string]any{FieldID: d.AssignmentID, FieldClassID: d.ClassID, FieldDueDate: d.DueDate}
	case model.Submission:
		m = map[string]any{
			FieldID:           d.SubmissionID,
			FieldAssignmentID: d.AssignmentID,
			FieldStudentID:    d.StudentID,
			FieldSubmittedAt:  d.SubmittedAt,
		}
	case model.AttendanceRecord:
		m = map[string]any{
			FieldClassID:   d.ClassID,
			FieldStudentID: d.StudentID,
			FieldDate:      d.Date,
			FieldStatus:    d.Status,
		}
	case model.Announcement:
		m = map[string]any{FieldID: d.AnnouncementID, FieldClassID: d.ClassID, FieldCreatedAt: d.CreatedAt}
	case map[string]any:
		m = d
	}
	return func(field string) (any, bool) {
		v, ok := m[field]
		return v, ok
	}
}
