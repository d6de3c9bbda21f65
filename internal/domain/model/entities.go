// Package model contains domain models passed between layers.
package model

import "time"

// UnknownSubject is reported for classes that carry no subject.
const UnknownSubject = "Unknown"

// Attendance statuses as written by the attendance screen.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
)

// User is a dashboard account. The aggregation core does not read users;
// the store exposes them for the surrounding screens.
type User struct {
	UserID string `bson:"_id" json:"userId" yaml:"userId"`
	Email  string `bson:"email" json:"email" yaml:"email"`
	Name   string `bson:"name" json:"name" yaml:"name"`
	Role   string `bson:"role" json:"role" yaml:"role"` // student, teacher, admin
}

// Announcement is a class or school-wide notice.
type Announcement struct {
	AnnouncementID string    `bson:"_id" json:"announcementId" yaml:"announcementId"`
	ClassID        string    `bson:"classId,omitempty" json:"classId,omitempty" yaml:"classId,omitempty"`
	Title          string    `bson:"title" json:"title" yaml:"title"`
	Body           string    `bson:"body" json:"body" yaml:"body"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt" yaml:"createdAt"`
}

// Enrollment joins a student to a class.
type Enrollment struct {
	StudentID string `bson:"studentId" json:"studentId" yaml:"studentId"`
	ClassID   string `bson:"classId" json:"classId" yaml:"classId"`
}

// ClassRecord describes a class. Subject is the dimension for subject rollups.
type ClassRecord struct {
	ClassID   string `bson:"_id" json:"classId" yaml:"classId"`
	TeacherID string `bson:"teacherId" json:"teacherId" yaml:"teacherId"`
	Name      string `bson:"name" json:"name" yaml:"name"`
	Subject   string `bson:"subject,omitempty" json:"subject,omitempty" yaml:"subject,omitempty"`
	Schedule  string `bson:"schedule,omitempty" json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Capacity  int    `bson:"capacity,omitempty" json:"capacity,omitempty" yaml:"capacity,omitempty"`
}

// SubjectOrUnknown returns the class subject, or UnknownSubject when absent.
func (c ClassRecord) SubjectOrUnknown() string {
	if c.Subject == "" {
		return UnknownSubject
	}
	return c.Subject
}

// Assignment is a gradable piece of work in a class.
type Assignment struct {
	AssignmentID string    `bson:"_id" json:"assignmentId" yaml:"assignmentId"`
	ClassID      string    `bson:"classId" json:"classId" yaml:"classId"`
	Title        string    `bson:"title,omitempty" json:"title,omitempty" yaml:"title,omitempty"`
	DueDate      time.Time `bson:"dueDate,omitempty" json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
	TotalPoints  float64   `bson:"totalPoints,omitempty" json:"totalPoints,omitempty" yaml:"totalPoints,omitempty"`
}

// Gradable reports whether grades against this assignment can be turned
// into a percentage.
func (a Assignment) Gradable() bool {
	return a.TotalPoints > 0
}

// Submission is a student's hand-in. Grade is nil until graded; a nil
// grade is not the same as a grade of zero.
type Submission struct {
	SubmissionID string    `bson:"_id" json:"submissionId" yaml:"submissionId"`
	AssignmentID string    `bson:"assignmentId" json:"assignmentId" yaml:"assignmentId"`
	StudentID    string    `bson:"studentId" json:"studentId" yaml:"studentId"`
	SubmittedAt  time.Time `bson:"submittedAt,omitempty" json:"submittedAt,omitempty" yaml:"submittedAt,omitempty"`
	Grade        *float64  `bson:"grade,omitempty" json:"grade,omitempty" yaml:"grade,omitempty"`
	Feedback     string    `bson:"feedback,omitempty" json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// Graded reports whether a grade has been recorded.
func (s Submission) Graded() bool {
	return s.Grade != nil
}

// AttendanceRecord marks one student present or absent in a class on a day.
type AttendanceRecord struct {
	ClassID   string `bson:"classId" json:"classId" yaml:"classId"`
	StudentID string `bson:"studentId" json:"studentId" yaml:"studentId"`
	Date      Date   `bson:"date" json:"date" yaml:"date"`
	Status    string `bson:"status" json:"status" yaml:"status"`
}

// Present reports whether the record counts as attendance. Any status
// other than "present" counts as absent.
func (r AttendanceRecord) Present() bool {
	return r.Status == StatusPresent
}

// AttendanceKey identifies the single record kept per class, student and day.
type AttendanceKey struct {
	ClassID   string
	StudentID string
	Date      Date
}

// Key returns the dedupe key of the record.
func (r AttendanceRecord) Key() AttendanceKey {
	return AttendanceKey{ClassID: r.ClassID, StudentID: r.StudentID, Date: r.Date}
}
