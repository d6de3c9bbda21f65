// Package repository is the entity store client: typed reads over the
// school collections plus change subscriptions.
package repository

import (
	"context"
	"time"

	"github.com/okian/classboard/internal/domain/model"
)

// Collection names a store collection.
type Collection string

// Collections known to the store.
const (
	Users         Collection = "users"
	Classes       Collection = "classes"
	Enrollments   Collection = "enrollments"
	Assignments   Collection = "assignments"
	Submissions   Collection = "submissions"
	Attendance    Collection = "attendance"
	Announcements Collection = "announcements"
)

// Field names shared by queries and documents.
const (
	FieldID           = "_id"
	FieldClassID      = "classId"
	FieldStudentID    = "studentId"
	FieldTeacherID    = "teacherId"
	FieldAssignmentID = "assignmentId"
	FieldDate         = "date"
	FieldDueDate      = "dueDate"
	FieldSubmittedAt  = "submittedAt"
	FieldStatus       = "status"
	FieldSubject      = "subject"
	FieldRole         = "role"
	FieldCreatedAt    = "createdAt"
)

// Change tells a subscriber that the matching record set of its query
// changed. Subscribers re-read through the typed queries.
type Change struct {
	Collection Collection
	At         time.Time
}

// Subscription is the token returned by Subscribe.
type Subscription interface {
	// ID identifies the subscription in logs.
	ID() string
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe()
}

// Reader provides typed, predicate-filtered reads. Row order is unspecified.
type Reader interface {
	Users(ctx context.Context, preds ...Predicate) ([]model.User, error)
	Classes(ctx context.Context, preds ...Predicate) ([]model.ClassRecord, error)
	Enrollments(ctx context.Context, preds ...Predicate) ([]model.Enrollment, error)
	Assignments(ctx context.Context, preds ...Predicate) ([]model.Assignment, error)
	Submissions(ctx context.Context, preds ...Predicate) ([]model.Submission, error)
	Attendance(ctx context.Context, preds ...Predicate) ([]model.AttendanceRecord, error)
	Announcements(ctx context.Context, preds ...Predicate) ([]model.Announcement, error)
}

// Subscriber delivers change notifications for a query.
type Subscriber interface {
	// Subscribe calls onChange whenever a record matching q is written or
	// removed. onChange must not block.
	Subscribe(ctx context.Context, q Query, onChange func(Change)) (Subscription, error)
}

// Store is the full entity store client.
type Store interface {
	Reader
	Subscriber

	// Close releases connections and drops every subscription.
	Close() error
}
