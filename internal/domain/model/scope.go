package model

import (
	"errors"
	"fmt"
	"strings"
)

// ScopeKind names what a computation is performed for.
type ScopeKind string

// Supported scope kinds.
const (
	ScopeClass   ScopeKind = "class"
	ScopeStudent ScopeKind = "student"
	ScopeTeacher ScopeKind = "teacher"
)

// ErrInvalidScope is returned for unknown kinds or empty identifiers.
var ErrInvalidScope = errors.New("invalid scope")

// Scope is the class, student or teacher a snapshot is computed for.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// ClassScope returns the scope of a single class.
func ClassScope(classID string) Scope { return Scope{Kind: ScopeClass, ID: classID} }

// StudentScope returns the scope of a single student.
func StudentScope(studentID string) Scope { return Scope{Kind: ScopeStudent, ID: studentID} }

// TeacherScope returns the scope of every class owned by a teacher.
func TeacherScope(teacherID string) Scope { return Scope{Kind: ScopeTeacher, ID: teacherID} }

// ParseScope builds a Scope from its kind and id, validating both.
func ParseScope(kind, id string) (Scope, error) {
	s := Scope{Kind: ScopeKind(strings.ToLower(strings.TrimSpace(kind))), ID: strings.TrimSpace(id)}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Validate checks the kind and id.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeClass, ScopeStudent, ScopeTeacher:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	if s.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidScope)
	}
	return nil
}

// Key returns the canonical "kind:id" string used for map keys and logs.
func (s Scope) Key() string {
	return string(s.Kind) + ":" + s.ID
}

func (s Scope) String() string { return s.Key() }
