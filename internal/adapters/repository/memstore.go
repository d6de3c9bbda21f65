package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/pkg/logger"
	"github.com/okian/classboard/pkg/metrics"
)

// MemoryStore is an in-process Store. Attendance rows are appended as
// written, so duplicates per (class, student, day) can exist just as they
// can in the remote store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]model.User
	classes       map[string]model.ClassRecord
	enrollments   []model.Enrollment
	assignments   map[string]model.Assignment
	submissions   map[string]model.Submission
	attendance    []model.AttendanceRecord
	announcements map[string]model.Announcement

	subs    map[string]*memSubscription
	failure error
	closed  bool

	now    func() time.Time
	logger logger.Logger
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users:         make(map[string]model.User),
		classes:       make(map[string]model.ClassRecord),
		assignments:   make(map[string]model.Assignment),
		submissions:   make(map[string]model.Submission),
		announcements: make(map[string]model.Announcement),
		subs:          make(map[string]*memSubscription),
		now:           time.Now,
		logger:        logger.Get().Named("memstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed loads every record of f, notifying subscribers once per collection.
func (s *MemoryStore) Seed(f *Fixture) {
	if f == nil {
		return
	}
	s.mu.Lock()
	for _, u := range f.Users {
		s.users[u.UserID] = u
	}
	for _, c := range f.Classes {
		s.classes[c.ClassID] = c
	}
	s.enrollments = append(s.enrollments, f.Enrollments...)
	for _, a := range f.Assignments {
		s.assignments[a.AssignmentID] = a
	}
	for _, sub := range f.Submissions {
		s.submissions[sub.SubmissionID] = sub
	}
	s.attendance = append(s.attendance, f.Attendance...)
	for _, a := range f.Announcements {
		s.announcements[a.AnnouncementID] = a
	}
	s.mu.Unlock()

	for _, c := range []Collection{Users, Classes, Enrollments, Assignments, Submissions, Attendance, Announcements} {
		s.notifyAll(c)
	}
	s.logger.Info(context.Background(), "memory store seeded",
		logger.Int("classes", len(f.Classes)),
		logger.Int("enrollments", len(f.Enrollments)),
		logger.Int("assignments", len(f.Assignments)),
		logger.Int("submissions", len(f.Submissions)),
		logger.Int("attendance", len(f.Attendance)),
	)
}

// Fail makes every subsequent query fail with err wrapped in ErrUnavailable.
// A nil err clears the failure.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// PutUser inserts or replaces a user.
func (s *MemoryStore) PutUser(u model.User) {
	s.mu.Lock()
	old, had := s.users[u.UserID]
	s.users[u.UserID] = u
	s.mu.Unlock()
	s.notify(Users, withOld(u, old, had)...)
}

// PutClass inserts or replaces a class.
func (s *MemoryStore) PutClass(c model.ClassRecord) {
	s.mu.Lock()
	old, had := s.classes[c.ClassID]
	s.classes[c.ClassID] = c
	s.mu.Unlock()
	s.notify(Classes, withOld(c, old, had)...)
}

// PutEnrollment adds an enrollment unless the pair already exists.
func (s *MemoryStore) PutEnrollment(e model.Enrollment) {
	s.mu.Lock()
	for _, cur := range s.enrollments {
		if cur == e {
			s.mu.Unlock()
			return
		}
	}
	s.enrollments = append(s.enrollments, e)
	s.mu.Unlock()
	s.notify(Enrollments, e)
}

// DeleteEnrollment removes an enrollment.
func (s *MemoryStore) DeleteEnrollment(e model.Enrollment) {
	s.mu.Lock()
	kept := s.enrollments[:0]
	removed := false
	for _, cur := range s.enrollments {
		if cur == e {
			removed = true
			continue
		}
		kept = append(kept, cur)
	}
	s.enrollments = kept
	s.mu.Unlock()
	if removed {
		s.notify(Enrollments, e)
	}
}

// PutAssignment inserts or replaces an assignment.
func (s *MemoryStore) PutAssignment(a model.Assignment) {
	s.mu.Lock()
	old, had := s.assignments[a.AssignmentID]
	s.assignments[a.AssignmentID] = a
	s.mu.Unlock()
	s.notify(Assignments, withOld(a, old, had)...)
}

// PutSubmission inserts or replaces a submission, e.g. when it is graded.
func (s *MemoryStore) PutSubmission(sub model.Submission) {
	s.mu.Lock()
	old, had := s.submissions[sub.SubmissionID]
	s.submissions[sub.SubmissionID] = sub
	s.mu.Unlock()
	s.notify(Submissions, withOld(sub, old, had)...)
}

// AddAttendance appends an attendance row. Re-marking a student appends
// another row for the same day, as the attendance screen does.
func (s *MemoryStore) AddAttendance(r model.AttendanceRecord) {
	s.mu.Lock()
	s.attendance = append(s.attendance, r)
	s.mu.Unlock()
	s.notify(Attendance, r)
}

// PutAnnouncement inserts or replaces an announcement.
func (s *MemoryStore) PutAnnouncement(a model.Announcement) {
	s.mu.Lock()
	old, had := s.announcements[a.AnnouncementID]
	s.announcements[a.AnnouncementID] = a
	s.mu.Unlock()
	s.notify(Announcements, withOld(a, old, had)...)
}

// Put writes any supported record through its typed writer.
func (s *MemoryStore) Put(doc any) error {
	switch d := doc.(type) {
	case model.User:
		s.PutUser(d)
	case model.ClassRecord:
		s.PutClass(d)
	case model.Enrollment:
		s.PutEnrollment(d)
	case model.Assignment:
		s.PutAssignment(d)
	case model.Submission:
		s.PutSubmission(d)
	case model.AttendanceRecord:
		s.AddAttendance(d)
	case model.Announcement:
		s.PutAnnouncement(d)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCollection, doc)
	}
	return nil
}

func withOld[T any](cur, old T, had bool) []any {
	if had {
		return []any{cur, old}
	}
	return []any{cur}
}

// Users returns users matching preds.
func (s *MemoryStore) Users(ctx context.Context, preds ...Predicate) ([]model.User, error) {
	return queryMap(ctx, s, Users, s.users, preds)
}

// Classes returns classes matching preds.
func (s *MemoryStore) Classes(ctx context.Context, preds ...Predicate) ([]model.ClassRecord, error) {
	return queryMap(ctx, s, Classes, s.classes, preds)
}

// Enrollments returns enrollments matching preds.
func (s *MemoryStore) Enrollments(ctx context.Context, preds ...Predicate) ([]model.Enrollment, error) {
	return querySlice(ctx, s, Enrollments, s.enrollments, preds)
}

// Assignments returns assignments matching preds.
func (s *MemoryStore) Assignments(ctx context.Context, preds ...Predicate) ([]model.Assignment, error) {
	return queryMap(ctx, s, Assignments, s.assignments, preds)
}

// Submissions returns submissions matching preds.
func (s *MemoryStore) Submissions(ctx context.Context, preds ...Predicate) ([]model.Submission, error) {
	return queryMap(ctx, s, Submissions, s.submissions, preds)
}

// Attendance returns attendance rows matching preds.
func (s *MemoryStore) Attendance(ctx context.Context, preds ...Predicate) ([]model.AttendanceRecord, error) {
	return querySlice(ctx, s, Attendance, s.attendance, preds)
}

// Announcements returns announcements matching preds.
func (s *MemoryStore) Announcements(ctx context.Context, preds ...Predicate) ([]model.Announcement, error) {
	return queryMap(ctx, s, Announcements, s.announcements, preds)
}

// checkRead must be called with s.mu held.
func (s *MemoryStore) checkRead(ctx context.Context, c Collection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrClosed
	}
	if s.failure != nil {
		metrics.RecordStoreError(string(c))
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, c, s.failure)
	}
	return nil
}

func queryMap[T any](ctx context.Context, s *MemoryStore, c Collection, rows map[string]T, preds []Predicate) ([]T, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkRead(ctx, c); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if Match(preds, fieldsOf(row)) {
			out = append(out, row)
		}
	}
	metrics.RecordStoreQuery(string(c), float64(time.Since(start).Microseconds())/1000)
	return out, nil
}

func querySlice[T any](ctx context.Context, s *MemoryStore, c Collection, rows []T, preds []Predicate) ([]T, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkRead(ctx, c); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if Match(preds, fieldsOf(row)) {
			out = append(out, row)
		}
	}
	metrics.RecordStoreQuery(string(c), float64(time.Since(start).Microseconds())/1000)
	return out, nil
}

// Subscribe registers onChange for writes matching q. The subscription ends
// on Unsubscribe, on ctx cancellation, or when the store closes.
func (s *MemoryStore) Subscribe(ctx context.Context, q Query, onChange func(Change)) (Subscription, error) {
	if onChange == nil {
		return nil, fmt.Errorf("subscribe %s: nil callback", q.Collection)
	}
	sub := &memSubscription{id: uuid.NewString(), query: q, fn: onChange, store: s, stop: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.subs[sub.id] = sub
	s.mu.Unlock()

	if done := ctx.Done(); done != nil {
		go func() {
			select {
			case <-done:
				sub.Unsubscribe()
			case <-sub.stop:
			}
		}()
	}
	s.logger.Debug(ctx, "subscribed", logger.String("id", sub.id), logger.String("query", q.Key()))
	return sub, nil
}

// notify calls every subscriber of c whose query matches one of docs.
func (s *MemoryStore) notify(c Collection, docs ...any) {
	s.mu.RLock()
	var fns []func(Change)
	for _, sub := range s.subs {
		if sub.query.Collection != c {
			continue
		}
		for _, d := range docs {
			if Match(sub.query.Predicates, fieldsOf(d)) {
				fns = append(fns, sub.fn)
				break
			}
		}
	}
	s.mu.RUnlock()

	ch := Change{Collection: c, At: s.now()}
	for _, fn := range fns {
		fn(ch)
	}
}

// notifyAll calls every subscriber of c.
func (s *MemoryStore) notifyAll(c Collection) {
	s.mu.RLock()
	var fns []func(Change)
	for _, sub := range s.subs {
		if sub.query.Collection == c {
			fns = append(fns, sub.fn)
		}
	}
	s.mu.RUnlock()

	ch := Change{Collection: c, At: s.now()}
	for _, fn := range fns {
		fn(ch)
	}
}

// SubscriptionCount returns the number of live subscriptions.
func (s *MemoryStore) SubscriptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Close drops every subscription; later reads fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[string]*memSubscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

type memSubscription struct {
	id    string
	query Query
	fn    func(Change)
	store *MemoryStore
	once  sync.Once
	// closed on Unsubscribe; ends the context watcher
	stop chan struct{}
}

func (m *memSubscription) ID() string { return m.id }

func (m *memSubscription) Unsubscribe() {
	m.once.Do(func() {
		close(m.stop)
		m.store.mu.Lock()
		delete(m.store.subs, m.id)
		m.store.mu.Unlock()
	})
}
