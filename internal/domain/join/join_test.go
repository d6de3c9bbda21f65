package join_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/domain/join"
	"github.com/okian/classboard/internal/domain/model"
	logging "github.com/okian/classboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

func grade(v float64) *float64 { return &v }

func school() *repository.Fixture {
	return &repository.Fixture{
		Classes: []model.ClassRecord{
			{ClassID: "c1", TeacherID: "t1", Name: "Algebra", Subject: "Math"},
			{ClassID: "c2", TeacherID: "t1", Name: "Geometry", Subject: "Math"},
			{ClassID: "c3", TeacherID: "t2", Name: "Poetry", Subject: "English"},
			{ClassID: "c4", TeacherID: "t3", Name: "Empty"},
		},
		Enrollments: []model.Enrollment{
			{StudentID: "s2", ClassID: "c1"},
			{StudentID: "s1", ClassID: "c1"},
			{StudentID: "s1", ClassID: "c1"},
			{StudentID: "s1", ClassID: "c3"},
			{StudentID: "s3", ClassID: "c2"},
		},
		Assignments: []model.Assignment{
			{AssignmentID: "a1", ClassID: "c1", TotalPoints: 100},
			{AssignmentID: "a2", ClassID: "c1", TotalPoints: 100},
			{AssignmentID: "a3", ClassID: "c3", TotalPoints: 10},
			{AssignmentID: "a4", ClassID: "c2", TotalPoints: 10},
			{AssignmentID: "a5", ClassID: "c4", TotalPoints: 10},
		},
		Submissions: []model.Submission{
			{SubmissionID: "x1", AssignmentID: "a1", StudentID: "s1", Grade: grade(90)},
			{SubmissionID: "x2", AssignmentID: "a1", StudentID: "s2", Grade: grade(70)},
			{SubmissionID: "x3", AssignmentID: "a3", StudentID: "s1", Grade: grade(8)},
			{SubmissionID: "x4", AssignmentID: "a1", StudentID: "s9", Grade: grade(10)},
			{SubmissionID: "x5", AssignmentID: "a4", StudentID: "s3"},
		},
		Attendance: []model.AttendanceRecord{
			{ClassID: "c1", StudentID: "s1", Date: "2024-03-01", Status: model.StatusAbsent},
			{ClassID: "c1", StudentID: "s1", Date: "2024-03-01", Status: model.StatusPresent},
			{ClassID: "c1", StudentID: "s2", Date: "2024-03-01", Status: model.StatusPresent},
			{ClassID: "c3", StudentID: "s1", Date: "2024-03-02", Status: model.StatusAbsent},
			{ClassID: "c1", StudentID: "s9", Date: "2024-03-01", Status: model.StatusPresent},
		},
	}
}

func newStore() *repository.MemoryStore {
	s := repository.NewMemoryStore()
	s.Seed(school())
	return s
}

func TestResolveClass(t *testing.T) {
	Convey("Given a class scope", t, func() {
		r := join.NewResolver(newStore())
		set, err := r.Resolve(context.Background(), model.ClassScope("c1"))

		Convey("Then only the class's rows are kept", func() {
			So(err, ShouldBeNil)
			So(set.Classes, ShouldHaveLength, 1)
			So(set.Enrollments, ShouldResemble, []model.Enrollment{
				{StudentID: "s1", ClassID: "c1"},
				{StudentID: "s2", ClassID: "c1"},
			})
			So(set.Assignments, ShouldHaveLength, 2)
		})

		Convey("Then submissions of unenrolled students are dropped", func() {
			ids := []string{}
			for _, s := range set.Submissions {
				ids = append(ids, s.SubmissionID)
			}
			So(ids, ShouldResemble, []string{"x1", "x2"})
		})

		Convey("Then re-marked attendance collapses to the last row", func() {
			So(set.Attendance, ShouldHaveLength, 2)
			So(set.Attendance[0].StudentID, ShouldEqual, "s1")
			So(set.Attendance[0].Status, ShouldEqual, model.StatusPresent)
		})
	})
}

func TestResolveStudent(t *testing.T) {
	Convey("Given a student scope", t, func() {
		r := join.NewResolver(newStore())
		set, err := r.Resolve(context.Background(), model.StudentScope("s1"))

		Convey("Then the union of the student's classes is resolved", func() {
			So(err, ShouldBeNil)
			So(set.Classes, ShouldHaveLength, 2)
			So(set.Classes[0].ClassID, ShouldEqual, "c1")
			So(set.Classes[1].ClassID, ShouldEqual, "c3")
			So(set.Enrollments, ShouldHaveLength, 2)
			So(set.Assignments, ShouldHaveLength, 3)
		})

		Convey("Then only the student's own work and attendance is kept", func() {
			for _, s := range set.Submissions {
				So(s.StudentID, ShouldEqual, "s1")
			}
			So(set.Submissions, ShouldHaveLength, 2)
			for _, a := range set.Attendance {
				So(a.StudentID, ShouldEqual, "s1")
			}
			So(set.Attendance, ShouldHaveLength, 2)
		})
	})

	Convey("Given a student with no enrollments", t, func() {
		set, err := join.NewResolver(newStore()).Resolve(context.Background(), model.StudentScope("nobody"))

		Convey("Then the set is empty and no error is returned", func() {
			So(err, ShouldBeNil)
			So(set.Empty(), ShouldBeTrue)
			So(set.Classes, ShouldBeEmpty)
		})
	})
}

func TestResolveTeacher(t *testing.T) {
	Convey("Given a teacher scope", t, func() {
		set, err := join.NewResolver(newStore()).Resolve(context.Background(), model.TeacherScope("t1"))

		Convey("Then every class of the teacher is joined", func() {
			So(err, ShouldBeNil)
			So(set.Classes, ShouldHaveLength, 2)
			So(set.Enrollments, ShouldHaveLength, 3)
			So(set.Assignments, ShouldHaveLength, 3)
			So(set.Submissions, ShouldHaveLength, 3)
		})
	})

	Convey("Given a teacher whose class has no students", t, func() {
		set, err := join.NewResolver(newStore()).Resolve(context.Background(), model.TeacherScope("t3"))

		Convey("Then the class is kept without any rows", func() {
			So(err, ShouldBeNil)
			So(set.Empty(), ShouldBeTrue)
			So(set.Classes, ShouldHaveLength, 1)
			So(set.Assignments, ShouldBeEmpty)
		})
	})
}

func TestResolveRoundTrip(t *testing.T) {
	Convey("Given an unchanged store", t, func() {
		r := join.NewResolver(newStore())
		ctx := context.Background()

		Convey("Then resolving twice gives equal sets", func() {
			for _, scope := range []model.Scope{model.ClassScope("c1"), model.StudentScope("s1"), model.TeacherScope("t1")} {
				first, err := r.Resolve(ctx, scope)
				So(err, ShouldBeNil)
				second, err := r.Resolve(ctx, scope)
				So(err, ShouldBeNil)
				So(second, ShouldResemble, first)
			}
		})
	})
}

func TestResolveFailures(t *testing.T) {
	Convey("Given a failing store", t, func() {
		store := newStore()
		store.Fail(errors.New("timeout"))
		_, err := join.NewResolver(store).Resolve(context.Background(), model.ClassScope("c1"))

		Convey("Then the error is a resolution failure wrapping the store error", func() {
			So(errors.Is(err, join.ErrResolutionFailed), ShouldBeTrue)
			So(errors.Is(err, repository.ErrUnavailable), ShouldBeTrue)
		})
	})

	Convey("Given an invalid scope", t, func() {
		_, err := join.NewResolver(newStore()).Resolve(context.Background(), model.Scope{Kind: "school", ID: "x"})

		Convey("Then it is rejected before any read", func() {
			So(errors.Is(err, model.ErrInvalidScope), ShouldBeTrue)
		})
	})
}

func TestJoinOrderIndependent(t *testing.T) {
	Convey("Given the same rows delivered in another order", t, func() {
		raw := join.Raw{
			Enrollments: []model.Enrollment{{StudentID: "b", ClassID: "c"}, {StudentID: "a", ClassID: "c"}},
			Classes:     []model.ClassRecord{{ClassID: "c"}},
			Assignments: []model.Assignment{{AssignmentID: "z", ClassID: "c"}, {AssignmentID: "y", ClassID: "c"}},
			Submissions: []model.Submission{
				{SubmissionID: "2", AssignmentID: "z", StudentID: "a"},
				{SubmissionID: "1", AssignmentID: "y", StudentID: "b", SubmittedAt: time.Unix(0, 0)},
			},
		}
		reversed := join.Raw{
			Enrollments: []model.Enrollment{raw.Enrollments[1], raw.Enrollments[0]},
			Classes:     raw.Classes,
			Assignments: []model.Assignment{raw.Assignments[1], raw.Assignments[0]},
			Submissions: []model.Submission{raw.Submissions[1], raw.Submissions[0]},
		}

		Convey("Then the joined sets are equal", func() {
			scope := model.ClassScope("c")
			So(join.Join(scope, reversed), ShouldResemble, join.Join(scope, raw))
		})
	})
}

func TestJoinWithoutEnrollments(t *testing.T) {
	Convey("Given raw rows of a class nobody is enrolled in", t, func() {
		raw := join.Raw{
			Classes:     []model.ClassRecord{{ClassID: "c9", Name: "Empty"}},
			Assignments: []model.Assignment{{AssignmentID: "a9", ClassID: "c9", TotalPoints: 10}},
			Submissions: []model.Submission{{SubmissionID: "x9", AssignmentID: "a9", StudentID: "s1", Grade: grade(5)}},
		}
		set := join.Join(model.ClassScope("c9"), raw)

		Convey("Then only the class record is kept and the set counts as empty", func() {
			So(set.Empty(), ShouldBeTrue)
			So(set.Classes, ShouldHaveLength, 1)
			So(set.Assignments, ShouldBeEmpty)
			So(set.Submissions, ShouldBeEmpty)
			So(set.Attendance, ShouldBeEmpty)
		})
	})
}

func TestSubscriptions(t *testing.T) {
	Convey("Given a resolved class set", t, func() {
		set, err := join.NewResolver(newStore()).Resolve(context.Background(), model.ClassScope("c1"))
		So(err, ShouldBeNil)
		qs := join.Subscriptions(model.ClassScope("c1"), set)

		Convey("Then every collection the class reads from is watched", func() {
			collections := map[repository.Collection]bool{}
			for _, q := range qs {
				collections[q.Collection] = true
			}
			So(collections, ShouldResemble, map[repository.Collection]bool{
				repository.Enrollments: true,
				repository.Classes:     true,
				repository.Assignments: true,
				repository.Attendance:  true,
				repository.Submissions: true,
			})
		})

		Convey("Then a new assignment changes the submission query", func() {
			set.Assignments = append(set.Assignments, model.Assignment{AssignmentID: "a9", ClassID: "c1"})
			next := join.Subscriptions(model.ClassScope("c1"), set)
			So(next[len(next)-1].Key(), ShouldNotEqual, qs[len(qs)-1].Key())
		})
	})

	Convey("Given a class without assignments", t, func() {
		qs := join.Subscriptions(model.ClassScope("c9"), model.ResolvedSet{})

		Convey("Then submissions are not watched yet", func() {
			for _, q := range qs {
				So(q.Collection, ShouldNotEqual, repository.Submissions)
			}
		})
	})

	Convey("Given a student without enrollments", t, func() {
		qs := join.Subscriptions(model.StudentScope("s9"), model.ResolvedSet{})

		Convey("Then enrollments of the student are still watched", func() {
			So(qs[0].Collection, ShouldEqual, repository.Enrollments)
			So(qs, ShouldHaveLength, 3)
		})
	})
}
