package repository_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

const sampleFixture = `
classes:
  - classId: c1
    teacherId: t1
    name: Algebra
enrollments:
  - studentId: s1
    classId: c1
assignments:
  - assignmentId: a1
    classId: c1
    totalPoints: 20
    dueDate: 2024-03-01T00:00:00Z
submissions:
  - submissionId: x1
    assignmentId: a1
    studentId: s1
    grade: 17
  - submissionId: x2
    assignmentId: a1
    studentId: s2
attendance:
  - classId: c1
    studentId: s1
    date: "2024-03-01"
    status: present
`

func TestParseFixture(t *testing.T) {
	convey.Convey("Given a YAML fixture", t, func() {
		f, err := repository.ParseFixture([]byte(sampleFixture))

		convey.Convey("Then records decode with optional fields preserved", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(f.Classes, convey.ShouldHaveLength, 1)
			convey.So(f.Classes[0].SubjectOrUnknown(), convey.ShouldEqual, model.UnknownSubject)
			convey.So(f.Assignments[0].TotalPoints, convey.ShouldEqual, 20)
			convey.So(f.Submissions[0].Graded(), convey.ShouldBeTrue)
			convey.So(*f.Submissions[0].Grade, convey.ShouldEqual, 17.0)
			convey.So(f.Submissions[1].Graded(), convey.ShouldBeFalse)
			convey.So(f.Attendance[0].Date, convey.ShouldEqual, model.Date("2024-03-01"))
		})
	})

	convey.Convey("Given a fixture with a malformed date", t, func() {
		_, err := repository.ParseFixture([]byte("attendance:\n  - classId: c1\n    studentId: s1\n    date: 03/01/2024\n"))

		convey.Convey("Then it is rejected as ErrFixture", func() {
			convey.So(errors.Is(err, repository.ErrFixture), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given bytes that are not YAML", t, func() {
		_, err := repository.ParseFixture([]byte("classes: [unclosed"))

		convey.Convey("Then it is rejected as ErrFixture", func() {
			convey.So(errors.Is(err, repository.ErrFixture), convey.ShouldBeTrue)
		})
	})
}

func TestFixtureRoundTrip(t *testing.T) {
	convey.Convey("Given a parsed fixture written to disk", t, func() {
		f, err := repository.ParseFixture([]byte(sampleFixture))
		convey.So(err, convey.ShouldBeNil)
		path := filepath.Join(t.TempDir(), "seed.yaml")
		convey.So(repository.WriteFixture(path, f), convey.ShouldBeNil)

		convey.Convey("When it is loaded back", func() {
			back, err := repository.LoadFixture(path)

			convey.Convey("Then it equals the original", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(back, convey.ShouldResemble, f)
			})
		})
	})

	convey.Convey("Given a missing file", t, func() {
		_, err := repository.LoadFixture(filepath.Join(t.TempDir(), "nope.yaml"))

		convey.Convey("Then loading fails", func() {
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
