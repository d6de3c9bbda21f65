// Command seed generates a synthetic school and writes it as a YAML
// fixture, or inserts it into MongoDB.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/pkg/logger"
)

// Default generation constants.
const (
	defaultTeachers    = 3
	defaultClasses     = 6
	defaultStudents    = 40
	defaultAssignments = 5
	defaultDays        = 20
	defaultTimeout     = 30 * time.Second
)

var subjects = []string{"Math", "Science", "English", "History", "Art"}

// Options controls the size of the generated school.
type Options struct {
	Teachers    int
	Classes     int
	Students    int
	Assignments int // per class
	Days        int // attendance days per class
	End         time.Time
}

func main() {
	var (
		out         = flag.String("out", "seed.yaml", "Output fixture file")
		mongoURI    = flag.String("mongo-uri", "", "Insert into MongoDB at this URI instead of writing a file")
		mongoDB     = flag.String("mongo-db", "classboard", "MongoDB database name")
		teachers    = flag.Int("teachers", defaultTeachers, "Number of teachers")
		classes     = flag.Int("classes", defaultClasses, "Number of classes")
		students    = flag.Int("students", defaultStudents, "Number of students")
		assignments = flag.Int("assignments", defaultAssignments, "Assignments per class")
		days        = flag.Int("days", defaultDays, "Attendance days per class")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	f := Generate(rand.New(rand.NewSource(*seed)), Options{
		Teachers:    *teachers,
		Classes:     *classes,
		Students:    *students,
		Assignments: *assignments,
		Days:        *days,
		End:         time.Now().UTC(),
	})

	if err := write(ctx, f, *out, *mongoURI, *mongoDB); err != nil {
		log.Error(ctx, "seed failed", logger.Error(err))
		os.Exit(1)
	}
	log.Info(ctx, "seed written",
		logger.Int("classes", len(f.Classes)),
		logger.Int("enrollments", len(f.Enrollments)),
		logger.Int("submissions", len(f.Submissions)),
		logger.Int("attendance", len(f.Attendance)),
	)
}

func write(ctx context.Context, f *repository.Fixture, out, mongoURI, mongoDB string) error {
	if mongoURI == "" {
		return repository.WriteFixture(out, f)
	}
	store, err := repository.NewMongoStore(ctx, mongoURI, mongoDB)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.InsertFixture(ctx, f)
}

// Generate builds a school from rng. Every student joins one to three
// classes; grades and attendance are skewed so all bands appear.
func Generate(rng *rand.Rand, o Options) *repository.Fixture {
	f := &repository.Fixture{}
	if o.Teachers < 1 || o.Classes < 1 {
		return f
	}

	teacherIDs := make([]string, o.Teachers)
	for i := range teacherIDs {
		teacherIDs[i] = uuid.NewString()
		f.Users = append(f.Users, model.User{
			UserID: teacherIDs[i],
			Email:  fmt.Sprintf("teacher%d@school.test", i+1),
			Name:   fmt.Sprintf("Teacher %d", i+1),
			Role:   "teacher",
		})
	}

	for i := 0; i < o.Classes; i++ {
		subject := subjects[i%len(subjects)]
		c := model.ClassRecord{
			ClassID:   uuid.NewString(),
			TeacherID: teacherIDs[i%len(teacherIDs)],
			Name:      fmt.Sprintf("%s %d", subject, i/len(subjects)+1),
			Subject:   subject,
			Capacity:  o.Students,
		}
		f.Classes = append(f.Classes, c)
		for a := 0; a < o.Assignments; a++ {
			f.Assignments = append(f.Assignments, model.Assignment{
				AssignmentID: uuid.NewString(),
				ClassID:      c.ClassID,
				Title:        fmt.Sprintf("%s assignment %d", subject, a+1),
				DueDate:      o.End.AddDate(0, 0, -(o.Days*(o.Assignments-a))/max(o.Assignments, 1)),
				TotalPoints:  float64(10 * (1 + rng.Intn(10))),
			})
		}
	}

	for s := 0; s < o.Students; s++ {
		id := uuid.NewString()
		f.Users = append(f.Users, model.User{
			UserID: id,
			Email:  fmt.Sprintf("student%d@school.test", s+1),
			Name:   fmt.Sprintf("Student %d", s+1),
			Role:   "student",
		})
		// skill in [0.4, 1.0) decides grades and presence
		skill := 0.4 + 0.6*rng.Float64()
		for _, c := range pick(rng, f.Classes, 1+rng.Intn(3)) {
			f.Enrollments = append(f.Enrollments, model.Enrollment{StudentID: id, ClassID: c.ClassID})
			generateWork(rng, f, o, c.ClassID, id, skill)
		}
	}
	return f
}

func generateWork(rng *rand.Rand, f *repository.Fixture, o Options, classID, studentID string, skill float64) {
	for _, a := range f.Assignments {
		if a.ClassID != classID || rng.Float64() > skill+0.1 {
			continue
		}
		sub := model.Submission{
			SubmissionID: uuid.NewString(),
			AssignmentID: a.AssignmentID,
			StudentID:    studentID,
			SubmittedAt:  a.DueDate.Add(-time.Duration(rng.Intn(48)) * time.Hour),
		}
		if rng.Intn(5) > 0 {
			g := a.TotalPoints * min(1, skill+0.15*rng.NormFloat64())
			g = max(0, float64(int(g*10))/10)
			sub.Grade = &g
		}
		f.Submissions = append(f.Submissions, sub)
	}
	for d := 0; d < o.Days; d++ {
		status := model.StatusAbsent
		if rng.Float64() < skill+0.1 {
			status = model.StatusPresent
		}
		f.Attendance = append(f.Attendance, model.AttendanceRecord{
			ClassID:   classID,
			StudentID: studentID,
			Date:      model.DateOf(o.End.AddDate(0, 0, -d), time.UTC),
			Status:    status,
		})
	}
}

// pick returns n distinct classes from cs.
func pick(rng *rand.Rand, cs []model.ClassRecord, n int) []model.ClassRecord {
	if n > len(cs) {
		n = len(cs)
	}
	out := make([]model.ClassRecord, 0, n)
	for _, i := range rng.Perm(len(cs))[:n] {
		out = append(out, cs[i])
	}
	return out
}
