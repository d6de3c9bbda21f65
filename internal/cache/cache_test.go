package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/classboard/internal/adapters/mq/queue"
	"github.com/okian/classboard/internal/adapters/repository"
	"github.com/okian/classboard/internal/cache"
	"github.com/okian/classboard/internal/domain/join"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/internal/domain/snapshot"
	logging "github.com/okian/classboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

var asOf = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func clock() time.Time { return asOf }

func grade(v float64) *float64 { return &v }

// recorder collects jobs instead of running them.
type recorder struct {
	mu     sync.Mutex
	jobs   []queue.Job
	reject bool
	calls  int
}

func (r *recorder) Enqueue(ctx context.Context, j queue.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.reject {
		return false
	}
	r.jobs = append(r.jobs, j)
	return true
}

func (r *recorder) pop() (queue.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.jobs) == 0 {
		return queue.Job{}, false
	}
	j := r.jobs[0]
	r.jobs = r.jobs[1:]
	return j, true
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// drain runs every recorded job on the calling goroutine.
func drain(c *cache.Cache, r *recorder) {
	for {
		j, ok := r.pop()
		if !ok {
			return
		}
		_ = c.Process(context.Background(), j)
	}
}

// gatedResolver blocks its first call until the context ends, then
// answers with a class named "second".
type gatedResolver struct {
	calls   atomic.Int64
	entered chan struct{}
}

func (g *gatedResolver) Resolve(ctx context.Context, scope model.Scope) (model.ResolvedSet, error) {
	n := g.calls.Add(1)
	if n == 1 {
		close(g.entered)
		<-ctx.Done()
		return model.ResolvedSet{}, ctx.Err()
	}
	return model.ResolvedSet{Classes: []model.ClassRecord{{ClassID: scope.ID, Name: "second"}}}, nil
}

func school() *repository.Fixture {
	return &repository.Fixture{
		Classes:     []model.ClassRecord{{ClassID: "c1", TeacherID: "t1", Name: "Algebra", Subject: "Math"}},
		Enrollments: []model.Enrollment{{StudentID: "s1", ClassID: "c1"}, {StudentID: "s2", ClassID: "c1"}},
		Assignments: []model.Assignment{{AssignmentID: "a1", ClassID: "c1", TotalPoints: 100}},
		Submissions: []model.Submission{{SubmissionID: "x1", AssignmentID: "a1", StudentID: "s1", Grade: grade(95)}},
		Attendance: []model.AttendanceRecord{
			{ClassID: "c1", StudentID: "s1", Date: "2024-03-01", Status: model.StatusPresent},
		},
	}
}

func newCache(store *repository.MemoryStore, r *recorder) *cache.Cache {
	return cache.New(store, join.NewResolver(store), snapshot.NewBuilder(), r, cache.WithClock(clock))
}

func TestWatch(t *testing.T) {
	Convey("Given a seeded store and a cache", t, func() {
		store := repository.NewMemoryStore()
		store.Seed(school())
		r := &recorder{}
		c := newCache(store, r)
		defer c.Close()
		scope := model.ClassScope("c1")

		Convey("When the scope is watched", func() {
			So(c.Watch(context.Background(), scope), ShouldBeNil)

			Convey("Then it is stale without a snapshot and one job is queued", func() {
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateStale)
				So(v.Snapshot, ShouldBeNil)
				So(v.Err, ShouldBeNil)
				So(r.len(), ShouldEqual, 1)
			})

			Convey("Then watching again queues nothing", func() {
				So(c.Watch(context.Background(), scope), ShouldBeNil)
				So(r.len(), ShouldEqual, 1)
			})

			Convey("Then running the job publishes a fresh snapshot", func() {
				drain(c, r)
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateFresh)
				So(v.Snapshot.AsOf, ShouldEqual, asOf)
				So(v.Snapshot.StudentRollups, ShouldHaveLength, 2)
			})

			Convey("Then subscriptions follow the resolved set", func() {
				drain(c, r)
				set, err := join.NewResolver(store).Resolve(context.Background(), scope)
				So(err, ShouldBeNil)
				So(store.SubscriptionCount(), ShouldEqual, len(join.Subscriptions(scope, set)))
				So(c.Stats().Subscriptions, ShouldEqual, store.SubscriptionCount())
			})
		})

		Convey("When an invalid scope is watched", func() {
			err := c.Watch(context.Background(), model.Scope{Kind: "school", ID: "x"})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, model.ErrInvalidScope), ShouldBeTrue)
			})
		})

		Convey("When an unwatched scope is read", func() {
			v := c.Snapshot(model.ClassScope("nope"))

			Convey("Then the view says so", func() {
				So(errors.Is(v.Err, cache.ErrNotWatched), ShouldBeTrue)
				So(v.Snapshot, ShouldBeNil)
			})
		})
	})
}

func TestInvalidation(t *testing.T) {
	Convey("Given a fresh scope", t, func() {
		store := repository.NewMemoryStore()
		store.Seed(school())
		r := &recorder{}
		c := newCache(store, r)
		defer c.Close()
		scope := model.ClassScope("c1")
		So(c.Watch(context.Background(), scope), ShouldBeNil)
		drain(c, r)
		first := c.Snapshot(scope).Snapshot

		Convey("When a submission of the class changes", func() {
			store.PutSubmission(model.Submission{SubmissionID: "x2", AssignmentID: "a1", StudentID: "s2", Grade: grade(70)})

			Convey("Then the scope goes stale but keeps serving the old snapshot", func() {
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateStale)
				So(v.Snapshot, ShouldEqual, first)
				So(r.len(), ShouldEqual, 1)
			})

			Convey("Then the recompute reflects the change", func() {
				drain(c, r)
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateFresh)
				So(v.Snapshot, ShouldNotEqual, first)
				So(v.Snapshot.ClassRollups[0].AverageGrade, ShouldEqual, 82.5)
			})
		})

		Convey("When an unrelated class changes", func() {
			store.PutSubmission(model.Submission{SubmissionID: "y1", AssignmentID: "other", StudentID: "s9"})

			Convey("Then nothing happens", func() {
				So(c.Snapshot(scope).State, ShouldEqual, cache.StateFresh)
				So(r.len(), ShouldEqual, 0)
			})
		})

		Convey("When many changes arrive before the recompute runs", func() {
			gen := c.Snapshot(scope).Generation
			for i := 0; i < 5; i++ {
				So(c.Invalidate(scope), ShouldBeNil)
			}

			Convey("Then they coalesce into a single job of the latest generation", func() {
				So(r.len(), ShouldEqual, 1)
				drain(c, r)
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateFresh)
				So(v.Generation, ShouldEqual, gen+5)
			})
		})

		Convey("When the scope is recomputed with unchanged data", func() {
			So(c.Invalidate(scope), ShouldBeNil)
			drain(c, r)

			Convey("Then the snapshot is equal to the previous one", func() {
				So(c.Snapshot(scope).Snapshot, ShouldResemble, first)
			})
		})
	})
}

func TestSupersededRecompute(t *testing.T) {
	Convey("Given a recompute in flight", t, func() {
		res := &gatedResolver{entered: make(chan struct{})}
		r := &recorder{}
		c := cache.New(repository.NewMemoryStore(), res, snapshot.NewBuilder(), r, cache.WithClock(clock))
		defer c.Close()
		scope := model.ClassScope("c1")

		var published []*model.Snapshot
		var mu sync.Mutex
		c.OnSnapshotUpdated(scope, func(s *model.Snapshot) {
			mu.Lock()
			published = append(published, s)
			mu.Unlock()
		})

		So(c.Watch(context.Background(), scope), ShouldBeNil)
		j, ok := r.pop()
		So(ok, ShouldBeTrue)

		done := make(chan error, 1)
		go func() { done <- c.Process(context.Background(), j) }()
		<-res.entered

		Convey("When the scope is invalidated", func() {
			So(c.Invalidate(scope), ShouldBeNil)
			So(<-done, ShouldBeNil)

			Convey("Then the cancelled result is never published", func() {
				v := c.Snapshot(scope)
				So(v.Snapshot, ShouldBeNil)
				So(v.State, ShouldEqual, cache.StateStale)
				So(v.Err, ShouldBeNil)
			})

			Convey("Then one follow-up job runs and publishes", func() {
				So(r.len(), ShouldEqual, 1)
				drain(c, r)
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateFresh)
				So(v.Snapshot.ClassRollups[0].Name, ShouldEqual, "second")
				mu.Lock()
				defer mu.Unlock()
				So(published, ShouldHaveLength, 1)
			})
		})

		Convey("When the scope is forgotten", func() {
			So(c.Forget(scope), ShouldBeNil)
			So(<-done, ShouldBeNil)

			Convey("Then nothing is published or queued", func() {
				So(r.len(), ShouldEqual, 0)
				So(errors.Is(c.Snapshot(scope).Err, cache.ErrNotWatched), ShouldBeTrue)
			})
		})
	})
}

func TestResolutionFailure(t *testing.T) {
	Convey("Given a fresh scope", t, func() {
		store := repository.NewMemoryStore()
		store.Seed(school())
		r := &recorder{}
		c := newCache(store, r)
		defer c.Close()
		scope := model.ClassScope("c1")
		So(c.Watch(context.Background(), scope), ShouldBeNil)
		drain(c, r)
		first := c.Snapshot(scope).Snapshot

		Convey("When the store fails during the next recompute", func() {
			store.Fail(errors.New("connection reset"))
			So(c.Invalidate(scope), ShouldBeNil)
			j, _ := r.pop()
			err := c.Process(context.Background(), j)

			Convey("Then the last fresh snapshot is kept and the error reported", func() {
				So(errors.Is(err, join.ErrResolutionFailed), ShouldBeTrue)
				v := c.Snapshot(scope)
				So(v.Snapshot, ShouldEqual, first)
				So(v.State, ShouldEqual, cache.StateStale)
				So(errors.Is(v.Err, join.ErrResolutionFailed), ShouldBeTrue)
				So(c.Stats().Failing, ShouldEqual, 1)
			})

			Convey("Then the next change retries and clears the error", func() {
				store.Fail(nil)
				store.AddAttendance(model.AttendanceRecord{ClassID: "c1", StudentID: "s2", Date: "2024-03-01", Status: model.StatusPresent})
				drain(c, r)
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateFresh)
				So(v.Err, ShouldBeNil)
				So(v.Snapshot.ClassRollups[0].AttendanceRate, ShouldEqual, 100.0)
			})
		})
	})
}

func TestEnqueueRejected(t *testing.T) {
	Convey("Given a full queue", t, func() {
		store := repository.NewMemoryStore()
		r := &recorder{reject: true}
		c := newCache(store, r)
		defer c.Close()
		scope := model.StudentScope("s1")

		Convey("When a scope is watched", func() {
			err := c.Watch(context.Background(), scope)

			Convey("Then it is registered but reported as not queued", func() {
				So(errors.Is(err, cache.ErrNotQueued), ShouldBeTrue)
				So(c.Scopes(), ShouldResemble, []model.Scope{scope})
			})

			Convey("Then a later invalidation tries again", func() {
				r.mu.Lock()
				r.reject = false
				r.mu.Unlock()
				So(c.Invalidate(scope), ShouldBeNil)
				So(r.len(), ShouldEqual, 1)
				So(r.calls, ShouldEqual, 2)
			})
		})
	})
}

func TestListeners(t *testing.T) {
	Convey("Given listeners for one scope and for any scope", t, func() {
		store := repository.NewMemoryStore()
		store.Seed(school())
		r := &recorder{}
		c := newCache(store, r)
		defer c.Close()

		var scoped, all []string
		cancelScoped := c.OnSnapshotUpdated(model.ClassScope("c1"), func(s *model.Snapshot) {
			scoped = append(scoped, s.Scope.Key())
		})
		cancelAll := c.OnAny(func(s *model.Snapshot) {
			all = append(all, s.Scope.Key())
		})

		So(c.Watch(context.Background(), model.ClassScope("c1")), ShouldBeNil)
		So(c.Watch(context.Background(), model.TeacherScope("t1")), ShouldBeNil)
		drain(c, r)

		Convey("Then each is called for the scopes it listens to", func() {
			So(scoped, ShouldResemble, []string{"class:c1"})
			So(all, ShouldResemble, []string{"class:c1", "teacher:t1"})
		})

		Convey("Then cancelled listeners are not called again", func() {
			cancelScoped()
			cancelScoped()
			cancelAll()
			So(c.Invalidate(model.ClassScope("c1")), ShouldBeNil)
			drain(c, r)
			So(scoped, ShouldHaveLength, 1)
			So(all, ShouldHaveLength, 2)
		})
	})
}

func TestForgetAndClose(t *testing.T) {
	Convey("Given two watched scopes", t, func() {
		store := repository.NewMemoryStore()
		store.Seed(school())
		r := &recorder{}
		c := newCache(store, r)
		So(c.Watch(context.Background(), model.ClassScope("c1")), ShouldBeNil)
		So(c.Watch(context.Background(), model.StudentScope("s1")), ShouldBeNil)
		drain(c, r)

		Convey("When one is forgotten", func() {
			before := store.SubscriptionCount()
			So(c.Forget(model.ClassScope("c1")), ShouldBeNil)

			Convey("Then its subscriptions are gone and changes are ignored", func() {
				So(store.SubscriptionCount(), ShouldBeLessThan, before)
				So(c.Scopes(), ShouldResemble, []model.Scope{model.StudentScope("s1")})
				So(errors.Is(c.Forget(model.ClassScope("c1")), cache.ErrNotWatched), ShouldBeTrue)
			})
		})

		Convey("When the cache is closed", func() {
			So(c.Close(), ShouldBeNil)

			Convey("Then every subscription is dropped and watching fails", func() {
				So(store.SubscriptionCount(), ShouldEqual, 0)
				So(errors.Is(c.Watch(context.Background(), model.ClassScope("c1")), cache.ErrClosed), ShouldBeTrue)
				So(c.Close(), ShouldBeNil)
				So(c.Stats().Watched, ShouldEqual, 0)
			})
		})
	})
}

// hookedResolver runs after, once, right after the wrapped resolve reads
// the store.
type hookedResolver struct {
	inner cache.Resolver
	mu    sync.Mutex
	after func()
}

func (h *hookedResolver) arm(fn func()) {
	h.mu.Lock()
	h.after = fn
	h.mu.Unlock()
}

func (h *hookedResolver) Resolve(ctx context.Context, scope model.Scope) (model.ResolvedSet, error) {
	set, err := h.inner.Resolve(ctx, scope)
	h.mu.Lock()
	fn := h.after
	h.after = nil
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
	return set, err
}

func TestWidenedSubscriptions(t *testing.T) {
	Convey("Given a fresh class scope", t, func() {
		store := repository.NewMemoryStore()
		store.Seed(school())
		r := &recorder{}
		res := &hookedResolver{inner: join.NewResolver(store)}
		c := cache.New(store, res, snapshot.NewBuilder(), r, cache.WithClock(clock))
		defer c.Close()
		scope := model.ClassScope("c1")

		var published int
		c.OnSnapshotUpdated(scope, func(*model.Snapshot) { published++ })
		So(c.Watch(context.Background(), scope), ShouldBeNil)
		drain(c, r)

		Convey("Then the first resolve, which adds subscriptions, is published once", func() {
			So(published, ShouldEqual, 1)
			So(c.Snapshot(scope).State, ShouldEqual, cache.StateFresh)
		})

		Convey("When a submission to a new assignment lands during the recompute", func() {
			store.PutAssignment(model.Assignment{AssignmentID: "a2", ClassID: "c1", TotalPoints: 100})
			res.arm(func() {
				store.PutSubmission(model.Submission{SubmissionID: "x2", AssignmentID: "a2", StudentID: "s2", Grade: grade(70)})
			})
			drain(c, r)

			Convey("Then the scope settles fresh with the submission included", func() {
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateFresh)
				So(v.Snapshot.ClassRollups[0].AverageGrade, ShouldEqual, 82.5)
				So(r.len(), ShouldEqual, 0)
				So(published, ShouldEqual, 2)
			})
		})
	})
}

// heldResolver blocks call n until release(n).
type heldResolver struct {
	calls   atomic.Int64
	entered chan int
	gates   [3]chan struct{}
}

func newHeldResolver() *heldResolver {
	h := &heldResolver{entered: make(chan int, 3)}
	for i := range h.gates {
		h.gates[i] = make(chan struct{})
	}
	return h
}

func (h *heldResolver) release(n int) { close(h.gates[n-1]) }

func (h *heldResolver) Resolve(ctx context.Context, scope model.Scope) (model.ResolvedSet, error) {
	n := int(h.calls.Add(1))
	h.entered <- n
	<-h.gates[n-1]
	return model.ResolvedSet{}, nil
}

func TestRewatchWhileRunning(t *testing.T) {
	Convey("Given a scope forgotten and watched again while its old recompute runs", t, func() {
		res := newHeldResolver()
		r := &recorder{}
		c := cache.New(repository.NewMemoryStore(), res, snapshot.NewBuilder(), r, cache.WithClock(clock))
		defer c.Close()
		scope := model.ClassScope("c1")

		So(c.Watch(context.Background(), scope), ShouldBeNil)
		first, _ := r.pop()
		firstDone := make(chan error, 1)
		go func() { firstDone <- c.Process(context.Background(), first) }()
		So(<-res.entered, ShouldEqual, 1)

		So(c.Forget(scope), ShouldBeNil)
		So(c.Watch(context.Background(), scope), ShouldBeNil)
		second, _ := r.pop()
		secondDone := make(chan error, 1)
		go func() { secondDone <- c.Process(context.Background(), second) }()
		So(<-res.entered, ShouldEqual, 2)

		res.release(1)
		So(<-firstDone, ShouldBeNil)

		Convey("When the new scope is invalidated", func() {
			So(c.Invalidate(scope), ShouldBeNil)

			Convey("Then no second recompute starts while the current one runs", func() {
				So(r.len(), ShouldEqual, 0)
				So(c.Stats().Outstanding, ShouldEqual, 1)

				res.release(2)
				So(<-secondDone, ShouldBeNil)
				So(r.len(), ShouldEqual, 1)

				res.release(3)
				drain(c, r)
				v := c.Snapshot(scope)
				So(v.State, ShouldEqual, cache.StateFresh)
				So(c.Stats().Outstanding, ShouldEqual, 0)
			})
		})
	})
}

func TestIdleEviction(t *testing.T) {
	Convey("Given a cache with an idle TTL", t, func() {
		store := repository.NewMemoryStore()
		store.Seed(school())
		r := &recorder{}
		now := asOf
		c := cache.New(store, join.NewResolver(store), snapshot.NewBuilder(), r,
			cache.WithClock(func() time.Time { return now }),
			cache.WithIdleTTL(time.Minute),
		)
		defer c.Close()
		class, student := model.ClassScope("c1"), model.StudentScope("s1")
		So(c.Watch(context.Background(), class), ShouldBeNil)
		So(c.Watch(context.Background(), student), ShouldBeNil)
		drain(c, r)

		now = now.Add(30 * time.Second)
		c.Snapshot(class)
		now = now.Add(45 * time.Second)

		Convey("When idle scopes are evicted", func() {
			before := store.SubscriptionCount()
			evicted := c.EvictIdle(context.Background())

			Convey("Then only the unread scope is forgotten", func() {
				So(evicted, ShouldResemble, []model.Scope{student})
				So(c.Scopes(), ShouldResemble, []model.Scope{class})
				So(store.SubscriptionCount(), ShouldBeLessThan, before)
			})
		})

		Convey("When the idle scope has a listener", func() {
			cancel := c.OnSnapshotUpdated(student, func(*model.Snapshot) {})
			defer cancel()

			Convey("Then it is kept", func() {
				So(c.EvictIdle(context.Background()), ShouldBeEmpty)
				So(c.Scopes(), ShouldHaveLength, 2)
			})
		})
	})

	Convey("Given a cache without an idle TTL", t, func() {
		r := &recorder{}
		c := newCache(repository.NewMemoryStore(), r)
		defer c.Close()
		So(c.Watch(context.Background(), model.ClassScope("c1")), ShouldBeNil)

		Convey("Then nothing is evicted", func() {
			So(c.EvictIdle(context.Background()), ShouldBeEmpty)
			So(c.Scopes(), ShouldHaveLength, 1)
		})
	})
}

func TestScopeLimit(t *testing.T) {
	Convey("Given a cache capped at one scope", t, func() {
		r := &recorder{}
		store := repository.NewMemoryStore()
		c := cache.New(store, join.NewResolver(store), snapshot.NewBuilder(), r,
			cache.WithClock(clock), cache.WithMaxScopes(1))
		defer c.Close()
		So(c.Watch(context.Background(), model.ClassScope("c1")), ShouldBeNil)

		Convey("When another scope is watched", func() {
			err := c.Watch(context.Background(), model.StudentScope("s1"))

			Convey("Then it is refused without subscribing", func() {
				So(errors.Is(err, cache.ErrTooMany), ShouldBeTrue)
				So(c.Scopes(), ShouldHaveLength, 1)
				So(c.Stats().Subscriptions, ShouldEqual, store.SubscriptionCount())
			})
		})

		Convey("When the watched scope is watched again", func() {
			Convey("Then it is still accepted", func() {
				So(c.Watch(context.Background(), model.ClassScope("c1")), ShouldBeNil)
			})
		})

		Convey("When the scope is forgotten", func() {
			So(c.Forget(model.ClassScope("c1")), ShouldBeNil)

			Convey("Then room is made for another", func() {
				So(c.Watch(context.Background(), model.StudentScope("s1")), ShouldBeNil)
			})
		})
	})
}
