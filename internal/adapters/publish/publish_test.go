package publish_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/classboard/internal/adapters/publish"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/internal/domain/snapshot"
	logging "github.com/okian/classboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logging.Init()
}

// fakeClient is an in-memory stand-in for the Redis client.
type fakeClient struct {
	mu        sync.Mutex
	values    map[string]string
	ttls      map[string]time.Duration
	published map[string][]string
	setErr    error
	closed    bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		values:    make(map[string]string),
		ttls:      make(map[string]time.Duration),
		published: make(map[string][]string),
	}
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.values[key] = string(value.([]byte))
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func sampleSnapshot() *model.Snapshot {
	g := 95.0
	set := model.ResolvedSet{
		Enrollments: []model.Enrollment{{StudentID: "s1", ClassID: "c1"}},
		Classes:     []model.ClassRecord{{ClassID: "c1", Name: "Algebra", Subject: "Math"}},
		Assignments: []model.Assignment{{AssignmentID: "a1", ClassID: "c1", TotalPoints: 100}},
		Submissions: []model.Submission{{SubmissionID: "x1", AssignmentID: "a1", StudentID: "s1", Grade: &g}},
	}
	return snapshot.NewBuilder().Build(model.ClassScope("c1"), set, time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
}

func TestPublisher(t *testing.T) {
	Convey("Given a publisher over a fake client", t, func() {
		client := newFakeClient()
		p := publish.New(client, publish.WithPrefix("test:"), publish.WithTTL(time.Minute))
		ctx := context.Background()
		s := sampleSnapshot()

		Convey("When a snapshot is published", func() {
			So(p.Publish(ctx, s), ShouldBeNil)

			Convey("Then it is stored under the scope key with the TTL", func() {
				So(p.Key(s.Scope), ShouldEqual, "test:snapshot:class:c1")
				So(client.ttls["test:snapshot:class:c1"], ShouldEqual, time.Minute)
			})

			Convey("Then an update message is announced", func() {
				msgs := client.published["test:snapshots"]
				So(msgs, ShouldHaveLength, 1)
				var m publish.Message
				So(json.Unmarshal([]byte(msgs[0]), &m), ShouldBeNil)
				So(m.Scope, ShouldResemble, s.Scope)
				So(m.Key, ShouldEqual, "test:snapshot:class:c1")
			})

			Convey("Then the stored export reads back", func() {
				got, err := p.Latest(ctx, s.Scope)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, snapshot.Export(s))
			})
		})

		Convey("When nothing was published for a scope", func() {
			_, err := p.Latest(ctx, model.StudentScope("s9"))

			Convey("Then it is not found", func() {
				So(errors.Is(err, publish.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When the server rejects the write", func() {
			client.setErr = errors.New("READONLY")
			err := p.Publish(ctx, s)

			Convey("Then a publish error is returned and nothing is announced", func() {
				So(errors.Is(err, publish.ErrPublish), ShouldBeTrue)
				So(client.published, ShouldBeEmpty)
			})
		})

		Convey("When pinged and closed", func() {
			So(p.Ping(ctx), ShouldBeNil)
			So(p.Close(), ShouldBeNil)

			Convey("Then the client is closed", func() {
				So(client.closed, ShouldBeTrue)
			})
		})
	})
}
