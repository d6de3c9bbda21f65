package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/classboard/internal/adapters/repository"
	app "github.com/okian/classboard/internal/app"
	"github.com/okian/classboard/internal/config"
	"github.com/okian/classboard/internal/domain/model"
	"github.com/okian/classboard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	f := &repository.Fixture{
		Classes:     []model.ClassRecord{{ClassID: "c1", TeacherID: "t1", Name: "Algebra"}},
		Enrollments: []model.Enrollment{{StudentID: "s1", ClassID: "c1"}},
	}
	if err := repository.WriteFixture(path, f); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("CLASSBOARD_ADDR", ":8080")
			_ = os.Setenv("CLASSBOARD_QUEUE_SIZE", "1000")
			_ = os.Setenv("CLASSBOARD_WORKER_COUNT", "4")
			defer func() {
				_ = os.Unsetenv("CLASSBOARD_ADDR")
				_ = os.Unsetenv("CLASSBOARD_QUEUE_SIZE")
				_ = os.Unsetenv("CLASSBOARD_WORKER_COUNT")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				cfg, err := config.Load(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When opening the memory store with a seed file", func() {
			cfg := config.New()
			cfg.SeedFile = writeSeed(t)
			store, err := openStore(context.Background(), cfg)
			convey.So(err, convey.ShouldBeNil)
			defer store.Close()

			convey.Convey("Then the seeded records are readable", func() {
				classes, err := store.Classes(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(classes, convey.ShouldHaveLength, 1)
				convey.So(classes[0].Name, convey.ShouldEqual, "Algebra")
			})
		})

		convey.Convey("When the seed file is missing", func() {
			cfg := config.New()
			cfg.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
			_, err := openStore(context.Background(), cfg)

			convey.Convey("Then opening fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When no redis address is configured", func() {
			convey.Convey("Then there is no publisher", func() {
				convey.So(newPublisher(config.New()), convey.ShouldBeNil)
			})
		})

		convey.Convey("When a redis address is configured", func() {
			cfg := config.New()
			cfg.RedisAddr = "localhost:6379"
			pub := newPublisher(cfg)
			defer pub.Close()

			convey.Convey("Then keys use the configured prefix", func() {
				convey.So(pub.Key(model.ClassScope("c1")), convey.ShouldEqual, "classboard:snapshot:class:c1")
			})
		})
	})
}

func TestMainApplicationComponents(t *testing.T) {
	convey.Convey("Given a started service over the seed file", t, func() {
		cfg := config.New()
		cfg.SeedFile = writeSeed(t)
		ctx := context.Background()
		store, err := openStore(ctx, cfg)
		convey.So(err, convey.ShouldBeNil)

		svc := app.New(app.WithStore(store), app.WithWorkerCount(1))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		defer svc.Stop()
		h := newHandler(ctx, svc, cfg)

		convey.Convey("When the docs and health routes are requested", func() {
			convey.Convey("Then both are served by the same router", func() {
				for _, path := range []string{"/openapi.yaml", "/healthz", "/stats", "/metrics"} {
					w := httptest.NewRecorder()
					h.ServeHTTP(w, httptest.NewRequest("GET", path, http.NoBody))
					convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				}
			})
		})

		convey.Convey("When a class snapshot is polled", func() {
			var code int
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				w := httptest.NewRecorder()
				h.ServeHTTP(w, httptest.NewRequest("GET", "/v1/snapshots/class/c1", http.NoBody))
				code = w.Code
				if code == http.StatusOK {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}

			convey.Convey("Then it turns into a 200 once computed", func() {
				convey.So(code, convey.ShouldEqual, http.StatusOK)
			})
		})

		convey.Convey("When the metrics updater runs", func() {
			convey.Convey("Then it does not panic", func() {
				convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			})
		})
	})
}
