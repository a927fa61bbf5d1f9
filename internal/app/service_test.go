package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/dross/clantally/internal/config"
	"github.com/dross/clantally/internal/domain/model"
)

// fakeUpstreamHandler emulates the stats API: a two-member roster, one
// character per member, and one completed raid for the first member.
func fakeUpstreamHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/clans/", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, map[string]any{"members": []map[string]any{
			{"membership_id": "100", "membership_type": 3, "display_name": "alpha", "is_online": true},
			{"membership_id": "200", "membership_type": 3, "display_name": "beta"},
		}})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.Contains(path, "/profiles/"):
			char := "c100"
			if strings.HasSuffix(path, "/200") {
				char = "c200"
			}
			writeBody(w, map[string]any{"character_ids": []string{char}})
		case strings.HasSuffix(path, "/history"):
			if r.URL.Query().Get("mode") != "4" || r.URL.Query().Get("page") != "0" || !strings.Contains(path, "/c100/") {
				writeBody(w, map[string]any{"activities": []any{}})
				return
			}
			writeBody(w, map[string]any{"activities": []map[string]any{{
				"period":       "2026-08-20T10:00:00Z",
				"instance_id":  "i1",
				"reference_id": 910380154,
				"values":       map[string]any{"completed": map[string]any{"basic": map[string]any{"value": 1}}},
			}}})
		case strings.HasSuffix(path, "/aggregate-stats"):
			writeBody(w, map[string]any{"activities": []any{}})
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		LogLevel:            "error",
		Addr:                ":0",
		UpstreamBaseURL:     baseURL,
		UpstreamAPIKey:      "test",
		ClanID:              "42",
		RequestTimeoutMS:    2000,
		RetryCount:          1,
		BackoffBaseMS:       10,
		PageSize:            250,
		MaxPages:            2,
		FanoutConcurrency:   2,
		BatchPauseMS:        0,
		MinRefreshIntervalS: 60,
		RefreshWindowS:      10,
		LeaseTTLS:           60,
		RetryDelayS:         1,
		SweepIntervalS:      1,
		MaxJobAttempts:      3,
		RunQueueSize:        32,
		StoreInMemory:       true,
		SyncWaitTimeoutS:    10,
		SyncMemberCap:       10,
		SchedulerEnabled:    false,
	}
}

func TestServiceLifecycle(t *testing.T) {
	convey.Convey("Given a service over a fake upstream", t, func() {
		upstream := httptest.NewServer(fakeUpstreamHandler())
		defer upstream.Close()

		svc := New(testConfig(upstream.URL))
		err := svc.Start(context.Background())
		convey.So(err, convey.ShouldBeNil)
		defer svc.Stop()

		convey.Convey("When the roster is fetched cold", func() {
			members, err := svc.Roster(context.Background())

			convey.Convey("Then both members come back enriched", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(members, convey.ShouldHaveLength, 2)
				convey.So(members[0].Characters, convey.ShouldResemble, []string{"c100"})
			})
		})

		convey.Convey("When a full stats refresh runs", func() {
			res, err := svc.RefreshStats(context.Background())

			convey.Convey("Then the snapshot counts the one completed raid", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.OK, convey.ShouldBeTrue)
				convey.So(res.Snapshot.MemberCount, convey.ShouldEqual, 2)
				convey.So(res.Snapshot.ProcessedCount, convey.ShouldEqual, 2)
				convey.So(res.Snapshot.Clears, convey.ShouldEqual, 1)
				convey.So(res.Snapshot.SpecialClears, convey.ShouldEqual, 0)
			})

			convey.Convey("Then job records report done", func() {
				convey.So(err, convey.ShouldBeNil)
				jobs, err := svc.Status(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(jobs, convey.ShouldHaveLength, 2)
				for _, j := range jobs {
					convey.So(j.State, convey.ShouldEqual, model.JobDone)
				}
			})

			convey.Convey("Then the snapshot is durable and rate limits a rerun", func() {
				convey.So(err, convey.ShouldBeNil)
				snap, err := svc.Snapshot(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(snap.Clears, convey.ShouldEqual, 1)

				again, err := svc.RefreshStats(context.Background())
				convey.So(err, convey.ShouldBeNil)
				convey.So(again.OK, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When Start is called twice", func() {
			convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
		})
	})
}
