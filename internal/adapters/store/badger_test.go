package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestJobRoundTrip(t *testing.T) {
	convey.Convey("Given an in-memory store", t, func() {
		ctx := context.Background()
		db := openTestStore(t)

		convey.Convey("When a job is persisted", func() {
			now := time.Now().UTC().Truncate(time.Second)
			job := &model.Job{
				Key:            "m1",
				MembershipID:   "m1",
				MembershipType: 3,
				State:          model.JobPending,
				Characters:     []string{"c1", "c2"},
				CreatedAt:      now,
				LastUpdatedAt:  now,
			}
			convey.So(db.PutJob(ctx, job), convey.ShouldBeNil)

			convey.Convey("Then it reads back identically", func() {
				got, err := db.GetJob(ctx, "m1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.State, convey.ShouldEqual, model.JobPending)
				convey.So(got.Characters, convey.ShouldResemble, []string{"c1", "c2"})
			})

			convey.Convey("Then it appears in the job listing", func() {
				convey.So(db.PutJob(ctx, &model.Job{Key: "m2", MembershipID: "m2", State: model.JobDone}), convey.ShouldBeNil)
				jobs, err := db.ListJobs(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(jobs), convey.ShouldEqual, 2)
			})
		})

		convey.Convey("When reading an unknown job", func() {
			_, err := db.GetJob(ctx, "nobody")
			convey.So(errors.Is(err, store.ErrNotFound), convey.ShouldBeTrue)
		})
	})
}

func TestMemberResultsAndSnapshot(t *testing.T) {
	convey.Convey("Given an in-memory store", t, func() {
		ctx := context.Background()
		db := openTestStore(t)

		convey.Convey("When member results are persisted", func() {
			r1 := &model.MemberResult{MembershipID: "m1", Clears: 4, UpdatedAt: time.Now()}
			r2 := &model.MemberResult{MembershipID: "m2", Clears: 7, UpdatedAt: time.Now()}
			convey.So(db.PutMemberResult(ctx, "m1", r1), convey.ShouldBeNil)
			convey.So(db.PutMemberResult(ctx, "m2", r2), convey.ShouldBeNil)

			convey.Convey("Then they list and total as written", func() {
				results, err := db.ListMemberResults(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(results), convey.ShouldEqual, 2)
				total := 0
				for _, r := range results {
					total += r.Clears
				}
				convey.So(total, convey.ShouldEqual, 11)
			})

			convey.Convey("Then a rewrite overwrites wholesale", func() {
				convey.So(db.PutMemberResult(ctx, "m1", &model.MemberResult{MembershipID: "m1", Clears: 9}), convey.ShouldBeNil)
				got, err := db.GetMemberResult(ctx, "m1")
				convey.So(err, convey.ShouldBeNil)
				convey.So(got.Clears, convey.ShouldEqual, 9)
			})
		})

		convey.Convey("When no snapshot exists", func() {
			_, err := db.GetSnapshot(ctx)
			convey.So(errors.Is(err, store.ErrNotFound), convey.ShouldBeTrue)
		})

		convey.Convey("When a snapshot is written", func() {
			snap := &model.Snapshot{
				FetchedAt:      time.Now().UTC(),
				Clears:         42,
				SpecialClears:  6,
				MemberCount:    10,
				ProcessedCount: 9,
			}
			convey.So(db.PutSnapshot(ctx, snap), convey.ShouldBeNil)

			got, err := db.GetSnapshot(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got.Clears, convey.ShouldEqual, 42)
			convey.So(got.ProcessedCount, convey.ShouldEqual, 9)
		})
	})
}

func TestRosterAndPGCR(t *testing.T) {
	convey.Convey("Given an in-memory store", t, func() {
		ctx := context.Background()
		db := openTestStore(t)

		convey.Convey("When a roster is cached", func() {
			members := []model.Member{
				{MembershipID: "m1", MembershipType: 3, DisplayName: "Alpha", IsOnline: true},
				{MembershipID: "m2", MembershipType: 2, DisplayName: "Bravo"},
			}
			convey.So(db.PutRoster(ctx, members), convey.ShouldBeNil)

			got, err := db.GetRoster(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(got, convey.ShouldResemble, members)
		})

		convey.Convey("When a PGCR is cached with a TTL", func() {
			data := []byte(`{"instance":"12345"}`)
			convey.So(db.PutPGCR(ctx, "12345", data, time.Hour), convey.ShouldBeNil)

			got, err := db.GetPGCR(ctx, "12345")
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(got), convey.ShouldEqual, string(data))

			_, err = db.GetPGCR(ctx, "99999")
			convey.So(errors.Is(err, store.ErrNotFound), convey.ShouldBeTrue)
		})
	})
}
