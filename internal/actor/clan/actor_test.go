package clan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/dross/clantally/internal/adapters/store"
	"github.com/dross/clantally/internal/domain/model"
)

type fakeRoster struct {
	members []model.Member
	chars   map[string][]string
}

func (f *fakeRoster) Roster(_ context.Context) ([]model.Member, error) {
	out := make([]model.Member, len(f.members))
	copy(out, f.members)
	return out, nil
}

func (f *fakeRoster) Profile(_ context.Context, _ int, membershipID string) ([]string, error) {
	return f.chars[membershipID], nil
}

// syncDispatcher completes every member job inline, standing in for the
// worker pool.
type syncDispatcher struct {
	mu      sync.Mutex
	st      store.Store
	results map[string]*model.MemberResult
	called  []string
}

func (d *syncDispatcher) Process(ctx context.Context, membershipID string, membershipType int, characterID string, _ []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := model.JobKey(membershipID, characterID)
	d.called = append(d.called, key)

	res := d.results[key]
	if res == nil {
		res = &model.MemberResult{MembershipID: membershipID, MembershipType: membershipType}
	}
	res.UpdatedAt = time.Now().UTC()
	if err := d.st.PutMemberResult(ctx, key, res); err != nil {
		return err
	}
	return d.st.PutJob(ctx, &model.Job{
		Key:          key,
		MembershipID: membershipID,
		State:        model.JobDone,
		Result:       res,
	})
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := store.Open(store.InMemoryConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testActor(st store.Store, roster *fakeRoster, jobs JobDispatcher, opts ...Option) *Actor {
	base := []Option{
		WithBatchPause(0),
		WithPollInterval(5 * time.Millisecond),
		WithRefreshWindow(200 * time.Millisecond),
	}
	return New(st, roster, jobs, append(base, opts...)...)
}

func TestRefreshMembers(t *testing.T) {
	convey.Convey("Given a roster source with two members", t, func() {
		ctx := context.Background()
		st := newTestStore(t)
		roster := &fakeRoster{
			members: []model.Member{
				{MembershipID: "1", MembershipType: 3, DisplayName: "alpha", IsOnline: true},
				{MembershipID: "2", MembershipType: 3, DisplayName: "beta"},
			},
			chars: map[string][]string{"1": {"c1"}, "2": {"c2", "c3"}},
		}
		actor := testActor(st, roster, &syncDispatcher{st: st})

		convey.Convey("When members are refreshed for the first time", func() {
			members, changed, err := actor.RefreshMembers(ctx)

			convey.Convey("Then the enriched roster is cached", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(changed, convey.ShouldBeTrue)
				convey.So(members, convey.ShouldHaveLength, 2)
				convey.So(members[1].Characters, convey.ShouldResemble, []string{"c2", "c3"})

				cached, err := st.GetRoster(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cached, convey.ShouldHaveLength, 2)
			})
		})

		convey.Convey("When the roster has not materially changed", func() {
			_, _, err := actor.RefreshMembers(ctx)
			convey.So(err, convey.ShouldBeNil)

			_, changed, err := actor.RefreshMembers(ctx)

			convey.Convey("Then no write happens", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(changed, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When a member's online status flips", func() {
			_, _, err := actor.RefreshMembers(ctx)
			convey.So(err, convey.ShouldBeNil)

			roster.members[0].IsOnline = false
			_, changed, err := actor.RefreshMembers(ctx)

			convey.Convey("Then the roster is rewritten", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(changed, convey.ShouldBeTrue)
			})
		})
	})
}

func TestRefreshStats(t *testing.T) {
	convey.Convey("Given an actor over three members", t, func() {
		ctx := context.Background()
		st := newTestStore(t)
		roster := &fakeRoster{
			members: []model.Member{
				{MembershipID: "1", MembershipType: 3},
				{MembershipID: "2", MembershipType: 3},
				{MembershipID: "3", MembershipType: 3},
			},
			chars: map[string][]string{},
		}
		period := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
		dispatch := &syncDispatcher{st: st, results: map[string]*model.MemberResult{
			"1": {MembershipID: "1", Clears: 10, SpecialClears: 2,
				MostRecent: &model.RecentActivity{InstanceID: "i9", Period: period, GroupID: "crypt_of_glass"}},
			"2": {MembershipID: "2", Clears: 5,
				MostRecent: &model.RecentActivity{InstanceID: "i9", Period: period, GroupID: "crypt_of_glass"}},
			"3": {MembershipID: "3", Clears: 1,
				MostRecent: &model.RecentActivity{InstanceID: "i7", Period: period.Add(time.Hour), GroupID: "pit_below"}},
		}}
		actor := testActor(st, roster, dispatch, WithFanout(2), WithMinRefreshInterval(time.Minute))

		convey.Convey("When stats are refreshed", func() {
			res, err := actor.RefreshStats(ctx)

			convey.Convey("Then the snapshot aggregates every completed member", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.OK, convey.ShouldBeTrue)
				convey.So(res.RunID, convey.ShouldNotBeEmpty)
				convey.So(res.Snapshot.Clears, convey.ShouldEqual, 16)
				convey.So(res.Snapshot.SpecialClears, convey.ShouldEqual, 2)
				convey.So(res.Snapshot.MemberCount, convey.ShouldEqual, 3)
				convey.So(res.Snapshot.ProcessedCount, convey.ShouldEqual, 3)
				convey.So(dispatch.called, convey.ShouldHaveLength, 3)
			})

			convey.Convey("Then the shared instance wins most-recent even over a later solo one", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Snapshot.MostRecent, convey.ShouldNotBeNil)
				convey.So(res.Snapshot.MostRecent.InstanceID, convey.ShouldEqual, "i9")
			})

			convey.Convey("Then the snapshot is durable", func() {
				convey.So(err, convey.ShouldBeNil)
				snap, err := st.GetSnapshot(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(snap.Clears, convey.ShouldEqual, 16)
			})

			convey.Convey("Then an immediate second refresh is rate limited", func() {
				convey.So(err, convey.ShouldBeNil)
				again, err := actor.RefreshStats(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(again.OK, convey.ShouldBeFalse)
				convey.So(again.Reason, convey.ShouldEqual, ReasonRateLimited)
				convey.So(again.Snapshot, convey.ShouldNotBeNil)
				convey.So(again.Snapshot.Clears, convey.ShouldEqual, 16)
			})
		})
	})
}

func TestMostRecentShared(t *testing.T) {
	convey.Convey("Given per-member most-recent activities", t, func() {
		at := func(h int) time.Time { return time.Date(2026, 8, 20, h, 0, 0, 0, time.UTC) }
		act := func(id string, h int) *model.RecentActivity {
			return &model.RecentActivity{InstanceID: id, Period: at(h)}
		}

		convey.Convey("When no instance is shared by two members", func() {
			got := MostRecentShared([]model.MemberResult{
				{MembershipID: "1", MostRecent: act("a", 1)},
				{MembershipID: "2", MostRecent: act("b", 2)},
			})
			convey.So(got, convey.ShouldBeNil)
		})

		convey.Convey("When multiple instances are shared", func() {
			got := MostRecentShared([]model.MemberResult{
				{MembershipID: "1", MostRecent: act("a", 1)},
				{MembershipID: "2", MostRecent: act("a", 1)},
				{MembershipID: "3", MostRecent: act("b", 3)},
				{MembershipID: "4", MostRecent: act("b", 3)},
			})
			convey.So(got, convey.ShouldNotBeNil)
			convey.So(got.InstanceID, convey.ShouldEqual, "b")
		})

		convey.Convey("When shared instances tie on period", func() {
			got := MostRecentShared([]model.MemberResult{
				{MembershipID: "1", MostRecent: act("a", 1)},
				{MembershipID: "2", MostRecent: act("a", 1)},
				{MembershipID: "3", MostRecent: act("z", 1)},
				{MembershipID: "4", MostRecent: act("z", 1)},
			})
			convey.So(got.InstanceID, convey.ShouldEqual, "z")
		})

		convey.Convey("When the same member reports an instance twice", func() {
			got := MostRecentShared([]model.MemberResult{
				{MembershipID: "1", MostRecent: act("a", 1)},
				{MembershipID: "1", MostRecent: act("a", 1)},
			})
			convey.So(got, convey.ShouldBeNil)
		})
	})
}
