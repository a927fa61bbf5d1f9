package counter_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dross/clantally/internal/domain/counter"
	"github.com/dross/clantally/pkg/metrics"
	"github.com/smartystreets/goconvey/convey"
)

// fakeSource serves scripted history pages and aggregate maps.
type fakeSource struct {
	// pages[characterID][mode] is the ordered list of pages.
	pages map[string]map[int][][]counter.Record
	// agg[characterID] is the per-character aggregate map.
	agg map[string]map[int64]int
	// failPage[characterID:mode:page] forces a page fetch error.
	failPage map[string]error
	// failAgg[characterID] forces an aggregate fetch error.
	failAgg map[string]error
	// alwaysFull makes every page return exactly pageSize synthetic rows.
	alwaysFull bool

	historyCalls int
}

func (f *fakeSource) HistoryPage(_ context.Context, _ int, _ string, characterID string, mode, page, pageSize int) ([]counter.Record, error) {
	f.historyCalls++
	if err, ok := f.failPage[fmt.Sprintf("%s:%d:%d", characterID, mode, page)]; ok {
		return nil, err
	}
	if f.alwaysFull {
		recs := make([]counter.Record, pageSize)
		for i := range recs {
			recs[i] = counter.Record{ReferenceID: 2693136600, Completed: true, Period: time.Unix(int64(page*pageSize+i), 0)}
		}
		return recs, nil
	}
	modes, ok := f.pages[characterID]
	if !ok {
		return nil, nil
	}
	pages := modes[mode]
	if page >= len(pages) {
		return nil, nil
	}
	return pages[page], nil
}

func (f *fakeSource) AggregateStats(_ context.Context, _ int, _ string, characterID string) (map[int64]int, error) {
	if err, ok := f.failAgg[characterID]; ok {
		return nil, err
	}
	if f.agg == nil {
		return map[int64]int{}, nil
	}
	return f.agg[characterID], nil
}

func rec(instance string, unix int64, ref int64, completed bool) counter.Record {
	return counter.Record{
		InstanceID:  instance,
		Period:      time.Unix(unix, 0).UTC(),
		ReferenceID: ref,
		Completed:   completed,
	}
}

func TestCount(t *testing.T) {
	convey.Convey("Given a member with one character and scripted history", t, func() {
		ctx := context.Background()
		src := &fakeSource{
			pages: map[string]map[int][][]counter.Record{
				"c1": {
					counter.ModePrimary: {{
						rec("i1", 100, 2693136600, true),  // spire_of_dusk
						rec("i2", 200, 1685065161, true),  // legacy edition, same group
						rec("i3", 300, 785700673, true),   // pit_below (special)
						rec("i4", 400, 910380154, false),  // not completed
						rec("i5", 500, 999999, true),      // unmapped variant
						rec("", 600, 2693136600, true),    // completed, no instance id
					}},
				},
			},
		}
		c := counter.New(src, counter.WithPageSize(10))

		convey.Convey("When counting", func() {
			res, err := c.Count(ctx, 3, "m1", []string{"c1"})

			convey.Convey("Then tallies group by canonical group, skipping the rest", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.PerGroup["spire_of_dusk"], convey.ShouldEqual, 3)
				convey.So(res.PerGroup["pit_below"], convey.ShouldEqual, 1)
				convey.So(res.Clears, convey.ShouldEqual, 4)
				convey.So(res.SpecialClears, convey.ShouldEqual, 1)
			})

			convey.Convey("Then the most recent record carries an instance id", func() {
				// The 600s record has no instance id; i3 at 300s is the
				// latest that does.
				convey.So(res.MostRecent, convey.ShouldNotBeNil)
				convey.So(res.MostRecent.InstanceID, convey.ShouldEqual, "i3")
				convey.So(res.MostRecent.GroupID, convey.ShouldEqual, "pit_below")
				convey.So(res.LastActivityAt.Unix(), convey.ShouldEqual, 600)
			})

			convey.Convey("Then re-running against identical input is idempotent", func() {
				again, err := c.Count(ctx, 3, "m1", []string{"c1"})
				convey.So(err, convey.ShouldBeNil)
				convey.So(again.Clears, convey.ShouldEqual, res.Clears)
				convey.So(again.SpecialClears, convey.ShouldEqual, res.SpecialClears)
				convey.So(again.MostRecent.InstanceID, convey.ShouldEqual, res.MostRecent.InstanceID)
			})
		})
	})

	convey.Convey("Given an aggregate source reporting more completions than paging", t, func() {
		ctx := context.Background()
		src := &fakeSource{
			pages: map[string]map[int][][]counter.Record{
				"c1": {counter.ModePrimary: {{
					rec("i1", 100, 910380154, true),
					rec("i2", 200, 910380154, true),
					rec("i3", 300, 910380154, true),
				}}},
			},
			agg: map[string]map[int64]int{
				"c1": {3976949817: 5}, // crypt_of_glass via another variant id
			},
		}
		c := counter.New(src)

		convey.Convey("Then the merged count is the max of both sources", func() {
			res, err := c.Count(ctx, 3, "m1", []string{"c1"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.PerGroup["crypt_of_glass"], convey.ShouldEqual, 5)
			convey.So(res.Clears, convey.ShouldEqual, 5)
		})

		convey.Convey("Then an aggregate undercount never reduces a paged count", func() {
			src.agg["c1"] = map[int64]int{3976949817: 1}
			res, err := c.Count(ctx, 3, "m1", []string{"c1"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.PerGroup["crypt_of_glass"], convey.ShouldEqual, 3)
		})
	})

	convey.Convey("Given an upstream that always returns full pages", t, func() {
		src := &fakeSource{alwaysFull: true, agg: map[string]map[int64]int{}}
		c := counter.New(src, counter.WithPageSize(5), counter.WithMaxPages(4), counter.WithModes([]int{counter.ModePrimary}))

		convey.Convey("Then pagination terminates at the page ceiling", func() {
			res, err := c.Count(context.Background(), 3, "m1", []string{"c1"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(src.historyCalls, convey.ShouldEqual, 4)
			convey.So(res.PerGroup["spire_of_dusk"], convey.ShouldEqual, 20)
		})
	})

	convey.Convey("Given partial upstream failures", t, func() {
		ctx := context.Background()
		boom := errors.New("boom")
		src := &fakeSource{
			pages: map[string]map[int][][]counter.Record{
				"c1": {counter.ModePrimary: {{rec("i1", 100, 2693136600, true)}}},
				"c2": {counter.ModePrimary: {{rec("i2", 200, 785700673, true)}}},
			},
			failPage: map[string]error{
				fmt.Sprintf("c1:%d:0", counter.ModeLegacy): boom,
			},
			failAgg: map[string]error{"c2": boom},
		}
		c := counter.New(src)

		convey.Convey("Then a failed page or aggregate never fails the member", func() {
			res, err := c.Count(ctx, 3, "m1", []string{"c1", "c2"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(res.PerGroup["spire_of_dusk"], convey.ShouldEqual, 1)
			convey.So(res.PerGroup["pit_below"], convey.ShouldEqual, 1)
		})
	})

	convey.Convey("Given an upstream where nothing succeeds", t, func() {
		boom := errors.New("boom")
		src := &fakeSource{
			failPage: map[string]error{},
			failAgg:  map[string]error{"c1": boom},
		}
		for _, mode := range counter.DefaultModes {
			src.failPage[fmt.Sprintf("c1:%d:0", mode)] = boom
		}
		c := counter.New(src)

		convey.Convey("Then the member fails so the job retries", func() {
			_, err := c.Count(context.Background(), 3, "m1", []string{"c1"})
			convey.So(errors.Is(err, counter.ErrNoData), convey.ShouldBeTrue)
		})
	})

	convey.Convey("Given a character-done callback", t, func() {
		src := &fakeSource{agg: map[string]map[int64]int{}}
		var done []int
		c := counter.New(src, counter.WithCharacterDone(func(i int) { done = append(done, i) }))

		convey.Convey("Then it fires once per character in order", func() {
			_, err := c.Count(context.Background(), 3, "m1", []string{"c1", "c2", "c3"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(done, convey.ShouldResemble, []int{0, 1, 2})
		})
	})
}

func clearsCountedTotal() float64 {
	families, _ := metrics.GetRegistry().Gather()
	for _, f := range families {
		if strings.HasSuffix(f.GetName(), "clears_counted_total") {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestClearsCountedMetric(t *testing.T) {
	convey.Convey("Given scripted history with two tallied completions", t, func() {
		src := &fakeSource{
			pages: map[string]map[int][][]counter.Record{
				"c1": {counter.ModePrimary: {{
					rec("i1", 100, 910380154, true),
					rec("i2", 200, 785700673, true),
					rec("i3", 300, 999999, true), // unmapped, not tallied
				}}},
			},
		}
		before := clearsCountedTotal()
		c := counter.New(src, counter.WithModes([]int{counter.ModePrimary}))

		convey.Convey("When counting", func() {
			res, err := c.Count(context.Background(), 3, "m1", []string{"c1"})

			convey.Convey("Then the clears-counted metric advances by the tally", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(res.Clears, convey.ShouldEqual, 2)
				convey.So(clearsCountedTotal()-before, convey.ShouldEqual, 2)
			})
		})
	})
}
