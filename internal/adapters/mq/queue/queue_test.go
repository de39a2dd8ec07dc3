package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/matchcast/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func item(matchID string, minute int) Item {
	return Item{
		Kind:    KindEvent,
		MatchID: matchID,
		Event:   model.MatchEvent{ID: fmt.Sprintf("%s-%d", matchID, minute), MatchID: matchID, Minute: minute},
	}
}

func TestInMemoryQueue(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a queue with capacity 2", t, func() {
		q := NewInMemoryQueue(WithCapacity(2))

		convey.Convey("When two items are enqueued", func() {
			convey.So(q.Enqueue(ctx, item("42", 1)), convey.ShouldBeNil)
			convey.So(q.Enqueue(ctx, item("42", 2)), convey.ShouldBeNil)

			convey.Convey("Then a third is refused as full", func() {
				convey.So(errors.Is(q.Enqueue(ctx, item("42", 3)), ErrFull), convey.ShouldBeTrue)
				convey.So(q.Len(ctx), convey.ShouldEqual, 2)
			})

			convey.Convey("Then they are dequeued in order", func() {
				ch := q.Dequeue(ctx)
				convey.So((<-ch).Event.Minute, convey.ShouldEqual, 1)
				convey.So((<-ch).Event.Minute, convey.ShouldEqual, 2)
				convey.So(q.Len(ctx), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When the queue is closed", func() {
			convey.So(q.Enqueue(ctx, item("42", 1)), convey.ShouldBeNil)
			convey.So(q.Close(), convey.ShouldBeNil)
			convey.So(q.Close(), convey.ShouldBeNil)

			convey.Convey("Then new items are refused", func() {
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
				convey.So(errors.Is(q.Enqueue(ctx, item("42", 2)), ErrClosed), convey.ShouldBeTrue)
			})

			convey.Convey("Then buffered items drain before the channel closes", func() {
				ch := q.Dequeue(ctx)
				it, ok := <-ch
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(it.Event.Minute, convey.ShouldEqual, 1)
				select {
				case _, ok = <-ch:
					convey.So(ok, convey.ShouldBeFalse)
				case <-time.After(100 * time.Millisecond):
					convey.So("channel not closed", convey.ShouldBeEmpty)
				}
			})
		})

		convey.Convey("When the context is already cancelled", func() {
			full := NewInMemoryQueue(WithCapacity(1))
			convey.So(full.Enqueue(ctx, item("1", 1)), convey.ShouldBeNil)
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			convey.Convey("Then enqueue reports an error", func() {
				convey.So(full.Enqueue(cctx, item("1", 2)), convey.ShouldNotBeNil)
			})
		})
	})
}

func TestSharded(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given a sharded queue", t, func() {
		s := NewSharded(WithShards(4), WithShardCapacity(100))

		convey.Convey("Then routing is stable per match", func() {
			convey.So(s.ShardFor("42"), convey.ShouldEqual, s.ShardFor("42"))
			convey.So(s.ShardFor("42"), convey.ShouldBeBetweenOrEqual, 0, 3)
			convey.So(s.Capacity(), convey.ShouldEqual, 400)
			convey.So(s.Shards(), convey.ShouldHaveLength, 4)
		})

		convey.Convey("When items of one match are enqueued concurrently with others", func() {
			var wg sync.WaitGroup
			for _, m := range []string{"a", "b", "c", "d", "e"} {
				wg.Add(1)
				go func(matchID string) {
					defer wg.Done()
					for minute := 0; minute < 10; minute++ {
						_ = s.Enqueue(ctx, item(matchID, minute))
					}
				}(m)
			}
			wg.Wait()

			convey.Convey("Then each match's items sit in one shard in order", func() {
				convey.So(s.Len(ctx), convey.ShouldEqual, 50)
				q := s.Shards()[s.ShardFor("c")]
				last := -1
				n := q.Len(ctx)
				for i := 0; i < n; i++ {
					it := <-q.Dequeue(ctx)
					if it.MatchID != "c" {
						continue
					}
					convey.So(it.Event.Minute, convey.ShouldBeGreaterThan, last)
					last = it.Event.Minute
				}
				convey.So(last, convey.ShouldEqual, 9)
			})
		})

		convey.Convey("When closed", func() {
			convey.So(s.Close(), convey.ShouldBeNil)

			convey.Convey("Then every shard refuses items", func() {
				convey.So(errors.Is(s.Enqueue(ctx, item("x", 1)), ErrClosed), convey.ShouldBeTrue)
			})
		})
	})
}
