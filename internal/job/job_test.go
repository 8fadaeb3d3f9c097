// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package job

import (
	"context"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"
)

type testType struct {
	count     atomic.Int64
	completed atomic.Bool
}

func TestNew(t *testing.T) {
	job := New("test", time.Millisecond*100, func(context.Context) {})
	if job == nil {
		t.Fatal("expected job to be non-nil")
	}
	if job.Name() != "test" {
		t.Errorf("expected job name to be %q, got %q", "test", job.Name())
	}
}

func TestJob_Start(t *testing.T) {
	t.Run("job returns when the context is cancelled", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			tester := &testType{}

			ctx, cancel := context.WithCancel(t.Context())
			context.AfterFunc(ctx, func() {
				tester.completed.Store(true)
			})

			testJob := New("test", time.Millisecond*100, tester.testFunc)
			go testJob.Start(ctx)

			synctest.Wait()
			if tester.completed.Load() {
				t.Fatal("expected job to not be completed before context was cancelled")
			}

			cancel()
			synctest.Wait()
			if !tester.completed.Load() {
				t.Fatal("expected job to be completed after context was cancelled")
			}
		})
	})
	t.Run("job ticker executes", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*55)
			defer cancel()
			tester := &testType{}

			testJob := New("test", time.Millisecond*10, tester.testFunc)
			testJob.Start(ctx)

			if tester.count.Load() != 5 {
				t.Errorf("expected job to execute 5 times, got %d", tester.count.Load())
			}
			if testJob.Runs() != 5 {
				t.Errorf("expected 5 recorded runs, got %d", testJob.Runs())
			}
		})
	})
	t.Run("overlapping ticks are skipped", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), time.Millisecond*105)
			defer cancel()
			var runs atomic.Int64
			testJob := New("slow", time.Millisecond*10, func(ctx context.Context) {
				runs.Add(1)
				select {
				case <-ctx.Done():
				case <-time.After(time.Millisecond * 35):
				}
			})
			testJob.Start(ctx)
			if got := runs.Load(); got >= 10 || got == 0 {
				t.Errorf("expected overlapping ticks to be skipped, got %d runs", got)
			}
		})
	})
	t.Run("nil job returns", func(t *testing.T) {
		tester := New("nil", time.Millisecond*100, nil)
		tester.Start(t.Context())
	})
}

func TestJob_Go(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tester := &testType{}
		stop := New("background", time.Second, tester.testFunc).Go(t.Context())

		time.Sleep(time.Millisecond * 3500)
		synctest.Wait()
		stop()
		stop()

		if tester.count.Load() != 3 {
			t.Errorf("expected 3 runs before stop, got %d", tester.count.Load())
		}
	})
}

func (t *testType) testFunc(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	default:
		if t.count.Load() >= 5 {
			return
		}
		t.count.Add(1)
	}
}
