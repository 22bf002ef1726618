package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunnerRunsAllTasks(t *testing.T) {
	runner := NewRunner(context.Background(), 3, 20)
	var count atomic.Int32

	for i := 0; i < 20; i++ {
		runner.Go("count", func(context.Context) error {
			count.Add(1)
			return nil
		})
	}
	runner.Wait()

	assert.Equal(t, int32(20), count.Load())
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	runner := NewRunner(context.Background(), 2, 10)
	var mu sync.Mutex
	active, maxActive := 0, 0

	for i := 0; i < 10; i++ {
		runner.Go("bounded", func(context.Context) error {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			return nil
		})
	}
	runner.Wait()

	assert.LessOrEqual(t, maxActive, 2)
	assert.GreaterOrEqual(t, maxActive, 1)
}

func TestRunnerSurvivesFailuresAndPanics(t *testing.T) {
	runner := NewRunner(context.Background(), 1, 1)
	var after atomic.Bool

	runner.Go("fails", func(context.Context) error { return errors.New("boom") })
	runner.Go("panics", func(context.Context) error { panic("kaboom") })
	runner.Wait()
	runner.Go("after", func(context.Context) error {
		after.Store(true)
		return nil
	})
	runner.Wait()

	assert.True(t, after.Load())
}

func TestRunnerPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "value")
	runner := NewRunner(ctx, 0, 0)
	var got any

	runner.Go("ctx", func(ctx context.Context) error {
		got = ctx.Value(key{})
		return nil
	})
	runner.Wait()

	assert.Equal(t, "value", got)
}

func TestRunnerDropsTasksBeyondQueue(t *testing.T) {
	runner := NewRunner(context.Background(), 1, 1)
	release := make(chan struct{})
	var ran atomic.Int32
	blocking := func(context.Context) error {
		<-release
		ran.Add(1)
		return nil
	}

	assert.True(t, runner.Go("running", blocking))
	assert.True(t, runner.Go("queued", blocking))
	assert.False(t, runner.Go("dropped", blocking))

	close(release)
	runner.Wait()
	assert.Equal(t, int32(2), ran.Load())

	assert.True(t, runner.Go("after drain", func(context.Context) error { return nil }))
	runner.Wait()
}
