package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefang-labs/taskgraph/internal/event"
)

func TestEvent_NotifyAllWakesEveryListener(t *testing.T) {
	t.Parallel()

	e := event.New("test")

	const listeners = 10

	var wg sync.WaitGroup

	woken := make(chan int, listeners)

	for i := range listeners {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			err := e.Wait(ctx, "listener")
			if err == nil {
				woken <- idx
			}
		}(i)
	}

	// Give goroutines a chance to register before notifying.
	for e.ListenerCount() < listeners {
		time.Sleep(time.Millisecond)
	}

	e.Notify(event.NotifyAll)
	wg.Wait()
	close(woken)

	count := 0
	for range woken {
		count++
	}

	assert.Equal(t, listeners, count)
	assert.Equal(t, 0, e.ListenerCount())
}

func TestEvent_NotifyPartial(t *testing.T) {
	t.Parallel()

	e := event.New("test")

	ch1 := e.Listen("a")
	ch2 := e.Listen("b")

	e.Notify(1)

	select {
	case <-ch1:
	default:
		t.Fatal("first listener should have been woken")
	}

	select {
	case <-ch2:
		t.Fatal("second listener should not have been woken")
	default:
	}

	assert.Equal(t, 1, e.ListenerCount())
}

func TestEvent_WaitRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	e := event.New("test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Wait(ctx, "listener")
	require.Error(t, err)
}

func TestRegistry_CreateGetRelease(t *testing.T) {
	t.Parallel()

	r := event.NewRegistry()

	id, ev := r.Create("note")
	got, ok := r.Get(id)
	require.True(t, ok)
	assert.Same(t, ev, got)

	r.Release(id)

	_, ok = r.Get(id)
	assert.False(t, ok)
}
