package events

import (
	"sync"
	"testing"
	"time"

	goevents "github.com/docker/go-events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	bus := NewBus(nil, FuncSink(func(ev Event) {
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	}), MetricsSink{})

	bus.Publish(QueueCreated, map[string]any{"queue": "a"})
	bus.Publish(BindingCreated, nil)
	bus.Publish(QueueDeleted, map[string]any{"queue": "a"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{QueueCreated, BindingCreated, QueueDeleted}, got)
	require.NoError(t, bus.Close())
}

// blockingSink holds every write until released.
type blockingSink struct{ release chan struct{} }

func (b blockingSink) Write(goevents.Event) error { <-b.release; return nil }
func (b blockingSink) Close() error               { return nil }

func TestPublishNeverBlocks(t *testing.T) {
	sink := blockingSink{release: make(chan struct{})}
	bus := NewBus(nil, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(ConsumerAdded, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow sink")
	}
	close(sink.release)
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus(nil)
	require.NoError(t, bus.Close())
	assert.NotPanics(t, func() { bus.Publish(QueueCreated, nil) })
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NotPanics(t, func() { p.Publish(QueueCreated, nil) })
}
