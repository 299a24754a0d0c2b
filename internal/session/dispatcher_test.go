package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geoattend/internal/attendance"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []attendance.Event
	fail   map[attendance.EventKind]bool
}

func (h *recordingHandler) Handle(_ context.Context, ev attendance.Event) (Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	if h.fail[ev.Kind] {
		return Result{}, errors.New("boom")
	}
	return Result{Outcome: OutcomeCreated}, nil
}

func (h *recordingHandler) kinds() []attendance.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]attendance.EventKind, len(h.events))
	for i, ev := range h.events {
		out[i] = ev.Kind
	}
	return out
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	for _, k := range []attendance.EventKind{attendance.EventZoneEnter, attendance.EventZoneExit, attendance.EventManualCheckIn} {
		require.True(t, q.Enqueue(delivery{Event: attendance.Event{Kind: k}}))
	}

	d, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, attendance.EventZoneEnter, d.Event.Kind)
	d, _ = q.TryDequeue()
	assert.Equal(t, attendance.EventZoneExit, d.Event.Kind)
	d, _ = q.TryDequeue()
	assert.Equal(t, attendance.EventManualCheckIn, d.Event.Kind)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestEventQueue_ClosedRejects(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()
	assert.False(t, q.Enqueue(delivery{}))
}

func TestDispatcher_ProcessesInOrderAndContinuesAfterErrors(t *testing.T) {
	h := &recordingHandler{fail: map[attendance.EventKind]bool{attendance.EventZoneExit: true}}

	var mu sync.Mutex
	var errs int
	d := NewDispatcher(h, WithObserver(func(_ attendance.Event, _ Result, err error) {
		if err != nil {
			mu.Lock()
			errs++
			mu.Unlock()
		}
	}))

	d.Enqueue(attendance.Event{Kind: attendance.EventZoneEnter})
	d.Enqueue(attendance.Event{Kind: attendance.EventZoneExit})
	d.Enqueue(attendance.Event{Kind: attendance.EventManualCheckIn})
	d.Stop()

	require.NoError(t, d.Run(context.Background()))

	assert.Equal(t, []attendance.EventKind{
		attendance.EventZoneEnter,
		attendance.EventZoneExit,
		attendance.EventManualCheckIn,
	}, h.kinds())
	assert.Equal(t, 1, errs)
	assert.False(t, d.Enqueue(attendance.Event{Kind: attendance.EventZoneEnter}))
}

func TestDispatcher_ContextCancel(t *testing.T) {
	d := NewDispatcher(&recordingHandler{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_ConcurrentEnqueue(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Enqueue(attendance.Event{Kind: attendance.EventZoneEnter})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(h.kinds()) == 50 }, 2*time.Second, 5*time.Millisecond)
	d.Stop()
	require.NoError(t, <-done)
}
