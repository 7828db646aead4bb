package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesWhenBatchFills(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 2, FlushInterval: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(taskEvent(StageTaskStart))
	hub.Emit(taskEvent(StageTaskDone))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushesOnInterval(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 50, FlushInterval: 20 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(taskEvent(StageTaskStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubCloseDrainsAndClosesSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 50, FlushInterval: time.Minute}, sink)
	hub.Emit(taskEvent(StageTaskStart))
	hub.Emit(taskEvent(StageTaskFailed))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 2)
	require.True(t, sink.Closed())

	hub.Emit(taskEvent(StageTaskDone))
	require.Len(t, sink.Batches(), 1)
}

func TestHubEmitDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	hub := &Hub{in: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(taskEvent(StageTaskStart))
	hub.Emit(taskEvent(StageTaskDone))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	// The first drop is reported and reset; the second is still pending.
	require.EqualValues(t, 1, hub.Dropped())
}

func TestHubSkipsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(Config{MaxBatch: 1, FlushInterval: time.Minute}, sink)
	hub.Emit(Event{Stage: StageTaskStart})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	testCases := []struct {
		name    string
		evt     Event
		wantErr string
	}{
		{"missing search id", Event{TS: now, Stage: StageSearchStart}, "search id"},
		{"missing ts", Event{SearchID: "s", Stage: StageSearchStart}, "timestamp"},
		{"task without source", Event{SearchID: "s", TS: now, Stage: StageTaskDone}, "requires source"},
		{"unknown stage", Event{SearchID: "s", TS: now, Stage: "NOPE"}, "unknown stage"},
		{"negative duration", Event{SearchID: "s", TS: now, Stage: StageSearchDone, Dur: -1}, "duration"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorContains(t, tc.evt.Validate(), tc.wantErr)
		})
	}
	require.NoError(t, taskEvent(StageTaskTimeout).Validate())
	require.True(t, StageTaskTimeout.Terminal())
	require.False(t, StageTaskStart.Terminal())
}

func taskEvent(stage Stage) Event {
	return Event{SearchID: "search-1", TS: time.Now(), Stage: stage, Source: "netmeds"}
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Event(nil), s.batches...)
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
