package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{Buffer: 8, BatchSize: 2, FlushEvery: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageRunStart)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{Buffer: 4, BatchSize: 10, FlushEvery: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StagePageDone))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNonBlockingWhenFull(t *testing.T) {
	t.Parallel()

	// An unbuffered queue with no reader is always full.
	hub := &Hub{cfg: Config{}.withDefaults(), queue: make(chan Event)}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BatchSize: 1}, sink)
	hub.Emit(Event{TS: time.Now(), Stage: StageRunStart, Kind: KindEmail})
	hub.Emit(Event{RunID: UUIDToBytes(uuid.New()), TS: time.Now(), Stage: StageReviewPage})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{Buffer: 4, BatchSize: 100, FlushEvery: time.Minute}, sink, nil)

	hub.Emit(sampleEvent(StageRunDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	hub.Emit(sampleEvent(StageRunDone))
	require.Len(t, sink.Batches(), 1)
}

func TestHubDeliversToEverySink(t *testing.T) {
	t.Parallel()

	first, second := newStubSink(), newStubSink()
	failing := failingSink{}
	hub := NewHub(Config{BatchSize: 3, FlushEvery: time.Minute}, first, failing, second)
	for range 3 {
		hub.Emit(sampleEvent(StagePageDone))
	}
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, first.Batches(), 1)
	require.Len(t, second.Batches(), 1)
	require.Len(t, second.Batches()[0], 3)
}

func TestHubCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{}, newStubSink())
	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))

	var nilHub *Hub
	nilHub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, nilHub.Close(context.Background()))
}

func TestSiteOfAndClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, "store.com", SiteOf("https://WWW.Store.com:8443/pages/contact"))
	require.Empty(t, SiteOf("::not a url"))
	require.Equal(t, Status4xx, ClassifyStatus(429))
	require.Equal(t, StatusOther, ClassifyStatus(0))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

type failingSink struct{}

func (failingSink) Consume(context.Context, []Event) error { return errors.New("sink down") }
func (failingSink) Close(context.Context) error { return nil }

func sampleEvent(stage Stage) Event {
	evt := Event{
		RunID:   UUIDToBytes(uuid.New()),
		TS:      time.Now(),
		Stage:   stage,
		Kind:    KindEmail,
		StoreID: 42,
		Site:    "store.com",
	}
	if stage == StagePageDone {
		evt.StatusClass = Status2xx
	}
	return evt
}
