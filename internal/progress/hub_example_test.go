package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{Buffer: 4, BatchSize: 1, FlushEvery: time.Second}, sink)

	hub.Emit(Event{
		RunID:   UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:      time.Unix(0, 0),
		Stage:   StageRunStart,
		Kind:    KindEmail,
		StoreID: 7,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleEmitterFunc shows review ingest progress reported without a Hub.
func ExampleEmitterFunc() {
	report := EmitterFunc(func(evt Event) {
		fmt.Printf("%s (%d/%d) reviews=%d\n", evt.Message, evt.CurrentPage, evt.TotalPages, evt.Count)
	})
	report.Emit(Event{
		Stage:       StageReviewPage,
		Kind:        KindReviews,
		JobID:       3,
		Message:     "Scraping page 2",
		CurrentPage: 2,
		TotalPages:  10,
		Count:       20,
	})
	// Output:
	// Scraping page 2 (2/10) reviews=20
}
