package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so
// producers stay agnostic about buffering and persistence.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to Emitter. Review ingest uses it to hand
// typed progress to callers without a Hub.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}
