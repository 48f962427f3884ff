package progress

import "context"

// Sink consumes batches of progress events. Consume is called from a single
// goroutine and must honour ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// pipeline stays agnostic about how events are buffered or rendered.
type Emitter interface {
	Emit(evt Event)
}
