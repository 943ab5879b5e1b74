package task

// Observer receives task state transitions. Implementations must not block
// for long; they are called from fetcher goroutines.
type Observer interface {
	TaskChanged(Event)
}

// BatchObserver receives batch completion and failure signals.
type BatchObserver interface {
	BatchFinished(BatchEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// TaskChanged calls f(e).
func (f ObserverFunc) TaskChanged(e Event) { f(e) }

// Observers fans an event out to every member. Members that also implement
// BatchObserver receive batch events.
type Observers []Observer

// TaskChanged forwards e to every observer.
func (o Observers) TaskChanged(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.TaskChanged(e)
		}
	}
}

// BatchFinished forwards e to every observer implementing BatchObserver.
func (o Observers) BatchFinished(e BatchEvent) {
	for _, obs := range o {
		if bo, ok := obs.(BatchObserver); ok {
			bo.BatchFinished(e)
		}
	}
}
