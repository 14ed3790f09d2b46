package bus

// BroadcastObservation captures the outcome of one Broadcast call.
type BroadcastObservation struct {
	Event     string
	Delivered int
	Removed   int
}

// Observer receives hub observability events.
type Observer interface {
	ObserveBroadcast(observation BroadcastObservation)
	// ObserveSubscribers reports a change in the subscriber count.
	ObserveSubscribers(delta int)
}

type noopObserver struct{}

func (noopObserver) ObserveBroadcast(BroadcastObservation) {}
func (noopObserver) ObserveSubscribers(int)                {}
