package event

// Recorder is a Sink that keeps every event in order.
type Recorder struct {
	events []Event
}

func (r *Recorder) Emit(e Event) { r.events = append(r.events, e) }

// Events returns the recorded events.
func (r *Recorder) Events() []Event { return r.events }

// OfType returns the recorded events with the given discriminator.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops recorded events and returns them.
func (r *Recorder) Reset() []Event {
	out := r.events
	r.events = nil
	return out
}
