package event

// Envelope wraps an event name and payload for transport across the
// worker boundary. A runner executes in an isolated slot and emits into a
// local channel; the hosting coordinator relays each envelope verbatim
// onto the shared bus, so a single relay path handles every event type
// uniformly. Internal events never cross the relay.
type Envelope struct {
	// Event is the event name (one of the constants in this package).
	Event string `json:"event"`
	// Data is the typed payload for the event.
	Data any `json:"data"`
}

// NewEnvelope pairs an event name with its payload.
func NewEnvelope(event string, data any) Envelope {
	return Envelope{Event: event, Data: data}
}
