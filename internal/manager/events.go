package manager

// Lifecycle event names, published in transition order per model id.
const (
	EventLoading     = "loading"
	EventLoaded      = "loaded"
	EventLoadFailed  = "load_failed"
	EventActivated   = "activated"
	EventDeactivated = "deactivated"
	EventUnloading   = "unloading"
	EventUnloaded    = "unloaded"
	EventGeneration  = "generation"
)

// Event is one manager lifecycle event. Minimal and stable: name plus model
// id, with optional details in Fields.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations must be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
