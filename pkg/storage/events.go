package storage

import "time"

// EventType represents the type of storage event emitted.
type EventType string

const (
	EventWidgetSaved   EventType = "widget.saved"
	EventWidgetDeleted EventType = "widget.deleted"
)

// Event is a change inside the storage layer other subsystems can react to.
type Event struct {
	Type      EventType `json:"type"`
	WidgetID  string    `json:"widgetId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer reacts to storage events.
type Observer interface {
	HandleStorageEvent(Event)
}

// ObserverFunc turns a function into an Observer.
type ObserverFunc func(Event)

// HandleStorageEvent implements Observer.
func (f ObserverFunc) HandleStorageEvent(e Event) {
	f(e)
}

func newEvent(eventType EventType, widgetID string) Event {
	return Event{Type: eventType, WidgetID: widgetID, Timestamp: time.Now()}
}
