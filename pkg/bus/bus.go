// Package bus carries widget traffic between processes.
// Views that are not attached to the local websocket hub talk to widgets over
// subjects rooted at "vega.widget.<id>". The default implementation uses NATS,
// with an in-memory bus for tests and single-process setups.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a request gets no reply in time.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when nobody is subscribed to a request subject.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is a publish/subscribe transport with request/reply.
// Implementations must be safe for concurrent use and must deliver messages
// published on one subject to each subscriber in publish order.
type MessageBus interface {
	// Publish sends data to every subscriber of subject without waiting.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject. "*" matches one token and
	// ">" matches the remaining tokens.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request publishes data and waits for the first reply.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes one message. A non-nil return value is sent as
// the reply when the message carries a reply subject.
type MessageHandler func(msg *Message) []byte

// Message is an incoming bus message.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// Config holds connection settings for NewNATSBus.
type Config struct {
	URL     string
	Name    string
	Timeout time.Duration
}

// DefaultConfig returns the default NATS settings.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "vegabridge",
		Timeout: 10 * time.Second,
	}
}

// Widget subjects.
const (
	subjectPrefix = "vega.widget."

	// SuffixOut carries messages from a widget to its views.
	SuffixOut = "out"
	// SuffixIn carries messages from views to a widget.
	SuffixIn = "in"
	// SuffixState answers property snapshot requests.
	SuffixState = "state"
)

// WidgetSubject returns the subject for widgetID and suffix.
func WidgetSubject(widgetID, suffix string) string {
	return subjectPrefix + widgetID + "." + suffix
}

// AllWidgets returns the wildcard subject matching suffix for every widget.
func AllWidgets(suffix string) string {
	return subjectPrefix + "*." + suffix
}

// WidgetIDFromSubject extracts the widget id from a widget subject.
func WidgetIDFromSubject(subject string) (string, bool) {
	if len(subject) <= len(subjectPrefix) || subject[:len(subjectPrefix)] != subjectPrefix {
		return "", false
	}
	rest := subject[len(subjectPrefix):]
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == '.' {
			if i == 0 {
				return "", false
			}
			return rest[:i], true
		}
	}
	return "", false
}
