package widget

// Message types exchanged with the remote view.
const (
	MessageUpdate  = "update"
	MessageDisplay = "display"
	MessageState   = "state"
)

// Message is the envelope carried by a Channel in both directions.
type Message struct {
	Type    string         `json:"type"`
	Updates []UpdateRecord `json:"updates,omitempty"`
	Resize  bool           `json:"resize,omitempty"`
	State   map[string]any `json:"state,omitempty"`
}

// Sender is the outbound half of a Channel. Send is fire-and-forget.
type Sender interface {
	Send(msg Message)
}

// Channel connects a widget to its remote view.
//
// Send carries no delivery guarantee until the view has announced itself with
// a display message. SyncState carries synchronized properties; the channel
// keeps the latest values and delivers them to views that attach later.
//
//go:generate mockgen -package=widget -destination=mock_channel_test.go github.com/odvcencio/vegabridge/pkg/widget Channel
type Channel interface {
	Sender
	OnMessage(handler func(Message))
	SyncState(state map[string]any)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(Message)

func (f SenderFunc) Send(msg Message) { f(msg) }
