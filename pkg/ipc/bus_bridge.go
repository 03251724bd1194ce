package ipc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/odvcencio/vegabridge/pkg/bus"
	"github.com/odvcencio/vegabridge/pkg/logging"
	"github.com/odvcencio/vegabridge/pkg/widget"
)

// BusBridge lets views that are not attached to the hub reach widgets over
// the message bus. Outbound traffic is published on vega.widget.<id>.out,
// inbound messages are read from vega.widget.<id>.in and property snapshots
// are served as replies on vega.widget.<id>.state.
type BusBridge struct {
	bus    bus.MessageBus
	hub    *Hub
	logger *logging.Logger

	mu   sync.Mutex
	ctx  context.Context
	subs []bus.Subscription
}

// NewBusBridge creates a bridge between b and h.
func NewBusBridge(b bus.MessageBus, h *Hub, logger *logging.Logger) *BusBridge {
	if logger == nil {
		logger = logging.Nop()
	}
	return &BusBridge{
		bus:    b,
		hub:    h,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start subscribes to the inbound and state subjects and begins publishing
// hub traffic.
func (br *BusBridge) Start(ctx context.Context) error {
	br.mu.Lock()
	br.ctx = ctx
	br.mu.Unlock()

	inSub, err := br.bus.Subscribe(ctx, bus.AllWidgets(bus.SuffixIn), br.dispatchInbound)
	if err != nil {
		return err
	}
	br.track(inSub)

	stateSub, err := br.bus.Subscribe(ctx, bus.AllWidgets(bus.SuffixState), br.replyState)
	if err != nil {
		br.Stop()
		return err
	}
	br.track(stateSub)

	br.hub.AddForwarder(br)
	return nil
}

// Run starts the bridge and blocks until ctx is done.
func (br *BusBridge) Run(ctx context.Context) error {
	if err := br.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	br.Stop()
	return nil
}

// Stop unsubscribes from all subjects. Outbound publishing stops with the
// context passed to Start.
func (br *BusBridge) Stop() {
	br.mu.Lock()
	defer br.mu.Unlock()

	for _, sub := range br.subs {
		_ = sub.Unsubscribe()
	}
	br.subs = nil
}

func (br *BusBridge) track(sub bus.Subscription) {
	br.mu.Lock()
	br.subs = append(br.subs, sub)
	br.mu.Unlock()
}

// ForwardMessage implements Forwarder.
func (br *BusBridge) ForwardMessage(widgetID string, msg widget.Message) {
	br.mu.Lock()
	ctx := br.ctx
	br.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		br.logger.Log(logging.Event{
			Level:     logging.LevelError,
			Category:  logging.CategoryBus,
			EventType: "encode_failed",
			WidgetID:  widgetID,
			Message:   err.Error(),
		})
		return
	}
	if err := br.bus.Publish(ctx, bus.WidgetSubject(widgetID, bus.SuffixOut), data); err != nil {
		br.logger.Log(logging.Event{
			Level:     logging.LevelWarn,
			Category:  logging.CategoryBus,
			EventType: "publish_failed",
			WidgetID:  widgetID,
			Message:   err.Error(),
		})
	}
}

type busReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (br *BusBridge) dispatchInbound(msg *bus.Message) []byte {
	id, ok := bus.WidgetIDFromSubject(msg.Subject)
	if !ok {
		return encodeReply(busReply{Error: "invalid subject"})
	}
	var in widget.Message
	if err := json.Unmarshal(msg.Data, &in); err != nil || in.Type == "" {
		return encodeReply(busReply{Error: "invalid message"})
	}
	ep, ok := br.hub.Lookup(id)
	if !ok {
		return encodeReply(busReply{Error: "widget not found"})
	}
	ep.Dispatch(in)
	return encodeReply(busReply{OK: true})
}

func (br *BusBridge) replyState(msg *bus.Message) []byte {
	id, ok := bus.WidgetIDFromSubject(msg.Subject)
	if !ok {
		return encodeReply(busReply{Error: "invalid subject"})
	}
	ep, ok := br.hub.Lookup(id)
	if !ok {
		return encodeReply(busReply{Error: "widget not found"})
	}
	data, err := json.Marshal(widget.Message{Type: widget.MessageState, State: ep.Snapshot()})
	if err != nil {
		return encodeReply(busReply{Error: err.Error()})
	}
	return data
}

func encodeReply(r busReply) []byte {
	data, _ := json.Marshal(r)
	return data
}
