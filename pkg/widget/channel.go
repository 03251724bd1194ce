package widget

import "encoding/json"

// ChannelState tells whether the remote view has announced it can apply updates.
type ChannelState int

const (
	// NotLive buffers updates until the view reports it is displayed.
	NotLive ChannelState = iota
	// Live sends every update as soon as it is requested.
	Live
)

func (s ChannelState) String() string {
	if s == Live {
		return "live"
	}
	return "not_live"
}

// Specification is the chart grammar document plus its embedding options.
// Both are opaque JSON and are only ever replaced whole.
type Specification struct {
	Spec json.RawMessage
	Opt  json.RawMessage
}

// Observer receives notifications about queueing and sending. It must not
// call back into the UpdateChannel.
type Observer interface {
	UpdateQueued(rec UpdateRecord, depth int)
	BatchSent(batch []UpdateRecord, flush bool)
	SpecificationReset(discarded int, wasLive bool)
}

// ChannelOption configures an UpdateChannel.
type ChannelOption func(*UpdateChannel)

// WithObserver attaches an observer.
func WithObserver(obs Observer) ChannelOption {
	return func(c *UpdateChannel) {
		c.observer = obs
	}
}

// WithResize marks every outbound batch so the view resizes after applying it.
func WithResize(resize bool) ChannelOption {
	return func(c *UpdateChannel) {
		c.resize = resize
	}
}

// UpdateChannel decides, for each update, whether to send it now or hold it
// until the view is ready, and flushes held updates exactly once per
// specification lifetime.
//
// UpdateChannel is not safe for concurrent use; callers serialize access.
type UpdateChannel struct {
	sender   Sender
	spec     Specification
	state    ChannelState
	pending  []UpdateRecord
	resize   bool
	observer Observer
}

// NewUpdateChannel creates a channel in the NotLive state holding spec.
func NewUpdateChannel(sender Sender, spec Specification, opts ...ChannelOption) *UpdateChannel {
	c := &UpdateChannel{sender: sender, spec: spec}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestUpdate sends rec immediately when live, otherwise queues it.
func (c *UpdateChannel) RequestUpdate(rec UpdateRecord) {
	if c.state == Live {
		c.send([]UpdateRecord{rec}, false)
		return
	}
	c.pending = append(c.pending, rec)
	if c.observer != nil {
		c.observer.UpdateQueued(rec, len(c.pending))
	}
}

// BulkUpdate requests an update whose insert refers to the side-channel
// payload. When chunking is set, the record carries the row ranges the view
// should apply incrementally.
func (c *UpdateChannel) BulkUpdate(key string, ref BulkRef, remove string, chunking *Chunking) {
	rec := NewUpdate(key, WithRemove(remove), withBulk(ref))
	if chunking != nil {
		rec.Chunks = ChunkRanges(chunking.Rows, chunking.Size)
	}
	c.RequestUpdate(rec)
}

// OnRemoteReady marks the channel live and flushes the queue as one batch.
// Calls after the first in a lifetime do nothing.
func (c *UpdateChannel) OnRemoteReady() {
	if c.state == Live {
		return
	}
	c.state = Live
	if len(c.pending) == 0 {
		return
	}
	batch := c.pending
	c.pending = nil
	c.send(batch, true)
}

// HandleMessage reacts to inbound messages. Only display messages matter.
func (c *UpdateChannel) HandleMessage(msg Message) {
	if msg.Type != MessageDisplay {
		return
	}
	c.OnRemoteReady()
}

// ResetSpecification replaces the specification and starts a new lifetime:
// the channel is NotLive again and queued updates are discarded.
func (c *UpdateChannel) ResetSpecification(spec Specification) {
	discarded := len(c.pending)
	wasLive := c.state == Live

	c.spec = spec
	c.state = NotLive
	c.pending = nil

	if c.observer != nil {
		c.observer.SpecificationReset(discarded, wasLive)
	}
}

// Specification returns the current specification.
func (c *UpdateChannel) Specification() Specification {
	return c.spec
}

// State returns the current channel state.
func (c *UpdateChannel) State() ChannelState {
	return c.state
}

// Pending returns a copy of the queued updates.
func (c *UpdateChannel) Pending() []UpdateRecord {
	if len(c.pending) == 0 {
		return nil
	}
	out := make([]UpdateRecord, len(c.pending))
	copy(out, c.pending)
	return out
}

func (c *UpdateChannel) send(batch []UpdateRecord, flush bool) {
	c.sender.Send(Message{Type: MessageUpdate, Updates: batch, Resize: c.resize})
	if c.observer != nil {
		c.observer.BatchSent(batch, flush)
	}
}
