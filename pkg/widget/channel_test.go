package widget

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []Message
}

func (r *recordingSender) Send(msg Message) {
	r.sent = append(r.sent, msg)
}

type countingObserver struct {
	queued    int
	batches   [][]UpdateRecord
	flushes   int
	discarded int
	resets    int
}

func (o *countingObserver) UpdateQueued(UpdateRecord, int) { o.queued++ }

func (o *countingObserver) BatchSent(batch []UpdateRecord, flush bool) {
	o.batches = append(o.batches, batch)
	if flush {
		o.flushes++
	}
}

func (o *countingObserver) SpecificationReset(discarded int, _ bool) {
	o.resets++
	o.discarded += discarded
}

func newTestChannel(opts ...ChannelOption) (*UpdateChannel, *recordingSender) {
	s := &recordingSender{}
	return NewUpdateChannel(s, Specification{Spec: json.RawMessage(`{}`), Opt: json.RawMessage(`null`)}, opts...), s
}

func TestBufferedUpdatesFlushOnceInOrder(t *testing.T) {
	ch, s := newTestChannel()

	for i := 0; i < 5; i++ {
		ch.RequestUpdate(NewUpdate("data", WithInsert(Row{"t": i})))
	}
	assert.Empty(t, s.sent, "nothing is sent before the view is ready")
	assert.Len(t, ch.Pending(), 5)

	ch.OnRemoteReady()

	require.Len(t, s.sent, 1)
	msg := s.sent[0]
	assert.Equal(t, MessageUpdate, msg.Type)
	require.Len(t, msg.Updates, 5)
	for i, rec := range msg.Updates {
		assert.Equal(t, i, rec.Rows()[0]["t"])
	}
	assert.Empty(t, ch.Pending())
	assert.Equal(t, Live, ch.State())
}

func TestRemoteReadyTwiceSendsOnce(t *testing.T) {
	ch, s := newTestChannel()
	ch.RequestUpdate(NewUpdate("data", WithInsert(Row{"t": 1})))

	ch.OnRemoteReady()
	ch.OnRemoteReady()

	assert.Len(t, s.sent, 1)
}

func TestRemoteReadyWithEmptyQueueSendsNothing(t *testing.T) {
	ch, s := newTestChannel()
	ch.OnRemoteReady()

	assert.Empty(t, s.sent)
	assert.Equal(t, Live, ch.State())
}

func TestLiveUpdatesAreSingletonBatches(t *testing.T) {
	ch, s := newTestChannel()
	ch.OnRemoteReady()

	ch.RequestUpdate(NewUpdate("a"))
	ch.RequestUpdate(NewUpdate("b"))

	require.Len(t, s.sent, 2)
	assert.Equal(t, []UpdateRecord{{Key: "a"}}, s.sent[0].Updates)
	assert.Equal(t, []UpdateRecord{{Key: "b"}}, s.sent[1].Updates)
	assert.Empty(t, ch.Pending())
}

func TestResetWhileNotLiveDropsQueue(t *testing.T) {
	obs := &countingObserver{}
	ch, s := newTestChannel(WithObserver(obs))
	for i := 0; i < 3; i++ {
		ch.RequestUpdate(NewUpdate("data"))
	}

	newSpec := Specification{Spec: json.RawMessage(`{"mark":"bar"}`), Opt: json.RawMessage(`{"theme":"dark"}`)}
	ch.ResetSpecification(newSpec)

	assert.Empty(t, ch.Pending())
	assert.Equal(t, newSpec, ch.Specification())

	ch.OnRemoteReady()
	assert.Empty(t, s.sent, "no leftover batch after reset")
	assert.Equal(t, 3, obs.discarded)
}

func TestResetWhileLiveBuffersAgain(t *testing.T) {
	ch, s := newTestChannel()
	ch.OnRemoteReady()
	require.Equal(t, Live, ch.State())

	ch.ResetSpecification(Specification{Spec: json.RawMessage(`{}`)})
	assert.Equal(t, NotLive, ch.State())

	ch.RequestUpdate(NewUpdate("data"))
	assert.Empty(t, s.sent)
	assert.Len(t, ch.Pending(), 1)

	ch.OnRemoteReady()
	assert.Len(t, s.sent, 1, "a new lifetime flushes again")
}

func TestHandleMessageIgnoresOtherTypes(t *testing.T) {
	ch, s := newTestChannel()
	ch.RequestUpdate(NewUpdate("data"))

	ch.HandleMessage(Message{Type: "resize"})
	ch.HandleMessage(Message{Type: MessageUpdate})
	assert.Equal(t, NotLive, ch.State())
	assert.Empty(t, s.sent)

	ch.HandleMessage(Message{Type: MessageDisplay})
	assert.Equal(t, Live, ch.State())
	assert.Len(t, s.sent, 1)
}

func TestFlushScenarioWireFormat(t *testing.T) {
	ch, s := newTestChannel()
	ch.RequestUpdate(NewUpdate("data", WithInsert(Row{"t": 1})))
	ch.RequestUpdate(NewUpdate("data", WithInsert(Row{"t": 2})))
	ch.OnRemoteReady()

	require.Len(t, s.sent, 1)
	data, err := json.Marshal(s.sent[0])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"update","updates":[{"key":"data","insert":[{"t":1}]},{"key":"data","insert":[{"t":2}]}]}`,
		string(data))
}

func TestBulkUpdateFollowsBufferPolicy(t *testing.T) {
	ch, s := newTestChannel()

	ch.BulkUpdate(DataKey, BulkHistogram2D, "true", &Chunking{Rows: 10, Size: 3})
	assert.Empty(t, s.sent)

	pending := ch.Pending()
	require.Len(t, pending, 1)
	ref, ok := pending[0].Bulk()
	require.True(t, ok)
	assert.Equal(t, BulkHistogram2D, ref)
	assert.Equal(t, "true", pending[0].Remove)
	assert.Equal(t, []ChunkRange{{0, 3}, {3, 6}, {6, 9}, {9, 10}}, pending[0].Chunks)

	ch.OnRemoteReady()
	ch.BulkUpdate(DataKey, BulkDataFrame, "", nil)
	require.Len(t, s.sent, 2)
	assert.Nil(t, s.sent[1].Updates[0].Chunks)

	data, err := json.Marshal(s.sent[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"update","updates":[{"key":"data","insert":"@dataframe"}]}`, string(data))
}

func TestResizeFlagAndObserver(t *testing.T) {
	obs := &countingObserver{}
	ch, s := newTestChannel(WithResize(true), WithObserver(obs))

	ch.RequestUpdate(NewUpdate("a"))
	ch.RequestUpdate(NewUpdate("b"))
	ch.OnRemoteReady()
	ch.RequestUpdate(NewUpdate("c"))

	require.Len(t, s.sent, 2)
	assert.True(t, s.sent[0].Resize)
	assert.True(t, s.sent[1].Resize)
	assert.Equal(t, 2, obs.queued)
	assert.Equal(t, 1, obs.flushes)
	require.Len(t, obs.batches, 2)
	assert.Len(t, obs.batches[0], 2)
}

func TestPendingReturnsCopy(t *testing.T) {
	ch, _ := newTestChannel()
	ch.RequestUpdate(NewUpdate("a"))

	p := ch.Pending()
	p[0].Key = "mutated"
	assert.Equal(t, "a", ch.Pending()[0].Key)
}

func TestSenderFunc(t *testing.T) {
	var got []Message
	ch := NewUpdateChannel(SenderFunc(func(m Message) { got = append(got, m) }), Specification{})
	ch.OnRemoteReady()
	ch.RequestUpdate(NewUpdate("x"))
	assert.Len(t, got, 1)
	assert.Equal(t, "not_live", NotLive.String())
	assert.Equal(t, "live", Live.String())
}
