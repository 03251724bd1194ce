// Package widget keeps a server-side chart specification in sync with a
// browser-rendered view.
//
// Updates issued before the view has finished embedding the chart would be
// lost by the view, so they are held until it sends a display message and
// then flushed as a single batch. Replacing the spec or the embedding options
// starts over: held updates are dropped and the widget waits for the next
// display message.
package widget

import (
	"encoding/json"
	"sync"

	"github.com/odvcencio/vegabridge/pkg/encoding/ndarray"
	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
)

// Synchronized property names, shared with the view.
const (
	PropSpecSource = "_spec_source"
	PropOptSource  = "_opt_source"
	PropData       = "_df"
	PropColumns    = "_columns"
)

// DataKey is the dataset targeted by dataframe and histogram updates.
const DataKey = "data"

// Option configures a Widget.
type Option func(*options)

type options struct {
	channel []ChannelOption
}

// WithChannelOptions passes options through to the widget's UpdateChannel.
func WithChannelOptions(opts ...ChannelOption) Option {
	return func(o *options) {
		o.channel = append(o.channel, opts...)
	}
}

// Widget is a chart bound to one remote view through a Channel.
type Widget struct {
	id string
	ch Channel

	mu      sync.Mutex
	props   map[string]any
	updates *UpdateChannel
}

// New creates a widget showing spec with embedding options opt. Either may be
// nil, which encodes as JSON null.
func New(id string, spec, opt any, ch Channel, opts ...Option) (*Widget, error) {
	specSrc, err := encodeDocument(spec, "spec")
	if err != nil {
		return nil, err
	}
	optSrc, err := encodeDocument(opt, "opt")
	if err != nil {
		return nil, err
	}
	return newWidget(id, specSrc, optSrc, ch, opts...), nil
}

// NewFromSource creates a widget from already encoded spec and opt documents.
func NewFromSource(id, specSource, optSource string, ch Channel, opts ...Option) (*Widget, error) {
	for name, src := range map[string]string{"spec": specSource, "opt": optSource} {
		if !json.Valid([]byte(src)) {
			return nil, vberrors.New(vberrors.ErrCodeSpecDecode, "invalid "+name+" source").
				WithContext("widget", id)
		}
	}
	return newWidget(id, json.RawMessage(specSource), json.RawMessage(optSource), ch, opts...), nil
}

func newWidget(id string, specSrc, optSrc json.RawMessage, ch Channel, opts ...Option) *Widget {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	w := &Widget{
		id: id,
		ch: ch,
		props: map[string]any{
			PropSpecSource: string(specSrc),
			PropOptSource:  string(optSrc),
			PropData:       ndarray.Array{Shape: []int{0}},
			PropColumns:    []string{},
		},
	}
	w.updates = NewUpdateChannel(ch, Specification{Spec: specSrc, Opt: optSrc}, o.channel...)
	ch.SyncState(w.stateLocked())
	ch.OnMessage(w.handleMessage)
	return w
}

// ID returns the widget identifier.
func (w *Widget) ID() string {
	return w.id
}

func (w *Widget) handleMessage(msg Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates.HandleMessage(msg)
}

// Spec decodes the current chart specification.
func (w *Widget) Spec() (any, error) {
	return decodeDocument(w.SpecSource(), "spec")
}

// SpecSource returns the encoded chart specification.
func (w *Widget) SpecSource() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.props[PropSpecSource].(string)
}

// Opt decodes the current embedding options.
func (w *Widget) Opt() (any, error) {
	return decodeDocument(w.OptSource(), "opt")
}

// OptSource returns the encoded embedding options.
func (w *Widget) OptSource() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.props[PropOptSource].(string)
}

// SetSpec replaces the chart specification. Updates not yet delivered to the
// view are discarded, as are updates the view already applied: the view
// re-embeds the new spec from scratch.
func (w *Widget) SetSpec(spec any) error {
	src, err := encodeDocument(spec, "spec")
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.props[PropSpecSource] = string(src)
	w.ch.SyncState(map[string]any{PropSpecSource: string(src)})
	cur := w.updates.Specification()
	w.updates.ResetSpecification(Specification{Spec: src, Opt: cur.Opt})
	return nil
}

// SetOpt replaces the embedding options, with the same reset as SetSpec.
func (w *Widget) SetOpt(opt any) error {
	src, err := encodeDocument(opt, "opt")
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.props[PropOptSource] = string(src)
	w.ch.SyncState(map[string]any{PropOptSource: string(src)})
	cur := w.updates.Specification()
	w.updates.ResetSpecification(Specification{Spec: cur.Spec, Opt: src})
	return nil
}

// Update changes the dataset named key. Changes live only in the view; they
// are lost when the spec or options are replaced.
func (w *Widget) Update(key string, opts ...UpdateOption) {
	rec := NewUpdate(key, opts...)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates.RequestUpdate(rec)
}

// UpdateDataFrame replaces the "data" dataset rows with the table contents,
// shipped through the array side channel.
func (w *Widget) UpdateDataFrame(t Table, remove string) error {
	arr, err := t.array()
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setPayloadLocked(arr, t.Columns)
	w.updates.BulkUpdate(DataKey, BulkDataFrame, remove, nil)
	return nil
}

// UpdateHistogram2D ships a 2-D histogram whose cells the view expands into
// rows named by columns (x index, y index, value). When chunkCells is
// positive, the view applies the rows in chunks of about chunkCells cells.
func (w *Widget) UpdateHistogram2D(m Matrix, columns []string, remove string, chunkCells int) error {
	if len(columns) != 3 {
		return vberrors.New(vberrors.ErrCodeInvalidInput, "histogram needs x, y and value column names").
			WithContext("columns", len(columns))
	}
	arr, err := m.array()
	if err != nil {
		return err
	}
	var chunking *Chunking
	if chunkCells > 0 && m.Rows > 0 {
		step := 1
		if m.Cols > 0 {
			step = max(1, chunkCells/m.Cols)
		}
		chunking = &Chunking{Rows: m.Rows, Size: step}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.setPayloadLocked(arr, columns)
	w.updates.BulkUpdate(DataKey, BulkHistogram2D, remove, chunking)
	return nil
}

func (w *Widget) setPayloadLocked(arr ndarray.Array, columns []string) {
	cols := append([]string{}, columns...)
	w.props[PropData] = arr
	w.props[PropColumns] = cols
	w.ch.SyncState(map[string]any{PropData: arr, PropColumns: cols})
}

// Live reports whether the view has announced itself since the last reset.
func (w *Widget) Live() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updates.State() == Live
}

// PendingUpdates returns the updates waiting for the view.
func (w *Widget) PendingUpdates() []UpdateRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updates.Pending()
}

// State returns a snapshot of the synchronized properties.
func (w *Widget) State() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *Widget) stateLocked() map[string]any {
	out := make(map[string]any, len(w.props))
	for k, v := range w.props {
		out[k] = v
	}
	return out
}

func encodeDocument(v any, name string) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeSpecEncode, "encode "+name)
	}
	return data, nil
}

func decodeDocument(src, name string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(src), &v); err != nil {
		return nil, vberrors.Wrap(err, vberrors.ErrCodeSpecDecode, "decode "+name)
	}
	return v, nil
}
