package ipc

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"

	vberrors "github.com/odvcencio/vegabridge/pkg/errors"
	"github.com/odvcencio/vegabridge/pkg/logging"
	"github.com/odvcencio/vegabridge/pkg/storage"
	"github.com/odvcencio/vegabridge/pkg/telemetry"
	"github.com/odvcencio/vegabridge/pkg/widget"
)

// SpecStore persists widget documents. *storage.Store satisfies it.
type SpecStore interface {
	SaveWidget(rec storage.WidgetRecord) error
	ListWidgets() ([]storage.WidgetRecord, error)
	DeleteWidget(id string) error
}

// ChannelFactory returns the channel for a new widget.
type ChannelFactory func(id string) widget.Channel

// ObserverFactory returns an extra observer for a new widget. It may return nil.
type ObserverFactory func(id string) widget.Observer

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStore persists every spec and option change to store.
func WithStore(store SpecStore) RegistryOption {
	return func(r *Registry) { r.store = store }
}

// WithObserverFactory attaches an observer to each widget.
func WithObserverFactory(f ObserverFactory) RegistryOption {
	return func(r *Registry) { r.observers = f }
}

// WithRelease is called with the widget id after a widget is deleted.
func WithRelease(release func(id string)) RegistryOption {
	return func(r *Registry) { r.release = release }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithRegistryMetrics records widget counts and update traffic.
func WithRegistryMetrics(m *telemetry.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithResizeUpdates marks every outbound update batch for a view resize.
func WithResizeUpdates(resize bool) RegistryOption {
	return func(r *Registry) { r.resize = resize }
}

// Registry holds the live widgets served by this process.
type Registry struct {
	channels  ChannelFactory
	store     SpecStore
	observers ObserverFactory
	release   func(id string)
	logger    *logging.Logger
	metrics   *telemetry.Metrics
	resize    bool

	mu      sync.RWMutex
	widgets map[string]*widget.Widget
	writeMu sync.Mutex
}

// NewRegistry creates a registry whose widgets talk through channels from f.
func NewRegistry(f ChannelFactory, opts ...RegistryOption) *Registry {
	r := &Registry{
		channels: f,
		widgets:  make(map[string]*widget.Widget),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.Nop()
	}
	return r
}

// Create registers a new widget showing spec with embedding options opt.
func (r *Registry) Create(spec, opt any) (*widget.Widget, error) {
	id := ulid.Make().String()
	w, err := widget.New(id, spec, opt, r.channels(id), r.widgetOptions(id)...)
	if err != nil {
		r.releaseChannel(id)
		return nil, err
	}
	if err := r.persist(w); err != nil {
		r.releaseChannel(id)
		return nil, err
	}
	r.add(w)
	r.logger.Info(logging.CategoryWidget, "widget_created", "widget created", map[string]any{"widget_id": id})
	return w, nil
}

// Restore recreates every stored widget that is not already registered.
// Records that fail to decode are skipped and logged.
func (r *Registry) Restore() (int, error) {
	if r.store == nil {
		return 0, nil
	}
	records, err := r.store.ListWidgets()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, rec := range records {
		if _, err := r.Get(rec.ID); err == nil {
			continue
		}
		w, err := widget.NewFromSource(rec.ID, rec.SpecSource, rec.OptSource, r.channels(rec.ID), r.widgetOptions(rec.ID)...)
		if err != nil {
			r.releaseChannel(rec.ID)
			r.logger.Warn(logging.CategoryStorage, "restore_skipped", "stored widget could not be restored", map[string]any{
				"widget_id": rec.ID,
				"error":     err.Error(),
			})
			continue
		}
		r.add(w)
		restored++
	}
	return restored, nil
}

// Get returns the widget with the given id.
func (r *Registry) Get(id string) (*widget.Widget, error) {
	r.mu.RLock()
	w, ok := r.widgets[id]
	r.mu.RUnlock()
	if !ok {
		return nil, vberrors.New(vberrors.ErrCodeWidgetNotFound, "widget not found").
			WithContext("widget", id).
			WithUserMessage("widget " + id + " not found")
	}
	return w, nil
}

// List returns the widgets ordered by id, which is creation order.
func (r *Registry) List() []*widget.Widget {
	r.mu.RLock()
	out := make([]*widget.Widget, 0, len(r.widgets))
	for _, w := range r.widgets {
		out = append(out, w)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered widgets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.widgets)
}

// Delete removes the widget and its stored record.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.widgets[id]
	delete(r.widgets, id)
	r.mu.Unlock()
	if !ok {
		return vberrors.New(vberrors.ErrCodeWidgetNotFound, "widget not found").WithContext("widget", id)
	}
	if r.metrics != nil {
		r.metrics.Widgets.Dec()
	}
	r.releaseChannel(id)
	if r.store != nil {
		if err := r.store.DeleteWidget(id); err != nil {
			return err
		}
	}
	r.logger.Info(logging.CategoryWidget, "widget_deleted", "widget deleted", map[string]any{"widget_id": id})
	return nil
}

// SetSpec replaces the widget's spec and persists it.
func (r *Registry) SetSpec(id string, spec any) error {
	return r.replaceDocument(id, "spec", spec)
}

// SetOpt replaces the widget's embedding options and persists them.
func (r *Registry) SetOpt(id string, opt any) error {
	return r.replaceDocument(id, "opt", opt)
}

// replaceDocument saves the new document before applying it, so a failed
// save leaves the widget untouched. writeMu keeps the store and memory in
// the same order when replacements race.
func (r *Registry) replaceDocument(id, name string, doc any) error {
	w, err := r.Get(id)
	if err != nil {
		return err
	}
	src, err := json.Marshal(doc)
	if err != nil {
		return vberrors.Wrap(err, vberrors.ErrCodeSpecEncode, "encode "+name).WithContext("widget", id)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	rec := storage.WidgetRecord{ID: id, SpecSource: w.SpecSource(), OptSource: w.OptSource()}
	apply := w.SetSpec
	if name == "opt" {
		rec.OptSource = string(src)
		apply = w.SetOpt
	} else {
		rec.SpecSource = string(src)
	}
	if r.store != nil {
		if err := r.store.SaveWidget(rec); err != nil {
			return err
		}
	}
	return apply(json.RawMessage(src))
}

func (r *Registry) add(w *widget.Widget) {
	r.mu.Lock()
	r.widgets[w.ID()] = w
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.Widgets.Inc()
	}
}

func (r *Registry) persist(w *widget.Widget) error {
	if r.store == nil {
		return nil
	}
	return r.store.SaveWidget(storage.WidgetRecord{
		ID:         w.ID(),
		SpecSource: w.SpecSource(),
		OptSource:  w.OptSource(),
	})
}

func (r *Registry) releaseChannel(id string) {
	if r.release != nil {
		r.release(id)
	}
}

func (r *Registry) widgetOptions(id string) []widget.Option {
	observers := telemetry.Observers{logging.NewUpdateObserver(r.logger, id)}
	if r.metrics != nil {
		observers = append(observers, r.metrics)
	}
	if r.observers != nil {
		if obs := r.observers(id); obs != nil {
			observers = append(observers, obs)
		}
	}
	return []widget.Option{
		widget.WithChannelOptions(
			widget.WithObserver(observers),
			widget.WithResize(r.resize),
		),
	}
}
