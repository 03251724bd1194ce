package logging

import "github.com/odvcencio/vegabridge/pkg/widget"

// UpdateObserver logs a widget's queue and send activity.
type UpdateObserver struct {
	logger   *Logger
	widgetID string
}

// NewUpdateObserver returns a widget.Observer that logs under widgetID.
func NewUpdateObserver(logger *Logger, widgetID string) *UpdateObserver {
	return &UpdateObserver{logger: logger, widgetID: widgetID}
}

var _ widget.Observer = (*UpdateObserver)(nil)

func (o *UpdateObserver) UpdateQueued(rec widget.UpdateRecord, depth int) {
	_ = o.logger.Log(Event{
		Level:     LevelDebug,
		Category:  CategoryUpdate,
		EventType: "update_queued",
		WidgetID:  o.widgetID,
		Details:   map[string]any{"key": rec.Key, "depth": depth},
	})
}

func (o *UpdateObserver) BatchSent(batch []widget.UpdateRecord, flush bool) {
	eventType := "update_sent"
	if flush {
		eventType = "updates_flushed"
	}
	_ = o.logger.Log(Event{
		Level:     LevelInfo,
		Category:  CategoryUpdate,
		EventType: eventType,
		WidgetID:  o.widgetID,
		Details:   map[string]any{"count": len(batch)},
	})
}

func (o *UpdateObserver) SpecificationReset(discarded int, wasLive bool) {
	level := LevelInfo
	if discarded > 0 {
		level = LevelWarn
	}
	_ = o.logger.Log(Event{
		Level:     level,
		Category:  CategoryWidget,
		EventType: "spec_reset",
		WidgetID:  o.widgetID,
		Message:   "specification replaced",
		Details:   map[string]any{"discarded": discarded, "was_live": wasLive},
	})
}
