package telemetry

import "github.com/odvcencio/vegabridge/pkg/widget"

// Observers fans widget notifications out to several observers. Nil entries are skipped.
type Observers []widget.Observer

func (o Observers) UpdateQueued(rec widget.UpdateRecord, depth int) {
	for _, obs := range o {
		if obs != nil {
			obs.UpdateQueued(rec, depth)
		}
	}
}

func (o Observers) BatchSent(batch []widget.UpdateRecord, flush bool) {
	for _, obs := range o {
		if obs != nil {
			obs.BatchSent(batch, flush)
		}
	}
}

func (o Observers) SpecificationReset(discarded int, wasLive bool) {
	for _, obs := range o {
		if obs != nil {
			obs.SpecificationReset(discarded, wasLive)
		}
	}
}
