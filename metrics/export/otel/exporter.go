// Package otel bridges the kernel's internal counters into an OpenTelemetry
// meter as observable counters.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/gopress-cms/auth/metrics"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type observedCounter struct {
	id         metrics.ID
	instrument metric.Int64ObservableCounter
}

// Exporter registers one observable counter per kernel metric and reports
// snapshot values on every collection cycle.
type Exporter struct {
	source       *metrics.Metrics
	registration metric.Registration
	counters     []observedCounter
}

// NewExporter wires the metrics source into the given meter.
func NewExporter(meter metric.Meter, source *metrics.Metrics) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(metrics.Defs)),
	}

	observables := make([]metric.Observable, 0, len(metrics.Defs))
	for _, def := range metrics.Defs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := e.source.Snapshot()
		for _, c := range e.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	e.registration = registration
	return e, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
