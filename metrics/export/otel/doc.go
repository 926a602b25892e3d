// Package otel binds goGuard engine metrics to OpenTelemetry observable
// instruments.
//
// [NewExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket; a single callback reads the
// engine snapshot on each collection. Callers own the MeterProvider.
package otel
