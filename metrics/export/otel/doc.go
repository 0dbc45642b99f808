// Package otel publishes authgate engine metrics through an OpenTelemetry
// meter.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge; one callback reads the engine snapshot per
// collection. Callers own the MeterProvider.
package otel
