// Package otel bootstraps OpenTelemetry tracing.
package otel
