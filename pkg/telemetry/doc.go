// Package telemetry emits metrics and traces for policy runs and hosts
// the Prometheus exposition endpoint used by watch mode.
package telemetry
