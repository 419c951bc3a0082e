// Package observability builds the zap logger from configuration and
// exposes Prometheus HTTP instrumentation for the training API.
package observability
