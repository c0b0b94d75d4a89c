// Invariants are conditions that must hold unless there is a bug in this module; for example, a cache layer
// flushing into a base with a different prefix, or an undo op recorded for a prefix nobody can reverse.
// Raising one logs an error and bumps a monitoring counter, but does not crash the process: callers still handle
// the erroneous case themselves (usually an early return with an error).
//
// Do not raise invariants for conditions that depend on external factors. Failing to read from LevelDB is an
// error, not an invariant. Reading a value this module could never have written is an invariant.
//
// In test mode (see build.go) invariants panic so tests catch them.

package utils

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	promclient "github.com/prometheus/client_model/go"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// RaiseInvariant records an invariant violation of `invariantType` in `module`. Args are slog key-value pairs.
func RaiseInvariant(module, invariantType, msg string, args ...any) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	slog.With("invariant", invariantType, "module", module).Error(msg, args...)
	if IsTestMode {
		panic("invariant violated: " + invariantType)
	}
}

// InvariantError raises the invariant and returns an error carrying the same message, for callers that need to
// bubble the violation up.
func InvariantError(module, invariantType, msg string, args ...any) error {
	RaiseInvariant(module, invariantType, msg, args...)
	return fmt.Errorf("%s: %s", invariantType, msg)
}

// GetMetricValue returns the current value of invariant metric with labels `module` and `invariantType`.
func GetMetricValue(module, invariantType string) int {
	var metric = &promclient.Metric{}
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(metric); err != nil {
		slog.Error(err.Error())
		return 0
	}
	return int(metric.Counter.GetValue())
}
