package metrics

import (
	"strconv"

	"github.com/lnagent/lnagent/internal/observability"
)

// Metric names
const (
	ErrorsTotalName     = "errors_total"
	PanicsTotalName     = "panics_total"
	HTTPErrorsTotalName = "http_errors_total"
)

// RecordError records a classified failure and the component it surfaced in.
func RecordError(errorKind string, component string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			ErrorsTotalName,
			1,
			map[string]string{
				"error_kind": errorKind,
				"component":  component,
			},
		)
	}
}

// RecordPanic records a recovered panic
func RecordPanic(component string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			PanicsTotalName,
			1,
			map[string]string{
				"component": component,
			},
		)
	}
}

// RecordHTTPError records an error response from the status server
func RecordHTTPError(endpoint string, httpStatus int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			HTTPErrorsTotalName,
			1,
			map[string]string{
				"endpoint":    endpoint,
				"http_status": strconv.Itoa(httpStatus),
			},
		)
	}
}
