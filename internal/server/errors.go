package server

import (
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/metrics"
	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/server/handlers"
	servermw "github.com/lnagent/lnagent/internal/server/middleware"
)

// HandleError stamps the request id on envelope, logs it, counts it and
// writes the JSON error body.
func HandleError(w http.ResponseWriter, r *http.Request, envelope *gferrors.ErrorEnvelope) {
	if envelope == nil {
		envelope = gferrors.NewErrorEnvelope("INTERNAL_ERROR", "unknown error")
	}
	if envelope.CorrelationID == "" && r != nil {
		if requestID := servermw.GetRequestID(r.Context()); requestID != "" {
			envelope = envelope.WithCorrelationID(requestID)
		}
	}

	status := handlers.StatusFromCode(envelope.Code)
	endpoint := ""
	if r != nil {
		endpoint = r.URL.Path
	}
	metrics.RecordHTTPError(endpoint, status)

	if observability.AgentLogger != nil {
		fields := []zap.Field{
			zap.String("error_code", envelope.Code),
			zap.Int("http_status", status),
			zap.String("path", endpoint),
			zap.String("request_id", envelope.CorrelationID),
		}
		if status >= http.StatusInternalServerError {
			observability.AgentLogger.Warn(envelope.Message, fields...)
		} else {
			observability.AgentLogger.Debug(envelope.Message, fields...)
		}
	}

	handlers.WriteError(w, r, envelope)
}
