package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/podscribe-backend/internal/pkg/ctxutil"
)

const (
	HeaderTraceID   = "X-Trace-Id"
	HeaderRequestID = "X-Request-Id"

	maxClientIDLen = 128
)

// RequestIDs tags every request with a trace id and a request id. An active
// OTel span wins over a client supplied trace id.
func RequestIDs() gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := ctxutil.RequestIDs{
			RequestID: clientID(c.GetHeader(HeaderRequestID)),
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			ids.TraceID = sc.TraceID().String()
		} else {
			ids.TraceID = clientID(c.GetHeader(HeaderTraceID))
		}
		if ids.RequestID == "" {
			ids.RequestID = uuid.NewString()
		}
		if ids.TraceID == "" {
			ids.TraceID = ids.RequestID
		}

		c.Request = c.Request.WithContext(ctxutil.WithRequestIDs(c.Request.Context(), ids))
		c.Writer.Header().Set(HeaderTraceID, ids.TraceID)
		c.Writer.Header().Set(HeaderRequestID, ids.RequestID)
		c.Next()
	}
}

// clientID drops oversized or multi-line ids instead of echoing them back.
func clientID(v string) string {
	v = strings.TrimSpace(v)
	if len(v) > maxClientIDLen || strings.ContainsAny(v, "\r\n") {
		return ""
	}
	return v
}
