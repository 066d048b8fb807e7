package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/http/response"
	"github.com/yungbote/aitranscriber-backend/internal/platform/apierr"
	"github.com/yungbote/aitranscriber-backend/internal/platform/ctxutil"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/sse"
)

// streamEvents opens an SSE response and hands its Send to run. Once the
// first record is out, failures can only be reported in-stream, so run is
// expected to emit its own error record. Error records are stamped with the
// request id so a client can quote it against server logs.
func streamEvents(c *gin.Context, log *logger.Logger, run func(emit func(domain.StreamEvent) error) error) {
	sw, err := sse.NewWriter(c.Writer)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	sw.Start()
	if err := run(withRequestID(c, sw.Send)); err != nil {
		_ = c.Error(err)
		ae := apierr.From(err)
		fields := append([]interface{}{"code", ae.Code, "error", err}, ctxutil.LogFields(c.Request.Context())...)
		log.Warn("Stream ended with error", fields...)
	}
}

func withRequestID(c *gin.Context, send func(domain.StreamEvent) error) func(domain.StreamEvent) error {
	td := ctxutil.GetTraceData(c.Request.Context())
	if td == nil || td.RequestID == "" {
		return send
	}
	return func(ev domain.StreamEvent) error {
		if ev.Kind == domain.EventError && ev.RequestID == "" {
			ev.RequestID = td.RequestID
		}
		return send(ev)
	}
}
