package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/aitranscriber-backend/internal/http/handlers"
	httpMW "github.com/yungbote/aitranscriber-backend/internal/http/middleware"
	"github.com/yungbote/aitranscriber-backend/internal/observability"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log                  *logger.Logger
	Metrics              *observability.Metrics
	AllowedOrigins       []string
	ServiceName          string
	MaxMultipartMemory   int64
	HealthHandler        *handlers.HealthHandler
	TranscriptionHandler *handlers.TranscriptionHandler
	SummaryHandler       *handlers.SummaryHandler
	// MetricsHandler is mounted on /metrics when set; otherwise metrics are
	// served by the dedicated metrics listener.
	MetricsHandler http.Handler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.MaxMultipartMemory > 0 {
		r.MaxMultipartMemory = cfg.MaxMultipartMemory
	}
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS(cfg.AllowedOrigins))
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	api := r.Group("/api")
	{
		if cfg.TranscriptionHandler != nil {
			api.POST("/deepgram", cfg.TranscriptionHandler.Upload)
			api.POST("/transcribe", cfg.TranscriptionHandler.Transcribe)
		}
		if cfg.SummaryHandler != nil {
			api.POST("/summarize", cfg.SummaryHandler.Summarize)
		}
	}
	return r
}
