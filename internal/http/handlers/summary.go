package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/http/response"
	"github.com/yungbote/aitranscriber-backend/internal/platform/apierr"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/services/summary"
)

type SummaryHandler struct {
	log *logger.Logger
	svc *summary.Service
}

func NewSummaryHandler(log *logger.Logger, svc *summary.Service) *SummaryHandler {
	return &SummaryHandler{log: log.With("handler", "SummaryHandler"), svc: svc}
}

// POST /api/summarize
func (h *SummaryHandler) Summarize(c *gin.Context) {
	var groups []domain.TranscriptGroup
	if err := c.ShouldBindJSON(&groups); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidRequest, errors.New("body must be an array of transcript groups"))
		return
	}
	if err := summary.Validate(groups); err != nil {
		response.RespondAPIError(c, err)
		return
	}

	ctx := c.Request.Context()
	streamEvents(c, h.log, func(emit func(domain.StreamEvent) error) error {
		return h.svc.Run(ctx, groups, emit)
	})
}
