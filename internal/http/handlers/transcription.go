package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/aitranscriber-backend/internal/domain"
	"github.com/yungbote/aitranscriber-backend/internal/http/response"
	"github.com/yungbote/aitranscriber-backend/internal/platform/apierr"
	"github.com/yungbote/aitranscriber-backend/internal/platform/logger"
	"github.com/yungbote/aitranscriber-backend/internal/services/transcription"
)

type TranscriptionHandler struct {
	log *logger.Logger
	svc *transcription.Service
}

func NewTranscriptionHandler(log *logger.Logger, svc *transcription.Service) *TranscriptionHandler {
	return &TranscriptionHandler{log: log.With("handler", "TranscriptionHandler"), svc: svc}
}

type transcribeRequest struct {
	FilePath string `json:"filePath"`
}

// POST /api/deepgram
func (h *TranscriptionHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeMissingFile, errors.New("no file uploaded"))
		return
	}
	if fh.Size > h.svc.MaxAudioBytes() {
		response.RespondError(c, http.StatusRequestEntityTooLarge, apierr.CodeInvalidRequest, errors.New("file too large"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidRequest, err)
		return
	}
	defer f.Close()

	in, err := h.svc.ReadUpload(f, fh.Filename, fh.Header.Get("Content-Type"))
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.log.Info("Upload received", "name", in.Name, "content_type", in.ContentType, "bytes", len(in.Data))

	ctx := c.Request.Context()
	streamEvents(c, h.log, func(emit func(domain.StreamEvent) error) error {
		return h.svc.Run(ctx, in, emit)
	})
}

// POST /api/transcribe
func (h *TranscriptionHandler) Transcribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, apierr.CodeInvalidRequest, errors.New("invalid request body"))
		return
	}
	filePath := strings.TrimSpace(req.FilePath)

	ctx := c.Request.Context()
	in, err := h.svc.Load(ctx, filePath)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	streamEvents(c, h.log, func(emit func(domain.StreamEvent) error) error {
		return h.svc.TranscribeBlob(ctx, filePath, in, emit)
	})
}
