package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HealthComponents names the backends this process was wired with.
type HealthComponents struct {
	TranscriptionProvider string `json:"transcriptionProvider"`
	SummaryProvider       string `json:"summaryProvider"`
	BlobStore             string `json:"blobStore,omitempty"`
}

type HealthHandler struct {
	components HealthComponents
}

func NewHealthHandler(components HealthComponents) *HealthHandler {
	return &HealthHandler{components: components}
}

// HealthCheck answers "ok" for load balancers. Clients asking for JSON also
// get the wired backends.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "components": h.components})
		return
	}
	c.String(http.StatusOK, "ok")
}
