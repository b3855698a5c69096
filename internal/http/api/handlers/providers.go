package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Michaelasereo/mylinnk-sub001/internal/media"
	"github.com/Michaelasereo/mylinnk-sub001/internal/provider"
)

// ProviderDirectory lists and health-checks provider adapters.
type ProviderDirectory interface {
	Adapters(class media.ContentClass) []provider.AdapterInfo
	Health(ctx context.Context) []provider.HealthStatus
}

// ProviderHandler serves provider introspection endpoints.
type ProviderHandler struct {
	directory ProviderDirectory
}

// NewProviderHandler constructs a ProviderHandler.
func NewProviderHandler(directory ProviderDirectory) *ProviderHandler {
	return &ProviderHandler{directory: directory}
}

// List returns the adapters of every content class in priority order.
func (h *ProviderHandler) List(c *gin.Context) {
	out := make(gin.H, len(media.Classes))
	for _, class := range media.Classes {
		adapters := h.directory.Adapters(class)
		if adapters == nil {
			adapters = []provider.AdapterInfo{}
		}
		out[string(class)] = adapters
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// Health checks every adapter; any unhealthy adapter turns the status into 503.
func (h *ProviderHandler) Health(c *gin.Context) {
	statuses := h.directory.Health(c.Request.Context())
	if statuses == nil {
		statuses = []provider.HealthStatus{}
	}
	healthy := true
	for _, status := range statuses {
		if !status.Healthy {
			healthy = false
			break
		}
	}
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"healthy": healthy, "providers": statuses})
}
