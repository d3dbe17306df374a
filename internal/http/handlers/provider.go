package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/podscribe-backend/internal/clients/transcription"
	"github.com/yungbote/podscribe-backend/internal/http/response"
	"github.com/yungbote/podscribe-backend/internal/resilience"
)

type ProviderHandler struct {
	cfg      transcription.Config
	breakers *resilience.Registry
}

func NewProviderHandler(cfg transcription.Config, breakers *resilience.Registry) *ProviderHandler {
	return &ProviderHandler{cfg: cfg, breakers: breakers}
}

// GET /api/providers
func (h *ProviderHandler) ListProviders(c *gin.Context) {
	response.RespondOK(c, gin.H{"providers": transcription.Available(h.cfg)})
}

// GET /api/providers/health
func (h *ProviderHandler) ProviderHealth(c *gin.Context) {
	snaps := []resilience.BreakerSnapshot{}
	if h.breakers != nil {
		snaps = h.breakers.Snapshot()
	}
	healthy := true
	for _, s := range snaps {
		if s.State == resilience.StateOpen {
			healthy = false
		}
	}
	response.RespondOK(c, gin.H{"healthy": healthy, "breakers": snaps})
}
