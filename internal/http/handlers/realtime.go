package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/podscribe-backend/internal/platform/logger"
	"github.com/yungbote/podscribe-backend/internal/realtime"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.Hub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "Realtime"), hub: hub}
}

// GET /api/stream?channels=batch:<id>,job:<id>
// No channels subscribes to the global feed.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	var channels []string
	for _, ch := range strings.Split(c.Query("channels"), ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		channels = []string{realtime.GlobalChannel}
	}

	client := h.hub.NewClient()
	h.hub.Subscribe(client, channels...)
	defer h.hub.CloseClient(client)

	h.log.Debug("Stream open", "client_id", client.ID, "channels", channels)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
	h.log.Debug("Stream closed", "client_id", client.ID)
}
