package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/navid-fn/obradar/internal/events"
)

type StreamHandler struct {
	hub *events.Hub
}

func NewStreamHandler(hub *events.Hub) *StreamHandler {
	return &StreamHandler{hub: hub}
}

// Stream upgrades to a websocket that receives every candidate event.
func (h *StreamHandler) Stream(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}
