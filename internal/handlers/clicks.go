package handlers

import (
	"net/http"

	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

// TrackClick accepts an interaction event. Recording happens off the
// request path, so a well-formed event is always accepted.
func (h *Handler) TrackClick(c *gin.Context) {
	var req services.TrackClickDTO
	if !h.bindJSON(c, &req) {
		return
	}
	err := h.clicks.Track(req, actorFrom(c).IDPtr(), c.ClientIP(), c.Request.UserAgent(), c.Request.Referer())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, "Click recorded", nil)
}
