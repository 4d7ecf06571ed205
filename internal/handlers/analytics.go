package handlers

import (
	"net/http"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

type clickQuery struct {
	Timeframe  string `form:"timeframe"`
	ItemType   string `form:"itemType"`
	PropertyID string `form:"propertyId"`
	EntityType string `form:"entityType"`
	Limit      int    `form:"limit"`
}

func (h *Handler) clickFilter(c *gin.Context) (services.ClickFilter, int, bool) {
	var q clickQuery
	if !h.bindQuery(c, &q) {
		return services.ClickFilter{}, 0, false
	}
	tf, err := services.ParseTimeframe(q.Timeframe)
	if err != nil {
		h.respondError(c, err)
		return services.ClickFilter{}, 0, false
	}
	filter := services.ClickFilter{Timeframe: tf, ItemType: q.ItemType, PropertyID: q.PropertyID}
	if q.EntityType != "" {
		kind, err := models.ParseListingKind(q.EntityType)
		if err != nil {
			h.respondError(c, apperr.Validation("%s", err.Error()))
			return services.ClickFilter{}, 0, false
		}
		filter.EntityType = kind
	}
	return filter, q.Limit, true
}

func (h *Handler) ClickAnalytics(c *gin.Context) {
	filter, limit, ok := h.clickFilter(c)
	if !ok {
		return
	}
	respond(c, http.StatusOK, "", h.analytics.ClickAnalytics(c.Request.Context(), filter, limit))
}

func (h *Handler) TopItems(c *gin.Context) {
	filter, limit, ok := h.clickFilter(c)
	if !ok {
		return
	}
	items := h.analytics.TopItems(c.Request.Context(), filter, limit)
	respond(c, http.StatusOK, "", gin.H{"timeframe": filter.Timeframe, "items": items})
}

func (h *Handler) ListingStatistics(c *gin.Context) {
	tf, err := services.ParseTimeframe(c.Query("timeframe"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", h.analytics.ListingStatistics(c.Request.Context(), tf))
}

func (h *Handler) UsersWithLikes(c *gin.Context) {
	var page services.PageRequest
	if !h.bindQuery(c, &page) {
		return
	}
	users, pagination := h.analytics.UsersWithLikes(c.Request.Context(), page)
	respondPage(c, users, pagination)
}
