package handlers

import (
	"net/http"

	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

type batchQuery struct {
	services.PageRequest
	Search string `form:"search"`
}

type membersRequest struct {
	PropertyUnits []string `json:"propertyUnits"`
}

func (h *Handler) CreateBatch(c *gin.Context) {
	var req services.CreateBatchDTO
	if !h.bindJSON(c, &req) {
		return
	}
	batch, err := h.batches.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Batch created", batch)
}

func (h *Handler) GetBatch(c *gin.Context) {
	batch, err := h.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", batch)
}

func (h *Handler) ListBatches(c *gin.Context) {
	var q batchQuery
	if !h.bindQuery(c, &q) {
		return
	}
	batches, pagination, err := h.batches.List(c.Request.Context(), q.Search, q.PageRequest)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondPage(c, batches, pagination)
}

func (h *Handler) AddBatchMembers(c *gin.Context) {
	var req membersRequest
	if !h.bindJSON(c, &req) {
		return
	}
	changed, batch, err := h.batches.AddMembers(c.Request.Context(), actorFrom(c), c.Param("id"), req.PropertyUnits)
	if err != nil {
		h.respondError(c, err)
		return
	}
	message := "Units added to batch"
	if !changed {
		message = "All units were already in the batch"
	}
	respond(c, http.StatusOK, message, batch)
}

func (h *Handler) RemoveBatchMember(c *gin.Context) {
	changed, batch, err := h.batches.RemoveMember(c.Request.Context(), actorFrom(c), c.Param("id"), c.Param("unitId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	message := "Unit removed from batch"
	if !changed {
		message = "Unit was not in the batch"
	}
	respond(c, http.StatusOK, message, batch)
}

func (h *Handler) DeleteBatch(c *gin.Context) {
	if err := h.batches.Delete(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Batch deleted", nil)
}
