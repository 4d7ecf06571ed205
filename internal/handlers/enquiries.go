package handlers

import (
	"net/http"

	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

type enquiryQuery struct {
	services.PageRequest
	Status string `form:"status"`
}

type enquiryStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) CreateEnquiry(c *gin.Context) {
	var req services.CreateEnquiryDTO
	if !h.bindJSON(c, &req) {
		return
	}
	enquiry, err := h.enquiries.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Enquiry sent", enquiry)
}

func (h *Handler) ListEnquiries(c *gin.Context) {
	var q enquiryQuery
	if !h.bindQuery(c, &q) {
		return
	}
	enquiries, pagination, err := h.enquiries.List(c.Request.Context(), actorFrom(c), q.Status, q.PageRequest)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondPage(c, enquiries, pagination)
}

func (h *Handler) UpdateEnquiryStatus(c *gin.Context) {
	var req enquiryStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}
	enquiry, err := h.enquiries.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Enquiry updated", enquiry)
}
