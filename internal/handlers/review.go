package handlers

import (
	"net/http"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"
	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

type rejectRequest struct {
	Reason string `json:"reason"`
}

type verifyRequest struct {
	IsVerified *bool `json:"isVerified"`
}

type bulkRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

func (h *Handler) reviewKind(c *gin.Context) (models.EntityType, bool) {
	kind, err := models.ParseListingKind(c.Param("kind"))
	if err != nil {
		h.respondError(c, apperr.Validation("%s", err.Error()))
		return "", false
	}
	return kind, true
}

// review runs one single-listing transition and writes the updated listing.
func (h *Handler) review(c *gin.Context, message string, op func(kind models.EntityType, id string) (models.Listing, error)) {
	kind, ok := h.reviewKind(c)
	if !ok {
		return
	}
	listing, err := op(kind, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, message, listing)
}

func (h *Handler) ApproveListing(c *gin.Context) {
	h.review(c, "Listing approved", func(kind models.EntityType, id string) (models.Listing, error) {
		return h.approval.Approve(c.Request.Context(), kind, id, actorFrom(c))
	})
}

func (h *Handler) RejectListing(c *gin.Context) {
	var req rejectRequest
	if !h.bindJSON(c, &req) {
		return
	}
	h.review(c, "Listing rejected", func(kind models.EntityType, id string) (models.Listing, error) {
		return h.approval.Reject(c.Request.Context(), kind, id, actorFrom(c), req.Reason)
	})
}

func (h *Handler) ResetListing(c *gin.Context) {
	h.review(c, "Listing returned to review", func(kind models.EntityType, id string) (models.Listing, error) {
		return h.approval.ResetToPending(c.Request.Context(), kind, id, actorFrom(c))
	})
}

func (h *Handler) ToggleFeatured(c *gin.Context) {
	h.review(c, "Featured flag updated", func(kind models.EntityType, id string) (models.Listing, error) {
		return h.approval.ToggleFeatured(c.Request.Context(), kind, id, actorFrom(c))
	})
}

func (h *Handler) SetVerified(c *gin.Context) {
	var req verifyRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.IsVerified == nil {
		h.respondError(c, apperr.Validation("isVerified is required"))
		return
	}
	h.review(c, "Verification updated", func(kind models.EntityType, id string) (models.Listing, error) {
		return h.approval.SetVerified(c.Request.Context(), kind, id, actorFrom(c), *req.IsVerified)
	})
}

func (h *Handler) bulkReview(c *gin.Context, op func(kind models.EntityType, req bulkRequest) (services.BulkResult, error)) {
	kind, ok := h.reviewKind(c)
	if !ok {
		return
	}
	var req bulkRequest
	if !h.bindJSON(c, &req) {
		return
	}
	result, err := op(kind, req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Bulk review processed", result)
}

func (h *Handler) BulkApprove(c *gin.Context) {
	h.bulkReview(c, func(kind models.EntityType, req bulkRequest) (services.BulkResult, error) {
		return h.approval.BulkApprove(c.Request.Context(), kind, req.IDs, actorFrom(c))
	})
}

func (h *Handler) BulkReject(c *gin.Context) {
	h.bulkReview(c, func(kind models.EntityType, req bulkRequest) (services.BulkResult, error) {
		return h.approval.BulkReject(c.Request.Context(), kind, req.IDs, actorFrom(c), req.Reason)
	})
}
