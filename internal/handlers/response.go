package handlers

import (
	"net/http"

	"cleartitle/internal/apperr"
	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

type envelope struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message,omitempty"`
	Data       any                  `json:"data"`
	Pagination *services.Pagination `json:"pagination,omitempty"`
	Kind       apperr.Kind          `json:"kind,omitempty"`
	Detail     string               `json:"detail,omitempty"`
}

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func respondPage(c *gin.Context, data any, pagination services.Pagination) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Pagination: &pagination})
}

// respondError writes the failure envelope for err. The wrapped cause is
// only exposed outside production.
func (h *Handler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.Status(kind)
	body := envelope{Message: apperr.Message(err), Kind: kind}
	if !h.cfg.IsProduction() {
		body.Detail = err.Error()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "kind", kind, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}

// bindJSON decodes the request body and reports a validation error on
// failure.
func (h *Handler) bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		h.respondError(c, apperr.Validation("%s", err.Error()))
		return false
	}
	return true
}

func (h *Handler) bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		h.respondError(c, apperr.Validation("%s", err.Error()))
		return false
	}
	return true
}
