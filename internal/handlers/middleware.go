package handlers

import (
	"strings"

	"cleartitle/internal/apperr"
	"cleartitle/internal/policy"

	"github.com/gin-gonic/gin"
)

const actorKey = "actor"

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// Authenticate attaches the caller to the request. Requests without a token
// continue as anonymous; a token that does not verify is rejected.
func (h *Handler) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.Set(actorKey, policy.Anonymous(c.ClientIP()))
			c.Next()
			return
		}
		actor, err := h.users.Authenticate(c.Request.Context(), token, c.ClientIP())
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !actorFrom(c).IsAuthenticated() {
			h.respondError(c, apperr.Unauthorized("login required"))
			return
		}
		c.Next()
	}
}

func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		if !actor.IsAuthenticated() {
			h.respondError(c, apperr.Unauthorized("login required"))
			return
		}
		if !actor.IsAdmin() {
			h.logger.Warn("Non-admin hit an admin route", "actor_id", actor.ID, "path", c.FullPath())
			h.respondError(c, apperr.Forbidden("admin access required"))
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) policy.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(policy.Actor); ok {
			return actor
		}
	}
	return policy.Anonymous(c.ClientIP())
}
