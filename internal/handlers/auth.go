package handlers

import (
	"net/http"

	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

func (h *Handler) Register(c *gin.Context) {
	var req services.RegisterDTO
	if !h.bindJSON(c, &req) {
		return
	}
	session, err := h.users.Register(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Account created", session)
}

func (h *Handler) Login(c *gin.Context) {
	var req services.LoginDTO
	if !h.bindJSON(c, &req) {
		return
	}
	session, err := h.users.Login(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Logged in", session)
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", user)
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var req services.UpdateProfileDTO
	if !h.bindJSON(c, &req) {
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "Profile updated", user)
}

func (h *Handler) ToggleUserActive(c *gin.Context) {
	user, err := h.users.ToggleActive(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "User status updated", user)
}
