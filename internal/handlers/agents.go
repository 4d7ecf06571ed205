package handlers

import (
	"net/http"

	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
)

type agentQuery struct {
	services.PageRequest
	Search          string `form:"search"`
	IncludeInactive bool   `form:"includeInactive"`
}

type applicationQuery struct {
	services.PageRequest
	Status string `form:"status"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) ApplyForAgent(c *gin.Context) {
	var req services.AgentApplicationDTO
	if !h.bindJSON(c, &req) {
		return
	}
	user, err := h.agents.Apply(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Application submitted", user)
}

func (h *Handler) ListAgents(c *gin.Context) {
	var q agentQuery
	if !h.bindQuery(c, &q) {
		return
	}
	// Only admins see deactivated profiles.
	filter := services.AgentFilter{Search: q.Search, IncludeInactive: q.IncludeInactive && actorFrom(c).IsAdmin()}
	agents, pagination, err := h.agents.ListAgents(c.Request.Context(), filter, q.PageRequest)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondPage(c, agents, pagination)
}

func (h *Handler) GetAgent(c *gin.Context) {
	agent, err := h.agents.GetAgent(c.Request.Context(), c.Param("id"), actorFrom(c).IsAdmin())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "", agent)
}

func (h *Handler) ListApplications(c *gin.Context) {
	var q applicationQuery
	if !h.bindQuery(c, &q) {
		return
	}
	users, pagination, err := h.agents.ListApplications(c.Request.Context(), q.Status, q.PageRequest)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondPage(c, users, pagination)
}

// decideAgent writes the outcome of a reviewer action. A committed
// transition whose profile cascade failed is still a success; the failure is
// reported alongside it.
func (h *Handler) decideAgent(c *gin.Context, message string, decision *services.AgentDecision, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	if decision.CascadeError != "" {
		message += " (agent profile could not be updated)"
	}
	respond(c, http.StatusOK, message, decision)
}

func (h *Handler) ApproveAgent(c *gin.Context) {
	decision, err := h.agents.Approve(c.Request.Context(), c.Param("userId"), actorFrom(c))
	h.decideAgent(c, "Agent application approved", decision, err)
}

func (h *Handler) RejectAgent(c *gin.Context) {
	var req reasonRequest
	if !h.bindJSON(c, &req) {
		return
	}
	decision, err := h.agents.Reject(c.Request.Context(), c.Param("userId"), actorFrom(c), req.Reason)
	h.decideAgent(c, "Agent application rejected", decision, err)
}

func (h *Handler) SuspendAgent(c *gin.Context) {
	var req reasonRequest
	if !h.bindJSON(c, &req) {
		return
	}
	decision, err := h.agents.Suspend(c.Request.Context(), c.Param("userId"), actorFrom(c), req.Reason)
	h.decideAgent(c, "Agent suspended", decision, err)
}

func (h *Handler) ReactivateAgent(c *gin.Context) {
	decision, err := h.agents.Reactivate(c.Request.Context(), c.Param("userId"), actorFrom(c))
	h.decideAgent(c, "Agent reactivated", decision, err)
}

func (h *Handler) ResetAgentApplication(c *gin.Context) {
	decision, err := h.agents.Reset(c.Request.Context(), c.Param("userId"), actorFrom(c))
	h.decideAgent(c, "Agent application reset", decision, err)
}
