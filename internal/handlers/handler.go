package handlers

import (
	"log/slog"

	"cleartitle/internal/config"
	"cleartitle/internal/services"
)

// Services bundles the collaborators the HTTP layer dispatches to.
type Services struct {
	Users     *services.UserService
	Listings  *services.ListingService
	Approval  *services.ApprovalService
	Agents    *services.AgentService
	Batches   *services.BatchService
	Clicks    *services.ClickService
	Analytics *services.AnalyticsService
	Enquiries *services.EnquiryService
}

type Handler struct {
	cfg       config.Config
	logger    *slog.Logger
	users     *services.UserService
	listings  *services.ListingService
	approval  *services.ApprovalService
	agents    *services.AgentService
	batches   *services.BatchService
	clicks    *services.ClickService
	analytics *services.AnalyticsService
	enquiries *services.EnquiryService
}

func NewHandler(cfg config.Config, logger *slog.Logger, svc Services) *Handler {
	return &Handler{
		cfg:       cfg,
		logger:    logger,
		users:     svc.Users,
		listings:  svc.Listings,
		approval:  svc.Approval,
		agents:    svc.Agents,
		batches:   svc.Batches,
		clicks:    svc.Clicks,
		analytics: svc.Analytics,
		enquiries: svc.Enquiries,
	}
}
