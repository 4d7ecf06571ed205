package handlers

import (
	"net/http"

	"cleartitle/internal/middleware"
	"cleartitle/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter wires the API. limiter throttles the unauthenticated write
// endpoints (auth, clicks, enquiries) and may be nil.
func (h *Handler) SetupRouter(limiter middleware.Limiter) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(h.cfg.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	throttled := middleware.RateLimit(limiter)

	api := r.Group("/api")
	api.Use(h.Authenticate())
	{
		api.POST("/auth/register", throttled, h.Register)
		api.POST("/auth/login", throttled, h.Login)
		api.POST("/clicks", throttled, h.TrackClick)
		api.POST("/enquiries", throttled, h.CreateEnquiry)

		api.GET("/agents", h.ListAgents)
		api.GET("/agents/:id", h.GetAgent)
		api.GET("/batches", h.ListBatches)
		api.GET("/batches/:id", h.GetBatch)

		h.listingRoutes(api, models.EntityProperty)
		h.listingRoutes(api, models.EntityPropertyUnit)
	}

	authed := api.Group("")
	authed.Use(h.RequireAuth())
	{
		authed.GET("/me", h.Me)
		authed.PUT("/me", h.UpdateMe)
		authed.GET("/me/likes", h.MyLikes)
		authed.GET("/my/listings", h.MyListings)
		authed.POST("/properties/:id/like", h.ToggleLike)
		authed.POST("/agents/apply", h.ApplyForAgent)
		authed.GET("/enquiries", h.ListEnquiries)
		authed.PATCH("/enquiries/:id/status", h.UpdateEnquiryStatus)
	}

	admin := api.Group("/admin")
	admin.Use(h.RequireAdmin())
	{
		admin.PATCH("/listings/:kind/:id/approve", h.ApproveListing)
		admin.PATCH("/listings/:kind/:id/reject", h.RejectListing)
		admin.PATCH("/listings/:kind/:id/reset", h.ResetListing)
		admin.PATCH("/listings/:kind/:id/featured", h.ToggleFeatured)
		admin.PATCH("/listings/:kind/:id/verified", h.SetVerified)
		admin.POST("/listings/:kind/bulk-approve", h.BulkApprove)
		admin.POST("/listings/:kind/bulk-reject", h.BulkReject)

		admin.GET("/agents/applications", h.ListApplications)
		admin.PATCH("/agents/:userId/approve", h.ApproveAgent)
		admin.PATCH("/agents/:userId/reject", h.RejectAgent)
		admin.PATCH("/agents/:userId/suspend", h.SuspendAgent)
		admin.PATCH("/agents/:userId/reactivate", h.ReactivateAgent)
		admin.PATCH("/agents/:userId/reset", h.ResetAgentApplication)

		admin.POST("/batches", h.CreateBatch)
		admin.POST("/batches/:id/members", h.AddBatchMembers)
		admin.DELETE("/batches/:id/members/:unitId", h.RemoveBatchMember)
		admin.DELETE("/batches/:id", h.DeleteBatch)

		admin.GET("/analytics/clicks", h.ClickAnalytics)
		admin.GET("/analytics/top", h.TopItems)
		admin.GET("/analytics/listings", h.ListingStatistics)
		admin.GET("/analytics/users-likes", h.UsersWithLikes)

		admin.PATCH("/users/:id/toggle-active", h.ToggleUserActive)
	}

	return r
}

func (h *Handler) listingRoutes(api *gin.RouterGroup, kind models.EntityType) {
	g := api.Group("/" + kind.Segment())
	g.GET("", h.ListListings(kind))
	g.GET("/:id", h.GetListing(kind))
	g.GET("/:id/qr", h.ListingQR(kind))
	g.POST("", h.RequireAuth(), h.CreateListing(kind))
	g.PUT("/:id", h.RequireAuth(), h.UpdateListing(kind))
	g.DELETE("/:id", h.RequireAuth(), h.DeleteListing(kind))
}
