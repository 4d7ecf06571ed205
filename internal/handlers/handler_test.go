package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cleartitle/internal/config"
	"cleartitle/internal/middleware"
	"cleartitle/internal/policy"
	"cleartitle/internal/repository"
	"cleartitle/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testAdminEmail    = "admin@cleartitle.test"
	testAdminPassword = "admin-password-1"
)

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	clicks *services.ClickService
}

type testResponse struct {
	Success    bool                 `json:"success"`
	Message    string               `json:"message"`
	Data       json.RawMessage      `json:"data"`
	Pagination *services.Pagination `json:"pagination"`
	Kind       string               `json:"kind"`
	Detail     string               `json:"detail"`
}

func newTestEnv(t *testing.T, limiter middleware.Limiter) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		AppEnv:        "test",
		DatabaseURL:   "sqlite://:memory:",
		JWTSecret:     "handler-test-secret-0123456789",
		PublicBaseURL: "https://cleartitle.test",
	}
	db, err := repository.InitDB(cfg)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := services.NewAuditService(db, logger)
	tokens, err := services.NewTokenIssuer(cfg.JWTSecret, time.Hour)
	require.NoError(t, err)

	users := services.NewUserService(db, logger, audit, tokens)
	require.NoError(t, users.EnsureAdmin(context.Background(), testAdminEmail, testAdminPassword))

	batches := services.NewBatchService(db, logger, audit)
	listings := services.NewListingService(db, logger, policy.NewGuard(logger, audit),
		services.DisabledStorage{}, nil, audit, services.NewQRService(), cfg.PublicBaseURL)
	listings.OnDelete(batches.DetachUnit)
	clicks := services.NewClickService(db, logger, services.NewGeoResolver(cfg, logger))

	h := NewHandler(cfg, logger, Services{
		Users:     users,
		Listings:  listings,
		Approval:  services.NewApprovalService(db, logger, audit, nil),
		Agents:    services.NewAgentService(db, logger, audit, repository.NewCounters(db)),
		Batches:   batches,
		Clicks:    clicks,
		Analytics: services.NewAnalyticsService(db, logger, 0),
		Enquiries: services.NewEnquiryService(db, logger),
	})
	return &testEnv{db: db, router: h.SetupRouter(limiter), clicks: clicks}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) testResponse {
	t.Helper()
	var resp testResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	resp := decode(t, w)
	require.True(t, resp.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

type sessionData struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
}

func (e *testEnv) register(t *testing.T, name, email string) sessionData {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{
		"name": name, "email": email, "password": "password-123",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s sessionData
	decodeData(t, w, &s)
	return s
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": testAdminEmail, "password": testAdminPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var s sessionData
	decodeData(t, w, &s)
	return s.Token
}

type listingData struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	OwnerID         string `json:"ownerId"`
	ApprovalStatus  string `json:"approvalStatus"`
	IsFeatured      bool   `json:"isFeatured"`
	IsVerified      bool   `json:"isVerified"`
	RejectionReason string `json:"rejectionReason"`
}

func (e *testEnv) createListing(t *testing.T, segment, token string, fields gin.H) listingData {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/"+segment, token, fields)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var l listingData
	decodeData(t, w, &l)
	return l
}
