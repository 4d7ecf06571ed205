package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterLoginAndMe(t *testing.T) {
	env := newTestEnv(t, nil)

	session := env.register(t, "Alice", "alice@example.com")
	require.NotEmpty(t, session.Token)
	assert.Equal(t, "user", session.User.Role)

	w := env.do(t, http.MethodGet, "/api/me", session.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	decodeData(t, w, &me)
	assert.Equal(t, session.User.ID, me.ID)
	assert.Equal(t, "alice@example.com", me.Email)

	w = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ALICE@example.com", "password": "password-123"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w).Kind)

	w = env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Again", "email": "alice@example.com", "password": "password-123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "CONFLICT", decode(t, w).Kind)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Bob", "email": "not-an-email", "password": "password-123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "VALIDATION_ERROR", resp.Kind)

	w = env.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"name": "Bob", "email": "bob@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMeRequiresValidToken(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/api/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, w).Kind)

	// A bad token is rejected even on public routes.
	w = env.do(t, http.MethodGet, "/api/properties", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateMe(t *testing.T) {
	env := newTestEnv(t, nil)
	session := env.register(t, "Carol", "carol@example.com")

	w := env.do(t, http.MethodPut, "/api/me", session.Token, gin.H{"name": "  Carol Jones ", "phone": "555-0100"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var me struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Role  string `json:"role"`
	}
	decodeData(t, w, &me)
	assert.Equal(t, "Carol Jones", me.Name)
	assert.Equal(t, "555-0100", me.Phone)
	assert.Equal(t, "user", me.Role)

	w = env.do(t, http.MethodPut, "/api/me", session.Token, gin.H{"name": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToggleUserActive(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.adminToken(t)
	user := env.register(t, "Dave", "dave@example.com")

	w := env.do(t, http.MethodPatch, "/api/admin/users/"+user.User.ID+"/toggle-active", user.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPatch, "/api/admin/users/"+user.User.ID+"/toggle-active", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var toggled struct {
		IsActive bool `json:"isActive"`
	}
	decodeData(t, w, &toggled)
	assert.False(t, toggled.IsActive)

	w = env.do(t, http.MethodGet, "/api/me", user.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPatch, "/api/admin/users/missing/toggle-active", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
