package policy

import (
	"log/slog"
	"os"
	"testing"

	"cleartitle/internal/apperr"
	"cleartitle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedAction struct {
	actorID *string
	action  string
	entity  string
	id      string
	details interface{}
}

type fakeAuditor struct {
	actions []recordedAction
}

func (f *fakeAuditor) LogAction(actorID *string, action string, entityType string, entityID string, details interface{}, ip string) {
	f.actions = append(f.actions, recordedAction{actorID, action, entityType, entityID, details})
}

func newTestGuard() (*Guard, *fakeAuditor) {
	audit := &fakeAuditor{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewGuard(logger, audit), audit
}

func TestActorFor(t *testing.T) {
	owner := Actor{ID: "u1", AccountRole: models.RoleUser}
	admin := Actor{ID: "a1", AccountRole: models.RoleAdmin}

	assert.Equal(t, RoleOwner, owner.For("u1").Role)
	assert.Equal(t, RoleAnonymous, owner.For("u2").Role)
	assert.Equal(t, RoleAdmin, admin.For("u1").Role)
	assert.Equal(t, RoleAnonymous, Anonymous("1.2.3.4").For("").Role)
	assert.Equal(t, RoleAnonymous, Actor{}.For("").Role, "empty ids never match")
	assert.Nil(t, Actor{}.IDPtr())
	assert.Equal(t, "u1", *owner.IDPtr())
}

func TestSanitize_NonAdmin(t *testing.T) {
	guard, audit := newTestGuard()
	owner := Actor{ID: "u1", AccountRole: models.RoleUser}.For("u1")

	t.Run("Privileged fields are forced to safe defaults", func(t *testing.T) {
		in := map[string]any{
			"title":          "Sea view flat",
			"approvalStatus": "approved",
			"isFeatured":     true,
		}
		out, err := guard.Sanitize(owner, in, models.EntityPropertyUnit, "pu1")
		require.NoError(t, err)

		assert.Equal(t, "Sea view flat", out["title"])
		assert.Equal(t, "pending", out["approvalStatus"])
		assert.Equal(t, false, out["isFeatured"])
		assert.Equal(t, false, out["isVerified"])
		assert.Equal(t, "", out["rejectionReason"])
		assert.Equal(t, "approved", in["approvalStatus"], "input is not mutated")

		require.Len(t, audit.actions, 1)
		assert.Equal(t, ActionPrivilegedFieldsStripped, audit.actions[0].action)
		assert.Equal(t, "property_unit", audit.actions[0].entity)
		assert.Equal(t, map[string]interface{}{"fields": []string{"approvalStatus", "isFeatured"}}, audit.actions[0].details)
	})

	t.Run("Clean payload is not logged", func(t *testing.T) {
		audit.actions = nil
		out, err := guard.Sanitize(owner, map[string]any{"price": 10.0}, models.EntityProperty, "p1")
		require.NoError(t, err)
		assert.Equal(t, "pending", out["approvalStatus"])
		assert.Empty(t, audit.actions)
	})

	t.Run("Anonymous is forbidden", func(t *testing.T) {
		stranger := Actor{ID: "u2", AccountRole: models.RoleUser}.For("u1")
		_, err := guard.Sanitize(stranger, map[string]any{"title": "x"}, models.EntityProperty, "p1")
		assert.True(t, apperr.Is(err, apperr.KindForbidden))
	})

	t.Run("Same guard applies to every listing kind", func(t *testing.T) {
		for _, kind := range models.ListingKinds {
			out, err := guard.Sanitize(owner, map[string]any{"isVerified": true}, kind, "x")
			require.NoError(t, err)
			assert.Equal(t, false, out["isVerified"], string(kind))
		}
	})
}

func TestSanitize_Admin(t *testing.T) {
	guard, audit := newTestGuard()
	admin := Actor{ID: "a1", AccountRole: models.RoleAdmin}.For("u1")

	t.Run("Privileged fields honoured", func(t *testing.T) {
		out, err := guard.Sanitize(admin, map[string]any{"approvalStatus": "approved", "isFeatured": true, "isVerified": true}, models.EntityProperty, "p1")
		require.NoError(t, err)
		assert.Equal(t, "approved", out["approvalStatus"])
		assert.Equal(t, true, out["isFeatured"])
		assert.Equal(t, true, out["isVerified"])
		assert.Equal(t, "", out["rejectionReason"])
		assert.Empty(t, audit.actions)
	})

	t.Run("Rejected requires a reason", func(t *testing.T) {
		_, err := guard.Sanitize(admin, map[string]any{"approvalStatus": "rejected"}, models.EntityProperty, "p1")
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		out, err := guard.Sanitize(admin, map[string]any{"approvalStatus": "rejected", "rejectionReason": " blurry photos ", "isFeatured": false}, models.EntityProperty, "p1")
		require.NoError(t, err)
		assert.Equal(t, "blurry photos", out["rejectionReason"])
		assert.Equal(t, false, out["isFeatured"])
	})

	t.Run("Featured requires approved", func(t *testing.T) {
		_, err := guard.Sanitize(admin, map[string]any{"approvalStatus": "pending", "isFeatured": true}, models.EntityProperty, "p1")
		assert.True(t, apperr.Is(err, apperr.KindPreconditionFailed))
	})

	t.Run("Reason without status rejected", func(t *testing.T) {
		_, err := guard.Sanitize(admin, map[string]any{"rejectionReason": "spam"}, models.EntityProperty, "p1")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("Invalid values", func(t *testing.T) {
		_, err := guard.Sanitize(admin, map[string]any{"approvalStatus": "suspended"}, models.EntityProperty, "p1")
		assert.True(t, apperr.Is(err, apperr.KindValidation))

		_, err = guard.Sanitize(admin, map[string]any{"isFeatured": "yes"}, models.EntityProperty, "p1")
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("Featured flag alone is passed through", func(t *testing.T) {
		out, err := guard.Sanitize(admin, map[string]any{"isFeatured": true}, models.EntityProperty, "p1")
		require.NoError(t, err)
		assert.Equal(t, true, out["isFeatured"])
		_, hasStatus := out["approvalStatus"]
		assert.False(t, hasStatus)
	})
}
