package services

import (
	"context"
	"testing"
	"time"

	"cleartitle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService(t *testing.T) {
	db := setupTestDB(t)
	logger := testLogger()

	t.Run("Entries are written by the worker", func(t *testing.T) {
		service := NewAuditService(db, logger)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go service.Start(ctx)

		actor := "admin-1"
		service.LogAction(&actor, ActionApprove, "property", "p1", map[string]string{"reason": "ok"}, "127.0.0.1")

		assert.Eventually(t, func() bool {
			var count int64
			db.Model(&models.AuditLog{}).Where("action = ?", ActionApprove).Count(&count)
			return count == 1
		}, time.Second, 10*time.Millisecond)

		var entry models.AuditLog
		require.NoError(t, db.Where("action = ?", ActionApprove).First(&entry).Error)
		assert.Equal(t, "property", entry.EntityType)
		assert.Equal(t, "p1", entry.EntityID)
		assert.Equal(t, "admin-1", *entry.ActorID)
		assert.JSONEq(t, `{"reason":"ok"}`, entry.Details)
	})

	t.Run("Full queue drops instead of blocking", func(t *testing.T) {
		service := NewAuditService(db, logger)
		for i := 0; i < auditQueueSize; i++ {
			service.LogAction(nil, "FILL", "x", "x", nil, "")
		}
		done := make(chan struct{})
		go func() {
			service.LogAction(nil, "DROP", "x", "x", nil, "")
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("LogAction blocked on a full queue")
		}
		assert.Len(t, service.queue, auditQueueSize)
	})

	t.Run("Shutdown drains queued entries", func(t *testing.T) {
		service := NewAuditService(db, logger)
		service.LogAction(nil, "DRAINED", "x", "x", nil, "")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		service.Start(ctx)

		var count int64
		db.Model(&models.AuditLog{}).Where("action = ?", "DRAINED").Count(&count)
		assert.Equal(t, int64(1), count)
	})
}
