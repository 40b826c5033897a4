package delivery

import (
	"context"
	"net/http"

	"noodle-backend/internal/ingest"

	"github.com/gin-gonic/gin"
)

// Syncer is the part of ingest.Syncer the API drives.
type Syncer interface {
	TriggerNow()
	SyncOnce(ctx context.Context) (*ingest.Report, error)
	LastReport() *ingest.Report
}

type SyncHandler struct {
	syncer Syncer
}

// NewSyncHandler accepts a nil syncer; every route then answers 503.
func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

func (h *SyncHandler) available(c *gin.Context) bool {
	if h.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no mail connector configured"})
		return false
	}
	return true
}

// TriggerSync
// POST /api/sync, ?wait=true runs the cycle inline and returns its report
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	if !h.available(c) {
		return
	}
	if c.Query("wait") != "true" {
		h.syncer.TriggerNow()
		c.JSON(http.StatusAccepted, gin.H{"message": "sync triggered"})
		return
	}

	report, err := h.syncer.SyncOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GET /api/sync
func (h *SyncHandler) GetStatus(c *gin.Context) {
	if !h.available(c) {
		return
	}
	report := h.syncer.LastReport()
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"report": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}
