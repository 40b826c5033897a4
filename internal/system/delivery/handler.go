package delivery

import (
	"net/http"
	"strconv"
	"time"

	"noodle-backend/internal/system/domain"
	"noodle-backend/internal/system/usecase"
	"noodle-backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

type SystemHandler struct {
	systemUsecase usecase.SystemUsecase
}

func NewSystemHandler(systemUsecase usecase.SystemUsecase) *SystemHandler {
	return &SystemHandler{systemUsecase: systemUsecase}
}

func writeError(c *gin.Context, err error) {
	c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
}

// ListLogs
// Query: level (minimum), component, since (RFC 3339), limit
func (h *SystemHandler) ListLogs(c *gin.Context) {
	filter := domain.LogFilter{
		Level:     c.Query("level"),
		Component: c.Query("component"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		filter.Since = &t
	}

	logs, err := h.systemUsecase.Logs(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// PruneLogs
// Query: older_than (Go duration, default 720h)
func (h *SystemHandler) PruneLogs(c *gin.Context) {
	olderThan, err := time.ParseDuration(c.DefaultQuery("older_than", "720h"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid older_than"})
		return
	}
	n, err := h.systemUsecase.PruneLogs(c.Request.Context(), olderThan)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *SystemHandler) ListSettings(c *gin.Context) {
	settings, err := h.systemUsecase.ListSettings(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *SystemHandler) GetSetting(c *gin.Context) {
	s, err := h.systemUsecase.GetSetting(c.Request.Context(), c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type setSettingRequest struct {
	Value *string `json:"value" binding:"required"`
}

func (h *SystemHandler) SetSetting(c *gin.Context) {
	var req setSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.systemUsecase.SetSetting(c.Request.Context(), c.Param("key"), *req.Value)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// GetOllamaSettings returns current Ollama configuration
// GET /api/settings/ollama
func (h *SystemHandler) GetOllamaSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.systemUsecase.Ollama())
}

// UpdateOllamaSettings persists and applies new Ollama settings
// PUT /api/settings/ollama
func (h *SystemHandler) UpdateOllamaSettings(c *gin.Context) {
	var req usecase.OllamaSettings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	current, err := h.systemUsecase.UpdateOllama(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":         "Ollama settings updated successfully",
		"ollama_base_url": current.BaseURL,
		"ollama_model":    current.Model,
	})
}

// TestOllamaConnection tests if the Ollama server is reachable
// POST /api/settings/ollama/test
func (h *SystemHandler) TestOllamaConnection(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
	}
	// An empty body tests the current URL.
	_ = c.ShouldBindJSON(&req)

	result := h.systemUsecase.TestOllama(c.Request.Context(), req.OllamaBaseURL)
	status := http.StatusOK
	if !result.Connected {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}
