package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"noodle-backend/internal/prompt/domain"
	"noodle-backend/internal/prompt/repository"
	"noodle-backend/internal/prompt/usecase"
	"noodle-backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

const maxImportBytes = 1 << 20

// NextDuer reports when a scheduled prompt runs next.
type NextDuer interface {
	NextDue(ctx context.Context, p *domain.Prompt) (*time.Time, error)
}

type PromptHandler struct {
	promptUsecase usecase.PromptUsecase
	scheduler     NextDuer
}

// NewPromptHandler creates a handler. scheduler may be nil.
func NewPromptHandler(promptUsecase usecase.PromptUsecase, scheduler NextDuer) *PromptHandler {
	return &PromptHandler{
		promptUsecase: promptUsecase,
		scheduler:     scheduler,
	}
}

// respond renders p, adding next_due for enabled scheduled prompts.
func (h *PromptHandler) respond(c *gin.Context, p *domain.Prompt) interface{} {
	if h.scheduler == nil || !p.Enabled || !p.IsScheduled() {
		return p
	}
	next, err := h.scheduler.NextDue(c.Request.Context(), p)
	if err != nil || next == nil {
		return p
	}
	b, err := json.Marshal(p)
	if err != nil {
		return p
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return p
	}
	out["next_due"] = next
	return out
}

func writeError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	if errors.Is(err, repository.ErrRunActive) {
		c.JSON(status, gin.H{"error": err.Error(), "code": "run_active"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *PromptHandler) ListPrompts(c *gin.Context) {
	prompts, err := h.promptUsecase.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]interface{}, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, h.respond(c, p))
	}
	c.JSON(http.StatusOK, gin.H{"prompts": out})
}

func (h *PromptHandler) GetPrompt(c *gin.Context) {
	p, err := h.promptUsecase.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.respond(c, p))
}

func (h *PromptHandler) CreatePrompt(c *gin.Context) {
	var in usecase.PromptInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.promptUsecase.Create(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.respond(c, p))
}

func (h *PromptHandler) UpdatePrompt(c *gin.Context) {
	var in usecase.PromptInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.promptUsecase.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.respond(c, p))
}

func (h *PromptHandler) DeletePrompt(c *gin.Context) {
	if err := h.promptUsecase.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "prompt deleted"})
}

// ImportPrompts takes a YAML document as the raw request body.
func (h *PromptHandler) ImportPrompts(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	prompts, err := h.promptUsecase.Import(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": len(prompts), "prompts": prompts})
}

// RunPrompt starts a manual run. With ?wait=true the response carries the finished run.
func (h *PromptHandler) RunPrompt(c *gin.Context) {
	wait := c.Query("wait") == "true"
	run, err := h.promptUsecase.RunNow(c.Request.Context(), c.Param("id"), wait)
	if err != nil {
		writeError(c, err)
		return
	}
	if !wait {
		c.JSON(http.StatusAccepted, run)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *PromptHandler) ListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	runs, err := h.promptUsecase.Runs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
