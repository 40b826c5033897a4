package delivery

import (
	"net/http"
	"strconv"
	"time"

	emaildomain "noodle-backend/internal/email/domain"
	emaildto "noodle-backend/internal/email/dto"
	"noodle-backend/internal/email/usecase"
	"noodle-backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

type EmailHandler struct {
	emailUsecase usecase.EmailUsecase
}

func NewEmailHandler(emailUsecase usecase.EmailUsecase) *EmailHandler {
	return &EmailHandler{
		emailUsecase: emailUsecase,
	}
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email id"})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

// parseTime accepts RFC 3339 timestamps and plain dates.
func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, apperrors.Invalid("time", "cannot parse %q", v)
}

// ListEmails
// Query: folder (repeatable), since, until, project, needs_response, sentiment (repeatable),
// participant (repeatable), include_excluded, limit, offset
func (h *EmailHandler) ListEmails(c *gin.Context) {
	filter := emaildomain.EmailFilter{
		Folders:         c.QueryArray("folder"),
		Project:         c.Query("project"),
		Sentiments:      c.QueryArray("sentiment"),
		Participants:    c.QueryArray("participant"),
		IncludeExcluded: c.Query("include_excluded") == "true",
		Limit:           queryInt(c, "limit", 20),
		Offset:          queryInt(c, "offset", 0),
	}
	var err error
	if filter.Since, err = parseTime(c.Query("since")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if filter.Until, err = parseTime(c.Query("until")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if v := c.Query("needs_response"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid needs_response"})
			return
		}
		filter.NeedsResponse = &b
	}

	emails, err := h.emailUsecase.ListEmails(c.Request.Context(), filter)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, emaildto.EmailsResponse{
		Emails: emails,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (h *EmailHandler) GetEmail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	detail, err := h.emailUsecase.GetEmail(c.Request.Context(), id)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, detail)
}

// PurgeEmail deletes an email and everything derived from it.
func (h *EmailHandler) PurgeEmail(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.emailUsecase.Purge(c.Request.Context(), id); err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email purged"})
}

// Reprocess queues a forced extraction. With ?wait=true it runs inline.
func (h *EmailHandler) Reprocess(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	wait := c.Query("wait") == "true"

	out, err := h.emailUsecase.Reprocess(c.Request.Context(), id, wait)
	if err != nil && out == nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	resp := emaildto.ReprocessResponse{EmailID: id, Queued: !wait, Outcome: out}
	if err != nil {
		// The email exists; the extraction itself failed.
		resp.Error = err.Error()
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	if !wait {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *EmailHandler) DraftReply(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req emaildto.DraftRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	draft, err := h.emailUsecase.DraftReply(c.Request.Context(), id, req.Instructions)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, draft)
}

// Search runs a ranked full-text query.
// Query: q, limit, offset
func (h *EmailHandler) Search(c *gin.Context) {
	query := c.Query("q")
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	results, err := h.emailUsecase.Search(c.Request.Context(), query, limit, offset)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, emaildto.SearchResponse{Query: query, Results: results, Limit: limit, Offset: offset})
}

func (h *EmailHandler) SemanticSearch(c *gin.Context) {
	var req emaildto.SemanticSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	results, err := h.emailUsecase.SemanticSearch(c.Request.Context(), req.Query, req.Limit)
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, emaildto.SearchResponse{Query: req.Query, Results: results, Limit: req.Limit})
}

func (h *EmailHandler) Stats(c *gin.Context) {
	stats, err := h.emailUsecase.Stats(c.Request.Context())
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *EmailHandler) RebuildIndex(c *gin.Context) {
	n, err := h.emailUsecase.RebuildIndex(c.Request.Context())
	if err != nil {
		c.JSON(apperrors.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": n})
}
