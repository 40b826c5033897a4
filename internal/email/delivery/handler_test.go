package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	emaildomain "noodle-backend/internal/email/domain"
	"noodle-backend/internal/email/repository"
	"noodle-backend/internal/email/usecase"
	"noodle-backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmailUsecase struct {
	lastFilter       emaildomain.EmailFilter
	lastInstructions string
	purged           []uint
	reprocessErr     error
}

func (m *mockEmailUsecase) GetEmail(_ context.Context, id uint) (*usecase.EmailDetail, error) {
	if id != 1 {
		return nil, fmt.Errorf("email %d: %w", id, apperrors.ErrNotFound)
	}
	return &usecase.EmailDetail{Email: &emaildomain.Email{ID: 1, Subject: "Budget"}}, nil
}

func (m *mockEmailUsecase) ListEmails(_ context.Context, filter emaildomain.EmailFilter) ([]usecase.EmailSummary, error) {
	m.lastFilter = filter
	return []usecase.EmailSummary{{Email: &emaildomain.Email{ID: 1}}}, nil
}

func (m *mockEmailUsecase) Search(_ context.Context, query string, limit, offset int) ([]usecase.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.Invalid("q", "query is required")
	}
	return []usecase.SearchResult{{SearchHit: repository.SearchHit{EmailID: 1, Subject: "Budget"}}}, nil
}

func (m *mockEmailUsecase) SemanticSearch(context.Context, string, int) ([]usecase.SearchResult, error) {
	return nil, fmt.Errorf("semantic search is not configured: %w", apperrors.ErrUnavailable)
}

func (m *mockEmailUsecase) Stats(context.Context) (*repository.Stats, error) {
	return &repository.Stats{TotalEmails: 7}, nil
}

func (m *mockEmailUsecase) DraftReply(_ context.Context, id uint, instructions string) (*usecase.Draft, error) {
	m.lastInstructions = instructions
	return &usecase.Draft{EmailID: id, Text: "Sure."}, nil
}

func (m *mockEmailUsecase) Purge(_ context.Context, id uint) error {
	m.purged = append(m.purged, id)
	return nil
}

func (m *mockEmailUsecase) Reprocess(_ context.Context, id uint, wait bool) (*usecase.Outcome, error) {
	if !wait {
		return nil, nil
	}
	out := &usecase.Outcome{EmailID: id, State: usecase.StateIndexed}
	if m.reprocessErr != nil {
		out.State = usecase.StateFailed
		return out, m.reprocessErr
	}
	return out, nil
}

func (m *mockEmailUsecase) RebuildIndex(context.Context) (int, error) { return 3, nil }

func setupRouter(uc usecase.EmailUsecase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewEmailHandler(uc)
	r := gin.New()
	api := r.Group("/api")
	api.GET("/emails", h.ListEmails)
	api.GET("/emails/:id", h.GetEmail)
	api.DELETE("/emails/:id", h.PurgeEmail)
	api.POST("/emails/:id/reprocess", h.Reprocess)
	api.POST("/emails/:id/draft", h.DraftReply)
	api.GET("/search", h.Search)
	api.POST("/search/semantic", h.SemanticSearch)
	api.GET("/stats", h.Stats)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestListEmails_ParsesFilter(t *testing.T) {
	uc := &mockEmailUsecase{}
	r := setupRouter(uc)

	w := do(r, http.MethodGet, "/api/emails?folder=INBOX&folder=Sent&since=2026-03-01&needs_response=true&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"INBOX", "Sent"}, uc.lastFilter.Folders)
	require.NotNil(t, uc.lastFilter.Since)
	assert.Equal(t, 2026, uc.lastFilter.Since.Year())
	require.NotNil(t, uc.lastFilter.NeedsResponse)
	assert.True(t, *uc.lastFilter.NeedsResponse)
	assert.Equal(t, 5, uc.lastFilter.Limit)

	w = do(r, http.MethodGet, "/api/emails?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEmail_StatusCodes(t *testing.T) {
	r := setupRouter(&mockEmailUsecase{})

	w := do(r, http.MethodGet, "/api/emails/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail usecase.EmailDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "Budget", detail.Email.Subject)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/emails/2", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/emails/abc", "").Code)
}

func TestPurgeEmail(t *testing.T) {
	uc := &mockEmailUsecase{}
	r := setupRouter(uc)

	w := do(r, http.MethodDelete, "/api/emails/9", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []uint{9}, uc.purged)
}

func TestReprocess(t *testing.T) {
	uc := &mockEmailUsecase{}
	r := setupRouter(uc)

	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/emails/1/reprocess", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/api/emails/1/reprocess?wait=true", "").Code)

	uc.reprocessErr = apperrors.Invalid("payload", "not json")
	w := do(r, http.MethodPost, "/api/emails/1/reprocess?wait=true", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"failed"`)
}

func TestDraftReply(t *testing.T) {
	uc := &mockEmailUsecase{}
	r := setupRouter(uc)

	w := do(r, http.MethodPost, "/api/emails/1/draft", `{"instructions":"decline politely"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "decline politely", uc.lastInstructions)

	w = do(r, http.MethodPost, "/api/emails/1/draft", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearchEndpoints(t *testing.T) {
	r := setupRouter(&mockEmailUsecase{})

	w := do(r, http.MethodGet, "/api/search?q=budget", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"subject":"Budget"`)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/search", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodPost, "/api/search/semantic", `{"query":"budget"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/search/semantic", `{}`).Code)
}

func TestStats(t *testing.T) {
	w := do(setupRouter(&mockEmailUsecase{}), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_emails":7`)
}
