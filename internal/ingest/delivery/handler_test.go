package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"noodle-backend/internal/ingest"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	triggered int
	err       error
	last      *ingest.Report
}

func (f *fakeSyncer) TriggerNow() { f.triggered++ }

func (f *fakeSyncer) SyncOnce(context.Context) (*ingest.Report, error) {
	f.last = &ingest.Report{Connector: "imap", Folders: []ingest.FolderReport{{Folder: "INBOX", Fetched: 2, Stored: 2}}}
	return f.last, f.err
}

func (f *fakeSyncer) LastReport() *ingest.Report { return f.last }

func setupRouter(s Syncer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSyncHandler(s)
	r.POST("/api/sync", h.TriggerSync)
	r.GET("/api/sync", h.GetStatus)
	return r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestTriggerSync(t *testing.T) {
	s := &fakeSyncer{}
	r := setupRouter(s)

	w := serve(r, http.MethodPost, "/api/sync")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, s.triggered)

	w = serve(r, http.MethodPost, "/api/sync?wait=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"folder":"INBOX"`)
	assert.Equal(t, 1, s.triggered)

	w = serve(r, http.MethodGet, "/api/sync")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connector":"imap"`)
}

func TestTriggerSync_ReportsErrors(t *testing.T) {
	s := &fakeSyncer{err: errors.New("INBOX: connection reset")}
	w := serve(setupRouter(s), http.MethodPost, "/api/sync?wait=true")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "connection reset")
}

func TestSyncHandler_NoConnector(t *testing.T) {
	r := setupRouter(nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodPost, "/api/sync").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/api/sync").Code)
}
