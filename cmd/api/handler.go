package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"noodle-backend/internal/app"
	emailDelivery "noodle-backend/internal/email/delivery"
	graphDelivery "noodle-backend/internal/graph/delivery"
	ingestDelivery "noodle-backend/internal/ingest/delivery"
	promptDelivery "noodle-backend/internal/prompt/delivery"
	systemDelivery "noodle-backend/internal/system/delivery"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

type Handler struct {
	app    *app.App
	router *gin.Engine
	logger *zap.Logger
}

func NewHandler(a *app.App) *Handler {
	if a.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers := Handlers{
		Email:  emailDelivery.NewEmailHandler(a.Emails),
		Graph:  graphDelivery.NewGraphHandler(a.Graph),
		Prompt: promptDelivery.NewPromptHandler(a.Prompts, a.Scheduler),
		System: systemDelivery.NewSystemHandler(a.System),
	}
	if a.Syncer != nil {
		handlers.Sync = ingestDelivery.NewSyncHandler(a.Syncer)
	} else {
		handlers.Sync = ingestDelivery.NewSyncHandler(nil)
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(a.Logger), CORSMiddleware())
	SetupRoutes(r, handlers, a.Config.APIJWTSecret)

	return &Handler{app: a, router: r, logger: a.Logger.Named("api")}
}

func (h *Handler) Router() http.Handler {
	return h.router
}

// Start serves addr until ctx is cancelled, then shuts down gracefully.
func (h *Handler) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("Server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	h.logger.Info("Server shutting down")
	return srv.Shutdown(shutdownCtx)
}
