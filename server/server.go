// Package server exposes the candidate query facade over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/navid-fn/obradar/internal/events"
	"github.com/navid-fn/obradar/internal/faulttolerance"
	"github.com/navid-fn/obradar/internal/service"
	"github.com/navid-fn/obradar/server/internal/handler"
	"github.com/navid-fn/obradar/server/internal/router"
)

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators behind the routes. Hub and Health are optional.
type Deps struct {
	Service *service.CandidateService
	Hub     *events.Hub
	Health  *faulttolerance.HealthMonitor
}

// NewHandler builds the gin engine with every route mounted.
func NewHandler(d Deps) http.Handler {
	cfg := &router.Config{
		CandidateHandler: handler.NewCandidateHandler(d.Service),
		Health:           d.Health,
	}
	if d.Hub != nil {
		cfg.StreamHandler = handler.NewStreamHandler(d.Hub)
	}
	return router.NewRouter(cfg)
}

// Run serves h on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, logger *logrus.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("HTTP server listening")
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

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
