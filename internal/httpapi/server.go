package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CreateServer creates an HTTP server for the front with production
// timeout values. The write timeout is generous because photo responses
// stream upstream bodies through.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// ShutdownServer gracefully shuts down srv, waiting up to timeout for
// active connections to finish.
func ShutdownServer(srv *http.Server, timeout time.Duration, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown error", zap.String("addr", srv.Addr), zap.Error(err))
		return err
	}
	log.Info("HTTP server shutdown complete", zap.String("addr", srv.Addr))
	return nil
}
