package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"commsync/pkg/banner"
	"commsync/pkg/logger"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	banner.Print(a.cfg, a.source, a.version)
}

// startHTTP builds the handler, starts the HTTP server in a goroutine and
// returns a channel that will contain any server error. The server drains
// gracefully when ctx is canceled.
func (a *App) startHTTP(ctx context.Context) <-chan error {
	mux := http.NewServeMux()
	mux.Handle("/", a.api.Handler())
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}()
	return errCh
}
