package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Worker is a background loop that runs until its context is cancelled.
type Worker func(ctx context.Context) error

// Run serves handler on addr alongside the workers until ctx is cancelled or
// one of them fails, then shuts the server down gracefully.
func Run(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler, workers ...Worker) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, logger, ln, handler, workers...)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, logger *slog.Logger, ln net.Listener, handler http.Handler, workers ...Worker) error {
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		logger.Info("server stopped")
		return err
	})
	for _, w := range workers {
		g.Go(func() error {
			if err := w(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
