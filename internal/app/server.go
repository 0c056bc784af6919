package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"visionrelay/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func newServer(ctx context.Context, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the app, so open video feeds stop on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

// serve runs srv inside g and shuts it down gracefully once ctx is done.
func serve(ctx context.Context, g *errgroup.Group, srv *http.Server, log *logger.Logger) {
	g.Go(func() error {
		log.Info("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warning("Graceful shutdown incomplete: %v", err)
		}
		return nil
	})
}
