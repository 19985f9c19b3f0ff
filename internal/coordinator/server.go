package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server wraps a Coordinator's HTTP router with a real net/http.Server and
// an errgroup-driven graceful shutdown. Metrics are served on a second,
// independent listener so a slow scrape or a misconfigured firewall rule on
// one surface can never affect the other.
type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
}

// NewServer builds a Server bound to addr, serving c's router. When
// metricsAddr is non-empty, Prometheus /metrics is additionally served on
// its own listener at metricsAddr; an empty metricsAddr disables it.
func NewServer(addr string, c *Coordinator, metricsAddr string) *Server {
	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           c.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.MetricsHandler())
		s.metricsServer = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully within
// shutdownGrace. It returns nil on a clean shutdown.
func (s *Server) Run(ctx context.Context, shutdownGrace time.Duration) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("coordinator http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	if s.metricsServer != nil {
		group.Go(func() error {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("coordinator metrics server: %w", err)
			}
			return nil
		})

		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return s.metricsServer.Shutdown(shutdownCtx)
		})
	}

	return group.Wait()
}
