// Package health exposes the service's dependency checks over the standard
// gRPC health protocol, for load balancers and orchestrators that probe gRPC
// rather than HTTP.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health service name reported for the notebook API.
const ServiceName = "studyforge.Notebooks"

// Prober runs dependency checks. api.HealthHandler satisfies it.
type Prober interface {
	Run(ctx context.Context) (map[string]string, bool)
}

// Server serves grpc.health.v1.Health backed by a Prober.
type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	prober   Prober
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a health server that re-runs the probe every interval.
func NewServer(prober Prober, interval time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{grpc: gs, health: hs, prober: prober, interval: interval, logger: logger}
}

// Refresh runs the probe once and publishes the result. The overall ("")
// and ServiceName statuses follow the aggregate; each check is also published
// under its own name.
func (s *Server) Refresh(ctx context.Context) bool {
	checks, healthy := s.prober.Run(ctx)
	for name, result := range checks {
		s.health.SetServingStatus(name, status(result == "ok"))
	}
	s.health.SetServingStatus("", status(healthy))
	s.health.SetServingStatus(ServiceName, status(healthy))
	return healthy
}

func status(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Serve accepts connections on lis until ctx is cancelled, then marks every
// service NOT_SERVING and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-ticker.C:
				if !s.Refresh(ctx) {
					s.logger.Warn("health probe reported degraded dependencies")
				}
			}
		}
	}()

	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	err := s.grpc.Serve(lis)
	<-done
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}
