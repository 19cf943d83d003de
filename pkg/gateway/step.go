package gateway

import (
	"context"

	"github.com/cuemby/brokerd/pkg/health"
	"github.com/cuemby/brokerd/pkg/startup"
)

// NewStep builds a startup.Step that starts a gateway Server on its own
// goroutine and stops it on shutdown. Returns nil when enabled is false,
// so a caller building a startup.Process can skip appending it entirely
// (gateway_enabled off means the process never listens on addr at all,
// not a server that immediately reports unhealthy).
func NewStep(enabled bool, addr string, monitor *health.Monitor) *startup.Step {
	if !enabled {
		return nil
	}

	srv := NewServer(addr, monitor)

	return &startup.Step{
		Name: "gateway",
		Startup: func(ctx context.Context) (context.Context, error) {
			go func() {
				if err := srv.Start(); err != nil {
					srv.log.Warn().Err(err).Msg("gateway server stopped")
				}
			}()
			return ctx, nil
		},
		Shutdown: func(ctx context.Context) (context.Context, error) {
			srv.Stop()
			return ctx, nil
		},
	}
}
