// Command httpplane runs the HTTP control plane of spec.md §4.7: it fronts
// the browser with room-credential minting, agent dispatch, and a CORS
// proxy to the stateful agent service.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lookatitude/letta-voice-gateway/config"
	"github.com/lookatitude/letta-voice-gateway/core"
	"github.com/lookatitude/letta-voice-gateway/httpapi"
	"github.com/lookatitude/letta-voice-gateway/o11y"
	"github.com/lookatitude/letta-voice-gateway/roomfabric"
)

func main() {
	logger := o11y.NewLogger()
	if err := o11y.InitMeter("httpplane"); err != nil {
		log.Fatalf("httpplane: init meter: %v", err)
	}
	shutdownTracer, err := o11y.InitTracer("httpplane")
	if err != nil {
		log.Fatalf("httpplane: init tracer: %v", err)
	}
	defer shutdownTracer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("httpplane: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("httpplane: invalid config: %v", err)
	}

	fabric := roomfabric.New(cfg.FabricURL, cfg.FabricAPIKey, cfg.FabricAPISecret)
	server := httpapi.New(fabric, cfg.AgentServiceURL, cfg.PrimaryAgentName, httpapi.WithLogger(logger))

	app := core.NewApp()
	app.Register(newHTTPComponent(cfg.HTTPAddr, server))

	logger.Info(ctx, "httpplane starting", "addr", cfg.HTTPAddr)
	if err := app.Start(ctx); err != nil {
		log.Fatalf("httpplane: start: %v", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "httpplane shutdown error", "error", err)
	}
	logger.Info(ctx, "httpplane shut down")
}

// httpComponent adapts httpapi.ListenAndServe, which already blocks until
// its context is cancelled and then shuts down gracefully, into a
// core.Lifecycle so it can run alongside other components under one App.
type httpComponent struct {
	addr   string
	server *httpapi.Server

	cancel context.CancelFunc
	done   chan error
}

func newHTTPComponent(addr string, server *httpapi.Server) *httpComponent {
	return &httpComponent{addr: addr, server: server}
}

func (c *httpComponent) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan error, 1)
	go func() { c.done <- httpapi.ListenAndServe(runCtx, c.addr, c.server) }()
	return nil
}

func (c *httpComponent) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *httpComponent) Health() core.HealthStatus {
	status := core.HealthHealthy
	select {
	case err := <-c.done:
		status = core.HealthUnhealthy
		c.done <- err
	default:
	}
	return core.HealthStatus{Status: status, Message: "http_control_plane", Timestamp: time.Now()}
}
