// Package gateway implements the HTTP control dashboard: health and
// status probes, Prometheus metrics, conversation administration, and
// config reload. It also mounts the WebSocket bridge endpoint so the
// whole surface shares one listener.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/internal/history"
	"github.com/flemzord/chatpilot/internal/provider"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Service names resolved or published by the gateway.
const (
	// MetricsServiceName resolves to the gateway's *Metrics.
	MetricsServiceName = "gateway.metrics"

	registryServiceName = "history.registry"
	backendServiceName  = "provider.backend"
	bridgeServiceName   = "channel.wsbridge.handler"
	reloaderServiceName = "config.reloader"
)

// ConfigReloader reloads the application configuration. Published as a
// service by the app wiring.
type ConfigReloader interface {
	ReloadConfig() error
}

// Gateway is the HTTP dashboard module. It is a leaf module resolving
// its collaborators lazily from the service registry at Start.
type Gateway struct {
	config    Config
	appCtx    *core.AppContext
	logger    *slog.Logger
	server    *http.Server
	metrics   *Metrics
	startedAt time.Time

	// Resolved at Start() via service registry.
	registry *history.Registry
	backend  provider.Provider
	reloader ConfigReloader
	bridge   http.Handler
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.metrics = NewMetrics()
	ctx.RegisterService(MetricsServiceName, g.metrics)
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	return nil
}

// Start implements core.Starter. It resolves collaborators from the
// service registry and starts the HTTP server. Missing services degrade
// the corresponding endpoints rather than failing startup.
func (g *Gateway) Start() error {
	g.resolveServices()
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

func (g *Gateway) resolveServices() {
	if svc, ok := g.appCtx.Service(registryServiceName); ok {
		if reg, ok := svc.(*history.Registry); ok {
			g.registry = reg
			g.metrics.ObserveConversations(func() float64 {
				return float64(reg.Len())
			})
		}
	}
	if svc, ok := g.appCtx.Service(backendServiceName); ok {
		if p, ok := svc.(provider.Provider); ok {
			g.backend = p
		}
	}
	if svc, ok := g.appCtx.Service(reloaderServiceName); ok {
		if r, ok := svc.(ConfigReloader); ok {
			g.reloader = r
		}
	}
	if svc, ok := g.appCtx.Service(bridgeServiceName); ok {
		if h, ok := svc.(http.Handler); ok {
			g.bridge = h
		}
	}
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
