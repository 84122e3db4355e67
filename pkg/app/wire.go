package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/chatpilot/internal/budget"
	"github.com/flemzord/chatpilot/internal/channel"
	"github.com/flemzord/chatpilot/internal/coalesce"
	"github.com/flemzord/chatpilot/internal/config"
	"github.com/flemzord/chatpilot/internal/core"
	"github.com/flemzord/chatpilot/internal/cron"
	"github.com/flemzord/chatpilot/internal/dispatch"
	"github.com/flemzord/chatpilot/internal/gate"
	"github.com/flemzord/chatpilot/internal/gateway"
	"github.com/flemzord/chatpilot/internal/history"
	"github.com/flemzord/chatpilot/internal/memory"
	"github.com/flemzord/chatpilot/internal/provider"
	"github.com/flemzord/chatpilot/internal/telemetry"
	"github.com/flemzord/chatpilot/pkg/message"
)

// assistantModule wraps the coalescer and the cron scheduler so both
// participate in the App lifecycle. Stopping the coalescer flushes
// pending bursts, so it must happen before the channels shut down.
type assistantModule struct {
	coalescer *coalesce.Coalescer
	scheduler *cron.Scheduler
}

func (m *assistantModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "assistant"}
}

func (m *assistantModule) Start() error {
	return m.scheduler.Start()
}

func (m *assistantModule) Stop(ctx context.Context) error {
	m.coalescer.Stop()
	return m.scheduler.Stop(ctx)
}

// configReloader re-reads the config file and hands the fresh module
// configs to every reloadable module. Published as "config.reloader" for
// the gateway's reload endpoint and the cron poll job.
type configReloader struct {
	app    *core.App
	appCtx *core.AppContext
	path   string
}

func (r *configReloader) ReloadConfig() error {
	return reloadConfig(r.app, r.appCtx, r.path)
}

// wireAssistant builds the request pipeline from the loaded modules:
// history registry, gate, limiter, retrying transport, memory injector,
// token budget, coalescer, and outbound dispatcher. Must be called after
// LoadModules and before Start.
func wireAssistant(
	app *core.App,
	appCtx *core.AppContext,
	ids []string,
	cfg *config.Config,
	cfgPath string,
	logger *slog.Logger,
) error {
	// Discover channels and the completion backend from loaded modules.
	dispatcher := channel.NewDispatcher()
	var channels []channel.Channel
	var backend provider.Provider

	for _, id := range ids {
		mod, ok := app.Module(id)
		if !ok {
			continue
		}
		if ch, ok := mod.(channel.Channel); ok {
			// Register under the full module ID (e.g. "channel.wsbridge")
			// because that is what the channel sets as ev.Channel on
			// inbound events.
			if err := dispatcher.Register(id, ch); err != nil {
				return fmt.Errorf("registering channel %s: %w", id, err)
			}
			channels = append(channels, ch)
			logger.Info("assistant: registered channel", "channel", id)
		}
		if p, ok := mod.(provider.Provider); ok {
			backend = p
			logger.Info("assistant: discovered provider", "module", id)
		}
	}

	if backend == nil {
		return fmt.Errorf("assistant: a provider module is required")
	}
	if len(channels) == 0 {
		return fmt.Errorf("assistant: at least one channel module is required")
	}

	a := cfg.Assistant

	registry := history.NewRegistry(history.Config{
		ContextRounds:    a.ContextRounds,
		MaxConversations: a.MaxConversations,
		TTL:              a.HistoryTTL,
	})
	g := gate.New()
	// Eviction must skip conversations whose lock is held mid-exchange.
	registry.SetHeldCheck(g.Held)

	transport := provider.NewTransport(backend, provider.RetryConfig{
		MaxRetries:  a.Retry.MaxRetries,
		BaseDelay:   a.Retry.BaseDelay,
		Multiplier:  a.Retry.Multiplier,
		CallTimeout: a.Retry.CallTimeout,
		Logger:      logger,
	})

	// Memory recall is optional: present only when a memory module loaded.
	var injector *memory.Injector
	if svc, ok := appCtx.Service("memory.store"); ok {
		if store, ok := svc.(memory.Store); ok {
			injector = memory.NewInjector(store, a.MemoryFacts, logger)
			logger.Info("assistant: memory recall enabled")
		}
	}

	// Metrics are optional: present only when the gateway loaded.
	var metrics *gateway.Metrics
	if svc, ok := appCtx.Service(gateway.MetricsServiceName); ok {
		metrics, _ = svc.(*gateway.Metrics)
	}

	pipeline := dispatch.NewPipeline(dispatch.PipelineConfig{
		Registry:     registry,
		Gate:         g,
		Limiter:      dispatch.NewLimiter(a.MaxConcurrency),
		Transport:    transport,
		Memory:       injector,
		Plan:         budget.NewPlan(nil, backend.ContextWindowSize()),
		SystemPrompt: a.SystemPrompt,
		Streaming:    a.Streaming,
		MaxTokens:    a.MaxTokens,
		Logger:       logger,
		OnResult: func(_ string, err error, elapsed time.Duration) {
			if metrics == nil {
				return
			}
			outcome := gateway.OutcomeOK
			switch {
			case errors.Is(err, dispatch.ErrNoReply):
				outcome = gateway.OutcomeNoReply
			case err != nil:
				outcome = gateway.OutcomeError
			}
			metrics.RecordExchange(outcome, elapsed)
		},
	})

	// Each merged burst runs as its own exchange so one slow conversation
	// never delays another's flush.
	coalescer := coalesce.New(coalesce.Config{
		MergeWindow: a.MergeWindow,
		MaxWait:     a.MergeMaxWait,
		Logger:      logger,
	}, func(ev message.InboundEvent) {
		go runExchange(dispatcher, pipeline, logger, ev)
	})

	// Wire each channel's inbox to the coalescer.
	for _, ch := range channels {
		ch.SetInbox(func(ev message.InboundEvent) error {
			if metrics != nil {
				metrics.RecordMessage()
			}
			coalescer.Push(ev)
			return nil
		})
	}

	// Register services for the gateway's status and admin surfaces.
	appCtx.RegisterService("history.registry", registry)
	reloader := &configReloader{app: app, appCtx: appCtx, path: cfgPath}
	appCtx.RegisterService("config.reloader", reloader)

	// Background maintenance: hourly stats report, per-minute config poll.
	scheduler := cron.NewScheduler(logger)
	if err := scheduler.RegisterJob(&cron.StatsReportJob{
		Registry:  registry,
		Estimator: budget.CharClassEstimator{},
		Logger:    logger,
	}); err != nil {
		return fmt.Errorf("registering stats job: %w", err)
	}
	if err := scheduler.RegisterJob(&cron.ConfigReloadJob{
		Path:     cfgPath,
		Reloader: reloader,
		Logger:   logger,
	}); err != nil {
		return fmt.Errorf("registering config reload job: %w", err)
	}

	app.AppendModule("assistant", &assistantModule{
		coalescer: coalescer,
		scheduler: scheduler,
	})

	logger.Info("assistant: wired", "channels", len(channels))
	return nil
}

// runExchange executes one pipeline exchange for a merged inbound event
// and routes the reply back through the dispatcher. Errors are logged,
// not surfaced: a failed exchange answers with silence.
func runExchange(
	dispatcher *channel.Dispatcher,
	pipeline *dispatch.Pipeline,
	logger *slog.Logger,
	ev message.InboundEvent,
) {
	conversationID := ev.ConversationID()
	ctx, span := telemetry.StartExchange(context.Background(), conversationID, ev.Channel)
	reply, err := pipeline.Handle(ctx, conversationID, ev.Text)
	telemetry.EndExchange(span, err)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoReply) {
			logger.Debug("exchange produced no reply", "conversation", conversationID)
		} else {
			logger.Error("exchange failed", "conversation", conversationID, "error", err)
		}
		return
	}

	out := message.OutboundReply{
		Channel:   ev.Channel,
		Chat:      ev.Chat,
		Text:      reply,
		ReplyToID: ev.ID,
	}
	if err := dispatcher.Send(ctx, out); err != nil {
		logger.Error("reply delivery failed", "conversation", conversationID, "error", err)
	}
}
