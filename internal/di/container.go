// Package di is the composition root shared by the CLI and the server
// binary: it turns a config.Config into a wired object graph.
package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"foreman/internal/agent/app/coordinator"
	"foreman/internal/agent/domain"
	"foreman/internal/agent/ports"
	"foreman/internal/config"
	"foreman/internal/executor"
	"foreman/internal/llm"
	"foreman/internal/logging"
	"foreman/internal/observability"
	"foreman/internal/quality"
	"foreman/internal/recall"
	"foreman/internal/security"
	"foreman/internal/session"
	"foreman/internal/supervise"
	"foreman/internal/tools"
	"foreman/internal/verify"
)

// Options adjust the graph for the hosting binary.
type Options struct {
	// Approver handles batch confirmations; nil means no approval gate.
	Approver ports.ApprovalHandler

	// Listener receives every orchestration event (server broadcaster).
	Listener ports.EventListener

	// Sink receives status transitions and chunks (CLI printer).
	Sink ports.StatusSink

	// Completion overrides the provider, used by tests and offline mode.
	Completion ports.CompletionService

	// Logger overrides the default stderr logger.
	Logger logging.Logger
}

// Container holds the wired application graph.
type Container struct {
	Config      config.Config
	Logger      logging.Logger
	Completion  ports.CompletionService
	Registry    *tools.Registry
	Supervisor  *supervise.Supervisor
	Executor    *executor.Executor
	Coordinator *coordinator.Coordinator
	Sessions    *session.Store
	Recall      *recall.Store
	Metrics     *observability.Metrics
	Meter       *observability.Meter
	Tracer      *observability.TracerProvider
	Prometheus  *prometheus.Registry
}

// BuildContainer wires the full graph from configuration.
func BuildContainer(cfg config.Config, opts Options) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(cfg.LogLevel, os.Stderr)
	}

	// Observability
	promReg := prometheus.NewRegistry()
	metrics := observability.MustNewMetrics(promReg)
	meter, err := observability.NewMeter(promReg)
	if err != nil {
		return nil, fmt.Errorf("build meter: %w", err)
	}
	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		Exporter:       cfg.Observability.TraceExporter,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		ZipkinEndpoint: cfg.Observability.ZipkinEndpoint,
		SampleRate:     cfg.Observability.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("build tracer: %w", err)
	}

	// Completion provider
	completion := opts.Completion
	if completion == nil {
		completion = llm.New(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
			MaxRetries:  cfg.LLM.MaxRetries,
			Temperature: cfg.LLM.Temperature,
		}, logging.NewComponentLogger("llm"))
	}

	// Security policies
	policies := security.NewPolicyRegistry()
	for worker, policy := range cfg.Policies {
		policies.Set(worker, policy)
	}

	// Tools and execution
	registry := tools.NewRegistry(tools.Options{
		WorkspaceRoot: cfg.WorkspaceRoot,
		Policies:      policies,
		ShellTimeout:  cfg.Executor.ShellTimeout,
		Logger:        logging.NewComponentLogger("tools"),
	})
	supervisor := supervise.New(cfg.Supervise, logging.NewComponentLogger("supervise"))
	exec := executor.New(executor.Options{
		Registry:   registry,
		Supervisor: supervisor,
		Policies:   policies,
		Approver:   opts.Approver,
		Sink:       opts.Sink,
		Listener:   opts.Listener,
		Metrics:    metrics,
		Logger:     logging.NewComponentLogger("executor"),
		Config: executor.Config{
			ToolMaxConcurrent: cfg.Executor.ToolMaxConcurrent,
			StatusResetDelay:  cfg.Executor.StatusResetDelay,
			ApprovalTimeout:   cfg.Executor.ApprovalTimeout,
			AdapterCacheSize:  cfg.Executor.AdapterCacheSize,
		},
	})

	// Memory
	sessions, err := session.NewStore(cfg.SessionDir, logging.NewComponentLogger("session"))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	var recallStore *recall.Store
	if cfg.Recall.Enabled {
		recallStore, err = recall.NewStore(recall.Config{
			PersistPath: cfg.Recall.PersistDir,
			TopK:        cfg.Recall.TopK,
		}, nil, logging.NewComponentLogger("recall"))
		if err != nil {
			return nil, fmt.Errorf("open recall store: %w", err)
		}
	}

	// Domain
	decision := domain.NewDecisionEngine(completion, tracer, metrics, logging.NewComponentLogger("decision"))
	pipeline := quality.New(quality.Options{
		Completion: completion,
		Tracer:     tracer,
		Logger:     logging.NewComponentLogger("quality"),
		MaxTokens:  cfg.MaxTokens,
	})
	verifyLoop := verify.NewLoop(verify.LoopOptions{
		Completion: completion,
		Tracer:     tracer,
		Metrics:    metrics,
		Logger:     logging.NewComponentLogger("verify"),
	})

	coord := coordinator.New(coordinator.Options{
		Decision:   decision,
		Completion: completion,
		Workers: func(role string, control executor.ControlMode, sink ports.StatusSink) *domain.Worker {
			return domain.NewWorker(role, domain.WorkerOptions{
				Completion:    completion,
				Executor:      exec,
				Tools:         registry.ForWorker(role).List(),
				Sink:          sink,
				Tracer:        tracer,
				Logger:        logging.NewComponentLogger("worker"),
				MaxIterations: cfg.MaxIterations,
				TokenBudget:   cfg.MaxTokens,
				MaxTokens:     cfg.MaxTokens,
				Control:       control,
			})
		},
		Pipeline:   pipeline,
		Verify:     verifyLoop,
		Supervisor: supervisor,
		Recall:     recallStore,
		Listener:   opts.Listener,
		Metrics:    metrics,
		Logger:     logging.NewComponentLogger("coordinator"),
		VerifyOptions: verify.Options{
			MaxRetries:     cfg.Verify.MaxRetries,
			EnableRollback: cfg.Verify.EnableRollback,
		},
	})

	return &Container{
		Config:      cfg,
		Logger:      logger,
		Completion:  completion,
		Registry:    registry,
		Supervisor:  supervisor,
		Executor:    exec,
		Coordinator: coord,
		Sessions:    sessions,
		Recall:      recallStore,
		Metrics:     metrics,
		Meter:       meter,
		Tracer:      tracer,
		Prometheus:  promReg,
	}, nil
}

// Close flushes observability state.
func (c *Container) Close(ctx context.Context) error {
	c.Executor.Reset()
	if err := c.Meter.Shutdown(ctx); err != nil {
		return err
	}
	return c.Tracer.Shutdown(ctx)
}
