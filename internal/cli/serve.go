package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ragguard-ai/ragguard/internal/agent"
	"github.com/ragguard-ai/ragguard/internal/audit"
	"github.com/ragguard-ai/ragguard/internal/auth"
	"github.com/ragguard-ai/ragguard/internal/config"
	"github.com/ragguard-ai/ragguard/internal/judge"
	"github.com/ragguard-ai/ragguard/internal/logging"
	"github.com/ragguard-ai/ragguard/internal/pipeline"
	"github.com/ragguard-ai/ragguard/internal/provider"
	"github.com/ragguard-ai/ragguard/internal/retrieval"
	"github.com/ragguard-ai/ragguard/internal/server"
	"github.com/ragguard-ai/ragguard/internal/telemetry"
	"github.com/ragguard-ai/ragguard/internal/vendorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the RAGGuard HTTP API",
	Long: `Start the HTTP API that the demo UI talks to: vendor inserts, payment
queries with the guardrail on or off, the transaction ledger, and the poison
injection endpoint.`,
	RunE: serveCommand,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	providers, err := provider.FromConfig(cfg)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		return fmt.Errorf("no providers configured; serve needs at least one model provider")
	}

	judgeProvider, err := resolveProvider(cfg, providers, cfg.Judge.Provider)
	if err != nil {
		return fmt.Errorf("judge: %w", err)
	}
	agentProvider, err := resolveProvider(cfg, providers, cfg.Agent.Provider)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open vendor store: %w", err)
	}

	sinks, err := auditSinks(cfg)
	if err != nil {
		return fmt.Errorf("init audit sinks: %w", err)
	}
	emitter := audit.NewEmitter(audit.EmitterConfig{QueueSize: cfg.Audit.BufferSize}, sinks, log)
	defer emitter.Close(context.Background())

	tel, err := telemetry.NewProvider(cmd.Context(), telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Service:  cfg.Telemetry.Service,
		Version:  Version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	}()

	p := pipeline.New(pipeline.Deps{
		Store:     store,
		Retriever: retrieval.New(retrieval.Weights{Name: cfg.Retrieval.NameWeight, Notes: cfg.Retrieval.NotesWeight}),
		Judge:     judge.New(judgeProvider, cfg.Judge.Model, cfg.Judge.Timeout),
		Agent:     agent.New(agentProvider, cfg.Agent.Model, cfg.Agent.Timeout),
		Audit:     emitter,
		Telemetry: tel,
		Log:       log,
	})

	log.Info("starting ragguard",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("vendors", store.Len()),
		zap.Bool("auth", len(cfg.Server.APIKeys) > 0),
	)

	srv := server.New(cfg, auth.NewFromConfig(cfg), p, log)
	return srv.Start(cfg.Server.Addr)
}

// resolveProvider maps an optional per-role provider name to an instance,
// falling back to the configured default.
func resolveProvider(cfg *config.Config, providers map[string]provider.Provider, name string) (provider.Provider, error) {
	if name == "" {
		name = cfg.DefaultProvider
	}
	if name == "" {
		return nil, fmt.Errorf("no provider named and no default_provider set")
	}
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

func openStore(cfg *config.Config) (*vendorstore.Store, error) {
	if cfg.Store.Path == "" {
		return vendorstore.New(), nil
	}
	return vendorstore.Load(cfg.Store.Path)
}

func auditSinks(cfg *config.Config) ([]audit.Sink, error) {
	var sinks []audit.Sink
	if cfg.Audit.File != "" {
		fs, err := audit.NewFileSink(cfg.Audit.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if cfg.Audit.WebhookURL != "" {
		ws, err := audit.NewWebhookSink(cfg.Audit.WebhookURL, 5*time.Second)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ws)
	}
	return sinks, nil
}
