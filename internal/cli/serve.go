package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyra-ai/kyra/internal/config"
	"github.com/kyra-ai/kyra/internal/logger"
	"github.com/kyra-ai/kyra/internal/tracing"
	"github.com/kyra-ai/kyra/pkg/agent"
	"github.com/kyra-ai/kyra/pkg/audit"
	"github.com/kyra-ai/kyra/pkg/gateway"
	"github.com/kyra-ai/kyra/pkg/governor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the governor, agent factory and ops gateway",
	Long: `Run the resource governor, agent factory and ops gateway in the
foreground until interrupted. Config changes on disk are applied to the
running governor without a restart.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	log := lg.Zerolog()

	if err := tracing.Init(tracing.Options{ServiceName: "kyra", Version: version}); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	// Audit trail: persistent store plus the gateway event stream
	sinks := audit.MultiSink{}
	if cfg.Audit.Enabled {
		store, err := audit.NewSQLiteStore(audit.SQLiteConfig{
			Path:   cfg.Audit.Path,
			Logger: log,
		})
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		sinks = append(sinks, store)
	}

	var (
		clients     *gateway.ClientRegistry
		broadcaster *gateway.EventBroadcaster
	)
	if cfg.Gateway.Enabled {
		clients = gateway.NewClientRegistry()
		broadcaster = gateway.NewEventBroadcaster(clients, log)
		sinks = append(sinks, gateway.NewEventSink(broadcaster))
	}
	defer sinks.Close()

	gov := governor.New(governor.Config{
		Limits: cfg.Governor,
		Logger: log,
		Sink:   sinks,
	})
	applyTierQuotas(gov, cfg)

	if err := gov.StartMaintenance(); err != nil {
		return fmt.Errorf("failed to start governor maintenance: %w", err)
	}
	defer gov.StopMaintenance()

	var provider agent.Provider
	if cfg.Provider.APIKey != "" {
		provider, err = agent.NewProvider(cfg.Provider)
		if err != nil {
			return fmt.Errorf("failed to construct provider: %w", err)
		}
		log.Info().Str("provider", provider.Name()).Msg("LLM provider configured")
	} else {
		log.Warn().Msg("No provider API key; agents use the local closure heuristic")
	}

	factory, err := agent.NewFactory(agent.FactoryConfig{
		Governor: gov,
		Provider: provider,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("failed to construct agent factory: %w", err)
	}

	var server *gateway.Server
	if cfg.Gateway.Enabled {
		secret := cfg.Gateway.SharedSecret
		if secret == "" {
			return fmt.Errorf("gateway.shared_secret is required when the gateway is enabled")
		}
		server, err = gateway.NewServer(gateway.Config{
			Host:         cfg.Gateway.Host,
			Port:         cfg.Gateway.Port,
			SharedSecret: secret,
			StatusSource: gov,
			Agents:       factory,
			Clients:      clients,
			Broadcaster:  broadcaster,
			Logger:       log,
		})
		if err != nil {
			return fmt.Errorf("failed to construct gateway: %w", err)
		}
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start gateway: %w", err)
		}
	}

	watcher, err := config.NewWatcher(loader, log, func(next *config.Config) {
		gov.ApplyLimits(next.Governor)
		applyTierQuotas(gov, next)
		log.Info().Msg("Governor limits reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher unavailable, hot-reload disabled")
	} else {
		defer watcher.Stop()
	}

	log.Info().Str("version", version).Msg("Kyra is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	factory.TerminateAll(shutdownCtx)
	if server != nil {
		if err := server.Stop(); err != nil {
			log.Error().Err(err).Msg("Gateway shutdown failed")
		}
	}

	return nil
}

func applyTierQuotas(gov *governor.Governor, cfg *config.Config) {
	for tier, quotas := range cfg.Quotas {
		gov.SetTierQuotas(governor.Tier(tier), quotas)
	}
}
