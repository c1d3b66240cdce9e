// Package agora assembles a multi-agent system from configuration: LLM
// providers, agents, an orchestrator with its message bus, shared memory,
// scheduled dispatches, and the HTTP/WebSocket server.
package agora

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aixgo-dev/agora/agent"
	_ "github.com/aixgo-dev/agora/agents" // register the built-in agent kinds
	"github.com/aixgo-dev/agora/internal/observability"
	"github.com/aixgo-dev/agora/memory"
	"github.com/aixgo-dev/agora/orchestrator"
	"github.com/aixgo-dev/agora/pkg/config"
	metrics "github.com/aixgo-dev/agora/pkg/observability"
	"github.com/aixgo-dev/agora/server"
)

// System is a fully assembled agent framework instance.
type System struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	shared memory.Shared
	sched  *orchestrator.Scheduler
	srv    *server.Server
}

// BuildSystem constructs a System from configuration. Agents are created
// through the factory registry and joined to the orchestrator's bus; the
// server is wired but not started.
func BuildSystem(cfg *config.Config) (*System, error) {
	metrics.InitMetrics()
	health := metrics.InitHealthChecker()
	health.RegisterCheck(metrics.PingCheck())

	var busOpts []agent.BusOption
	if cfg.Bus.HistoryLimit > 0 {
		busOpts = append(busOpts, agent.WithHistoryLimit(cfg.Bus.HistoryLimit))
	}
	orch := orchestrator.New(orchestrator.WithBusOptions(busOpts...))

	env := agent.Env{ProviderConfig: cfg.Providers}
	for _, def := range cfg.Agents {
		a, err := agent.Create(def, env)
		if err != nil {
			return nil, fmt.Errorf("failed to create agent %s: %w", def.Name, err)
		}
		orch.AddAgent(a)
		log.Printf("[Runtime] Created agent: %s (role: %s, kind: %s)", def.Name, def.Role, def.Kind)
	}

	shared, err := buildSharedStore(cfg, health)
	if err != nil {
		return nil, err
	}

	var sched *orchestrator.Scheduler
	if len(cfg.Schedules) > 0 {
		sched = orchestrator.NewScheduler(orch)
		for _, s := range cfg.Schedules {
			if _, err := sched.Add(s.Cron, s.Task, orchestrator.Strategy(s.Strategy)); err != nil {
				return nil, fmt.Errorf("failed to schedule %q: %w", s.Task, err)
			}
			log.Printf("[Runtime] Scheduled %q (%s, strategy: %s)", s.Task, s.Cron, s.Strategy)
		}
	}

	srvOpts := []server.Option{
		server.WithAddr(cfg.Server.Addr),
		server.WithProviderConfig(cfg.Providers),
	}
	if cfg.Server.RateLimit.Enabled {
		srvOpts = append(srvOpts, server.WithRateLimit(
			cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst))
	}
	srv := server.New(orch, srvOpts...)

	return &System{
		cfg:    cfg,
		orch:   orch,
		shared: shared,
		sched:  sched,
		srv:    srv,
	}, nil
}

func buildSharedStore(cfg *config.Config, health *metrics.HealthChecker) (memory.Shared, error) {
	switch cfg.SharedMemory.Backend {
	case "redis":
		store, err := memory.NewRedisShared(memory.RedisConfig{
			Addr:     cfg.SharedMemory.Redis.Addr,
			Password: cfg.SharedMemory.Redis.Password,
			DB:       cfg.SharedMemory.Redis.DB,
			Prefix:   cfg.SharedMemory.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect shared memory: %w", err)
		}
		health.RegisterCheck(metrics.RedisCheck(store.Ping))
		return store, nil
	default:
		return memory.NewShared(), nil
	}
}

// Orchestrator returns the system's orchestrator.
func (s *System) Orchestrator() *orchestrator.Orchestrator { return s.orch }

// Shared returns the shared memory store.
func (s *System) Shared() memory.Shared { return s.shared }

// Server returns the HTTP server.
func (s *System) Server() *server.Server { return s.srv }

// Scheduler returns the cron scheduler, or nil when nothing is scheduled.
func (s *System) Scheduler() *orchestrator.Scheduler { return s.sched }

// Close releases resources held by the system without serving.
func (s *System) Close() error {
	if s.sched != nil {
		<-s.sched.Stop().Done()
	}
	return s.shared.Close()
}

// Run loads the configuration at path, builds the system, and serves
// until an interrupt. An empty path uses the built-in default config.
func Run(configPath string) error {
	var cfg *config.Config
	if configPath == "" {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	sys, err := BuildSystem(cfg)
	if err != nil {
		return err
	}
	return sys.RunContext(context.Background())
}

// RunContext starts the scheduler and HTTP server and blocks until the
// context is cancelled, an interrupt arrives, or the server fails. The
// system is shut down gracefully before returning.
func (s *System) RunContext(ctx context.Context) error {
	if err := observability.InitFromEnv(); err != nil {
		log.Printf("[Runtime] WARNING: Failed to initialize tracing: %v", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if s.sched != nil {
		s.sched.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return s.srv.Shutdown(shutdownCtx)
	})

	log.Printf("[Runtime] System started with %d agents. Press Ctrl+C to stop.", len(s.orch.Agents()))
	err := g.Wait()

	if closeErr := s.Close(); closeErr != nil {
		log.Printf("[Runtime] WARNING: Failed to close shared memory: %v", closeErr)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if obsErr := observability.Shutdown(shutdownCtx); obsErr != nil {
		log.Printf("[Runtime] WARNING: Failed to shutdown tracing: %v", obsErr)
	}

	log.Println("[Runtime] System stopped")
	return err
}
