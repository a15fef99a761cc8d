// Package main provides the arena backend binary: the framed RPC listener,
// session registry, and matchmaking engines.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/broadcast"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/dispatch"
	"github.com/cory-johannsen/arena/internal/game/session"
	"github.com/cory-johannsen/arena/internal/gameserver"
	"github.com/cory-johannsen/arena/internal/matchmaking"
	"github.com/cory-johannsen/arena/internal/observability"
	"github.com/cory-johannsen/arena/internal/server"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/internal/transport/tcp"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting arena server", zap.String("rpc_addr", cfg.Listener.Addr()))

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	players := postgres.NewPlayerRepository(pool.DB(), cfg.Database.CacheSize, cfg.Database.CacheTTL)

	jobs, err := gocron.NewScheduler()
	if err != nil {
		logger.Fatal("creating job scheduler", zap.Error(err))
	}
	if err := pool.ScheduleHealthCheck(jobs, cfg.Database.HealthInterval, 5*time.Second, logger); err != nil {
		logger.Fatal("scheduling database health check", zap.Error(err))
	}

	rules, err := matchmaking.LoadRules(cfg.Matchmaking.RulesFile)
	if err != nil {
		logger.Fatal("loading matchmaking rules", zap.Error(err))
	}
	if err := rules.Require(cfg.Matchmaking.RankedMode); err != nil {
		logger.Fatal("ranked mode missing from matchmaking rules",
			zap.String("ranked_mode", cfg.Matchmaking.RankedMode),
			zap.Error(err),
		)
	}
	logger.Info("matchmaking rules loaded", zap.Strings("modes", rules.Names()))

	clock := clockwork.NewRealClock()
	registry := session.NewRegistry(cfg.Session, clock, logger)
	dispatcher := dispatch.New(registry, logger)
	broadcaster := broadcast.New(registry, logger)

	alloc := matchmaking.NewStaticAllocator(cfg.Matchmaking.Servers)
	engines := map[string]*matchmaking.Engine{
		"matchmaking": matchmaking.NewGeneralEngine(cfg.Matchmaking, rules, alloc, clock, logger),
		"ranked":      matchmaking.NewRankedEngine(cfg.Matchmaking, rules, alloc, clock, logger),
		"casual":      matchmaking.NewCasualEngine(cfg.Matchmaking, rules, alloc, clock, logger),
	}

	gameserver.New(registry, broadcaster, players, engines, clock, logger).Register(dispatcher)

	acceptor := tcp.NewAcceptor(cfg.Listener, dispatcher, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)
	lifecycle.Add("db-health", &server.FuncService{
		StartFn: func() error { jobs.Start(); return nil },
		StopFn:  func() { _ = jobs.Shutdown() },
	})
	lifecycle.Add("sessions", &server.FuncService{
		StartFn: registry.Start,
		StopFn:  func() { _ = registry.Close() },
	})
	for name, engine := range engines {
		lifecycle.Add("engine-"+name, &server.FuncService{
			StartFn: func() error { engine.Start(runCtx); return nil },
			StopFn:  engine.Stop,
		})
	}
	lifecycle.Add("rpc", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	logger.Info("arena server initialized", zap.Duration("startup", time.Since(start)))

	if err := lifecycle.Run(runCtx); err != nil {
		logger.Error("arena server stopped with error", zap.Error(err))
	}
}
