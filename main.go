package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-core/internal/analyzer"
	"signal-core/internal/api"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/monitor"
	"signal-core/internal/scheduler"
	"signal-core/internal/tier"
	"signal-core/pkg/config"
	"signal-core/pkg/crypto"
	"signal-core/pkg/db"
	"signal-core/pkg/exchanges/binance"
	"signal-core/pkg/exchanges/bybit"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/pool"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("🚀 signal-core starting on port %s", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("database init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("database migrations failed: %v", err)
	}
	log.Printf("💾 database ready at %s", cfg.DBPath)

	keys, err := crypto.NewKeyManager()
	if err != nil {
		log.Fatalf("key manager init failed: %v", err)
	}

	policies, err := tier.LoadPolicies(cfg.TierPolicyPath)
	if err != nil {
		log.Fatalf("tier policy load failed: %v", err)
	}

	// Exchange session pools, fixed-size per exchange. Each environment shares
	// one HTTP transport, one clock tracker and one weight tracker across all
	// of its sessions; binding a credential never rebuilds that state.
	binanceEnv := envFor(cfg.BinanceTestnet)
	bybitEnv := envFor(cfg.BybitTestnet)

	binanceHTTP := &http.Client{Timeout: cfg.CallTimeout}
	binanceClock := common.NewTimeSync(binance.New(binance.Config{
		Testnet:    cfg.BinanceTestnet,
		HTTPClient: binanceHTTP,
	}).FetchServerTime)
	binanceLimits := binance.NewRateTracker()

	bybitHTTP := &http.Client{Timeout: cfg.CallTimeout}
	bybitClock := common.NewTimeSync(bybit.New(bybit.Config{
		Testnet:    cfg.BybitTestnet,
		HTTPClient: bybitHTTP,
	}).FetchServerTime)
	bybitLimits := bybit.NewRateTracker()

	sessions, err := pool.New([]pool.ExchangeConfig{
		{
			Exchange:    binance.Name,
			Environment: binanceEnv,
			Size:        cfg.BinancePoolSize,
			Clock:       binanceClock,
			Limits:      binanceLimits,
			Factory: func(apiKey, apiSecret string, env common.Environment) common.Client {
				return binance.New(binance.Config{
					APIKey:      apiKey,
					APISecret:   apiSecret,
					Testnet:     env == common.EnvTestnet,
					HTTPClient:  binanceHTTP,
					TimeSync:    binanceClock,
					RateLimiter: binanceLimits,
				})
			},
		},
		{
			Exchange:    bybit.Name,
			Environment: bybitEnv,
			Size:        cfg.BybitPoolSize,
			Clock:       bybitClock,
			Limits:      bybitLimits,
			Factory: func(apiKey, apiSecret string, env common.Environment) common.Client {
				return bybit.New(bybit.Config{
					APIKey:      apiKey,
					APISecret:   apiSecret,
					Testnet:     env == common.EnvTestnet,
					HTTPClient:  bybitHTTP,
					TimeSync:    bybitClock,
					RateLimiter: bybitLimits,
				})
			},
		},
	}, pool.WithAcquireTimeout(cfg.AcquireTimeout))
	if err != nil {
		log.Fatalf("pool init failed: %v", err)
	}
	sessions.Start(ctx)
	defer sessions.Close()
	log.Printf("🔌 session pools ready: binance=%d (%s), bybit=%d (%s)",
		cfg.BinancePoolSize, binanceEnv, cfg.BybitPoolSize, bybitEnv)

	// Execution engine and admission scheduler.
	exec := engine.New(sessions, database.Accounts(), database.Ledger(), keys, bus, engine.Options{
		Freshness:    cfg.FreshnessWindow,
		CallTimeout:  cfg.CallTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	})
	sched := scheduler.New(sessions, database.Ledger(), exec, policies,
		cfg.FreshnessWindow, cfg.BinancePoolSize+cfg.BybitPoolSize)
	sched.SetBus(bus)
	go sched.Run(ctx)

	// Admission front: analyzer, classifier, dispatcher.
	patterns := analyzer.New(database.Ledger())
	classifier := tier.NewClassifier(database.Accounts(), sched, policies)
	marketCtx := &engine.StaticContext{}
	dispatcher := engine.NewDispatcher(patterns, classifier, sched,
		database.Ledger(), marketCtx, bus, cfg.FreshnessWindow)

	go publishGauges(ctx, sched, sessions, binanceEnv, bybitEnv)

	// API
	server := api.NewServer(api.Deps{
		Bus:              bus,
		Dispatcher:       dispatcher,
		Ledger:           database.Ledger(),
		Sched:            sched,
		Pool:             sessions,
		JWTSecret:        cfg.JWTSecret,
		OperatorUser:     cfg.OperatorUser,
		OperatorPassHash: cfg.OperatorPassHash,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("🛑 shutting down")
	cancel()
	sched.Wait()
}

func envFor(testnet bool) common.Environment {
	if testnet {
		return common.EnvTestnet
	}
	return common.EnvMain
}

// publishGauges keeps lane-depth and pool-session gauges current.
func publishGauges(ctx context.Context, sched *scheduler.Scheduler, sessions *pool.Pool,
	binanceEnv, bybitEnv common.Environment) {

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for t, depth := range sched.Depths() {
				monitor.UpdateLaneDepth(string(t), depth)
			}
			bs := sessions.Stats(binance.Name, binanceEnv)
			monitor.UpdatePoolSessions(binance.Name, bs.Idle, bs.InFlight, bs.Unhealthy)
			ys := sessions.Stats(bybit.Name, bybitEnv)
			monitor.UpdatePoolSessions(bybit.Name, ys.Idle, ys.InFlight, ys.Unhealthy)
		}
	}
}
