package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/corebank/internal/api"
	"github.com/example/corebank/internal/approval"
	"github.com/example/corebank/internal/calendar"
	"github.com/example/corebank/internal/config"
	"github.com/example/corebank/internal/drawer"
	"github.com/example/corebank/internal/fees"
	"github.com/example/corebank/internal/ledger"
	"github.com/example/corebank/internal/money"
	"github.com/example/corebank/internal/remit"
	"github.com/example/corebank/internal/security"
	"github.com/example/corebank/internal/settlement"
	"github.com/example/corebank/internal/vault"
	"github.com/example/corebank/pkg/audit"
)

const maxRequestBody = 1 << 20 // 1 MiB

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Account ledger: Postgres when configured, in-memory otherwise.
	var store ledger.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to create database pool", zap.Error(err))
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping database", zap.Error(err))
		}
		store = ledger.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, running the ledger in memory")
		store = ledger.NewMemoryStore()
	}
	accounts := ledger.NewService(store)

	// Vault persistence over sqlite.
	vaultPath := cfg.VaultDBPath
	if vaultPath == "" {
		vaultPath = ":memory:"
	}
	vaultDB, err := sql.Open("sqlite3", vaultPath)
	if err != nil {
		logger.Fatal("failed to open vault database", zap.Error(err))
	}
	defer vaultDB.Close()
	vaultStore := vault.NewStore(vaultDB)
	if err := vaultStore.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate vault database", zap.Error(err))
	}

	approvals := approval.NewEngine(nil)
	drawers := drawer.NewService(approvals)
	vaults := vault.NewService(drawers, vaultStore)
	if err := vaults.Load(ctx); err != nil {
		logger.Fatal("failed to load vault state", zap.Error(err))
	}
	recorder := audit.NewRecorder()
	cal := calendar.New(drawers.AllSessionsClosed, nil, cfg.CentralizedCalendar)

	schedules, splits, err := defaultPricing()
	if err != nil {
		logger.Fatal("invalid pricing configuration", zap.Error(err))
	}

	orchestrator, err := settlement.NewOrchestrator(settlement.Deps{
		Accounts:  accounts,
		Drawers:   drawers,
		Vaults:    vaults,
		Calendar:  cal,
		Approvals: approvals,
		Audit:     recorder,
		GL:        settlement.NewMemoryPoster(),
		Chart: settlement.ChartOfAccounts{
			Cash:           "GL-1001",
			MemberDeposits: "GL-2001",
			Clearing:       "GL-3001",
			FeeIncome:      "GL-4001",
		},
		Schedules: schedules,
		Splits:    splits,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	remittances := remit.NewService(approvals, drawers, schedules[fees.OpTransfer], splits)

	allowlist, err := security.ParseCIDRAllowlist(cfg.AllowedCIDRs)
	if err != nil {
		logger.Fatal("invalid ALLOWED_CIDRS", zap.Error(err))
	}

	var limiter *security.RedisTokenBucket
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to ping redis", zap.Error(err))
		}
		limiter = &security.RedisTokenBucket{
			Redis:      client,
			Prefix:     "tellerd:rl",
			Capacity:   50,
			RefillRate: 25,
		}
	}

	router := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Orchestrator: orchestrator,
		Accounts:     accounts,
		Calendar:     cal,
		Drawers:      drawers,
		Remittances:  remittances,
		Auditor:      recorder,
		RateLimiter:  limiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: maxRequestBody,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tellerd listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("environment", cfg.Environment),
			zap.String("branch_id", cfg.BranchID),
			zap.Bool("centralized_calendar", cfg.CentralizedCalendar))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	if cfg.AutoCloseHour >= 0 {
		go autoClose(ctx, logger, cal, cfg.BranchID, cfg.AutoCloseHour)
	}
	go flushGL(ctx, logger, orchestrator)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	<-sigs

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	cancel()
}

func buildLogger(environment string) (*zap.Logger, error) {
	if environment == "production" || environment == "staging" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// autoClose attempts the end-of-day close once per hour at the configured
// hour. A close blocked by open teller sessions is retried the next tick.
func autoClose(ctx context.Context, logger *zap.Logger, cal *calendar.Calendar, branchID string, hour int) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.UTC().Hour() != hour {
				continue
			}
			if _, err := cal.CloseDay(branchID, "system"); err != nil {
				logger.Warn("automatic day close skipped", zap.String("branch_id", branchID), zap.Error(err))
				continue
			}
			logger.Info("accounting day closed automatically", zap.String("branch_id", branchID))
		}
	}
}

// flushGL periodically redelivers GL instructions whose first delivery
// failed.
func flushGL(ctx context.Context, logger *zap.Logger, orchestrator *settlement.Orchestrator) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if orchestrator.PendingGL() == 0 {
				continue
			}
			if err := orchestrator.FlushGL(ctx); err != nil {
				logger.Warn("GL redelivery failed", zap.Int("pending", orchestrator.PendingGL()), zap.Error(err))
			}
		}
	}
}

func defaultPricing() (map[fees.OperationType]*fees.Schedule, *fees.SplitConfig, error) {
	bands := []fees.Band{
		{From: money.Zero, To: money.FromInt(50000), Flat: money.FromInt(100)},
		{From: money.FromInt(50000), To: money.FromInt(500000), Flat: money.FromInt(250)},
		{From: money.FromInt(500000), To: money.FromInt(10000000), Flat: money.FromInt(250), Rate: decimal.RequireFromString("0.001")},
	}

	schedules := make(map[fees.OperationType]*fees.Schedule)
	for _, op := range []fees.OperationType{fees.OpDeposit, fees.OpWithdrawal, fees.OpTransfer} {
		schedule, err := fees.NewSchedule(string(op), false, bands)
		if err != nil {
			return nil, nil, err
		}
		schedules[op] = schedule
	}

	shares := fees.Shares{
		SourceBranch:      decimal.RequireFromString("0.35"),
		DestinationBranch: decimal.RequireFromString("0.15"),
		HeadOffice:        decimal.RequireFromString("0.30"),
		Partner:           decimal.RequireFromString("0.10"),
		CamCCUL:           decimal.RequireFromString("0.05"),
		FluxAndPTM:        decimal.RequireFromString("0.05"),
	}
	byChannel := map[fees.Channel]fees.Shares{
		fees.ChannelCash:        shares,
		fees.ChannelMobileMoney: shares,
	}
	splits, err := fees.NewSplitConfig(map[fees.OperationType]map[fees.Channel]fees.Shares{
		fees.OpDeposit:    byChannel,
		fees.OpWithdrawal: byChannel,
		fees.OpTransfer:   byChannel,
	})
	if err != nil {
		return nil, nil, err
	}
	return schedules, splits, nil
}
