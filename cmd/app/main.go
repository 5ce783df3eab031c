// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guest-access-gate/internal/config"
	payAdapters "guest-access-gate/internal/infra/adapters/payment"
	pg "guest-access-gate/internal/infra/db/postgres"
	"guest-access-gate/internal/infra/logging"
	"guest-access-gate/internal/infra/metrics"
	red "guest-access-gate/internal/infra/redis"
	"guest-access-gate/internal/infra/security"
	"guest-access-gate/internal/infra/web"
	"guest-access-gate/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "development mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	// ---- Postgres ----
	if err := pg.ApplyMigrations(cfg.Database.URL); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// ---- Redis (limiter + redemption lock) ----
	var (
		limiter *red.RateLimiter
		locker  usecase.Locker
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisClient.Close()
		limiter = red.NewRateLimiter(redisClient)
		locker = red.NewLocker(redisClient)
	} else {
		logger.Warn().Msg("redis.url not set; rate limiting and redemption locking disabled")
	}

	// ---- Repositories ----
	grantRepo := pg.NewGrantRepo(pool)
	auditRepo := pg.NewAuditRepo(pool)

	// ---- Gateway + verifier ----
	gateway, err := payAdapters.NewMulticardGateway(cfg.Multicard, payAdapters.NewAuthCache(), logger)
	if err != nil {
		log.Fatalf("multicard gateway: %v", err)
	}
	verifier := payAdapters.NewSignatureVerifier(cfg.Multicard.Secret)

	// ---- Use case ----
	accessUC := usecase.NewAccessUseCase(
		grantRepo,
		auditRepo,
		gateway,
		verifier,
		security.NewFingerprintBinder(),
		locker,
		usecase.Options{
			AmountTiyin:    cfg.Access.PriceTiyin,
			ReturnURL:      cfg.Server.ReturnURL,
			CallbackURL:    cfg.Server.CallbackURL,
			AccessTTL:      cfg.Access.AccessTTL,
			PaymentSystems: cfg.Access.PaymentSystems,
		},
		logger,
	)

	// ---- Web ----
	sessions := security.NewSessionManager(cfg.Access.SessionSecret, cfg.Access.SessionTTL, cfg.Access.SecureCookie)
	var webLimiter web.RateLimiter
	if limiter != nil {
		webLimiter = limiter
	}
	srv := web.NewServer(accessUC, sessions, webLimiter, cfg.Access.RateLimit, cfg.Access.RateWindow, cfg.Server.FrontendURL, logger)

	public := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ---- Admin (health + metrics) ----
	metrics.MustRegister()
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	adminMux.Handle("/metrics", promhttp.Handler())
	admin := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           adminMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("public server listening")
		if err := public.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("public server stopped")
			cancel()
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.Server.AdminAddr).Msg("admin server listening")
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server stopped")
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = public.Shutdown(shutdownCtx)
	_ = admin.Shutdown(shutdownCtx)
}
