package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/stuffguard/internal/auth"
	"github.com/BradenHooton/stuffguard/internal/background"
	"github.com/BradenHooton/stuffguard/internal/chain"
	"github.com/BradenHooton/stuffguard/internal/config"
	"github.com/BradenHooton/stuffguard/internal/database"
	"github.com/BradenHooton/stuffguard/internal/handlers"
	"github.com/BradenHooton/stuffguard/internal/lockout"
	"github.com/BradenHooton/stuffguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/stuffguard/internal/middleware"
	"github.com/BradenHooton/stuffguard/internal/models"
	"github.com/BradenHooton/stuffguard/internal/repositories"
	"github.com/BradenHooton/stuffguard/internal/routes"
	"github.com/BradenHooton/stuffguard/internal/services"
	pkghttp "github.com/BradenHooton/stuffguard/pkg/http"
	pkglogger "github.com/BradenHooton/stuffguard/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Server.SlogLevel()}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.Int("fail_limit", cfg.Defense.FailLimit),
		slog.Duration("fail_window", cfg.Defense.FailWindow),
		slog.String("fail_mode", cfg.Defense.FailMode.String()),
		slog.Bool("reauth_per_request", cfg.Defense.ReAuthPerRequest),
		slog.Bool("api_key_gate", cfg.Defense.ZeroTrustAPIKey != ""))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	policyRepo := repositories.NewPolicyRepository(db)
	securityRepo := repositories.NewSecurityStateRepository(db)
	revocationRepo := repositories.NewTokenRevocationRepository(db)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	auditLogger := pkglogger.NewAuditLogger(logger)
	ipConfig := pkghttp.IPConfig{
		TrustForwardedFor: cfg.Server.TrustForwardedFor,
		TrustedProxies:    cfg.Server.TrustedProxies,
	}

	// Defense core
	windows := lockout.NewWindows(cfg.Defense.FailWindow)
	guard := chain.NewGuard(securityRepo, cfg.Defense.ChainSecret)
	securityService := services.NewSecurityService(guard, logger)
	scoreService := services.NewScoreService(attemptRepo, securityService, windows, m, services.ScoreConfig{
		FailLimit:  cfg.Defense.FailLimit,
		FailWindow: cfg.Defense.FailWindow,
		Mode:       cfg.Defense.FailMode,
	}, logger)
	policyService := services.NewPolicyService(policyRepo, accountRepo, windows, cfg.Defense.FailMode, m, logger)

	// Sessions
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	tokenManager.SetRevocationChecker(revocationRepo, cfg.Defense.FailMode, logger)
	authService := services.NewAuthService(accountRepo, policyService, scoreService, securityService, tokenManager, logger, auditLogger)
	authService.SetRevoker(revocationRepo)
	authService.SetTimingDelay(auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	}))

	if cfg.MFA.EncryptionKey != nil {
		totpManager, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
		authService.SetTOTP(totpManager)
	} else {
		logger.Warn(config.TOTPKeyEnv + " not set, TOTP enrollment disabled")
	}

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	ensureAdminAccount(ctx, authService, cfg.Auth, logger)
	cancel()

	// Make sure the security state row exists before serving
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := securityService.State(ctx); err != nil {
		logger.Warn("security state not initialized at startup", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	deps := routes.Dependencies{
		Score:    handlers.NewScoreHandler(scoreService, securityService, authService, m, auditLogger, logger),
		Security: handlers.NewSecurityHandler(securityService, auditLogger, logger, &ipConfig),
		Policy:   handlers.NewPolicyHandler(policyService, auditLogger, logger),
		Auth:     handlers.NewAuthHandler(authService, logger, &ipConfig),
		Attempts: handlers.NewAttemptsHandler(scoreService, logger),
		Tokens:   tokenManager,
		Accounts: accountRepo,
		Health:   db,
		Metrics:  metrics.Handler(registry),
		APIKeyGate: middlewareCustom.APIKeyGate(middlewareCustom.APIKeyGateConfig{
			Key:       cfg.Defense.ZeroTrustAPIKey,
			SkipPaths: cfg.Defense.ZeroTrustSkipPaths,
			IP:        ipConfig,
		}, scoreService, m, auditLogger, logger),
		RiskGate: middlewareCustom.RiskGate(middlewareCustom.RiskGateConfig{
			FailLimit: cfg.Defense.FailLimit,
			Mode:      cfg.Defense.FailMode,
			SkipPaths: cfg.Defense.RiskGateSkipPaths,
			IP:        ipConfig,
		}, scoreService, tokenManager, m, auditLogger, logger),
		ReAuthGate: middlewareCustom.ReAuthGate(middlewareCustom.ReAuthConfig{
			Enabled:   cfg.Defense.ReAuthPerRequest,
			Methods:   cfg.Defense.ReAuthMethods,
			SkipPaths: cfg.Defense.ReAuthSkipPaths,
			IP:        ipConfig,
		}, tokenManager, authService, scoreService, m, auditLogger, logger),
		LoginLimit: middlewareCustom.RateLimitConfig{
			RequestsPerMinute: cfg.Auth.LoginRateLimitPerMinute,
			IP:                ipConfig,
		},
	}

	// Setup router. Client IPs come from pkghttp.ExtractClientIP so that
	// forwarded headers are only believed from trusted proxies.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, deps)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start account window and revocation sweeper
	cleanupManager := background.NewCleanupManager(windows, m, logger, cfg.Defense.WindowSweepInterval)
	cleanupManager.SetRevocationPurger(revocationRepo)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminAccount creates the first admin account if ADMIN_USERNAME and
// ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, authService *services.AuthService, cfg config.AuthConfig, logger *slog.Logger) {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		logger.Info("no ADMIN_USERNAME or ADMIN_PASSWORD set, skipping admin account creation")
		return
	}

	_, created, err := authService.EnsureAccount(ctx, cfg.AdminUsername, cfg.AdminPassword, models.RoleAdmin)
	if err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
		return
	}
	if created {
		logger.Info("admin account created", slog.String("username", cfg.AdminUsername))
		return
	}
	logger.Info("admin account already exists")
}
