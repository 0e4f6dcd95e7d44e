package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"orgdesk/internal/api"
	"orgdesk/internal/api/handlers"
	"orgdesk/internal/api/middleware"
	"orgdesk/internal/engine/access"
	"orgdesk/internal/engine/departments"
	"orgdesk/internal/engine/onboarding"
	"orgdesk/internal/engine/permissions"
	"orgdesk/internal/engine/profiles"
	"orgdesk/internal/engine/useraccess"
	"orgdesk/internal/pkg/logger"
	"orgdesk/internal/platform/audit"
	"orgdesk/internal/platform/auth"
	"orgdesk/internal/platform/cache"
	"orgdesk/internal/platform/config"
	"orgdesk/internal/platform/crypto"
	"orgdesk/internal/platform/database"
	"orgdesk/internal/platform/email"
	"orgdesk/internal/platform/metrics"
	"orgdesk/internal/platform/repositories"
	"orgdesk/internal/platform/telemetry"
)

func main() {
	flags := pflag.NewFlagSet("server", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger.Init(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	// Directory store
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	store := openStore(ctx, cfg.Redis)

	sealer, err := crypto.NewSealer([]byte(cfg.Invitation.Secret))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise token sealer")
	}
	hasher := crypto.NewHasher(0)

	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure email")
	}
	mailer := email.NewDispatcher(sender, cfg.Email)
	mailer.Start(ctx)

	m := metrics.New()
	auditLog := audit.NewLogger(db)
	tokenSvc := auth.NewTokenService(cfg.JWT)

	// Repositories
	orgRepo := repositories.NewOrganizationRepository(db)
	userRepo := repositories.NewUserRepository(db)
	deptRepo := repositories.NewDepartmentRepository(db)
	permRepo := repositories.NewPermissionRepository(db)
	formRepo := repositories.NewFormRepository(db)
	submissionRepo := repositories.NewSubmissionRepository(db)

	// Services
	contextCache := access.NewContextCache(store, cfg.Cache.UserContextTTL, m)
	builder := access.NewBuilder(userRepo, permRepo, deptRepo, contextCache)
	onboardingSvc := onboarding.NewService(db, userRepo, deptRepo, store, sealer, hasher, mailer, cfg.Invitation, auditLog, m)
	profileSvc := profiles.NewService(db, userRepo, orgRepo, deptRepo, formRepo, submissionRepo, hasher, contextCache, auditLog)
	coordinator := permissions.NewCoordinator(userRepo, permRepo, deptRepo, contextCache, auditLog, m)
	departmentSvc := departments.NewService(userRepo, deptRepo, contextCache, auditLog, m)
	accessSvc := useraccess.NewService(userRepo, contextCache, auditLog)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit)
	defer rateLimiter.Close()

	router := api.NewRouter(&api.Dependencies{
		AuthHandler:       handlers.NewAuthHandler(userRepo, hasher, tokenSvc),
		OnboardHandler:    handlers.NewOnboardHandler(onboardingSvc, profileSvc),
		PermissionHandler: handlers.NewPermissionHandler(coordinator),
		DepartmentHandler: handlers.NewDepartmentHandler(departmentSvc),
		AccessHandler:     handlers.NewAccessHandler(accessSvc),
		AuditHandler:      handlers.NewAuditHandler(auditLog),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"database": db,
			"store":    handlers.PingFunc(store.Ping),
		}),
		MetricsHandler:    handlers.NewMetricsHandler(m),
		AuthMiddleware:    middleware.NewAuthMiddleware(tokenSvc),
		ContextMiddleware: middleware.NewUserContextMiddleware(builder),
		RateLimiter:       rateLimiter,
		Metrics:           m,
		TrustForwardedFor: cfg.Server.TrustForwardedFor,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      http.TimeoutHandler(router, cfg.Server.RequestTimeout, `{"error":{"code":"TIMEOUT","message":"Request timed out"}}`),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown")
	}
	mailer.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracer shutdown")
	}
	if c, ok := store.(interface{ Close() error }); ok {
		c.Close()
	}
}

// openStore prefers Redis and falls back to the in-process store. The
// in-process store is only correct for a single replica.
func openStore(ctx context.Context, cfg config.RedisConfig) cache.Store {
	if cfg.Addr == "" {
		log.Warn().Msg("No redis configured, using in-memory store")
		return cache.NewMemoryStore()
	}
	rs, err := cache.NewRedisStore(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, using in-memory store")
		return cache.NewMemoryStore()
	}
	return rs
}
