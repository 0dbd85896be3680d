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

	"iris-platform/internal/audit"
	"iris-platform/internal/auth"
	"iris-platform/internal/config"
	"iris-platform/internal/httpapi"
	"iris-platform/internal/identity"
	"iris-platform/internal/session"
	"iris-platform/internal/workspace"
	"iris-platform/pkg/logger"
	"iris-platform/pkg/metrics"
	"iris-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewManager(cfg.Auth, log)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	authority, err := identity.NewClient(cfg.Authority, log)
	if err != nil {
		log.Error("identity authority init failed", "err", err)
		os.Exit(1)
	}

	policy, err := workspace.ParseRolePolicy(cfg.Workspace.RolePolicy)
	if err != nil {
		log.Error("workspace init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := workspace.Migrate(rootCtx, db); err != nil {
		log.Error("workspace migration failed", "err", err)
		os.Exit(1)
	}
	if err := audit.Migrate(rootCtx, db); err != nil {
		log.Error("audit migration failed", "err", err)
		os.Exit(1)
	}

	// Without redis, revocations live in process memory and are lost on restart.
	var denylist auth.Denylist = auth.NewMemoryDenylist()
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		denylist = auth.NewRedisDenylist(rdb)
	} else {
		log.Warn("redis not configured; token denylist is process-local")
	}

	auditSvc := audit.NewService(audit.NewPostgresRepo(db), log)
	workspaces := workspace.NewService(workspace.NewPostgresRepo(db), policy, auditSvc, log)
	sessions, err := session.NewService(session.Deps{
		Identities:       authority,
		Workspaces:       workspaces,
		Tokens:           tokens,
		Denylist:         denylist,
		Audit:            auditSvc,
		Log:              log,
		AuthorityTimeout: cfg.Authority.Timeout,
	})
	if err != nil {
		log.Error("session init failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())

	registerRoutes(r, db, httpapi.RouteDeps{
		Handlers:     httpapi.Handlers{Sessions: sessions, Workspaces: workspaces},
		Tokens:       tokens,
		Denylist:     denylist,
		LoginLimiter: httpapi.NewRateLimiter(cfg.Login.RatePerSecond, cfg.Login.RateBurst),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"authority_enabled", authority.Enabled(),
			"role_policy", string(policy),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
