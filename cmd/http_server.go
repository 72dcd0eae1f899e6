package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/internal/auth"
	"github.com/frahmantamala/capgate/internal/authz"
	"github.com/frahmantamala/capgate/internal/core/events"
	"github.com/frahmantamala/capgate/internal/obs"
	"github.com/frahmantamala/capgate/internal/password"
	"github.com/frahmantamala/capgate/internal/role"
	rolePostgres "github.com/frahmantamala/capgate/internal/role/postgres"
	"github.com/frahmantamala/capgate/internal/token"
	tokenPostgres "github.com/frahmantamala/capgate/internal/token/postgres"
	"github.com/frahmantamala/capgate/internal/transport"
	"github.com/frahmantamala/capgate/internal/transport/rest"
	"github.com/frahmantamala/capgate/internal/user"
	userPostgres "github.com/frahmantamala/capgate/internal/user/postgres"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var openAPIPath string

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server and the refresh token sweeper`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer(cmd.Context())
	},
}

func init() {
	httpServerCmd.Flags().StringVar(&openAPIPath, "openapi", "api/openapi.yml", "OpenAPI document served at /openapi.yml (empty disables swagger)")
}

// Dependencies holds the wired services shared by every command.
type Dependencies struct {
	Config  *internal.Config
	DB      *sqlx.DB
	Gorm    *gorm.DB
	Logger  *slog.Logger
	Metrics *obs.Metrics
	Events  *events.EventBus

	Users  *user.Service
	Roles  *role.Service
	Tokens *token.Service
	Authz  *authz.Service
}

func (d *Dependencies) Close() {
	d.Events.Wait()
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("database close error", "error", err)
	}
}

func startHTTPServer(ctx context.Context) error {
	deps, err := initializeDependencies()
	if err != nil {
		return err
	}
	defer deps.Close()

	if _, err := deps.Roles.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("failed to ensure default roles: %w", err)
	}

	router := chi.NewRouter()
	setupRoutes(router, deps)

	cfg := deps.Config.Server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := token.NewSweeper(deps.Tokens, deps.Config.Security.SweepInterval, deps.Logger)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		_ = sweeper.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		deps.Logger.Info("starting HTTP server", "address", server.Addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		deps.Logger.Info("shutdown signal received")
	case err := <-serverErr:
		stop()
		<-sweepDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		deps.Logger.Error("server shutdown error", "error", err)
	}
	<-sweepDone

	deps.Logger.Info("server stopped")
	return nil
}

func setupRoutes(router *chi.Mux, deps *Dependencies) {
	base := transport.NewBaseHandler(deps.Logger)

	metricsPath := ""
	metrics := deps.Metrics
	if !deps.Config.Observability.Metrics.Enabled {
		metrics = nil
	} else {
		metricsPath = deps.Config.Observability.Metrics.Path
	}

	specPath := openAPIPath
	if specPath != "" {
		if _, err := os.Stat(specPath); err != nil {
			deps.Logger.Warn("openapi document not found; swagger disabled", "path", specPath)
			specPath = ""
		}
	}

	rest.RegisterAllRoutes(router, rest.Dependencies{
		DB:          deps.DB,
		Base:        base,
		Verifier:    deps.Tokens,
		Checker:     deps.Authz,
		AuthHandler: auth.NewHandler(base, deps.Tokens, deps.Authz),
		RoleHandler: role.NewHandler(base, deps.Roles),
		UserHandler: user.NewHandler(base, deps.Users),
		Metrics:     metrics,
		MetricsPath: metricsPath,
		OpenAPIPath: specPath,
		Logger:      deps.Logger,

		AuthRateLimit:  deps.Config.Server.AuthRateLimit,
		AuthRateWindow: deps.Config.Server.AuthRateWindow,
		Production:     deps.Config.Env == "production",
	})
}

func initializeDependencies() (*Dependencies, error) {
	cfg, lg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	deps := &Dependencies{
		Config:  cfg,
		DB:      db,
		Gorm:    gdb,
		Logger:  lg,
		Metrics: obs.NewMetrics(),
		Events:  events.NewEventBus(lg),
	}
	events.SubscribeAudit(deps.Events, lg)

	if err := wireServices(deps); err != nil {
		_ = db.Close()
		return nil, err
	}
	return deps, nil
}

func wireServices(deps *Dependencies) error {
	sec := deps.Config.Security

	pool := password.NewPool(password.NewHasher(sec.BCryptCost), sec.HashWorkers)
	signer, err := token.NewSigner(sec.JWTSecret, sec.Issuer, nil)
	if err != nil {
		return err
	}

	deps.Users = user.NewService(userPostgres.NewUserRepository(deps.DB), pool, deps.Logger)
	deps.Roles = role.NewService(rolePostgres.NewRoleRepository(deps.Gorm), deps.Logger)
	deps.Tokens, err = token.NewService(
		tokenPostgres.NewTokenRepository(deps.Gorm),
		deps.Users,
		deps.Roles,
		pool,
		signer,
		token.WithAccessTTL(sec.AccessTokenTTL),
		token.WithRefreshTTL(sec.RefreshTokenTTL),
		token.WithEvents(deps.Events),
		token.WithMetrics(deps.Metrics),
		token.WithLogger(deps.Logger),
	)
	if err != nil {
		return err
	}
	deps.Users.SetSessionRevoker(deps.Tokens)
	deps.Roles.SetUserFinder(deps.Users)
	deps.Authz = authz.NewService(deps.Users, deps.Roles, deps.Metrics, deps.Logger)
	return nil
}

// initDB opens the pgx-backed pool used by sqlx and, through initGorm, by gorm.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	if cfg.Source == "" {
		return nil, internal.NewConfigurationError("database.source is required")
	}

	dbConn, err := sqlx.Open(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return dbConn, nil
}

// initGorm shares the sqlx pool. TranslateError lets the role repository see
// gorm.ErrDuplicatedKey on unique violations.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
}
