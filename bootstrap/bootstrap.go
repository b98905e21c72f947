// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mobibase/mobibase/adapters/cache"
	"github.com/mobibase/mobibase/adapters/clock"
	"github.com/mobibase/mobibase/adapters/files"
	"github.com/mobibase/mobibase/adapters/hasher"
	"github.com/mobibase/mobibase/adapters/hooks"
	apihttp "github.com/mobibase/mobibase/adapters/http"
	"github.com/mobibase/mobibase/adapters/idgen"
	"github.com/mobibase/mobibase/adapters/mailer"
	"github.com/mobibase/mobibase/adapters/memory"
	"github.com/mobibase/mobibase/adapters/metrics"
	"github.com/mobibase/mobibase/adapters/oauth"
	"github.com/mobibase/mobibase/adapters/random"
	"github.com/mobibase/mobibase/adapters/sqlite"
	"github.com/mobibase/mobibase/app"
	"github.com/mobibase/mobibase/config"
	"github.com/mobibase/mobibase/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Hooks is the trigger registry; embedders register beforeSave,
	// afterSave, and beforeLogin handlers here before Run.
	Hooks *hooks.Registry

	// Services
	Writes   *app.WriteService
	Sessions *app.AuthService

	storage    ports.Storage
	cacheStore *cache.Store
	schemas    *memory.SchemaController
	holder     *config.Holder

	// router is swapped atomically on config reload.
	router atomic.Value // http.Handler
}

// New creates and initializes the application.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg)

	logger.Info().Msg("initializing mobibase")

	a := &App{
		Logger: logger,
		Hooks:  hooks.NewRegistry(),
	}

	// Built-in federated providers. Embedders register additional
	// validators through Hooks before Run.
	a.Hooks.RegisterValidator("google", oauth.NewGoogleValidator(oauth.GoogleConfig{}))
	a.Hooks.RegisterValidator("github", oauth.NewGitHubValidator(oauth.GitHubConfig{}))

	if err := a.initStorage(cfg); err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a.cacheStore = cache.New(5 * time.Minute)
	a.schemas = memory.NewSchemaController()

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	a.applyConfig(cfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      a,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info().Str("addr", addr).Msg("http server configured")
	return a, nil
}

// NewWithHotReload creates the application with config file watching.
// Account and password policy changes apply without restart; server and
// database settings require one.
func NewWithHotReload(path string) (*App, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}

	a, err := New(holder.Get())
	if err != nil {
		holder.Stop()
		return nil, err
	}
	a.holder = holder

	holder.OnChange(func(cfg *config.Config) {
		a.applyConfig(cfg)
	})
	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watching unavailable")
	}
	holder.WatchSignals()

	return a, nil
}

// ServeHTTP dispatches to the current router.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.Load().(http.Handler).ServeHTTP(w, r)
}

func (a *App) initStorage(cfg *config.Config) error {
	if cfg.Database.Driver == "memory" {
		a.storage = memory.NewStorage()
		a.Logger.Info().Msg("using in-memory storage")
		return nil
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.DB = db
	a.storage = sqlite.NewStorage(db)
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	return nil
}

// applyConfig rebuilds the services that depend on reloadable settings
// and swaps the router in.
func (a *App) applyConfig(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	roles := app.NewRoleService(a.storage, a.cacheStore, a.Logger)

	var accountMailer ports.AccountMailer
	if cfg.Mail.Host != "" {
		accountMailer = mailer.NewSMTP(mailer.SMTPConfig{
			Host:        cfg.Mail.Host,
			Port:        cfg.Mail.Port,
			Username:    cfg.Mail.Username,
			Password:    cfg.Mail.Password,
			From:        cfg.Mail.From,
			FromName:    cfg.Mail.FromName,
			UseTLS:      cfg.Mail.UseTLS,
			UseImplicit: cfg.Mail.UseImplicit,
			Timeout:     cfg.Mail.Timeout,
			BaseURL:     cfg.Server.PublicURL,
			AppName:     cfg.Mail.AppName,
		}, random.Real{})
	} else {
		accountMailer = mailer.NewLog(a.Logger, random.Real{})
	}

	deps := app.WriteDeps{
		Storage:  a.storage,
		Schema:   a.schemas,
		Roles:    roles,
		Cache:    a.cacheStore,
		Triggers: a.Hooks,
		Live:     a.Hooks,
		Files:    files.NewURLExpander(cfg.Files.BaseURL),
		Mailer:   accountMailer,
		Auth:     a.Hooks,
		Hasher:   hasher.NewBcrypt(0),
		Clock:    clock.Real{},
		IDGen:    idgen.ObjectID{},
		Random:   random.Real{},
		Logger:   a.Logger,
	}
	// A nil *Collector must not become a non-nil observer interface.
	if a.Metrics != nil {
		deps.Metrics = a.Metrics
	}

	writeCfg := app.WriteConfig{
		ServerURL:                       cfg.Server.PublicURL,
		AllowClientClassCreation:        cfg.Account.AllowClientClassCreation,
		PrivateUsers:                    cfg.Account.PrivateUsers,
		VerifyUserEmails:                cfg.Account.VerifyUserEmails,
		PreventLoginWithUnverifiedEmail: cfg.Account.PreventLoginWithUnverifiedEmail,
		RevokeSessionOnPasswordReset:    cfg.Account.RevokeSessionOnPasswordReset == nil || *cfg.Account.RevokeSessionOnPasswordReset,
		SessionTTL:                      cfg.Account.SessionTTL,
		PasswordPolicy:                  cfg.PasswordPolicy(),
	}

	a.Writes = app.NewWriteService(deps, writeCfg)
	a.Sessions = app.NewAuthService(a.storage, a.cacheStore, clock.Real{}, a.Logger)

	handler := apihttp.NewHandler(a.Writes, a.Sessions, a.storage, cfg.Server.MasterKey, a.Logger)
	router := apihttp.NewRouter(handler, a.Logger, apihttp.RouterConfig{
		Metrics:     a.Metrics,
		MetricsPath: cfg.Metrics.Path,
	})
	a.router.Store(http.Handler(router))
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
