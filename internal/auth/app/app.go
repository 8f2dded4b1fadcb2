package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lockplane/authd/internal/auth/codec"
	httpapi "github.com/lockplane/authd/internal/auth/http"
	"github.com/lockplane/authd/internal/auth/service"
	"github.com/lockplane/authd/internal/auth/store"
	"github.com/lockplane/authd/internal/auth/store/drivers/sqlite"
	"github.com/lockplane/authd/pkg/cryptox"
	"github.com/lockplane/authd/pkg/dpopx"
	"github.com/lockplane/authd/pkg/jwtx"
	"github.com/lockplane/authd/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application wires the authorization server together: database, signing
// keys, token codec, services and the HTTP router.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db         store.Store
	keyManager *jwtx.KeyManager
	tokenCodec *codec.Codec

	// Services
	tokenService         *service.TokenService
	userService          *service.UserService
	bootstrapService     *service.BootstrapService
	mfaService           *service.MFAService
	clientService        *service.ClientService
	housekeepingService  *service.HousekeepingService
	authorizeService     *service.AuthorizeService
	deviceService        *service.DeviceService
	introspectionService *service.IntrospectionService
	dpopService          *service.DPoPService
	scopeService         *service.ScopeService
	detailsProcessor     *service.AuthorizationDetailsProcessor
	keyRotationService   *service.KeyRotationService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authd",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	// Set pepper path for password hashing
	cryptox.SetPepperPath(app.cfg.PepperFile)

	// Initialize database first (required for persistent keys)
	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	// Initialize the signing key manager (after database for persistent mode)
	ctx := context.Background()
	keyManager, err := InitAuthKeys(ctx, app.cfg, app.db, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize signing keys: %w", err)
	}
	app.keyManager = keyManager

	if err := app.initCodec(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	// Start housekeeping service
	app.housekeepingService.Start()

	app.logger.Info("authorization server starting",
		"port", app.cfg.Port,
		"issuer", app.cfg.Issuer,
		"version", BuildVersion,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		// Perform graceful shutdown
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authorization server...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	// Shutdown the HTTP server
	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	// Stop the housekeeping service
	app.housekeepingService.Stop()

	// Close database connection
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authorization server stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.New(context.Background(), app.cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initCodec builds the token codec on top of the key manager. In the default
// HS256 mode access tokens are signed with a shared secret; an unset secret
// gets a random per-process value, which invalidates outstanding access
// tokens on restart just like ephemeral signing keys do.
func (app *Application) initCodec() error {
	var secret []byte
	if app.cfg.AccessAlgorithm == "" || app.cfg.AccessAlgorithm == jwtx.AlgorithmHS256 {
		secret = []byte(app.cfg.AccessSecret)
		if len(secret) == 0 {
			secret = make([]byte, 32)
			if _, err := rand.Read(secret); err != nil {
				return fmt.Errorf("failed to generate access token secret: %w", err)
			}
			app.logger.Warn("generated ephemeral access token secret; access tokens will not survive restarts")
		}
	}

	tokenCodec, err := codec.New(codec.Options{
		Store:           app.db,
		Keys:            app.keyManager,
		AccessAlgorithm: app.cfg.AccessAlgorithm,
		AccessSecret:    secret,
		Issuer:          app.cfg.Issuer,
		AccessTTL:       jwtx.DefaultAccessTokenTTL,
		IDTokenTTL:      jwtx.DefaultIDTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token codec: %w", err)
	}
	app.tokenCodec = tokenCodec

	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.scopeService = &service.ScopeService{Store: app.db}
	app.detailsProcessor = &service.AuthorizationDetailsProcessor{}

	app.dpopService = &service.DPoPService{
		Store:    app.db,
		Verifier: dpopx.NewVerifier(dpopx.VerifierOptions{}),
		ProofTTL: 10 * time.Minute,
	}

	app.deviceService = &service.DeviceService{
		Store:  app.db,
		Codec:  app.tokenCodec,
		Scopes: app.scopeService,
		// The verification URI is a page, not an API endpoint; a frontend is
		// expected to serve it and call POST /oauth/device/approve.
		VerificationURI: strings.TrimRight(app.cfg.PublicURL, "/") + "/device",
		RefreshTTL:      jwtx.DefaultRefreshTokenTTL,
	}

	app.tokenService = &service.TokenService{
		Store:      app.db,
		Codec:      app.tokenCodec,
		Scopes:     app.scopeService,
		Device:     app.deviceService,
		DPoP:       app.dpopService,
		Issuer:     app.cfg.Issuer,
		RefreshTTL: jwtx.DefaultRefreshTokenTTL,
	}

	app.authorizeService = &service.AuthorizeService{
		Store:   app.db,
		Scopes:  app.scopeService,
		Details: app.detailsProcessor,
	}

	app.introspectionService = &service.IntrospectionService{
		Store: app.db,
		Codec: app.tokenCodec,
	}

	app.userService = &service.UserService{Store: app.db}
	app.bootstrapService = &service.BootstrapService{
		Store: app.db,
		Token: app.cfg.BootstrapToken,
	}
	app.mfaService = &service.MFAService{
		Store:  app.db,
		Issuer: app.cfg.Issuer,
	}
	app.clientService = &service.ClientService{Store: app.db}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)

	if app.cfg.KeyStorageMode == "persistent" {
		app.keyRotationService = &service.KeyRotationService{
			Store:       app.db,
			KeyManager:  app.keyManager,
			Algorithm:   app.cfg.Algorithm,
			RSABits:     app.cfg.RSABits,
			GracePeriod: app.cfg.KeyGracePeriod,
		}
		app.logger.Info("key rotation service enabled (persistent mode)")
	} else {
		// Ephemeral mode still allows runtime rotation, just no database
		// persistence.
		app.keyRotationService = &service.KeyRotationService{
			Store:      nil,
			KeyManager: app.keyManager,
			Algorithm:  app.cfg.Algorithm,
			RSABits:    app.cfg.RSABits,
		}
		app.logger.Info("key rotation service enabled (ephemeral mode)")
	}
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager,
		app.tokenCodec,
		app.cfg.Issuer,
		app.cfg.PublicURL,
		BuildVersion,
		app.db,
		app.logger,
	)

	// Wire services to router
	router.TokenService = app.tokenService
	router.UserService = app.userService
	router.BootstrapService = app.bootstrapService
	router.MFAService = app.mfaService
	router.ClientService = app.clientService
	router.AuthorizeService = app.authorizeService
	router.DeviceService = app.deviceService
	router.IntrospectionService = app.introspectionService
	router.DPoPService = app.dpopService
	router.ScopeService = app.scopeService
	router.DetailsProcessor = app.detailsProcessor
	router.KeyRotationService = app.keyRotationService
	router.ApplyRoutes()

	app.router = router

	// Initialize HTTP server
	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
