package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/gophauth/internal/db"
	"github.com/nkiryanov/gophauth/internal/handlers"
	"github.com/nkiryanov/gophauth/internal/logger"
	"github.com/nkiryanov/gophauth/internal/metrics"
	"github.com/nkiryanov/gophauth/internal/repository/postgres"
	"github.com/nkiryanov/gophauth/internal/service/auth"
	"github.com/nkiryanov/gophauth/internal/service/auth/keymanager"
	"github.com/nkiryanov/gophauth/internal/service/auth/refresh"
	"github.com/nkiryanov/gophauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/gophauth/internal/service/client"
	"github.com/nkiryanov/gophauth/internal/service/retention"
	"github.com/nkiryanov/gophauth/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	pool    *pgxpool.Pool
	sweeper *retention.Sweeper
	logger  logger.Logger
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	allowGenerate := c.Environment != logger.EnvProduction

	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Signing key is loaded before anything else: no key, no service
	keys, err := keymanager.New(keymanager.Config{
		PrivateKeyFile: c.SigningKeyFile,
		AllowGenerate:  allowGenerate,
	})
	if err != nil {
		return nil, fmt.Errorf("error while loading signing key: %w", err)
	}
	if c.SigningKeyFile == "" {
		logger.Warn("Signing key generated, tokens will not survive restart")
	}
	logger.Info("Signing key loaded", "kid", keys.SigningKey().KeyID, "alg", keys.SigningKey().Algorithm)

	seeds, err := client.ParseSeeds(c.SeedClients)
	if err != nil {
		return nil, fmt.Errorf("error while parsing seed clients: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)
	m := metrics.New()

	// Initialize services
	issuer, err := tokenmanager.NewIssuer(keys, tokenmanager.IssuerConfig{Issuer: c.Issuer, AccessTTL: c.AccessTTL})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating token issuer: %w", err)
	}
	verifier := tokenmanager.NewVerifier(keys, tokenmanager.VerifierConfig{Issuer: c.Issuer})
	refreshStore := refresh.New(refresh.Config{TTL: c.RefreshTTL}, storage)
	userService := user.NewService(auth.DefaultHasher, storage)
	clientService := client.NewService(auth.DefaultHasher, storage, logger)

	if err := clientService.Seed(ctx, seeds); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while seeding clients: %w", err)
	}

	authService, err := auth.NewService(auth.Config{
		AccessAudience: c.AccessAudience,
		SystemAudience: c.SystemAudience,
	}, auth.Deps{
		Storage: storage,
		Issuer:  issuer,
		Refresh: refreshStore,
		Users:   userService,
		Clients: clientService,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	mux := handlers.NewRouter(
		handlers.Config{CookieSecure: c.CookieSecure},
		authService,
		verifier,
		keys,
		m,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		pool:       pool,
		sweeper:    retention.New(retention.Config{}, refreshStore, m, logger),
		logger:     logger,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.pool.Close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.sweeper.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}
