package app

import (
	"context"
	"database/sql"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ridepass/backend/internal/config"
	"ridepass/backend/internal/db"
	httpserver "ridepass/backend/internal/http"
	"ridepass/backend/internal/http/handlers"
	redisstore "ridepass/backend/internal/redis"
	"ridepass/backend/internal/repository"
	"ridepass/backend/internal/service"
	libdb "ridepass/libs/db"
	libredis "ridepass/libs/redis"
	"ridepass/token"
)

// App wires backend dependencies.
type App struct {
	server      *httpserver.Server
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// New constructs the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := db.Migrate(cfg.Database.DSN); err != nil {
		return nil, err
	}

	sqlDB, err := libdb.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	privateKey, err := token.LoadPrivateKey(cfg.Keys.PrivatePath)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	publicKeyPEM, err := os.ReadFile(cfg.Keys.PublicPath)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	signer, err := token.NewSigner(privateKey, cfg.Credential.Issuer)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	// Redis is optional; without it the active-session cache is skipped.
	var redisClient *redis.Client
	var activeStore *redisstore.Store
	if cfg.Redis.Addr != "" {
		redisClient, err = libredis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		activeStore = redisstore.NewStore(redisClient, cfg.ActiveSessionTTL())
	}

	deviceRepo := repository.NewDeviceRepository(sqlDB)
	sessionRepo := repository.NewSessionRepository(sqlDB)

	issuer := service.NewIssuerService(deviceRepo, signer, cfg.CredentialValidity(), logger)
	fare := service.NewFareService(sessionRepo, cfg.Fare.PriceCents, cfg.Fare.DayCapCents)
	sessions := service.NewSessionsService(sessionRepo, issuer, fare, activeStore, logger)

	sessionHandlers := handlers.NewSessionHandlers(sessions, logger)
	fareHandlers := handlers.NewFareHandlers(fare, logger)

	routes := httpserver.Routes{
		RegisterDevice: handlers.NewRegisterDeviceHandler(issuer, logger),
		SessionStart:   sessionHandlers.HandleStart,
		SessionEnd:     sessionHandlers.HandleEnd,
		FareToday:      fareHandlers.HandleFareToday,
		TripsToday:     fareHandlers.HandleTripsToday,
		PublicKey:      handlers.NewPublicKeyHandler(publicKeyPEM),
		Health:         handlers.NewHealthHandler(),
	}
	if cfg.Debug {
		routes.DeleteTodayTrips = handlers.NewDeleteTodayTripsHandler(sessions, logger)
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:      server,
		db:          sqlDB,
		redisClient: redisClient,
		logger:      logger,
	}, nil
}

// Run starts the HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
