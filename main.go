package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"task-client/api"
	"task-client/app"
	"task-client/config"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ValidateGateway(); err != nil {
		log.Fatal(err)
	}

	logger := log.New()
	logger.SetFormatter(&log.JSONFormatter{})
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("core: %v", err)
	}

	var auth *api.Auth
	if cfg.NeedsJWKS() {
		jwks, err := keyfunc.Get(cfg.Auth.JWKSURL(), keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Warn("jwks refresh failed")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
		auth = api.NewAuth(jwks, cfg.Auth.Audience, cfg.Auth.Issuer(), cfg.Auth.JWKSCacheTTL)
	} else {
		var issuer string
		if cfg.Auth.Domain != "" {
			issuer = cfg.Auth.Issuer()
		}
		auth = api.NewLocalAuth([]byte(cfg.Auth.LocalSecret), cfg.Auth.Audience, issuer)
	}

	deps := api.Deps{
		Reader:      core.Queries,
		Writer:      core.Coordinator,
		Auth:        auth,
		Health:      core.Health,
		Logger:      logger,
		DueSoonDays: cfg.DueSoonDays,
	}
	if core.Redis != nil {
		deps.Deduper = api.NewRedisDeduper(core.Redis, cfg.Cache.DedupeTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(middleware.Decompress())
	api.Register(e, deps)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	if err := core.Close(); err != nil {
		logger.WithError(err).Error("core shutdown")
	}
}
