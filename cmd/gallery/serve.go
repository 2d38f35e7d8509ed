package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/gallery/handler"
	"github.com/jmerrifield20/photogallery/internal/identity"
	"github.com/jmerrifield20/photogallery/internal/oauth"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultBodyLimit = 1 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Auth.RepairOnStart {
		n, err := a.accounts.RepairLegacy(ctx)
		if err != nil {
			logger.Warn("legacy account repair", zap.Error(err))
		} else if n > 0 {
			logger.Info("legacy accounts repaired", zap.Int("count", n))
		}
	}

	photoSvc, err := a.photoService(ctx)
	if err != nil {
		return err
	}
	guard, err := a.stateGuard(ctx)
	if err != nil {
		return err
	}

	checker := a.healthChecker()
	checker.SetMetricsRecord(handler.RecordDependencyProbe)
	go checker.Start(ctx)

	// ── Handlers ─────────────────────────────────────────────────────────────
	sessions := identity.NewSessionResolver(a.tokens, a.accounts, logger)

	authHandler := handler.NewAuthHandler(a.accounts, sessions, a.tokens, guard, logger)
	authHandler.SetFrontendURL(cfg.Server.FrontendURL)
	authHandler.SetRevealResetErrors(cfg.Auth.RevealResetErrors)
	providers := oauth.NewRegistry(
		oauth.Config{ClientID: cfg.Google.ClientID, ClientSecret: cfg.Google.ClientSecret, RedirectURL: cfg.Google.RedirectURL},
		oauth.Config{ClientID: cfg.Discord.ClientID, ClientSecret: cfg.Discord.ClientSecret, RedirectURL: cfg.Discord.RedirectURL},
	)
	for _, kind := range []accounts.MethodKind{accounts.MethodGoogle, accounts.MethodDiscord} {
		if p, ok := providers[kind]; ok {
			authHandler.SetProvider(kind, p)
			logger.Info("oauth provider enabled", zap.String("provider", string(kind)))
		}
	}

	photoHandler := handler.NewPhotoHandler(photoSvc, sessions, logger)
	healthHandler := handler.NewHealthHandler(checker)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestID())
	router.Use(handler.RequestLogger(logger))
	router.Use(handler.PrometheusMiddleware())

	origins := cfg.Server.CORSOrigins
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: !handler.ContainsWildcard(origins),
		MaxAge:           12 * time.Hour,
	}))
	router.Use(handler.SecurityHeaders())
	router.Use(handler.BodyLimit(defaultBodyLimit, map[string]int64{
		handler.UploadRoute: photoHandler.UploadBodyLimit(),
	}))
	if rps := cfg.Server.RateLimitRPS; rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	healthHandler.Register(router)
	router.GET("/metrics", handler.MetricsHandler())

	api := router.Group("/api")
	var authLimit []gin.HandlerFunc
	if rps := cfg.Server.AuthRateLimitRPS; rps > 0 {
		authLimit = append(authLimit, handler.RateLimiter(rps, rps*2))
	}
	authHandler.Register(api, authLimit...)
	photoHandler.Register(api)

	// ── Serve ────────────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gallery HTTP listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down gallery...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	logger.Info("gallery stopped")
	return nil
}
