package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/tendant/chi-demo/app"
	demomiddleware "github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-catalog/internal/logging"
	"github.com/tendant/simple-catalog/pkg/catalog"
	"github.com/tendant/simple-catalog/pkg/catalog/api"
	"github.com/tendant/simple-catalog/pkg/catalog/config"
)

func main() {
	configFile := flag.String("config", "", "optional YAML, TOML, JSON or .env config file")
	flag.Parse()

	serverConfig, err := config.Load(config.WithConfigFile(*configFile), config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := logging.New(serverConfig.Environment, serverConfig.LogLevel)
	slog.SetDefault(logger)

	ctx := context.Background()
	svc, cleanup, err := serverConfig.BuildService(ctx, logger)
	if err != nil {
		logger.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	handler, err := newRouter(serverConfig, svc, logger)
	if err != nil {
		logger.Error("Failed to build router", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Catalog server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", serverConfig.DatabaseType(),
			"storage", serverConfig.StorageType())

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}

// newRouter sets up middleware, health checks, the media file server and
// the catalog API under /api/v1
func newRouter(cfg *config.ServerConfig, svc catalog.Service, logger *slog.Logger) (http.Handler, error) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if cfg.Environment == "development" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-KEY"},
		}))
	}

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	if dir, ok := cfg.MediaDir(); ok {
		prefix := cfg.MediaURLPrefix()
		if strings.HasPrefix(prefix, "/") {
			r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
		}
	}

	var handlerOptions []api.Option
	handlerOptions = append(handlerOptions, api.WithLogger(logger))
	if cfg.StreamingUploads {
		handlerOptions = append(handlerOptions, api.WithStreamingUploads())
	}

	var mountErr error
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.APIKeySHA256 != "" {
			apiKeyMiddleware, err := demomiddleware.ApiKeyMiddleware(demomiddleware.ApiKeyConfig{
				APIKeys: map[string]string{"catalog": cfg.APIKeySHA256},
			})
			if err != nil {
				mountErr = fmt.Errorf("failed to initialize API key middleware: %w", err)
				return
			}
			r.Use(apiKeyMiddleware)
		}
		mountErr = api.Mount(r, svc, handlerOptions...)
	})
	if mountErr != nil {
		return nil, mountErr
	}
	return r, nil
}
