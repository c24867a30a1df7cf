package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cinegen/internal/http/handlers"
	"cinegen/internal/http/httpapi"
	"cinegen/internal/infra"
	"cinegen/internal/leonardo"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.LeonardoAPIKey == "" {
		logger.Warn().Msg("api: LEONARDO_API_KEY is not set, run creation will be rejected")
	}

	client, err := leonardo.NewClient(leonardo.Options{
		APIKey:       cfg.LeonardoAPIKey,
		BaseURL:      cfg.LeonardoBaseURL,
		ModelID:      cfg.LeonardoModelID,
		Width:        cfg.ImageWidth,
		Height:       cfg.ImageHeight,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		Logger:       &logger,
		PollInterval: cfg.PollInterval,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure generation client")
	}

	app := handlers.NewApp(cfg, logger, client)
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app))

	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api: listening")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api: server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: shutdown failed")
	}
	logger.Info().Msg("api: stopped")
}
