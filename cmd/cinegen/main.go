package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"cinegen/internal/generation"
	"cinegen/internal/infra"
	"cinegen/internal/leonardo"
	"cinegen/internal/reference"
	"cinegen/internal/script"
	"cinegen/internal/storage"
)

// cinegen runs one batch from the command line: it reads a script file,
// generates up to -count images, and writes the scenes plus the zip archive
// under the storage directory.
func main() {
	scriptPath := flag.String("script", "", "path to the script file, one scene per line")
	imageCount := flag.Int("count", 0, "number of images to generate (default: one per scene)")
	flag.Parse()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if *scriptPath == "" {
		logger.Fatal().Msg("cinegen: -script is required")
	}
	if cfg.LeonardoAPIKey == "" {
		logger.Fatal().Msg("cinegen: LEONARDO_API_KEY is required")
	}

	raw, err := os.ReadFile(*scriptPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("cinegen: failed to read script")
	}
	lines := script.Parse(string(raw))
	if len(lines) == 0 {
		logger.Fatal().Msg("cinegen: script has no scenes")
	}
	count := *imageCount
	if count == 0 {
		count = len(lines)
		if count > script.MaxImages {
			count = script.MaxImages
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
		logger.Fatal().Err(err).Msg("cinegen: failed to configure generation client")
	}

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("cinegen: failed to configure storage")
	}

	orch := generation.NewOrchestrator(client, generation.Options{
		Concurrency: cfg.MaxConcurrent,
		JobTimeout:  cfg.JobTimeout,
		Logger:      &logger,
		OnProgress: func(p generation.Progress) {
			logger.Info().Int("completed", p.Completed).Int("total", p.Total).Msg("cinegen: progress")
		},
	})

	result, err := orch.Run(ctx, lines, count, &reference.Set{})
	if err != nil {
		logger.Fatal().Err(err).Msg("cinegen: run aborted")
	}

	runID := uuid.NewString()
	keys, err := store.WriteRun(context.Background(), runID, result)
	if err != nil {
		logger.Fatal().Err(err).Int("written", len(keys)).Msg("cinegen: failed to persist run")
	}
	logger.Info().
		Int("succeeded", len(result.Succeeded())).
		Int("total", len(result.Jobs)).
		Str("dir", store.BasePath()+"/"+runID).
		Msg("cinegen: run complete")
}
