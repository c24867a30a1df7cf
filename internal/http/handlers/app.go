package handlers

import (
	"encoding/json"
	"net/http"

	"cinegen/internal/generation"
	"cinegen/internal/infra"
	"cinegen/internal/runs"
)

// App bundles the dependencies the HTTP handlers need. The generation client
// is injected so tests can stand in a double for the remote service.
type App struct {
	Logger infra.Logger
	Cfg    *infra.Config
	Client generation.Client
	Runs   *runs.Store
}

func NewApp(cfg *infra.Config, logger infra.Logger, client generation.Client) *App {
	return &App{
		Logger: logger,
		Cfg:    cfg,
		Client: client,
		Runs:   runs.NewStore(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]string{"error": kind, "message": message})
}
