package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"cinegen/internal/http/handlers"
	"cinegen/internal/middleware"
)

// NewRouter wires the run lifecycle endpoints behind the shared middleware
// stack. Run creation is rate limited because every run fans out paid calls
// to the generation service.
func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(app.Cfg.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/runs", func(r chi.Router) {
		r.With(middleware.RateLimit(app.Cfg.RateLimitPerMin, time.Minute)).Post("/", app.CreateRun)
		r.Get("/{run_id}", app.GetRun)
		r.Post("/{run_id}/cancel", app.CancelRun)
		r.Get("/{run_id}/images/{scene}", app.DownloadImage)
		r.Get("/{run_id}/archive", app.DownloadArchive)
	})

	return r
}
