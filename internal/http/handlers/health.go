package handlers

import (
	"net/http"
)

// Health is the liveness probe. It reports whether generation credentials are
// present so the front end can warn before a run is even attempted.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	configured := a.Client != nil && a.Client.HasCredentials()
	a.json(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"api_configured": configured,
	})
}
