package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(h *Handler, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Artifact metadata and content.
	r.Route("/artifacts", func(r chi.Router) {
		r.Get("/", h.ListArtifacts)
		r.Post("/", h.ImportArtifact)
		r.Route("/{type}/{name}", func(r chi.Router) {
			r.Get("/", h.GetArtifact)
			r.Delete("/", h.RemoveArtifact)
			r.Get("/content", h.GetContent)

			// Tier comparison and directional sync.
			r.Get("/status", h.ArtifactStatus)
			r.Get("/diff", h.DiffArtifact)
			r.Post("/pull", h.PullArtifact)
			r.Post("/deploy", h.DeployArtifact)
		})
	})

	// Collection-wide tag mutations.
	r.Post("/tags/rename", h.RenameTag)
	r.Post("/tags/delete", h.DeleteTag)

	// Cache maintenance.
	r.Post("/cache/refresh", h.RefreshCache)
	r.Get("/cache/stale", h.CacheStale)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
