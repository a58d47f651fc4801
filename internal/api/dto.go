package api

import (
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/diff"
	"github.com/starford/raido/internal/refresh"
	"github.com/starford/raido/internal/syncer"
)

// ArtifactRecord is the cache-backed metadata row returned by list and get
// endpoints (aliased from the cache layer).
type ArtifactRecord = cache.Record

// ArtifactListResponse wraps paginated artifact listings.
type ArtifactListResponse struct {
	Artifacts []ArtifactRecord `json:"artifacts" validate:"required"`
	Total     int              `json:"total" example:"42" validate:"required"`
}

// ImportRequest is the request body for importing a new artifact.
type ImportRequest struct {
	Collection string `json:"collection,omitempty" example:"main"`
	Type       string `json:"type" example:"skill" validate:"required"`
	Name       string `json:"name" example:"pdf-parser" validate:"required"`
	Source     string `json:"source" example:"dir:/srv/upstream/pdf-parser" validate:"required"`
}

// DeployRequest is the request body for deploying an artifact to a project.
type DeployRequest struct {
	Project   string `json:"project" example:"webapp" validate:"required"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

// RenameTagRequest is the request body for a collection-wide tag rename.
type RenameTagRequest struct {
	Collection string `json:"collection,omitempty" example:"main"`
	From       string `json:"from" example:"docs" validate:"required"`
	To         string `json:"to" example:"documents" validate:"required"`
}

// DeleteTagRequest is the request body for a collection-wide tag delete.
type DeleteTagRequest struct {
	Collection string `json:"collection,omitempty" example:"main"`
	Tag        string `json:"tag" example:"deprecated" validate:"required"`
}

// TagMutationResponse lists the artifacts a tag operation touched.
type TagMutationResponse struct {
	Affected []string `json:"affected" validate:"required"`
}

// StatusResponse maps each applicable comparison scope to its sync state.
type StatusResponse struct {
	Key    string                          `json:"key" example:"skill:pdf-parser"`
	States map[diff.Scope]diff.ScopeStatus `json:"states"`
}

// RefreshRequest optionally narrows a cache refresh to one collection.
type RefreshRequest struct {
	Collection string `json:"collection,omitempty" example:"main"`
}

// RefreshFailure is one failed item from a refresh batch.
type RefreshFailure struct {
	Key   string `json:"key" example:"skill:broken"`
	Error string `json:"error"`
}

// RefreshResponse reports a completed refresh batch.
type RefreshResponse struct {
	Created  int              `json:"created"`
	Updated  int              `json:"updated"`
	Skipped  int              `json:"skipped"`
	Removed  int              `json:"removed"`
	Errors   int              `json:"errors"`
	Failures []RefreshFailure `json:"failures,omitempty"`
}

func refreshResponse(st refresh.Stats) RefreshResponse {
	out := RefreshResponse{
		Created: st.Created,
		Updated: st.Updated,
		Skipped: st.Skipped,
		Removed: st.Removed,
		Errors:  st.Errors,
	}
	for _, it := range st.Failures {
		out.Failures = append(out.Failures, RefreshFailure{Key: it.Key, Error: it.Err.Error()})
	}
	return out
}

// PullResponse is returned after a completed pull.
type PullResponse = syncer.PullResult

// DeployResponse is returned after a completed deploy.
type DeployResponse = syncer.DeployResult

// ImportResponse is returned after a completed import.
type ImportResponse = syncer.ImportResult

// DiffResponse is the full per-file comparison result.
type DiffResponse = diff.Result

// StalenessResponse reports cache freshness counts.
type StalenessResponse = cache.StalenessStats
