package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/diff"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/refresh"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/tags"
)

// Deps bundles the services the API fronts. Handlers hold no business
// logic; every route is a thin translation onto one service call.
type Deps struct {
	Collections *collection.Registry
	Refresher   *refresh.Service
	Syncer      *syncer.Service
	Tags        *tags.Service
	Engine      *diff.Engine
	Cache       cache.Store
	CacheTTL    time.Duration
}

// Handler holds API route handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// identity extracts and validates the {type}/{name} route parameters.
func identity(r *http.Request) (models.Identity, error) {
	return models.NewIdentity(
		models.ArtifactType(chi.URLParam(r, "type")),
		chi.URLParam(r, "name"))
}

// collectionID resolves the collection query parameter, defaulting to the
// only registered collection when exactly one exists.
func (h *Handler) collectionID(r *http.Request) (string, bool) {
	if cid := r.URL.Query().Get("collection"); cid != "" {
		return cid, true
	}
	ids := h.deps.Collections.IDs()
	if len(ids) == 1 {
		return ids[0], true
	}
	return "", false
}

// ListArtifacts handles GET /api/artifacts.
//
//	@Summary		List cached artifact metadata with filtering and pagination
//	@Tags			artifacts
//	@Produce		json
//	@Param			collection	query		string	false	"Collection id"
//	@Param			type		query		string	false	"Artifact type"	Enums(skill, command, agent, tool, hook)
//	@Param			tag			query		string	false	"Filter by tag"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	ArtifactListResponse
//	@Security		BearerAuth
//	@Router			/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	typ := q.Get("type")
	if typ != "" && !models.ArtifactType(typ).Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody("unknown artifact type"))
		return
	}

	records, total, err := h.deps.Cache.List(cache.ListQuery{
		CollectionID: q.Get("collection"),
		Type:         models.ArtifactType(typ),
		Tag:          q.Get("tag"),
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		slog.Error("list artifacts failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, ArtifactListResponse{Artifacts: records, Total: total})
}

// GetArtifact handles GET /api/artifacts/{type}/{name}.
//
//	@Summary		Get one artifact's metadata, refreshing the cache on a miss
//	@Tags			artifacts
//	@Produce		json
//	@Param			type		path		string	true	"Artifact type"
//	@Param			name		path		string	true	"Artifact name"
//	@Param			collection	query		string	false	"Collection id"
//	@Success		200			{object}	ArtifactRecord
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{type}/{name} [get]
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cid, ok := h.collectionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection query parameter is required"))
		return
	}
	rec, err := h.deps.Refresher.GetForDisplay(cid, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get artifact failed", slog.String("artifact", id.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetContent handles GET /api/artifacts/{type}/{name}/content.
//
//	@Summary		Read an artifact's primary file, or a named file, from the collection
//	@Tags			artifacts
//	@Produce		text/markdown
//	@Param			type		path		string	true	"Artifact type"
//	@Param			name		path		string	true	"Artifact name"
//	@Param			collection	query		string	false	"Collection id"
//	@Param			file		query		string	false	"File path relative to the artifact dir"
//	@Success		200			{string}	string
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{type}/{name}/content [get]
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cid, ok := h.collectionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection query parameter is required"))
		return
	}
	col, err := h.deps.Collections.Get(cid)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}

	var (
		rel  string
		data []byte
	)
	if file := r.URL.Query().Get("file"); file != "" {
		rel = file
		data, err = col.ReadFile(id, file)
	} else {
		rel, data, err = col.PrimaryFile(id)
	}
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}

	ctype := "text/markdown; charset=utf-8"
	if !strings.HasSuffix(rel, ".md") {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ArtifactStatus handles GET /api/artifacts/{type}/{name}/status.
//
//	@Summary		Classify an artifact's sync state across every applicable scope
//	@Tags			sync
//	@Produce		json
//	@Param			type		path		string	true	"Artifact type"
//	@Param			name		path		string	true	"Artifact name"
//	@Param			collection	query		string	false	"Collection id"
//	@Param			project		query		string	false	"Project to include project scopes"
//	@Success		200			{object}	StatusResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{type}/{name}/status [get]
func (h *Handler) ArtifactStatus(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cid, ok := h.collectionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection query parameter is required"))
		return
	}
	states, err := h.deps.Engine.Status(r.Context(), cid, id, r.URL.Query().Get("project"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("status failed", slog.String("artifact", id.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Key: id.String(), States: states})
}

// DiffArtifact handles GET /api/artifacts/{type}/{name}/diff.
//
//	@Summary		Compare an artifact's files between two tiers
//	@Tags			sync
//	@Produce		json
//	@Param			type		path		string	true	"Artifact type"
//	@Param			name		path		string	true	"Artifact name"
//	@Param			collection	query		string	false	"Collection id"
//	@Param			scope		query		string	true	"Comparison scope"	Enums(source/collection, project/collection, source/project)
//	@Param			project		query		string	false	"Project id, required for project scopes"
//	@Success		200			{object}	DiffResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{type}/{name}/diff [get]
func (h *Handler) DiffArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cid, ok := h.collectionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection query parameter is required"))
		return
	}
	scope, err := diff.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	projectID := r.URL.Query().Get("project")
	if scope.NeedsProject() && projectID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("project query parameter is required for this scope"))
		return
	}

	res, err := h.deps.Engine.Diff(r.Context(), diff.Query{
		Collection: cid,
		Artifact:   id,
		Scope:      scope,
		Project:    projectID,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrUpstreamUnavailable):
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		default:
			slog.Error("diff failed", slog.String("artifact", id.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PullArtifact handles POST /api/artifacts/{type}/{name}/pull.
//
//	@Summary		Overwrite the collection copy with the current upstream state
//	@Tags			sync
//	@Produce		json
//	@Param			type		path		string	true	"Artifact type"
//	@Param			name		path		string	true	"Artifact name"
//	@Param			collection	query		string	false	"Collection id"
//	@Success		200			{object}	PullResponse
//	@Failure		404			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{type}/{name}/pull [post]
func (h *Handler) PullArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cid, ok := h.collectionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection query parameter is required"))
		return
	}
	res, err := h.deps.Syncer.PullFromSource(r.Context(), cid, id)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrUpstreamUnavailable):
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		default:
			slog.Error("pull failed", slog.String("artifact", id.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeployArtifact handles POST /api/artifacts/{type}/{name}/deploy.
//
//	@Summary		Copy the collection state of an artifact into a project
//	@Tags			sync
//	@Accept			json
//	@Produce		json
//	@Param			type		path		string			true	"Artifact type"
//	@Param			name		path		string			true	"Artifact name"
//	@Param			collection	query		string			false	"Collection id"
//	@Param			body		body		DeployRequest	true	"Target project"
//	@Success		200			{object}	DeployResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{type}/{name}/deploy [post]
func (h *Handler) DeployArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cid, ok := h.collectionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection query parameter is required"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req DeployRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Project == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("project is required"))
		return
	}

	res, err := h.deps.Syncer.DeployToProject(r.Context(), cid, id, req.Project, req.Overwrite)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrConflict):
			writeJSON(w, http.StatusConflict, errorBody("project copy has local changes; pass overwrite to replace them"))
		default:
			slog.Error("deploy failed", slog.String("artifact", id.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ImportArtifact handles POST /api/artifacts.
//
//	@Summary		Import a new artifact from a source ref
//	@Tags			artifacts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportRequest	true	"Artifact to import"
//	@Success		201		{object}	ImportResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts [post]
func (h *Handler) ImportArtifact(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ImportRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	id, err := models.NewIdentity(models.ArtifactType(req.Type), req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if req.Source == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("source is required"))
		return
	}
	cid := req.Collection
	if cid == "" {
		if ids := h.deps.Collections.IDs(); len(ids) == 1 {
			cid = ids[0]
		} else {
			writeJSON(w, http.StatusBadRequest, errorBody("collection is required"))
			return
		}
	}

	res, err := h.deps.Syncer.Import(r.Context(), cid, id, req.Source)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrAlreadyExists):
			writeJSON(w, http.StatusConflict, errorBody("artifact already exists"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrUnsupported):
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		case errors.Is(err, apperr.ErrUpstreamUnavailable):
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		default:
			slog.Error("import failed", slog.String("artifact", id.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// RemoveArtifact handles DELETE /api/artifacts/{type}/{name}.
//
//	@Summary		Remove an artifact from the collection
//	@Tags			artifacts
//	@Param			type		path	string	true	"Artifact type"
//	@Param			name		path	string	true	"Artifact name"
//	@Param			collection	query	string	false	"Collection id"
//	@Success		204			"Artifact removed"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/artifacts/{type}/{name} [delete]
func (h *Handler) RemoveArtifact(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	cid, ok := h.collectionID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection query parameter is required"))
		return
	}
	if err := h.deps.Syncer.Remove(cid, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("remove failed", slog.String("artifact", id.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameTag handles POST /api/tags/rename.
//
//	@Summary		Rename a tag across manifest, front matter, and cache
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RenameTagRequest	true	"Tag rename"
//	@Success		200		{object}	TagMutationResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/rename [post]
func (h *Handler) RenameTag(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RenameTagRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if !validTagParam(req.From) || !validTagParam(req.To) {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to must be non-empty tags without surrounding whitespace"))
		return
	}
	if req.From == req.To {
		writeJSON(w, http.StatusBadRequest, errorBody("from and to are the same tag"))
		return
	}
	cid, ok := h.tagCollection(req.Collection)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection is required"))
		return
	}

	affected, err := h.deps.Tags.RenameTag(cid, req.From, req.To)
	if err != nil {
		h.writeTagError(w, "rename tag", err)
		return
	}
	writeJSON(w, http.StatusOK, tagResponse(affected))
}

// DeleteTag handles POST /api/tags/delete.
//
//	@Summary		Delete a tag across manifest, front matter, and cache
//	@Tags			tags
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DeleteTagRequest	true	"Tag delete"
//	@Success		200		{object}	TagMutationResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tags/delete [post]
func (h *Handler) DeleteTag(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req DeleteTagRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if !validTagParam(req.Tag) {
		writeJSON(w, http.StatusBadRequest, errorBody("tag must be non-empty without surrounding whitespace"))
		return
	}
	cid, ok := h.tagCollection(req.Collection)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("collection is required"))
		return
	}

	affected, err := h.deps.Tags.DeleteTag(cid, req.Tag)
	if err != nil {
		h.writeTagError(w, "delete tag", err)
		return
	}
	writeJSON(w, http.StatusOK, tagResponse(affected))
}

func (h *Handler) tagCollection(cid string) (string, bool) {
	if cid != "" {
		return cid, true
	}
	ids := h.deps.Collections.IDs()
	if len(ids) == 1 {
		return ids[0], true
	}
	return "", false
}

func (h *Handler) writeTagError(w http.ResponseWriter, op string, err error) {
	var pb *apperr.PartialBatch
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.As(err, &pb):
		// Front-matter writes failed before the manifest was persisted.
		slog.Error(op+" aborted", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func validTagParam(s string) bool {
	return s != "" && strings.TrimSpace(s) == s
}

func tagResponse(affected []models.Identity) TagMutationResponse {
	keys := make([]string, len(affected))
	for i, id := range affected {
		keys[i] = id.String()
	}
	return TagMutationResponse{Affected: keys}
}

// RefreshCache handles POST /api/cache/refresh.
//
//	@Summary		Rebuild cache records from the manifests
//	@Tags			cache
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RefreshRequest	false	"Optional collection filter"
//	@Success		200		{object}	RefreshResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/cache/refresh [post]
func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req RefreshRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	stats, err := h.deps.Refresher.RefreshAll(req.Collection)
	if err != nil {
		var pb *apperr.PartialBatch
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.As(err, &pb):
			slog.Error("refresh failed for every artifact", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody(err.Error()))
		default:
			slog.Error("refresh failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse(stats))
}

// CacheStale handles GET /api/cache/stale.
//
//	@Summary		Report cache freshness counts against the staleness TTL
//	@Tags			cache
//	@Produce		json
//	@Success		200	{object}	StalenessResponse
//	@Security		BearerAuth
//	@Router			/cache/stale [get]
func (h *Handler) CacheStale(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Cache.Stats(h.deps.CacheTTL)
	if err != nil {
		slog.Error("cache stats failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
