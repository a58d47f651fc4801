// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Raido library operations for LLM integration via stdio
// transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/cache"
	"github.com/starford/raido/internal/collection"
	"github.com/starford/raido/internal/diff"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/syncer"
	"github.com/starford/raido/internal/tags"
)

// Server wraps the MCP server with Raido tools.
type Server struct {
	mcp         *server.MCPServer
	collections *collection.Registry
	syncer      *syncer.Service
	tags        *tags.Service
	engine      *diff.Engine
	store       cache.Store
}

// New creates a new MCP server with all Raido tools registered.
func New(collections *collection.Registry, sync *syncer.Service, tagSvc *tags.Service, engine *diff.Engine, store cache.Store) *Server {
	s := &Server{
		collections: collections,
		syncer:      sync,
		tags:        tagSvc,
		engine:      engine,
		store:       store,
	}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_artifacts",
		mcp.WithDescription("List cached artifact metadata, optionally filtered by type or tag."),
		mcp.WithString("collection", mcp.Description("Collection id (optional when only one is configured)")),
		mcp.WithString("type", mcp.Description("Artifact type filter: skill, command, agent, tool, or hook")),
		mcp.WithString("tag", mcp.Description("Tag filter")),
	), s.listArtifacts)

	s.mcp.AddTool(mcp.NewTool("artifact_status",
		mcp.WithDescription("Classify an artifact's sync state across every applicable scope "+
			"(source/collection, project/collection, source/project)."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Artifact key (e.g. skill:pdf-parser)")),
		mcp.WithString("collection", mcp.Description("Collection id (optional when only one is configured)")),
		mcp.WithString("project", mcp.Description("Project name; include to also check the project scopes")),
	), s.artifactStatus)

	s.mcp.AddTool(mcp.NewTool("read_artifact",
		mcp.WithDescription("Read an artifact's primary content file, or a named file, from the collection."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Artifact key (e.g. skill:pdf-parser)")),
		mcp.WithString("collection", mcp.Description("Collection id (optional when only one is configured)")),
		mcp.WithString("file", mcp.Description("File path relative to the artifact directory (defaults to the primary file)")),
	), s.readArtifact)

	s.mcp.AddTool(mcp.NewTool("pull_artifact",
		mcp.WithDescription("Overwrite the collection copy of an artifact with the current upstream "+
			"state and record the new resolved version. Check artifact_status first: pulling "+
			"discards collection-side edits."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Artifact key (e.g. skill:pdf-parser)")),
		mcp.WithString("collection", mcp.Description("Collection id (optional when only one is configured)")),
	), s.pullArtifact)

	s.mcp.AddTool(mcp.NewTool("deploy_artifact",
		mcp.WithDescription("Copy the collection state of an artifact into a project and record the "+
			"deploy baseline. Fails when the project copy has local changes unless overwrite is set."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Artifact key (e.g. skill:pdf-parser)")),
		mcp.WithString("project", mcp.Required(), mcp.Description("Target project name")),
		mcp.WithString("collection", mcp.Description("Collection id (optional when only one is configured)")),
		mcp.WithBoolean("overwrite", mcp.Description("Replace local project changes")),
	), s.deployArtifact)

	s.mcp.AddTool(mcp.NewTool("rename_tag",
		mcp.WithDescription("Rename a tag on every artifact carrying it: manifest, front matter, and cache."),
		mcp.WithString("from", mcp.Required(), mcp.Description("Current tag")),
		mcp.WithString("to", mcp.Required(), mcp.Description("New tag")),
		mcp.WithString("collection", mcp.Description("Collection id (optional when only one is configured)")),
	), s.renameTag)

	s.mcp.AddTool(mcp.NewTool("delete_tag",
		mcp.WithDescription("Delete a tag from every artifact carrying it: manifest, front matter, and cache."),
		mcp.WithString("tag", mcp.Required(), mcp.Description("Tag to delete")),
		mcp.WithString("collection", mcp.Description("Collection id (optional when only one is configured)")),
	), s.deleteTag)

	s.mcp.AddTool(mcp.NewTool("get_artifact_contract",
		mcp.WithDescription("Returns the canonical artifact front-matter contract. "+
			"Call this before editing artifact content files to keep the metadata header valid."),
	), s.getArtifactContract)

	// Resource: artifact format contract.
	s.mcp.AddResource(
		mcp.NewResource("raido://artifact-format", "Artifact Format Contract",
			mcp.WithResourceDescription("Canonical front-matter format for artifact content files."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readArtifactFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// collectionID resolves an explicit collection argument, defaulting to the
// only registered collection when exactly one exists.
func (s *Server) collectionID(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	ids := s.collections.IDs()
	if len(ids) == 1 {
		return ids[0], nil
	}
	return "", fmt.Errorf("collection is required when %d collections are configured", len(ids))
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func (s *Server) listArtifacts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ := optionalString(req, "type")
	if typ != "" && !models.ArtifactType(typ).Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("unknown artifact type: %s", typ)), nil
	}

	records, _, err := s.store.List(cache.ListQuery{
		CollectionID: optionalString(req, "collection"),
		Type:         models.ArtifactType(typ),
		Tag:          optionalString(req, "tag"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(records, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) artifactStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := models.ParseIdentity(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cid, err := s.collectionID(optionalString(req, "collection"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	states, err := s.engine.Status(ctx, cid, id, optionalString(req, "project"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(states, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := models.ParseIdentity(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cid, err := s.collectionID(optionalString(req, "collection"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	col, err := s.collections.Get(cid)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var data []byte
	if file := optionalString(req, "file"); file != "" {
		data, err = col.ReadFile(id, file)
	} else {
		_, data, err = col.PrimaryFile(id)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) pullArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := models.ParseIdentity(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cid, err := s.collectionID(optionalString(req, "collection"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.syncer.PullFromSource(ctx, cid, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) deployArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	project, err := req.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := models.ParseIdentity(key)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cid, err := s.collectionID(optionalString(req, "collection"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.syncer.DeployToProject(ctx, cid, id, project, req.GetBool("overwrite", false))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) renameTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, err := req.RequireString("from")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	to, err := req.RequireString("to")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cid, err := s.collectionID(optionalString(req, "collection"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	affected, err := s.tags.RenameTag(cid, from, to)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(affected) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no artifacts carry tag %q", from)), nil
	}
	return mcp.NewToolResultText(joinKeys(affected)), nil
}

func (s *Server) deleteTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, err := req.RequireString("tag")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cid, err := s.collectionID(optionalString(req, "collection"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	affected, err := s.tags.DeleteTag(cid, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(affected) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no artifacts carry tag %q", tag)), nil
	}
	return mcp.NewToolResultText(joinKeys(affected)), nil
}

func (s *Server) getArtifactContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ArtifactFormatContract), nil
}

func (s *Server) readArtifactFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "raido://artifact-format",
			MIMEType: "text/markdown",
			Text:     ArtifactFormatContract,
		},
	}, nil
}

func joinKeys(ids []models.Identity) string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	return strings.Join(keys, "\n")
}
