// ABOUTME: Builtin crate tools: artifact upload, download, search, delete
// ABOUTME: Crate metadata lives in the store, bytes in the blob store

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/blob"
	"github.com/ravediamond/mcph-gateway/internal/store"
)

const (
	signedURLTTL  = 15 * time.Minute
	guestCrateTTL = 7 * 24 * time.Hour
	defaultLimit  = 20
	maxLimit      = 100
)

// CrateTools implements the builtin artifact tools over the crate store and
// blob store.
type CrateTools struct {
	crates store.CrateStore
	blobs  blob.Store
	logger *slog.Logger
}

func NewCrateTools(crates store.CrateStore, blobs blob.Store, logger *slog.Logger) *CrateTools {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrateTools{crates: crates, blobs: blobs, logger: logger.With("component", "crates")}
}

// RegisterAll registers every crate tool on the registry.
func (c *CrateTools) RegisterAll(registry *Registry) error {
	defs := []struct {
		def     Definition
		handler Handler
	}{
		{
			def: Definition{
				Name:        "crates_get",
				Description: "Get a crate's metadata and a short-lived download link by ID. Public crates are readable without authentication.",
				InputSchema: objectSchema(map[string]any{
					"id": map[string]any{"type": "string", "description": "Crate ID"},
				}, []string{"id"}),
				AllowAnonymous: true,
			},
			handler: c.handleGet,
		},
		{
			def: Definition{
				Name:        "crates_list",
				Description: "List your crates, newest first.",
				InputSchema: objectSchema(map[string]any{
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxLimit},
				}, nil),
			},
			handler: c.handleList,
		},
		{
			def: Definition{
				Name:        "crates_upload",
				Description: "Create a crate and get a short-lived signed URL to upload its content. Unauthenticated uploads expire after seven days.",
				InputSchema: objectSchema(map[string]any{
					"title":        map[string]any{"type": "string", "minLength": 1},
					"description":  map[string]any{"type": "string"},
					"content_type": map[string]any{"type": "string", "minLength": 1},
					"size_bytes":   map[string]any{"type": "integer", "minimum": 0},
					"public":       map[string]any{"type": "boolean"},
				}, []string{"title", "content_type"}),
				AllowAnonymous: true,
			},
			handler: c.handleUpload,
		},
		{
			def: Definition{
				Name:        "crates_download",
				Description: "Get a short-lived signed download URL for a crate you own.",
				InputSchema: objectSchema(map[string]any{
					"id": map[string]any{"type": "string"},
				}, []string{"id"}),
			},
			handler: c.handleDownload,
		},
		{
			def: Definition{
				Name:        "crates_delete",
				Description: "Delete a crate you own, including its stored content.",
				InputSchema: objectSchema(map[string]any{
					"id": map[string]any{"type": "string"},
				}, []string{"id"}),
			},
			handler: c.handleDelete,
		},
		{
			def: Definition{
				Name:        "crates_search",
				Description: "Search your crates by title and description.",
				InputSchema: objectSchema(map[string]any{
					"query": map[string]any{"type": "string", "minLength": 1},
					"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": maxLimit},
				}, []string{"query"}),
			},
			handler: c.handleSearch,
		},
	}

	for _, d := range defs {
		if err := registry.Register(d.def, d.handler); err != nil {
			return fmt.Errorf("failed to register %s: %w", d.def.Name, err)
		}
	}
	return nil
}

func (c *CrateTools) handleGet(ctx context.Context, args map[string]any) (*Result, error) {
	id, _ := args["id"].(string)
	crate, err := c.crates.GetCrate(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return errorResult("crate not found: " + id), nil
		}
		return nil, fmt.Errorf("failed to load crate: %w", err)
	}

	authCtx := auth.MustFromContext(ctx)
	if !crate.Public && crate.OwnerID != authCtx.CallerID {
		// Existence of private crates is not disclosed.
		return errorResult("crate not found: " + id), nil
	}

	downloadURL, err := c.blobs.SignedDownloadURL(ctx, crate.StoragePath, crate.Title, signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign download URL: %w", err)
	}

	return &Result{
		Content:    []Content{TextContent(fmt.Sprintf("%s (%s, %d bytes)", crate.Title, crate.ContentType, crate.SizeBytes))},
		Structured: crateFields(crate, map[string]any{"download_url": downloadURL}),
	}, nil
}

func (c *CrateTools) handleList(ctx context.Context, args map[string]any) (*Result, error) {
	authCtx := auth.MustFromContext(ctx)
	crates, err := c.crates.ListCrates(ctx, authCtx.CallerID, limitArg(args))
	if err != nil {
		return nil, fmt.Errorf("failed to list crates: %w", err)
	}
	return crateListResult(crates), nil
}

func (c *CrateTools) handleUpload(ctx context.Context, args map[string]any) (*Result, error) {
	authCtx := auth.MustFromContext(ctx)
	title, _ := args["title"].(string)
	description, _ := args["description"].(string)
	contentType, _ := args["content_type"].(string)
	public, _ := args["public"].(bool)
	var sizeBytes int64
	if v, ok := args["size_bytes"].(float64); ok {
		sizeBytes = int64(v)
	}

	now := time.Now()
	crate := &store.Crate{
		ID:          uuid.New().String(),
		OwnerID:     authCtx.CallerID,
		Title:       title,
		Description: description,
		ContentType: contentType,
		SizeBytes:   sizeBytes,
		Public:      public,
		CreatedAt:   now,
	}
	crate.StoragePath = "crates/" + crate.ID
	if authCtx.Anonymous() {
		// Guest uploads are public and garbage-collected after the TTL.
		expires := now.Add(guestCrateTTL)
		crate.ExpiresAt = &expires
		crate.Public = true
	}

	if err := c.crates.CreateCrate(ctx, crate); err != nil {
		return nil, fmt.Errorf("failed to create crate: %w", err)
	}

	uploadURL, err := c.blobs.SignedUploadURL(ctx, crate.StoragePath, contentType, signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign upload URL: %w", err)
	}

	return &Result{
		Content:    []Content{TextContent("crate created: " + crate.ID)},
		Structured: crateFields(crate, map[string]any{"upload_url": uploadURL}),
	}, nil
}

func (c *CrateTools) handleDownload(ctx context.Context, args map[string]any) (*Result, error) {
	id, _ := args["id"].(string)
	crate, err := c.ownedCrate(ctx, id)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	downloadURL, err := c.blobs.SignedDownloadURL(ctx, crate.StoragePath, crate.Title, signedURLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to sign download URL: %w", err)
	}
	if err := c.crates.IncrementDownloads(ctx, crate.ID); err != nil {
		c.logger.Warn("failed to count download", "crate_id", crate.ID, "error", err)
	}

	return &Result{
		Content:    []Content{TextContent(downloadURL)},
		Structured: map[string]any{"id": crate.ID, "download_url": downloadURL, "expires_in_seconds": int(signedURLTTL.Seconds())},
	}, nil
}

func (c *CrateTools) handleDelete(ctx context.Context, args map[string]any) (*Result, error) {
	id, _ := args["id"].(string)
	crate, err := c.ownedCrate(ctx, id)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	if err := c.blobs.Delete(ctx, crate.StoragePath); err != nil {
		c.logger.Warn("failed to delete crate content", "crate_id", crate.ID, "error", err)
	}
	if err := c.crates.DeleteCrate(ctx, crate.ID); err != nil {
		return nil, fmt.Errorf("failed to delete crate: %w", err)
	}

	return TextResult("deleted crate " + crate.ID), nil
}

func (c *CrateTools) handleSearch(ctx context.Context, args map[string]any) (*Result, error) {
	authCtx := auth.MustFromContext(ctx)
	query, _ := args["query"].(string)
	crates, err := c.crates.SearchCrates(ctx, authCtx.CallerID, query, limitArg(args))
	if err != nil {
		return nil, fmt.Errorf("failed to search crates: %w", err)
	}
	return crateListResult(crates), nil
}

// ownedCrate loads a crate and verifies ownership. Other callers' crates
// look like missing ones.
func (c *CrateTools) ownedCrate(ctx context.Context, id string) (*store.Crate, error) {
	crate, err := c.crates.GetCrate(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("crate not found: %s", id)
		}
		return nil, fmt.Errorf("failed to load crate: %w", err)
	}
	authCtx := auth.MustFromContext(ctx)
	if crate.OwnerID != authCtx.CallerID {
		return nil, fmt.Errorf("crate not found: %s", id)
	}
	return crate, nil
}

// SweepExpired deletes guest crates past their TTL, including their blobs.
// Intended to run periodically from the server lifecycle.
func (c *CrateTools) SweepExpired(ctx context.Context, now time.Time) error {
	paths, err := c.crates.DeleteExpiredCrates(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to delete expired crates: %w", err)
	}
	for _, path := range paths {
		if err := c.blobs.Delete(ctx, path); err != nil {
			c.logger.Warn("failed to delete expired crate content", "path", path, "error", err)
		}
	}
	if len(paths) > 0 {
		c.logger.Info("swept expired crates", "count", len(paths))
	}
	return nil
}

func crateListResult(crates []*store.Crate) *Result {
	items := make([]map[string]any, 0, len(crates))
	text := fmt.Sprintf("%d crate(s)", len(crates))
	for _, crate := range crates {
		items = append(items, crateFields(crate, nil))
	}
	return &Result{
		Content:    []Content{TextContent(text)},
		Structured: map[string]any{"crates": items, "count": len(crates)},
	}
}

func crateFields(crate *store.Crate, extra map[string]any) map[string]any {
	fields := map[string]any{
		"id":           crate.ID,
		"title":        crate.Title,
		"description":  crate.Description,
		"content_type": crate.ContentType,
		"size_bytes":   crate.SizeBytes,
		"public":       crate.Public,
		"downloads":    crate.Downloads,
		"created_at":   crate.CreatedAt.Format(time.RFC3339),
	}
	if crate.ExpiresAt != nil {
		fields["expires_at"] = crate.ExpiresAt.Format(time.RFC3339)
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

func errorResult(message string) *Result {
	return &Result{Content: []Content{TextContent(message)}, IsError: true}
}

func limitArg(args map[string]any) int {
	if v, ok := args["limit"].(float64); ok {
		limit := int(v)
		if limit > 0 && limit <= maxLimit {
			return limit
		}
	}
	return defaultLimit
}

func objectSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
