// ABOUTME: Tool registry with JSON Schema argument validation
// ABOUTME: Tracks per-caller usage and decides anonymous reachability

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ravediamond/mcph-gateway/internal/auth"
	"github.com/ravediamond/mcph-gateway/internal/store"
)

// Registry errors
var (
	ErrToolNotFound       = errors.New("tool not found")
	ErrAnonymousForbidden = errors.New("tool requires authentication")
)

// ValidationIssue is a single schema violation, addressed by JSON path.
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries the full issue list from argument validation.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments: %d issue(s)", len(e.Issues))
}

// Content is one block of a tool result: text, or a base64 image.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// TextContent builds a text content block.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// ImageContent builds an image content block from base64 data.
func ImageContent(data, mimeType string) Content {
	return Content{Type: "image", Data: data, MimeType: mimeType}
}

// Result is a transport-agnostic tool invocation result.
type Result struct {
	Content    []Content      `json:"content"`
	IsError    bool           `json:"isError,omitempty"`
	Structured map[string]any `json:"structuredContent,omitempty"`
}

// TextResult builds a single-block text result.
func TextResult(text string) *Result {
	return &Result{Content: []Content{TextContent(text)}}
}

// Handler executes a tool call. Arguments have already passed schema
// validation; the auth Context is available via auth.FromContext.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)

// Definition describes a tool for protocol discovery.
type Definition struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	InputSchema    map[string]any `json:"inputSchema"`
	AllowAnonymous bool           `json:"-"`
}

type registration struct {
	def     Definition
	handler Handler
	schema  *gojsonschema.Schema
}

// Registry holds registered tools. Registration is last-wins: registering a
// name again replaces the previous definition, which makes re-registration
// during hot reload idempotent.
type Registry struct {
	usage  store.UsageStore
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]*registration
}

// NewRegistry creates a tool registry. usage may be nil to disable
// per-caller accounting.
func NewRegistry(usage store.UsageStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		usage:  usage,
		logger: logger.With("component", "tools"),
		tools:  make(map[string]*registration),
	}
}

// Register stores a tool definition and its handler. The input schema is
// compiled once here so invalid schemas fail at startup, not per call.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s has no handler", def.Name)
	}

	var schema *gojsonschema.Schema
	if def.InputSchema != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
		if err != nil {
			return fmt.Errorf("tool %s has invalid input schema: %w", def.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	r.tools[def.Name] = &registration{def: def, handler: handler, schema: schema}
	r.mu.Unlock()
	return nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllowsAnonymous reports whether the named tool is reachable without a
// credential. Unknown tools report false.
func (r *Registry) AllowsAnonymous(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return ok && reg.def.AllowAnonymous
}

// Invoke validates args against the tool's schema and runs its handler.
// Anonymous callers may only invoke tools that declare AllowAnonymous.
// The handler is never invoked when validation fails.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (result *Result, err error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	authCtx := auth.FromContext(ctx)
	if authCtx == nil {
		authCtx = auth.AnonymousContext()
		ctx = auth.WithAuth(ctx, authCtx)
	}
	if authCtx.Anonymous() && !reg.def.AllowAnonymous {
		return nil, fmt.Errorf("%w: %s", ErrAnonymousForbidden, name)
	}

	if reg.schema != nil {
		if verr := validateArgs(reg.schema, args); verr != nil {
			return nil, verr
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool handler panicked", "tool", name, "panic", rec)
			err = fmt.Errorf("tool %s panicked", name)
		}
	}()

	result, err = reg.handler(ctx, args)
	if err != nil {
		return nil, err
	}

	r.recordUsage(ctx, name, authCtx)
	return result, nil
}

// recordUsage increments the caller's counter and logs the invocation.
// Anonymous calls are logged but not counted.
func (r *Registry) recordUsage(ctx context.Context, name string, authCtx *auth.Context) {
	r.logger.Info("tool invoked", "tool", name, "caller_id", authCtx.CallerID, "client_name", authCtx.ClientName)
	if authCtx.Anonymous() || r.usage == nil {
		return
	}
	if err := r.usage.IncrementToolUsage(ctx, authCtx.CallerID, name, time.Now()); err != nil {
		r.logger.Warn("failed to record tool usage", "tool", name, "caller_id", authCtx.CallerID, "error", err)
	}
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ValidationError{Issues: []ValidationIssue{{Path: "", Message: err.Error()}}}
	}
	if result.Valid() {
		return nil
	}
	issues := make([]ValidationIssue, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		issues = append(issues, ValidationIssue{
			Path:    resultErr.Field(),
			Message: resultErr.Description(),
		})
	}
	return &ValidationError{Issues: issues}
}
