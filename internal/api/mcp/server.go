package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/scrypster/memorycore/internal/engine"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

const (
	protocolVersion = "2024-11-05"

	defaultRecallLimit = 10
	maxRecallLimit     = 100
	defaultListLimit   = 20
)

// memoryManager is the subset of *engine.Manager used by the MCP server.
type memoryManager interface {
	Save(ctx context.Context, content string, opts engine.SaveOptions) (*types.Memory, error)
	Get(ctx context.Context, id, tenantID string) (*types.Memory, error)
	Update(ctx context.Context, id string, opts engine.UpdateOptions) (*types.Memory, error)
	Delete(ctx context.Context, id, tenantID string) error
	Search(ctx context.Context, query string, opts engine.SearchOptions) ([]storage.SearchResult, error)
	List(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*types.Memory, error)
	Count(ctx context.Context, tenantID string, filters storage.Filters) (int, error)
}

// Server implements the Model Context Protocol (MCP) for memorycore.
type Server struct {
	manager       memoryManager
	logger        *log.Logger
	defaultTenant string // used when a tool call omits tenant_id
	version       string
	sessionID     string // unique ID generated once per MCP server lifetime
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. The logger must not write to stdout.
func WithLogger(l *log.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultTenant sets the tenant used when a tool call does not include
// an explicit tenant_id. When empty the manager's configured tenant applies.
func WithDefaultTenant(tenant string) ServerOption {
	return func(s *Server) {
		s.defaultTenant = tenant
	}
}

// WithVersion sets the version reported in the initialize handshake.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a new MCP server backed by manager.
func NewServer(manager memoryManager, opts ...ServerOption) *Server {
	s := &Server{
		manager:   manager,
		logger:    log.Default(),
		version:   "dev",
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("mcp session started", "session_id", s.sessionID)
	return s
}

// SessionID returns the identifier generated for this server instance.
func (s *Server) SessionID() string { return s.sessionID }

// HandleRequest processes a JSON-RPC 2.0 request and returns a response.
// This is the main entry point for MCP protocol handling.
func (s *Server) HandleRequest(ctx context.Context, requestJSON []byte) ([]byte, error) {
	var req JSONRPCRequest
	if err := json.Unmarshal(requestJSON, &req); err != nil {
		return s.errorResponse(nil, ErrCodeParseError, "Parse error", err.Error())
	}

	if req.JSONRPC != "2.0" {
		return s.errorResponse(req.ID, ErrCodeInvalidRequest, "Invalid JSON-RPC version", nil)
	}

	var result interface{}
	var err error

	switch req.Method {
	// Standard MCP protocol methods
	case "initialize":
		result, err = s.handleInitialize(ctx, req.Params)
	case "initialized", "notifications/initialized":
		result = map[string]interface{}{}
	case "tools/list":
		result, err = s.handleToolsList(ctx, req.Params)
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	default:
		handler, ok := s.tool(req.Method)
		if !ok {
			return s.errorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
		}
		result, err = handler(ctx, req.Params)
	}

	if err != nil {
		code, data := errorCode(err)
		return s.errorResponse(req.ID, code, err.Error(), data)
	}

	return s.successResponse(req.ID, result)
}

type toolHandler func(ctx context.Context, params interface{}) (interface{}, error)

func (s *Server) tool(name string) (toolHandler, bool) {
	switch name {
	case "save_memory":
		return s.handleSaveMemory, true
	case "recall_memory":
		return s.handleRecallMemory, true
	case "get_memory":
		return s.handleGetMemory, true
	case "update_memory":
		return s.handleUpdateMemory, true
	case "delete_memory":
		return s.handleDeleteMemory, true
	case "list_memories":
		return s.handleListMemories, true
	case "count_memories":
		return s.handleCountMemories, true
	default:
		return nil, false
	}
}

// errorCode maps domain errors to JSON-RPC codes. Validation problems are the
// caller's fault; everything else is a server error. The stable domain code
// travels in the error data.
func errorCode(err error) (int, interface{}) {
	var data interface{}
	if code := types.ErrorCode(err); code != "" {
		data = map[string]string{"code": code}
	}
	var ve *types.ValidationError
	if errors.As(err, &ve) || errors.Is(err, errInvalidParams) {
		return ErrCodeInvalidParams, data
	}
	return ErrCodeServerError, data
}

var errInvalidParams = errors.New("invalid params")

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

// SaveMemory stores a new memory.
func (s *Server) SaveMemory(ctx context.Context, args SaveMemoryArgs) (*SaveMemoryResult, error) {
	md := types.DefaultMetadata()
	if args.Category != "" {
		md.Category = args.Category
	}
	if args.Importance != "" {
		md.Importance = args.Importance
	}
	md.Tags = args.Tags
	md.CustomFields = args.Custom

	mem, err := s.manager.Save(ctx, args.Content, engine.SaveOptions{
		Metadata: &md,
		TenantID: s.tenant(args.TenantID),
		TTLDays:  args.TTLDays,
	})
	if err != nil {
		return nil, err
	}

	msg := "memory saved"
	if !mem.HasEmbedding() {
		msg = "memory saved without embedding; it will not appear in semantic recall until updated"
	}
	return &SaveMemoryResult{
		ID:           mem.ID,
		TenantID:     mem.TenantID,
		HasEmbedding: mem.HasEmbedding(),
		Message:      msg,
	}, nil
}

// RecallMemory runs a semantic search.
func (s *Server) RecallMemory(ctx context.Context, args RecallMemoryArgs) (*RecallMemoryResult, error) {
	limit := args.Limit
	if limit <= 0 {
		limit = defaultRecallLimit
	}
	if limit > maxRecallLimit {
		limit = maxRecallLimit
	}

	results, err := s.manager.Search(ctx, args.Query, engine.SearchOptions{
		TenantID: s.tenant(args.TenantID),
		Limit:    limit,
		Filters:  storage.Filters{Category: args.Category, Tags: args.Tags},
	})
	if err != nil {
		return nil, err
	}

	hits := make([]RecallHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, RecallHit{Memory: r.Memory, Score: r.Score})
	}
	return &RecallMemoryResult{Query: args.Query, Results: hits, Total: len(hits)}, nil
}

// GetMemory fetches a memory by ID.
func (s *Server) GetMemory(ctx context.Context, args GetMemoryArgs) (*GetMemoryResult, error) {
	if strings.TrimSpace(args.MemoryID) == "" {
		return nil, fmt.Errorf("%w: memory_id is required", errInvalidParams)
	}
	mem, err := s.manager.Get(ctx, args.MemoryID, s.tenant(args.TenantID))
	if err != nil {
		return nil, err
	}
	return &GetMemoryResult{Found: mem != nil, Memory: mem}, nil
}

// UpdateMemory changes content and/or metadata. Omitted metadata fields keep
// their stored value.
func (s *Server) UpdateMemory(ctx context.Context, args UpdateMemoryArgs) (*UpdateMemoryResult, error) {
	if strings.TrimSpace(args.MemoryID) == "" {
		return nil, fmt.Errorf("%w: memory_id is required", errInvalidParams)
	}
	tenant := s.tenant(args.TenantID)
	opts := engine.UpdateOptions{Content: args.Content, TenantID: tenant}

	if args.Category != nil || args.Tags != nil || args.Importance != nil {
		current, err := s.manager.Get(ctx, args.MemoryID, tenant)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, types.NewNotFoundError(args.MemoryID, tenant)
		}
		md := current.Metadata.Clone()
		if args.Category != nil {
			md.Category = *args.Category
		}
		if args.Tags != nil {
			md.Tags = *args.Tags
		}
		if args.Importance != nil {
			md.Importance = *args.Importance
		}
		opts.Metadata = &md
	}

	if opts.Content == nil && opts.Metadata == nil {
		return nil, fmt.Errorf("%w: nothing to update; pass content, category, tags or importance", errInvalidParams)
	}

	mem, err := s.manager.Update(ctx, args.MemoryID, opts)
	if err != nil {
		return nil, err
	}
	return &UpdateMemoryResult{ID: mem.ID, Version: mem.Version, Message: "memory updated"}, nil
}

// DeleteMemory removes a memory. Deleted reports whether it existed.
func (s *Server) DeleteMemory(ctx context.Context, args DeleteMemoryArgs) (*DeleteMemoryResult, error) {
	if strings.TrimSpace(args.MemoryID) == "" {
		return nil, fmt.Errorf("%w: memory_id is required", errInvalidParams)
	}
	tenant := s.tenant(args.TenantID)

	existing, err := s.manager.Get(ctx, args.MemoryID, tenant)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Delete(ctx, args.MemoryID, tenant); err != nil {
		return nil, err
	}
	return &DeleteMemoryResult{ID: args.MemoryID, Deleted: existing != nil}, nil
}

// ListMemories pages through a tenant's memories in insertion order (oldest first).
func (s *Server) ListMemories(ctx context.Context, args ListMemoriesArgs) (*ListMemoriesResult, error) {
	if args.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", errInvalidParams)
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > storage.MaxListLimit {
		limit = storage.MaxListLimit
	}
	tenant := s.tenant(args.TenantID)
	filters := storage.Filters{Category: args.Category, Tags: args.Tags}

	memories, err := s.manager.List(ctx, tenant, storage.ListOptions{Limit: limit, Offset: args.Offset, Filters: filters})
	if err != nil {
		return nil, err
	}
	total, err := s.manager.Count(ctx, tenant, filters)
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []*types.Memory{}
	}
	return &ListMemoriesResult{
		Memories: memories,
		Total:    total,
		Offset:   args.Offset,
		HasMore:  args.Offset+len(memories) < total,
	}, nil
}

// CountMemories counts a tenant's memories matching the filters.
func (s *Server) CountMemories(ctx context.Context, args CountMemoriesArgs) (*CountMemoriesResult, error) {
	n, err := s.manager.Count(ctx, s.tenant(args.TenantID), storage.Filters{Category: args.Category, Tags: args.Tags})
	if err != nil {
		return nil, err
	}
	return &CountMemoriesResult{Count: n}, nil
}

func (s *Server) handleSaveMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args SaveMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.SaveMemory(ctx, args)
}

func (s *Server) handleRecallMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args RecallMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.RecallMemory(ctx, args)
}

func (s *Server) handleGetMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args GetMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.GetMemory(ctx, args)
}

func (s *Server) handleUpdateMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args UpdateMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.UpdateMemory(ctx, args)
}

func (s *Server) handleDeleteMemory(ctx context.Context, params interface{}) (interface{}, error) {
	var args DeleteMemoryArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.DeleteMemory(ctx, args)
}

func (s *Server) handleListMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args ListMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.ListMemories(ctx, args)
}

func (s *Server) handleCountMemories(ctx context.Context, params interface{}) (interface{}, error) {
	var args CountMemoriesArgs
	if err := s.unmarshalParams(params, &args); err != nil {
		return nil, err
	}
	return s.CountMemories(ctx, args)
}

// ---------------------------------------------------------------------------
// Standard MCP protocol handlers
// ---------------------------------------------------------------------------

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPInitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: MCPServerCapabilities{
			Tools: &MCPToolsCapability{},
		},
		ServerInfo: MCPServerInfo{
			Name:    "memorycore",
			Version: s.version,
		},
	}, nil
}

// handleToolsList returns the list of all tools this server exposes.
func (s *Server) handleToolsList(ctx context.Context, params interface{}) (interface{}, error) {
	return MCPToolsListResult{Tools: s.buildToolsList()}, nil
}

// handleToolsCall dispatches a tools/call request to the appropriate handler
// and wraps the result in the MCP content envelope. Tool failures are reported
// in-band with isError rather than as protocol errors.
func (s *Server) handleToolsCall(ctx context.Context, params interface{}) (interface{}, error) {
	var p MCPToolCallParams
	if err := s.unmarshalParams(params, &p); err != nil {
		return nil, err
	}

	handler, ok := s.tool(p.Name)
	if !ok {
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: fmt.Sprintf("unknown tool: %s", p.Name)}},
			IsError: true,
		}, nil
	}

	var args interface{} = p.Arguments
	if p.Arguments == nil {
		args = map[string]interface{}{}
	}

	result, err := handler(ctx, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", p.Name, "error", err)
		return &MCPToolCallResult{
			Content: []MCPToolCallContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &MCPToolCallResult{
		Content: []MCPToolCallContent{{Type: "text", Text: string(text)}},
	}, nil
}

func tagsSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":        "array",
		"items":       map[string]interface{}{"type": "string"},
		"description": "Tags; a memory must carry all of them to match",
	}
}

func stringProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func intProp(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "integer", "description": desc}
}

func importanceProp() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"enum":        []string{"low", "medium", "high"},
		"description": "Importance level (default medium)",
	}
}

// buildToolsList returns the canonical list of MCP tool definitions.
func (s *Server) buildToolsList() []MCPTool {
	tenant := stringProp("Tenant namespace; defaults to the server's tenant")
	memoryID := stringProp("Memory ID")

	return []MCPTool{
		{
			Name:        "save_memory",
			Description: "Save a new memory. The content is embedded for semantic recall; if embedding fails the memory is still stored.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"content":    stringProp("The text to remember"),
					"category":   stringProp("Category (default general)"),
					"tags":       tagsSchema(),
					"importance": importanceProp(),
					"tenant_id":  tenant,
					"ttl_days":   intProp("Days until the memory expires; 0 never expires"),
				},
				"required": []string{"content"},
			},
		},
		{
			Name:        "recall_memory",
			Description: "Find memories semantically similar to a query, ranked by similarity.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query":     stringProp("Natural-language query"),
					"limit":     intProp("Maximum results (default 10, max 100)"),
					"category":  stringProp("Only memories in this category"),
					"tags":      tagsSchema(),
					"tenant_id": tenant,
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "get_memory",
			Description: "Fetch a single memory by ID.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_id": memoryID,
					"tenant_id": tenant,
				},
				"required": []string{"memory_id"},
			},
		},
		{
			Name:        "update_memory",
			Description: "Update a memory's content or metadata. A version snapshot of the previous content is kept.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_id":  memoryID,
					"content":    stringProp("Replacement content"),
					"category":   stringProp("Replacement category"),
					"tags":       tagsSchema(),
					"importance": importanceProp(),
					"tenant_id":  tenant,
				},
				"required": []string{"memory_id"},
			},
		},
		{
			Name:        "delete_memory",
			Description: "Delete a memory permanently.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"memory_id": memoryID,
					"tenant_id": tenant,
				},
				"required": []string{"memory_id"},
			},
		},
		{
			Name:        "list_memories",
			Description: "List memories in insertion order (oldest first), with optional category and tag filters.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"limit":     intProp("Page size (default 20, max 1000)"),
					"offset":    intProp("Number of memories to skip"),
					"category":  stringProp("Only memories in this category"),
					"tags":      tagsSchema(),
					"tenant_id": tenant,
				},
			},
		},
		{
			Name:        "count_memories",
			Description: "Count memories, with optional category and tag filters.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"category":  stringProp("Only memories in this category"),
					"tags":      tagsSchema(),
					"tenant_id": tenant,
				},
			},
		},
	}
}

func (s *Server) tenant(explicit string) string {
	if explicit != "" {
		return explicit
	}
	return s.defaultTenant
}

// unmarshalParams unmarshals JSON-RPC parameters into a typed struct.
func (s *Server) unmarshalParams(params interface{}, dest interface{}) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	return nil
}

// successResponse creates a JSON-RPC success response.
func (s *Server) successResponse(id interface{}, result interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
	return json.Marshal(resp)
}

// errorResponse creates a JSON-RPC error response.
func (s *Server) errorResponse(id interface{}, code int, message string, data interface{}) ([]byte, error) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
	return json.Marshal(resp)
}
