// Package mcp implements the Model Context Protocol (MCP) server for memorycore.
// It exposes the memory manager as JSON-RPC 2.0 tools.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/scrypster/memorycore/pkg/types"
)

// tagList decodes tags sent either as a JSON array, a JSON-encoded array
// string ("[\"a\",\"b\"]") or a comma-separated string. Some MCP clients
// stringify array arguments.
type tagList []string

func (t *tagList) UnmarshalJSON(data []byte) error {
	var tags []string
	if err := json.Unmarshal(data, &tags); err == nil {
		*t = tags
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil // ignore unrecognised tag formats rather than failing
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		_ = json.Unmarshal([]byte(s), &tags)
		*t = tags
		return nil
	}
	var out []string
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	*t = out
	return nil
}

// SaveMemoryArgs contains arguments for the save_memory tool.
type SaveMemoryArgs struct {
	Content    string                 `json:"content"`              // Memory content (required)
	Category   string                 `json:"category,omitempty"`   // Defaults to "general"
	Tags       tagList                `json:"tags,omitempty"`       // User-defined tags
	Importance types.Importance       `json:"importance,omitempty"` // low, medium or high
	Custom     map[string]interface{} `json:"custom_fields,omitempty"`
	TenantID   string                 `json:"tenant_id,omitempty"`
	TTLDays    *int                   `json:"ttl_days,omitempty"` // 0 disables expiry; omitted uses the configured default
}

// SaveMemoryResult is returned by save_memory.
type SaveMemoryResult struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	HasEmbedding bool   `json:"has_embedding"`
	Message      string `json:"message"`
}

// RecallMemoryArgs contains arguments for the recall_memory tool.
type RecallMemoryArgs struct {
	Query    string  `json:"query"`           // Natural-language query (required)
	Limit    int     `json:"limit,omitempty"` // Default 10, max 100
	Category string  `json:"category,omitempty"`
	Tags     tagList `json:"tags,omitempty"`
	TenantID string  `json:"tenant_id,omitempty"`
}

// RecallHit is a single ranked result.
type RecallHit struct {
	Memory *types.Memory `json:"memory"`
	Score  float64       `json:"score"`
}

// RecallMemoryResult is returned by recall_memory.
type RecallMemoryResult struct {
	Query   string      `json:"query"`
	Results []RecallHit `json:"results"`
	Total   int         `json:"total"`
}

// GetMemoryArgs contains arguments for the get_memory tool.
type GetMemoryArgs struct {
	MemoryID string `json:"memory_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

// GetMemoryResult is returned by get_memory. Found is false when the memory
// does not exist for the tenant.
type GetMemoryResult struct {
	Found  bool          `json:"found"`
	Memory *types.Memory `json:"memory,omitempty"`
}

// UpdateMemoryArgs contains arguments for the update_memory tool. Metadata
// fields that are omitted keep their current value.
type UpdateMemoryArgs struct {
	MemoryID   string            `json:"memory_id"`
	Content    *string           `json:"content,omitempty"`
	Category   *string           `json:"category,omitempty"`
	Tags       *tagList          `json:"tags,omitempty"`
	Importance *types.Importance `json:"importance,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
}

// UpdateMemoryResult is returned by update_memory.
type UpdateMemoryResult struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Message string `json:"message"`
}

// DeleteMemoryArgs contains arguments for the delete_memory tool.
type DeleteMemoryArgs struct {
	MemoryID string `json:"memory_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

// DeleteMemoryResult is returned by delete_memory.
type DeleteMemoryResult struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ListMemoriesArgs contains arguments for the list_memories tool.
type ListMemoriesArgs struct {
	Limit    int     `json:"limit,omitempty"` // Default 20, max 1000
	Offset   int     `json:"offset,omitempty"`
	Category string  `json:"category,omitempty"`
	Tags     tagList `json:"tags,omitempty"`
	TenantID string  `json:"tenant_id,omitempty"`
}

// ListMemoriesResult is returned by list_memories.
type ListMemoriesResult struct {
	Memories []*types.Memory `json:"memories"`
	Total    int             `json:"total"`
	Offset   int             `json:"offset"`
	HasMore  bool            `json:"has_more"`
}

// CountMemoriesArgs contains arguments for the count_memories tool.
type CountMemoriesArgs struct {
	Category string  `json:"category,omitempty"`
	Tags     tagList `json:"tags,omitempty"`
	TenantID string  `json:"tenant_id,omitempty"`
}

// CountMemoriesResult is returned by count_memories.
type CountMemoriesResult struct {
	Count int `json:"count"`
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	Method  string      `json:"method"`  // Method name
	Params  interface{} `json:"params"`  // Method parameters
	ID      interface{} `json:"id"`      // Request ID (string, number, or null)
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`          // Must be "2.0"
	Result  interface{}   `json:"result,omitempty"` // Result (if successful)
	Error   *JSONRPCError `json:"error,omitempty"`  // Error (if failed)
	ID      interface{}   `json:"id"`               // Request ID
}

// JSONRPCError represents a JSON-RPC 2.0 error.
type JSONRPCError struct {
	Code    int         `json:"code"`           // Error code
	Message string      `json:"message"`        // Error message
	Data    interface{} `json:"data,omitempty"` // Additional error data
}

// JSON-RPC error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrCodeServerError    = -32000 // Server error
)

// ---------------------------------------------------------------------------
// Standard MCP protocol types (initialize / tools/list / tools/call)
// ---------------------------------------------------------------------------

// MCPServerInfo identifies this MCP server.
type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServerCapabilities describes what this server supports.
type MCPServerCapabilities struct {
	Tools *MCPToolsCapability `json:"tools,omitempty"`
}

// MCPToolsCapability signals that the server exposes tools.
type MCPToolsCapability struct{}

// MCPInitializeResult is the response to the initialize request.
type MCPInitializeResult struct {
	ProtocolVersion string                `json:"protocolVersion"`
	Capabilities    MCPServerCapabilities `json:"capabilities"`
	ServerInfo      MCPServerInfo         `json:"serverInfo"`
}

// MCPTool describes a single tool exposed via the MCP tools/list endpoint.
type MCPTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// MCPToolsListResult is the response to the tools/list request.
type MCPToolsListResult struct {
	Tools []MCPTool `json:"tools"`
}

// MCPToolCallParams holds the parameters sent in a tools/call request.
type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// MCPToolCallContent is a single content block in a tool call response.
type MCPToolCallContent struct {
	Type string `json:"type"` // always "text" for now
	Text string `json:"text"`
}

// MCPToolCallResult is the response to a tools/call request.
type MCPToolCallResult struct {
	Content []MCPToolCallContent `json:"content"`
	IsError bool                 `json:"isError,omitempty"`
}
