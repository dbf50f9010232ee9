package mcp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/api/mcp"
	"github.com/scrypster/memorycore/internal/config"
	"github.com/scrypster/memorycore/internal/embedding"
	"github.com/scrypster/memorycore/internal/engine"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/storage/memory"
)

func newTestServer(t *testing.T, opts ...mcp.ServerOption) (*mcp.Server, *engine.Manager) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = "memory"

	quiet := log.New(&bytes.Buffer{})
	m, err := engine.NewManager(memory.New(), embedding.NewHashProvider(32), cfg, engine.WithLogger(quiet))
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { _ = m.Close() })

	opts = append([]mcp.ServerOption{mcp.WithLogger(quiet)}, opts...)
	return mcp.NewServer(m, opts...), m
}

// call sends a JSON-RPC request and decodes the full response.
func call(t *testing.T, srv *mcp.Server, method string, params interface{}) mcp.JSONRPCResponse {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	require.NoError(t, err)

	resp, err := srv.HandleRequest(context.Background(), raw)
	require.NoError(t, err)

	var out mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal(resp, &out))
	return out
}

// decodeResult re-marshals a generic result into dest.
func decodeResult(t *testing.T, result interface{}, dest interface{}) {
	t.Helper()
	data, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, dest))
}

func TestHandleRequest_InvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.HandleRequest(context.Background(), []byte(`{not json`))
	require.NoError(t, err)
	assert.Contains(t, string(resp), fmt.Sprint(mcp.ErrCodeParseError))
}

func TestHandleRequest_WrongVersion(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := srv.HandleRequest(context.Background(), []byte(`{"jsonrpc":"1.0","method":"tools/list","id":7}`))
	require.NoError(t, err)

	var out mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal(resp, &out))
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeInvalidRequest, out.Error.Code)
	assert.EqualValues(t, 7, out.ID)
}

func TestHandleRequest_UnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)
	out := call(t, srv, "store_memory", map[string]interface{}{"content": "x"})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeMethodNotFound, out.Error.Code)
}

func TestInitialize(t *testing.T) {
	srv, _ := newTestServer(t, mcp.WithVersion("1.2.3"))
	out := call(t, srv, "initialize", map[string]interface{}{"protocolVersion": "2024-11-05"})
	require.Nil(t, out.Error)

	var res mcp.MCPInitializeResult
	decodeResult(t, out.Result, &res)
	assert.Equal(t, "memorycore", res.ServerInfo.Name)
	assert.Equal(t, "1.2.3", res.ServerInfo.Version)
	assert.NotNil(t, res.Capabilities.Tools)
	assert.NotEmpty(t, srv.SessionID())
}

func TestToolsList(t *testing.T) {
	srv, _ := newTestServer(t)
	out := call(t, srv, "tools/list", nil)
	require.Nil(t, out.Error)

	var res mcp.MCPToolsListResult
	decodeResult(t, out.Result, &res)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"], tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"save_memory", "recall_memory", "get_memory", "update_memory",
		"delete_memory", "list_memories", "count_memories",
	}, names)
}

func TestSaveAndGet_Direct(t *testing.T) {
	srv, _ := newTestServer(t)

	out := call(t, srv, "save_memory", map[string]interface{}{
		"content":    "  The deploy key lives in vault  ",
		"category":   "Ops",
		"tags":       []string{"Deploy", "vault"},
		"importance": "high",
	})
	require.Nil(t, out.Error)

	var saved mcp.SaveMemoryResult
	decodeResult(t, out.Result, &saved)
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, "default", saved.TenantID)
	assert.True(t, saved.HasEmbedding)

	out = call(t, srv, "get_memory", map[string]interface{}{"memory_id": saved.ID})
	require.Nil(t, out.Error)

	var got mcp.GetMemoryResult
	decodeResult(t, out.Result, &got)
	require.True(t, got.Found)
	assert.Equal(t, "The deploy key lives in vault", got.Memory.Content)
	assert.Equal(t, "Ops", got.Memory.Metadata.Category)
	assert.Equal(t, []string{"deploy", "vault"}, got.Memory.Metadata.Tags)
	assert.EqualValues(t, "high", got.Memory.Metadata.Importance)
}

func TestSaveMemory_TagsAsString(t *testing.T) {
	tests := []struct {
		name string
		tags interface{}
		want []string
	}{
		{"json array", []string{"a", "b"}, []string{"a", "b"}},
		{"encoded array", `["a","b"]`, []string{"a", "b"}},
		{"comma separated", "a, b ,", []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, m := newTestServer(t)
			out := call(t, srv, "save_memory", map[string]interface{}{"content": "tagged", "tags": tt.tags})
			require.Nil(t, out.Error)

			var saved mcp.SaveMemoryResult
			decodeResult(t, out.Result, &saved)
			mem, err := m.Get(context.Background(), saved.ID, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, mem.Metadata.Tags)
		})
	}
}

func TestSaveMemory_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	out := call(t, srv, "save_memory", map[string]interface{}{"content": "   "})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, out.Error.Code)
	assert.Equal(t, map[string]interface{}{"code": "INVALID_MEMORY"}, out.Error.Data)

	out = call(t, srv, "save_memory", map[string]interface{}{"content": "ok", "importance": "urgent"})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, out.Error.Code)
}

func TestRecallMemory_RanksBySimilarity(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, c := range []string{"alpha notes", "beta notes", "gamma notes"} {
		out := call(t, srv, "save_memory", map[string]interface{}{"content": c})
		require.Nil(t, out.Error)
	}

	out := call(t, srv, "recall_memory", map[string]interface{}{"query": "beta notes", "limit": 2})
	require.Nil(t, out.Error)

	var res mcp.RecallMemoryResult
	decodeResult(t, out.Result, &res)
	require.Len(t, res.Results, 2)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "beta notes", res.Results[0].Memory.Content)
	assert.InDelta(t, 1.0, res.Results[0].Score, 1e-6)
	assert.GreaterOrEqual(t, res.Results[0].Score, res.Results[1].Score)
}

func TestRecallMemory_EmptyQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	out := call(t, srv, "recall_memory", map[string]interface{}{"query": ""})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, out.Error.Code)
	assert.Equal(t, map[string]interface{}{"code": "INVALID_QUERY"}, out.Error.Data)
}

func TestGetMemory_MissingAndOtherTenant(t *testing.T) {
	srv, _ := newTestServer(t)

	out := call(t, srv, "save_memory", map[string]interface{}{"content": "private", "tenant_id": "acme"})
	require.Nil(t, out.Error)
	var saved mcp.SaveMemoryResult
	decodeResult(t, out.Result, &saved)

	out = call(t, srv, "get_memory", map[string]interface{}{"memory_id": saved.ID})
	require.Nil(t, out.Error)
	var got mcp.GetMemoryResult
	decodeResult(t, out.Result, &got)
	assert.False(t, got.Found)
	assert.Nil(t, got.Memory)

	out = call(t, srv, "get_memory", map[string]interface{}{"memory_id": ""})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, out.Error.Code)
}

func TestUpdateMemory_MergesMetadata(t *testing.T) {
	srv, m := newTestServer(t)
	out := call(t, srv, "save_memory", map[string]interface{}{
		"content": "v1", "category": "work", "tags": []string{"a"}, "importance": "low",
	})
	require.Nil(t, out.Error)
	var saved mcp.SaveMemoryResult
	decodeResult(t, out.Result, &saved)

	out = call(t, srv, "update_memory", map[string]interface{}{"memory_id": saved.ID, "importance": "high"})
	require.Nil(t, out.Error)

	var upd mcp.UpdateMemoryResult
	decodeResult(t, out.Result, &upd)
	assert.Equal(t, 2, upd.Version)

	mem, err := m.Get(context.Background(), saved.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "v1", mem.Content)
	assert.Equal(t, "work", mem.Metadata.Category)
	assert.Equal(t, []string{"a"}, mem.Metadata.Tags)
	assert.EqualValues(t, "high", mem.Metadata.Importance)

	out = call(t, srv, "update_memory", map[string]interface{}{"memory_id": saved.ID, "content": "v2"})
	require.Nil(t, out.Error)
	mem, err = m.Get(context.Background(), saved.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "v2", mem.Content)
	assert.Equal(t, 3, mem.Version)
}

func TestUpdateMemory_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	out := call(t, srv, "update_memory", map[string]interface{}{"memory_id": "missing", "content": "x"})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeServerError, out.Error.Code)
	assert.Equal(t, map[string]interface{}{"code": "NOT_FOUND"}, out.Error.Data)

	out = call(t, srv, "update_memory", map[string]interface{}{"memory_id": "missing", "category": "x"})
	require.NotNil(t, out.Error)
	assert.Equal(t, map[string]interface{}{"code": "NOT_FOUND"}, out.Error.Data)

	out = call(t, srv, "update_memory", map[string]interface{}{"memory_id": "missing"})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, out.Error.Code)
}

func TestDeleteMemory(t *testing.T) {
	srv, _ := newTestServer(t)
	out := call(t, srv, "save_memory", map[string]interface{}{"content": "temporary"})
	require.Nil(t, out.Error)
	var saved mcp.SaveMemoryResult
	decodeResult(t, out.Result, &saved)

	out = call(t, srv, "delete_memory", map[string]interface{}{"memory_id": saved.ID})
	require.Nil(t, out.Error)
	var del mcp.DeleteMemoryResult
	decodeResult(t, out.Result, &del)
	assert.True(t, del.Deleted)

	out = call(t, srv, "delete_memory", map[string]interface{}{"memory_id": saved.ID})
	require.Nil(t, out.Error)
	decodeResult(t, out.Result, &del)
	assert.False(t, del.Deleted, "second delete is a no-op")
}

func TestListAndCount(t *testing.T) {
	srv, _ := newTestServer(t)
	for i := 0; i < 5; i++ {
		cat := "work"
		if i%2 == 1 {
			cat = "home"
		}
		out := call(t, srv, "save_memory", map[string]interface{}{"content": fmt.Sprintf("item %d", i), "category": cat})
		require.Nil(t, out.Error)
	}

	out := call(t, srv, "list_memories", map[string]interface{}{"limit": 2})
	require.Nil(t, out.Error)
	var page mcp.ListMemoriesResult
	decodeResult(t, out.Result, &page)
	assert.Len(t, page.Memories, 2)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)

	out = call(t, srv, "list_memories", map[string]interface{}{"limit": 2, "offset": 4})
	require.Nil(t, out.Error)
	decodeResult(t, out.Result, &page)
	assert.Len(t, page.Memories, 1)
	assert.False(t, page.HasMore)

	out = call(t, srv, "count_memories", map[string]interface{}{"category": "work"})
	require.Nil(t, out.Error)
	var cnt mcp.CountMemoriesResult
	decodeResult(t, out.Result, &cnt)
	assert.Equal(t, 3, cnt.Count)

	out = call(t, srv, "list_memories", map[string]interface{}{"offset": -1})
	require.NotNil(t, out.Error)
	assert.Equal(t, mcp.ErrCodeInvalidParams, out.Error.Code)
}

func TestDefaultTenantOption(t *testing.T) {
	srv, m := newTestServer(t, mcp.WithDefaultTenant("team"))
	out := call(t, srv, "save_memory", map[string]interface{}{"content": "scoped"})
	require.Nil(t, out.Error)

	n, err := m.Count(context.Background(), "team", storage.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = m.Count(context.Background(), "default", storage.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestToolsCall_WrapsResult(t *testing.T) {
	srv, _ := newTestServer(t)
	out := call(t, srv, "tools/call", map[string]interface{}{
		"name":      "save_memory",
		"arguments": map[string]interface{}{"content": "via tools/call"},
	})
	require.Nil(t, out.Error)

	var res mcp.MCPToolCallResult
	decodeResult(t, out.Result, &res)
	require.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)

	var saved mcp.SaveMemoryResult
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &saved))
	assert.NotEmpty(t, saved.ID)
}

func TestToolsCall_ErrorsAreInBand(t *testing.T) {
	srv, _ := newTestServer(t)

	out := call(t, srv, "tools/call", map[string]interface{}{"name": "nope"})
	require.Nil(t, out.Error)
	var res mcp.MCPToolCallResult
	decodeResult(t, out.Result, &res)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "unknown tool")

	out = call(t, srv, "tools/call", map[string]interface{}{
		"name":      "recall_memory",
		"arguments": map[string]interface{}{"query": "  "},
	})
	require.Nil(t, out.Error)
	decodeResult(t, out.Result, &res)
	assert.True(t, res.IsError)
}
