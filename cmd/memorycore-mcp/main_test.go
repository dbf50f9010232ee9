// main_test.go exercises the memorycore-mcp wiring end-to-end using in-memory
// pipes so no real process needs to be spawned.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/config"
)

// rpcResponse is used to parse responses from the transport.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	ID interface{} `json:"id"`
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = t.TempDir()
	return cfg
}

// serveInput runs the server against input (one request per line) and returns
// the parsed response lines.
func serveInput(t *testing.T, cfg *config.Config, input string) []rpcResponse {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := log.New(&bytes.Buffer{})
	srv, c, err := newServer(ctx, cfg, logger)
	require.NoError(t, err)
	defer func() { _ = c.Manager.Close() }()

	var out bytes.Buffer
	require.NoError(t, serve(ctx, srv, strings.NewReader(input), &out, logger))

	var resps []rpcResponse
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var r rpcResponse
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("stdout carried a non JSON-RPC line %q: %v", sc.Text(), err)
		}
		resps = append(resps, r)
	}
	return resps
}

func TestMCP_HandshakeAndTools(t *testing.T) {
	cfg := testConfig(t)
	resps := serveInput(t, cfg, strings.Join([]string{
		`{"jsonrpc":"2.0","method":"initialize","params":{"protocolVersion":"2024-11-05"},"id":1}`,
		`{"jsonrpc":"2.0","method":"initialized","id":2}`,
		`{"jsonrpc":"2.0","method":"tools/list","id":3}`,
	}, "\n")+"\n")

	require.Len(t, resps, 3)
	for _, r := range resps {
		assert.Equal(t, "2.0", r.JSONRPC)
		assert.Nil(t, r.Error)
	}

	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resps[2].Result, &list))
	assert.Len(t, list.Tools, 7)
}

func TestMCP_PersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)

	resps := serveInput(t, cfg, `{"jsonrpc":"2.0","method":"save_memory","params":{"content":"survives restart"},"id":1}`+"\n")
	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Error)

	var saved struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resps[0].Result, &saved))

	resps = serveInput(t, cfg, `{"jsonrpc":"2.0","method":"get_memory","params":{"memory_id":"`+saved.ID+`"},"id":2}`+"\n")
	require.Len(t, resps, 1)

	var got struct {
		Found  bool `json:"found"`
		Memory struct {
			Content string `json:"content"`
		} `json:"memory"`
	}
	require.NoError(t, json.Unmarshal(resps[0].Result, &got))
	assert.True(t, got.Found)
	assert.Equal(t, "survives restart", got.Memory.Content)

	// one event file per save
	entries, err := os.ReadDir(filepath.Join(cfg.Storage.Path, "events"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMCP_MalformedAndUnknown(t *testing.T) {
	cfg := testConfig(t)
	resps := serveInput(t, cfg, "not json\n"+`{"jsonrpc":"2.0","method":"nope","id":9}`+"\n")

	require.Len(t, resps, 2)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, -32700, resps[0].Error.Code)
	require.NotNil(t, resps[1].Error)
	assert.Equal(t, -32601, resps[1].Error.Code)
	assert.EqualValues(t, 9, resps[1].ID)
}

func TestMCP_DefaultTenantFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.TenantID = "acme"

	resps := serveInput(t, cfg, `{"jsonrpc":"2.0","method":"save_memory","params":{"content":"scoped"},"id":1}`+"\n")
	require.Len(t, resps, 1)

	var saved struct {
		TenantID string `json:"tenant_id"`
	}
	require.NoError(t, json.Unmarshal(resps[0].Result, &saved))
	assert.Equal(t, "acme", saved.TenantID)
}
