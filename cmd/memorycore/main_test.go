package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/memorycore/internal/backup"
	"github.com/scrypster/memorycore/internal/engine"
	"github.com/scrypster/memorycore/internal/notify"
	"github.com/scrypster/memorycore/pkg/types"
)

// setupEnv points the CLI at a fresh sqlite store.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MEMORYCORE_CONFIG", "")
	t.Setenv("MEMORYCORE_STORAGE_BACKEND", "sqlite")
	t.Setenv("MEMORYCORE_STORAGE_PATH", dir)
	t.Setenv("MEMORYCORE_EMBEDDING_PROVIDER", "hash")
	t.Setenv("MEMORYCORE_LOG_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), args, &out, &errOut)
	return out.String(), err
}

func mustRun(t *testing.T, dest interface{}, args ...string) {
	t.Helper()
	out, err := runCLI(t, args...)
	require.NoError(t, err, out)
	if dest != nil {
		require.NoError(t, json.Unmarshal([]byte(out), dest), out)
	}
}

func TestCLI_SaveGetUpdateDelete(t *testing.T) {
	setupEnv(t)

	var saved types.Memory
	mustRun(t, &saved, "save", "remember", "the", "milk", "--category", "Errands", "--tags", "home,Shop")
	require.NotEmpty(t, saved.ID)
	assert.Equal(t, "remember the milk", saved.Content)
	assert.Equal(t, "Errands", saved.Metadata.Category, "category case is kept")
	assert.Equal(t, []string{"home", "shop"}, saved.Metadata.Tags)

	var got types.Memory
	mustRun(t, &got, "get", saved.ID)
	assert.Equal(t, saved.Content, got.Content)
	assert.True(t, got.HasEmbedding())

	var updated types.Memory
	mustRun(t, &updated, "update", saved.ID, "--importance", "high")
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Errands", updated.Metadata.Category)
	assert.EqualValues(t, "high", updated.Metadata.Importance)

	mustRun(t, nil, "delete", saved.ID)

	_, err := runCLI(t, "get", saved.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestCLI_SearchListCount(t *testing.T) {
	setupEnv(t)
	mustRun(t, nil, "save", "alpha notes", "--category", "a")
	mustRun(t, nil, "save", "beta notes", "--category", "b")
	mustRun(t, nil, "save", "gamma notes", "--category", "a")

	var results []struct {
		Memory types.Memory `json:"memory"`
		Score  float64      `json:"score"`
	}
	mustRun(t, &results, "search", "beta", "notes", "--limit", "2")
	require.Len(t, results, 2)
	assert.Equal(t, "beta notes", results[0].Memory.Content)

	var list []types.Memory
	mustRun(t, &list, "list", "--category", "a")
	require.Len(t, list, 2)
	assert.Equal(t, "alpha notes", list[0].Content, "insertion order")
	assert.Equal(t, "gamma notes", list[1].Content)

	var count map[string]int
	mustRun(t, &count, "count")
	assert.Equal(t, 3, count["count"])

	mustRun(t, &count, "count", "--tenant", "someone-else")
	assert.Equal(t, 0, count["count"])
}

func TestCLI_Errors(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "save", "   ")
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidMemory, types.ErrorCode(err))

	_, err = runCLI(t, "search", " ")
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidQuery, types.ErrorCode(err))

	_, err = runCLI(t, "update", "some-id")
	assert.ErrorContains(t, err, "nothing to update")

	_, err = runCLI(t, "list", "--offset", "-1")
	assert.Error(t, err)

	t.Setenv("MEMORYCORE_STORAGE_BACKEND", "faiss")
	_, err = runCLI(t, "count")
	assert.Error(t, err)
}

func TestCLI_PurgeAndHealth(t *testing.T) {
	setupEnv(t)
	mustRun(t, nil, "save", "forever")

	var purged map[string]int
	mustRun(t, &purged, "purge")
	assert.Equal(t, 0, purged["purged"])

	var report engine.HealthReport
	mustRun(t, &report, "health")
	assert.Equal(t, types.HealthHealthy, report.Status)
	assert.Equal(t, "hash", report.Embedding.Model)
}

func TestCLI_HelpDoesNotOpenStorage(t *testing.T) {
	dir := setupEnv(t)
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "memorycore")
	assert.NoFileExists(t, dir+"/memories.db")
}

func TestServe_StreamsEvents(t *testing.T) {
	setupEnv(t)
	t.Setenv("MEMORYCORE_STORAGE_BACKEND", "memory")

	ctx, cancel := context.WithCancel(context.Background())
	a := &app{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	m, err := a.open(ctx)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := ln.Addr().String()

	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln, serveOptions{}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + base + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, "ws://"+base+"/events", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	msgs := make(chan []byte, 1)
	go func() {
		readCtx, readCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer readCancel()
		if _, data, err := conn.Read(readCtx); err == nil {
			msgs <- data
		}
	}()

	// the hub registers asynchronously; keep saving until an event arrives
	var rec notify.Record
	require.Eventually(t, func() bool {
		if _, err := m.Save(context.Background(), "streamed", engine.SaveOptions{}); err != nil {
			return false
		}
		select {
		case data := <-msgs:
			return json.Unmarshal(data, &rec) == nil
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "memory.created", string(rec.Type))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestCLI_BackupAndRestore(t *testing.T) {
	setupEnv(t)
	mustRun(t, nil, "save", "before backup")

	var res backup.Result
	mustRun(t, &res, "backup", "create")
	assert.True(t, res.Verified)
	assert.FileExists(t, res.Path)

	var infos []backup.Info
	mustRun(t, &infos, "backup", "list")
	require.Len(t, infos, 1)
	assert.Equal(t, res.Path, infos[0].Path)

	mustRun(t, nil, "save", "after backup")
	var count map[string]int
	mustRun(t, &count, "count")
	require.Equal(t, 2, count["count"])

	mustRun(t, nil, "backup", "restore", res.Path)
	mustRun(t, &count, "count")
	assert.Equal(t, 1, count["count"])
}

func TestCLI_BackupRequiresSQLite(t *testing.T) {
	setupEnv(t)
	t.Setenv("MEMORYCORE_STORAGE_BACKEND", "memory")
	_, err := runCLI(t, "backup", "list")
	assert.ErrorContains(t, err, "sqlite")
}
