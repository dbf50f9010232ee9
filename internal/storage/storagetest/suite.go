// Package storagetest holds the behavioural test suite every storage.Backend
// must pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// Factory returns a fresh, initialized backend. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Backend

// Run executes the full backend suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, b storage.Backend)
	}{
		{"SaveGetRoundTrip", testSaveGetRoundTrip},
		{"SaveIsUpsert", testSaveIsUpsert},
		{"GetAbsent", testGetAbsent},
		{"DeleteIsIdempotent", testDeleteIsIdempotent},
		{"TenantIsolation", testTenantIsolation},
		{"SearchRanking", testSearchRanking},
		{"SearchSkipsUnembedded", testSearchSkipsUnembedded},
		{"SearchFilters", testSearchFilters},
		{"ListPagination", testListPagination},
		{"CountFilters", testCountFilters},
		{"ClosedBackend", testClosedBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newBackend(t))
		})
	}
}

// NewMemory builds a memory for tests, failing the test on error.
func NewMemory(t *testing.T, content, tenant string, md *types.Metadata, embedding []float32) *types.Memory {
	t.Helper()
	m, err := types.NewMemory(content, md, tenant)
	require.NoError(t, err)
	m.Embedding = embedding
	return m
}

func testSaveGetRoundTrip(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	m := NewMemory(t, "hello world", "t1", &types.Metadata{
		Category:     "notes",
		Tags:         []string{"a", "b"},
		Importance:   types.ImportanceHigh,
		CustomFields: map[string]interface{}{"source": "test"},
	}, []float32{0.1, 0.2, 0.3})
	m.SetTTL(7)
	require.NoError(t, m.AddRelationship("other", types.RelationshipExtends, 0.4))
	m.CreateVersion(nil)

	require.NoError(t, b.Save(ctx, m))

	got, err := b.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, m.Metadata.Category, got.Metadata.Category)
	assert.Equal(t, m.Metadata.Tags, got.Metadata.Tags)
	assert.Equal(t, m.Metadata.Importance, got.Metadata.Importance)
	assert.Equal(t, "test", got.Metadata.CustomFields["source"])
	assert.InDeltaSlice(t, []float64{0.1, 0.2, 0.3}, toFloat64(got.Embedding), 1e-6)
	assert.Equal(t, m.Version, got.Version)
	require.Len(t, got.Versions, 1)
	assert.Equal(t, m.Versions[0].Content, got.Versions[0].Content)
	assert.Equal(t, m.Relationships, got.Relationships)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, *m.ExpiresAt, *got.ExpiresAt, time.Millisecond)
	assert.WithinDuration(t, m.CreatedAt, got.CreatedAt, time.Millisecond)
	assert.WithinDuration(t, m.UpdatedAt, got.UpdatedAt, time.Millisecond)

	// mutating the returned copy must not affect the stored value
	got.Content = "mutated"
	again, err := b.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", again.Content)
}

func testSaveIsUpsert(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	m := NewMemory(t, "v1", "t1", &types.Metadata{Tags: []string{"old"}}, []float32{1, 0})
	require.NoError(t, b.Save(ctx, m))

	m.Content = "v2"
	m.Metadata.Tags = nil
	m.Embedding = nil
	require.NoError(t, b.Save(ctx, m))

	got, err := b.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.Empty(t, got.Metadata.Tags)
	assert.Empty(t, got.Embedding)

	n, err := b.Count(ctx, "t1", storage.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testGetAbsent(t *testing.T, b storage.Backend) {
	got, err := b.Get(context.Background(), "does-not-exist", "t1")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func testDeleteIsIdempotent(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	m := NewMemory(t, "bye", "t1", nil, nil)
	require.NoError(t, b.Save(ctx, m))

	require.NoError(t, b.Delete(ctx, m.ID, "t1"))
	require.NoError(t, b.Delete(ctx, m.ID, "t1"))
	require.NoError(t, b.Delete(ctx, "never-existed", "t1"))

	got, err := b.Get(ctx, m.ID, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testTenantIsolation(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	m := NewMemory(t, "secret", "tenant-a", nil, []float32{1, 0})
	require.NoError(t, b.Save(ctx, m))

	got, err := b.Get(ctx, m.ID, "tenant-b")
	require.NoError(t, err)
	assert.Nil(t, got)

	results, err := b.Search(ctx, []float32{1, 0}, "tenant-b", 10, storage.Filters{})
	require.NoError(t, err)
	assert.Empty(t, results)

	list, err := b.List(ctx, "tenant-b", storage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := b.Count(ctx, "tenant-b", storage.Filters{})
	require.NoError(t, err)
	assert.Zero(t, n)

	// delete under the wrong tenant leaves the memory in place
	require.NoError(t, b.Delete(ctx, m.ID, "tenant-b"))
	got, err = b.Get(ctx, m.ID, "tenant-a")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func testSearchRanking(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	a := NewMemory(t, "a", "t1", nil, []float32{1, 0})
	bm := NewMemory(t, "b", "t1", nil, []float32{0, 1})
	c := NewMemory(t, "c", "t1", nil, []float32{0.7, 0.7})
	for _, m := range []*types.Memory{a, bm, c} {
		require.NoError(t, b.Save(ctx, m))
	}

	results, err := b.Search(ctx, []float32{1, 0}, "t1", 2, storage.Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, a.ID, results[0].Memory.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	assert.Equal(t, c.ID, results[1].Memory.ID)
	assert.InDelta(t, 0.7071, results[1].Score, 1e-3)

	results, err = b.Search(ctx, []float32{1, 0}, "t1", 0, storage.Filters{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func testSearchSkipsUnembedded(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Save(ctx, NewMemory(t, "plain", "t1", nil, nil)))
	withVec := NewMemory(t, "vec", "t1", nil, []float32{1, 0})
	require.NoError(t, b.Save(ctx, withVec))

	results, err := b.Search(ctx, []float32{1, 0}, "t1", 10, storage.Filters{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, withVec.ID, results[0].Memory.ID)
}

func testSearchFilters(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	x := NewMemory(t, "x", "t1", &types.Metadata{Category: "work", Tags: []string{"go", "db"}}, []float32{0, 1})
	y := NewMemory(t, "y", "t1", &types.Metadata{Category: "work", Tags: []string{"go"}}, []float32{1, 0})
	z := NewMemory(t, "z", "t1", &types.Metadata{Category: "home", Tags: []string{"go", "db"}}, []float32{1, 0})
	for _, m := range []*types.Memory{x, y, z} {
		require.NoError(t, b.Save(ctx, m))
	}

	results, err := b.Search(ctx, []float32{1, 0}, "t1", 10, storage.Filters{Tags: []string{"go", "db"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, z.ID, results[0].Memory.ID)
	assert.Equal(t, x.ID, results[1].Memory.ID)

	results, err = b.Search(ctx, []float32{1, 0}, "t1", 10, storage.Filters{Category: "work", Tags: []string{"DB"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, x.ID, results[0].Memory.ID)
}

func testListPagination(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		m := NewMemory(t, fmt.Sprintf("memory %d", i), "t1", nil, nil)
		require.NoError(t, b.Save(ctx, m))
		ids = append(ids, m.ID)
	}

	page, err := b.List(ctx, "t1", storage.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	page, err = b.List(ctx, "t1", storage.ListOptions{Limit: 10, Offset: 4})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[4], page[0].ID)

	page, err = b.List(ctx, "t1", storage.ListOptions{Limit: 10, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)

	// re-saving keeps the original position
	first, err := b.Get(ctx, ids[0], "t1")
	require.NoError(t, err)
	first.Content = "memory 0 edited"
	require.NoError(t, b.Save(ctx, first))
	page, err = b.List(ctx, "t1", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, ids[0], page[0].ID)
}

func testCountFilters(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Save(ctx, NewMemory(t, "1", "t1", &types.Metadata{Category: "work", Tags: []string{"go"}}, nil)))
	require.NoError(t, b.Save(ctx, NewMemory(t, "2", "t1", &types.Metadata{Category: "work"}, nil)))
	require.NoError(t, b.Save(ctx, NewMemory(t, "3", "t1", &types.Metadata{Category: "home", Tags: []string{"go"}}, nil)))

	n, err := b.Count(ctx, "t1", storage.Filters{})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = b.Count(ctx, "t1", storage.Filters{Category: "work"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = b.Count(ctx, "t1", storage.Filters{Tags: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := b.List(ctx, "t1", storage.ListOptions{Filters: storage.Filters{Category: "work", Tags: []string{"go"}}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "1", list[0].Content)
}

func testClosedBackend(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	require.NoError(t, b.Close())

	m := NewMemory(t, "late", "t1", nil, nil)
	assertOperationError(t, b.Save(ctx, m))

	_, err := b.Get(ctx, m.ID, "t1")
	assertOperationError(t, err)
	assertOperationError(t, b.Delete(ctx, m.ID, "t1"))
	_, err = b.Search(ctx, []float32{1}, "t1", 1, storage.Filters{})
	assertOperationError(t, err)
	_, err = b.List(ctx, "t1", storage.ListOptions{})
	assertOperationError(t, err)
	_, err = b.Count(ctx, "t1", storage.Filters{})
	assertOperationError(t, err)

	h := b.HealthCheck(ctx)
	assert.Equal(t, storage.StatusUnhealthy, h.Status)
}

func assertOperationError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrStorageOperation)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
