package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scrypster/memorycore/pkg/types"
)

func TestStorageErrorCategories(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("save: %w", types.NewStorageOperationError("save", cause))

	assert.ErrorIs(t, err, types.ErrStorage)
	assert.ErrorIs(t, err, types.ErrStorageOperation)
	assert.NotErrorIs(t, err, types.ErrStorageConnection)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, types.CodeStorageOperation, types.ErrorCode(err))
	assert.Contains(t, err.Error(), "disk full")

	conn := types.NewStorageConnectionError(cause)
	assert.ErrorIs(t, conn, types.ErrStorageConnection)
	assert.Equal(t, types.CodeStorageConnection, conn.ErrorCode())

	nf := types.NewStorageNotFoundError("abc")
	assert.ErrorIs(t, nf, types.ErrStorageNotFound)
	assert.Equal(t, "abc", nf.ResourceID)
	assert.Equal(t, types.CodeStorageNotFound, nf.ErrorCode())
}

func TestEmbeddingErrorCategories(t *testing.T) {
	dim := types.NewEmbeddingDimensionError("hash", 384, 3)
	assert.ErrorIs(t, dim, types.ErrEmbedding)
	assert.ErrorIs(t, dim, types.ErrEmbeddingDimension)
	assert.NotErrorIs(t, dim, types.ErrEmbeddingModel)
	assert.Equal(t, types.CodeEmbeddingDim, types.ErrorCode(dim))
	assert.Contains(t, dim.Error(), "expected 384, got 3")

	model := types.NewEmbeddingModelError("nomic-embed-text", errors.New("timeout"))
	assert.ErrorIs(t, model, types.ErrEmbeddingModel)
	assert.Equal(t, types.CodeEmbeddingModel, model.ErrorCode())
}

func TestNotFoundAndValidation(t *testing.T) {
	nf := types.NewNotFoundError("m1", "t1")
	assert.ErrorIs(t, nf, types.ErrNotFound)
	assert.NotErrorIs(t, nf, types.ErrStorage)

	q := types.NewInvalidQueryError("query cannot be empty")
	assert.ErrorIs(t, q, types.ErrValidation)
	assert.Equal(t, types.CodeInvalidQuery, types.ErrorCode(q))

	assert.Equal(t, "", types.ErrorCode(errors.New("plain")))
}
