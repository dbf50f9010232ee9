package types

import (
	"errors"
	"fmt"
)

// Category sentinels. Every typed error below matches one of these with
// errors.Is, so callers can branch on the category without a type switch.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("resource not found")
	ErrStorage    = errors.New("storage error")
	ErrEmbedding  = errors.New("embedding error")

	ErrStorageConnection = errors.New("storage connection error")
	ErrStorageOperation  = errors.New("storage operation error")
	ErrStorageNotFound   = errors.New("storage resource not found")

	ErrEmbeddingModel     = errors.New("embedding model error")
	ErrEmbeddingDimension = errors.New("embedding dimension mismatch")
)

// Stable error codes exposed to API clients.
const (
	CodeInvalidMemory     = "INVALID_MEMORY"
	CodeInvalidQuery      = "INVALID_QUERY"
	CodeNotFound          = "NOT_FOUND"
	CodeStorageConnection = "STORAGE_CONNECTION_ERROR"
	CodeStorageOperation  = "STORAGE_OPERATION_ERROR"
	CodeStorageNotFound   = "STORAGE_NOT_FOUND"
	CodeEmbeddingModel    = "EMBEDDING_MODEL_ERROR"
	CodeEmbeddingDim      = "EMBEDDING_DIMENSION_ERROR"
)

// ValidationError reports a caller-supplied value that was rejected.
type ValidationError struct {
	Field   string
	Message string
	Code    string
}

// NewInvalidMemoryError returns a validation error for a memory field.
func NewInvalidMemoryError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message, Code: CodeInvalidMemory}
}

// NewInvalidQueryError returns a validation error for a search query.
func NewInvalidQueryError(message string) *ValidationError {
	return &ValidationError{Field: "query", Message: message, Code: CodeInvalidQuery}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ErrorCode returns the stable code for the error.
func (e *ValidationError) ErrorCode() string {
	if e.Code == "" {
		return CodeInvalidMemory
	}
	return e.Code
}

// NotFoundError reports that a memory does not exist for the tenant.
type NotFoundError struct {
	Resource string
	ID       string
	Tenant   string
}

// NewNotFoundError returns a not-found error for a memory.
func NewNotFoundError(id, tenant string) *NotFoundError {
	return &NotFoundError{Resource: "memory", ID: id, Tenant: tenant}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found for tenant %s", e.Resource, e.ID, e.Tenant)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ErrorCode returns the stable code for the error.
func (e *NotFoundError) ErrorCode() string { return CodeNotFound }

// StorageKind distinguishes storage failure classes.
type StorageKind string

// Storage failure kinds
const (
	StorageKindConnection StorageKind = "connection"
	StorageKindOperation  StorageKind = "operation"
	StorageKindNotFound   StorageKind = "not_found"
)

// StorageError wraps a failure raised by a storage backend.
type StorageError struct {
	Kind       StorageKind
	Operation  string
	ResourceID string
	Err        error
}

// NewStorageConnectionError wraps a failure to reach the store.
func NewStorageConnectionError(err error) *StorageError {
	return &StorageError{Kind: StorageKindConnection, Operation: "connect", Err: err}
}

// NewStorageOperationError wraps a failed storage operation.
func NewStorageOperationError(op string, err error) *StorageError {
	return &StorageError{Kind: StorageKindOperation, Operation: op, Err: err}
}

// NewStorageNotFoundError reports a resource the store expected to exist.
func NewStorageNotFoundError(resourceID string) *StorageError {
	return &StorageError{Kind: StorageKindNotFound, ResourceID: resourceID}
}

func (e *StorageError) Error() string {
	msg := fmt.Sprintf("storage %s error", e.Kind)
	if e.Operation != "" {
		msg += " during " + e.Operation
	}
	if e.ResourceID != "" {
		msg += " (resource " + e.ResourceID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	switch target {
	case ErrStorage:
		return true
	case ErrStorageConnection:
		return e.Kind == StorageKindConnection
	case ErrStorageOperation:
		return e.Kind == StorageKindOperation
	case ErrStorageNotFound:
		return e.Kind == StorageKindNotFound
	}
	return false
}

// ErrorCode returns the stable code for the error.
func (e *StorageError) ErrorCode() string {
	switch e.Kind {
	case StorageKindConnection:
		return CodeStorageConnection
	case StorageKindNotFound:
		return CodeStorageNotFound
	default:
		return CodeStorageOperation
	}
}

// EmbeddingKind distinguishes embedding failure classes.
type EmbeddingKind string

// Embedding failure kinds
const (
	EmbeddingKindModel     EmbeddingKind = "model"
	EmbeddingKindDimension EmbeddingKind = "dimension"
)

// EmbeddingError wraps a failure raised by an embedding provider.
type EmbeddingError struct {
	Kind     EmbeddingKind
	Model    string
	Expected int
	Actual   int
	Err      error
}

// NewEmbeddingModelError wraps a provider failure for model.
func NewEmbeddingModelError(model string, err error) *EmbeddingError {
	return &EmbeddingError{Kind: EmbeddingKindModel, Model: model, Err: err}
}

// NewEmbeddingDimensionError reports a vector of unexpected length.
func NewEmbeddingDimensionError(model string, expected, actual int) *EmbeddingError {
	return &EmbeddingError{Kind: EmbeddingKindDimension, Model: model, Expected: expected, Actual: actual}
}

func (e *EmbeddingError) Error() string {
	if e.Kind == EmbeddingKindDimension {
		return fmt.Sprintf("embedding dimension mismatch for model %s: expected %d, got %d", e.Model, e.Expected, e.Actual)
	}
	if e.Err != nil {
		return fmt.Sprintf("embedding model %s failed: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("embedding model %s failed", e.Model)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool {
	switch target {
	case ErrEmbedding:
		return true
	case ErrEmbeddingModel:
		return e.Kind == EmbeddingKindModel
	case ErrEmbeddingDimension:
		return e.Kind == EmbeddingKindDimension
	}
	return false
}

// ErrorCode returns the stable code for the error.
func (e *EmbeddingError) ErrorCode() string {
	if e.Kind == EmbeddingKindDimension {
		return CodeEmbeddingDim
	}
	return CodeEmbeddingModel
}

// ErrorCode extracts the stable code from err, or "" when err carries none.
func ErrorCode(err error) string {
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
