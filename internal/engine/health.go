package engine

import (
	"context"
	"time"

	"github.com/scrypster/memorycore/internal/embedding"
	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/pkg/types"
)

// HealthReport combines component health into one status.
type HealthReport struct {
	Status    types.HealthStatus `json:"status"`
	Storage   storage.Health     `json:"storage"`
	Embedding embedding.Health   `json:"embedding"`
	CheckedAt time.Time          `json:"checked_at"`
}

// HealthChecker aggregates storage and embedding health. The overall status
// is the worst component status.
type HealthChecker struct {
	storage  storage.Lifecycle
	embedder embedding.Service
	now      func() time.Time
}

// NewHealthChecker creates a checker. A nil clock uses time.Now.
func NewHealthChecker(s storage.Lifecycle, e embedding.Service, now func() time.Time) *HealthChecker {
	if now == nil {
		now = time.Now
	}
	return &HealthChecker{storage: s, embedder: e, now: now}
}

// Check queries both components. It never fails.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	report := HealthReport{
		Storage:   h.storage.HealthCheck(ctx),
		Embedding: h.embedder.HealthCheck(ctx),
		CheckedAt: h.now().UTC(),
	}
	report.Status = report.Storage.Status.Worse(report.Embedding.Status)
	return report
}
