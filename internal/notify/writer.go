// Package notify shares memory lifecycle events between processes through
// files in a common events directory.
package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scrypster/memorycore/internal/events"
)

// Record is the payload written to an event file.
type Record struct {
	ID        string                 `json:"id"`
	Type      events.Type            `json:"type"`
	TenantID  string                 `json:"tenant_id"`
	MemoryID  string                 `json:"memory_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewRecord flattens e into its serialized form.
func NewRecord(e events.Event) Record {
	return Record{
		ID:        e.ID(),
		Type:      e.Type(),
		TenantID:  e.TenantID(),
		MemoryID:  events.MemoryID(e),
		Timestamp: e.Timestamp(),
		Metadata:  e.Metadata(),
	}
}

// EventWriter writes notification event files to a shared directory.
type EventWriter struct {
	dir string
}

// NewEventWriter creates a writer that emits events to dir.
func NewEventWriter(dir string) *EventWriter {
	return &EventWriter{dir: dir}
}

// Dir returns the directory events are written to.
func (w *EventWriter) Dir() string { return w.dir }

// Handle writes e as an event file. It satisfies events.Handler.
// Safe to call concurrently.
func (w *EventWriter) Handle(e events.Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	rec := NewRecord(e)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("notify: marshal event %s: %w", rec.ID, err)
	}

	// write then rename so watchers never see a partial file
	name := fmt.Sprintf("%d-%s.event", time.Now().UnixNano(), sanitizeID(rec.ID))
	tmp := filepath.Join(w.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: rename %s: %w", tmp, err)
	}
	return nil
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == ':' || id[i] == '\\' {
			out[i] = '_'
		} else {
			out[i] = id[i]
		}
	}
	return string(out)
}
