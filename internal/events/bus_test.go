package events_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/events"
	"github.com/scrypster/memorycore/pkg/types"
)

func quietBus() *events.SimpleBus {
	return events.NewSimpleBus(log.New(&bytes.Buffer{}))
}

func deleted(id string) events.Event {
	return events.NewMemoryDeleted(id, "default", time.Now())
}

func TestSimpleBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := quietBus()
	var order []string

	bus.Subscribe(events.TypeMemoryDeleted, func(events.Event) error { order = append(order, "first"); return nil })
	bus.Subscribe(events.Wildcard, func(events.Event) error { order = append(order, "wildcard"); return nil })
	bus.Subscribe(events.TypeMemoryDeleted, func(events.Event) error { order = append(order, "third"); return nil })
	bus.Subscribe(events.TypeMemoryCreated, func(events.Event) error { order = append(order, "other"); return nil })

	errs := bus.Publish(deleted("m1"))
	assert.Empty(t, errs)
	assert.Equal(t, []string{"first", "wildcard", "third"}, order)
}

func TestSimpleBus_CollectsErrorsAndPanics(t *testing.T) {
	var logBuf bytes.Buffer
	bus := events.NewSimpleBus(log.New(&logBuf))

	reached := false
	bus.Subscribe(events.TypeMemoryDeleted, func(events.Event) error { return errors.New("handler failed") })
	bus.Subscribe(events.TypeMemoryDeleted, func(events.Event) error { panic("kaboom") })
	bus.Subscribe(events.TypeMemoryDeleted, func(events.Event) error { reached = true; return nil })

	var errs []error
	require.NotPanics(t, func() { errs = bus.Publish(deleted("m1")) })

	require.Len(t, errs, 2)
	assert.EqualError(t, errs[0], "handler failed")
	assert.Contains(t, errs[1].Error(), "kaboom")
	assert.True(t, reached, "later handlers still run")
	assert.Contains(t, logBuf.String(), "event handler failed")
}

func TestSimpleBus_Unsubscribe(t *testing.T) {
	bus := quietBus()
	calls := 0
	sub := bus.Subscribe(events.TypeMemoryDeleted, func(events.Event) error { calls++; return nil })
	assert.Equal(t, events.TypeMemoryDeleted, sub.EventType())

	bus.Publish(deleted("m1"))
	bus.Unsubscribe(sub)
	bus.Publish(deleted("m2"))
	assert.Equal(t, 1, calls)

	assert.NotPanics(t, func() {
		bus.Unsubscribe(sub)
		bus.Unsubscribe(events.Subscription{})
	})
}

func TestSimpleBus_NoSubscribers(t *testing.T) {
	assert.Empty(t, quietBus().Publish(deleted("m1")))
}

func TestEventConstructors(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m, err := types.NewMemory("remember the milk", nil, "acme")
	require.NoError(t, err)

	created := events.NewMemoryCreated(m, at)
	assert.Equal(t, events.TypeMemoryCreated, created.Type())
	assert.Equal(t, "acme", created.TenantID())
	assert.Equal(t, at, created.Timestamp())
	assert.Equal(t, m.ID, events.MemoryID(created))

	id, err := ulid.ParseStrict(created.ID())
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(at), id.Time())

	updated := events.NewMemoryUpdated(m, 1, at)
	assert.Equal(t, events.TypeMemoryUpdated, updated.Type())
	assert.Equal(t, 1, updated.PreviousVersion)

	searched := events.NewMemorySearched("milk", "acme", 3, at)
	assert.Equal(t, events.TypeMemorySearched, searched.Type())
	assert.Equal(t, "", events.MemoryID(searched))
	assert.Equal(t, 3, searched.Metadata()["result_count"])

	assert.NotEqual(t, created.ID(), updated.ID(), "ids are unique")
}

func TestEventJSONShape(t *testing.T) {
	e := events.NewMemoryDeleted("m1", "acme", time.Now())
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "memory.deleted", decoded["type"])
	assert.Equal(t, "acme", decoded["tenant_id"])
	assert.Equal(t, "m1", decoded["memory_id"])
	assert.NotEmpty(t, decoded["id"])
}
