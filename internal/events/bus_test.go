package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var received atomic.Pointer[Event]
	bus.Subscribe(func(event *Event) {
		received.Store(event)
	})

	bus.Publish(&Event{
		Kind:       KindInstallCompleted,
		Version:    "liftmate-v1",
		Properties: map[string]any{PropertyEntries: 16},
	})

	require.Eventually(t, func() bool { return received.Load() != nil }, time.Second, 5*time.Millisecond)
	got := received.Load()
	assert.Equal(t, KindInstallCompleted, got.Kind)
	assert.Equal(t, "liftmate-v1", got.Version)
	assert.Equal(t, 16, got.Properties[PropertyEntries])
	assert.False(t, got.Timestamp.IsZero(), "zero timestamp should be filled in")
}

func TestBus_MultipleHandlers(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var count atomic.Int32
	for range 3 {
		bus.Subscribe(func(_ *Event) {
			count.Add(1)
		})
	}

	bus.Publish(&Event{Kind: KindActivateCompleted})

	assert.Eventually(t, func() bool { return count.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestBus_PanickingHandlerDoesNotStopBus(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var count atomic.Int32
	bus.Subscribe(func(_ *Event) { panic("boom") })
	bus.Subscribe(func(_ *Event) { count.Add(1) })

	bus.Publish(&Event{Kind: KindInstallFailed})
	bus.Publish(&Event{Kind: KindInstallFailed})

	assert.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBus_StopDrainsQueuedEvents(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var kinds []string
	bus.Subscribe(func(event *Event) {
		mu.Lock()
		kinds = append(kinds, event.Kind)
		mu.Unlock()
	})

	bus.Publish(&Event{Kind: KindInstallStarted})
	bus.Publish(&Event{Kind: KindInstallCompleted})
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{KindInstallStarted, KindInstallCompleted}, kinds)
}

func TestBus_PublishAfterStopIsDiscarded(t *testing.T) {
	bus := NewBus()
	var count atomic.Int32
	bus.Subscribe(func(_ *Event) { count.Add(1) })
	bus.Stop()
	bus.Stop()

	bus.Publish(&Event{Kind: KindWorkerRedundant})
	bus.Publish(nil)
	assert.Equal(t, int32(0), count.Load())
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() { Discard.Publish(&Event{Kind: KindInstallStarted}) })
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Len(t, kinds, 8)
	assert.Equal(t, KindInstallStarted, kinds[0])
	assert.Contains(t, kinds, KindNamespaceDeleteFailed)
}
