package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simkernel/internal/core/ecs"
)

type testEvent struct {
	V int32
}

type otherEvent struct {
	N int64
}

func newTestBus(t *testing.T) (*Bus, ecs.TypeID, ecs.TypeID) {
	t.Helper()
	reg := ecs.NewRegistry()
	evID, err := ecs.RegisterEvent[testEvent](reg)
	require.NoError(t, err)
	otherID, err := ecs.RegisterEvent[otherEvent](reg)
	require.NoError(t, err)
	return NewBus(reg), evID, otherID
}

func Test_Bus_DelayedDelivery(t *testing.T) {
	// Publish, consume empty, swap, consume one, swap, consume
	// empty: delivery is delayed by exactly one swap.
	bus, _, _ := newTestBus(t)

	require.NoError(t, Publish(bus, testEvent{V: 42}))

	got, err := Consume[testEvent](bus)
	require.NoError(t, err)
	assert.Empty(t, got, "no same-frame delivery")

	bus.SwapBuffers()
	got, err = Consume[testEvent](bus)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(42), got[0].V)

	bus.SwapBuffers()
	got, err = Consume[testEvent](bus)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func Test_Bus_MultiConsumeIdempotent(t *testing.T) {
	bus, _, _ := newTestBus(t)
	require.NoError(t, Publish(bus, testEvent{V: 1}))
	require.NoError(t, Publish(bus, testEvent{V: 2}))
	bus.SwapBuffers()

	first, err := Consume[testEvent](bus)
	require.NoError(t, err)
	second, err := Consume[testEvent](bus)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func Test_Bus_ConcurrentPublishers(t *testing.T) {
	// 10 workers publish 1000 events each; after the swap the full
	// union is present exactly once.
	bus, _, _ := newTestBus(t)

	const workers = 10
	const perWorker = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int32) {
			defer wg.Done()
			for i := int32(0); i < perWorker; i++ {
				_ = Publish(bus, testEvent{V: base*perWorker + i})
			}
		}(int32(w))
	}
	wg.Wait()
	bus.SwapBuffers()

	got, err := Consume[testEvent](bus)
	require.NoError(t, err)
	require.Len(t, got, workers*perWorker)

	seen := make(map[int32]int, len(got))
	for _, ev := range got {
		seen[ev.V]++
	}
	assert.Len(t, seen, workers*perWorker, "every value exactly once")
	for v, n := range seen {
		require.Equal(t, 1, n, "value %d duplicated", v)
	}
}

func Test_Bus_HasEventTracksCurrentBuffer(t *testing.T) {
	bus, evID, otherID := newTestBus(t)

	assert.False(t, bus.HasEvent(evID))

	require.NoError(t, Publish(bus, testEvent{V: 1}))
	assert.False(t, bus.HasEvent(evID), "pending events are not visible")

	bus.SwapBuffers()
	assert.True(t, bus.HasEvent(evID))
	assert.False(t, bus.HasEvent(otherID))

	bus.SwapBuffers()
	assert.False(t, bus.HasEvent(evID), "active set resets on swap")
}

func Test_Bus_Streams(t *testing.T) {
	bus, evID, otherID := newTestBus(t)
	require.NoError(t, Publish(bus, testEvent{V: 3}))
	require.NoError(t, Publish(bus, otherEvent{N: 9}))
	bus.SwapBuffers()

	streams := bus.Streams()

	require.Len(t, streams, 2)
	byID := make(map[ecs.TypeID]StreamView)
	for _, s := range streams {
		byID[s.TypeID] = s
	}
	assert.Equal(t, 1, byID[evID].Count)
	assert.Equal(t, 4, byID[evID].ElementSize)
	assert.Equal(t, 1, byID[otherID].Count)
	assert.Equal(t, 8, byID[otherID].ElementSize)
	assert.Len(t, byID[evID].Bytes, 4)
}

func Test_Bus_CapacityDoubling(t *testing.T) {
	bus, evID, _ := newTestBus(t)

	// Push well past the initial capacity in one frame.
	const n = 5000
	for i := int32(0); i < n; i++ {
		require.NoError(t, Publish(bus, testEvent{V: i}))
	}
	bus.SwapBuffers()

	got, err := Consume[testEvent](bus)
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, ev := range got {
		require.Equal(t, int32(i), ev.V, "publish order preserved for a single publisher")
	}
	assert.Equal(t, n, bus.CountOf(evID))
}

func Test_Bus_PublishRawValidatesSize(t *testing.T) {
	bus, evID, _ := newTestBus(t)

	err := bus.PublishRaw(evID, []byte{1, 2})

	assert.True(t, ecs.IsPolicyInvalid(err))

	require.NoError(t, bus.PublishRaw(evID, []byte{1, 0, 0, 0}))
	bus.SwapBuffers()
	got, err := Consume[testEvent](bus)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(1), got[0].V)
}

func Test_Bus_UnregisteredTypeFails(t *testing.T) {
	bus, _, _ := newTestBus(t)

	type unknown struct{ X int8 }
	err := Publish(bus, unknown{})
	assert.True(t, ecs.IsNotRegistered(err))

	_, err = Consume[unknown](bus)
	assert.True(t, ecs.IsNotRegistered(err))
}
