package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_FanOutInSubscriptionOrder(t *testing.T) {
	bus := NewMemory()

	var got []string
	bus.Subscribe("orders", "first", func(ctx context.Context, payload []byte) error {
		got = append(got, "first:"+string(payload))
		return nil
	})
	bus.Subscribe("orders", "second", func(ctx context.Context, payload []byte) error {
		got = append(got, "second:"+string(payload))
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "orders", []byte("a")))
	require.NoError(t, bus.Publish(context.Background(), "orders", []byte("b")))

	assert.Equal(t, []string{"first:a", "second:a", "first:b", "second:b"}, got)
}

func TestMemoryBus_SubscriberFaultDoesNotAbortFanOut(t *testing.T) {
	bus := NewMemory()

	var delivered int
	bus.Subscribe("orders", "panics", func(ctx context.Context, payload []byte) error {
		panic("subscriber bug")
	})
	bus.Subscribe("orders", "errors", func(ctx context.Context, payload []byte) error {
		return errors.New("handler error")
	})
	bus.Subscribe("orders", "ok", func(ctx context.Context, payload []byte) error {
		delivered++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "orders", []byte("x")))
	assert.Equal(t, 1, delivered)
}

func TestMemoryBus_TopicsAreIndependent(t *testing.T) {
	bus := NewMemory()

	var orders, deliveries int
	bus.Subscribe("order-events", "a", func(ctx context.Context, payload []byte) error {
		orders++
		return nil
	})
	bus.Subscribe("delivery-events", "b", func(ctx context.Context, payload []byte) error {
		deliveries++
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), "order-events", []byte("x")))
	require.NoError(t, bus.Publish(context.Background(), "order-events", []byte("y")))
	require.NoError(t, bus.Publish(context.Background(), "delivery-events", []byte("z")))

	assert.Equal(t, 2, orders)
	assert.Equal(t, 1, deliveries)
}

func TestMemoryBus_ConcurrentPublishIsSafe(t *testing.T) {
	bus := NewMemory()

	var mu sync.Mutex
	count := 0
	bus.Subscribe("orders", "counter", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = bus.Publish(context.Background(), "orders", []byte("n"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, count)
}

func TestMemoryBus_PublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewMemory()
	assert.NoError(t, bus.Publish(context.Background(), "nobody-home", []byte("x")))
}
