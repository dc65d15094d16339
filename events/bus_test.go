package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInMemoryBus(t *testing.T) {
	t.Run("multiple subscribers", func(t *testing.T) {
		t.Run("both succeed", func(t *testing.T) {
			bus := NewInMemoryBus()
			firstCalled := false
			secondCalled := false
			bus.Subscribe("CONTEXT.CHANGED.User", "first", func(_ context.Context, event Event) error {
				firstCalled = true
				require.Equal(t, "CONTEXT.CHANGED.User", event.Topic)
				require.Equal(t, "user-1", event.Data)
				return nil
			})
			bus.Subscribe("CONTEXT.CHANGED.User", "second", func(_ context.Context, event Event) error {
				secondCalled = true
				return nil
			})

			bus.Publish(context.Background(), "CONTEXT.CHANGED.User", "user-1")

			require.True(t, firstCalled)
			require.True(t, secondCalled)
		})
		t.Run("first fails, second subscriber is still notified", func(t *testing.T) {
			bus := NewInMemoryBus()
			secondCalled := false
			bus.Subscribe("topic", "first", func(_ context.Context, event Event) error {
				return errors.New("failed")
			})
			bus.Subscribe("topic", "second", func(_ context.Context, event Event) error {
				secondCalled = true
				return nil
			})

			bus.Publish(context.Background(), "topic", nil)

			require.True(t, secondCalled)
		})
	})
	t.Run("other topics are not notified", func(t *testing.T) {
		bus := NewInMemoryBus()
		called := false
		bus.Subscribe("topic", "test", func(_ context.Context, event Event) error {
			called = true
			return nil
		})
		bus.Publish(context.Background(), "other", nil)
		require.False(t, called)
	})
	t.Run("wildcard subscriber", func(t *testing.T) {
		for _, topic := range []string{"", Wildcard} {
			bus := NewInMemoryBus()
			called := false
			bus.Subscribe(topic, "test", func(_ context.Context, event Event) error {
				called = true
				return nil
			})
			bus.Publish(context.Background(), "VIEW.REFRESH", nil)
			require.True(t, called)
		}
	})
	t.Run("unsubscribe", func(t *testing.T) {
		bus := NewInMemoryBus()
		var calls []string
		unsubscribeFirst := bus.Subscribe("topic", "first", func(_ context.Context, event Event) error {
			calls = append(calls, "first")
			return nil
		})
		bus.Subscribe("topic", "second", func(_ context.Context, event Event) error {
			calls = append(calls, "second")
			return nil
		})

		unsubscribeFirst()
		unsubscribeFirst()
		bus.Publish(context.Background(), "topic", nil)

		require.Equal(t, []string{"second"}, calls)
	})
	t.Run("handler may subscribe while being notified", func(t *testing.T) {
		bus := NewInMemoryBus()
		bus.Subscribe("topic", "first", func(_ context.Context, event Event) error {
			bus.Subscribe("topic", "nested", func(_ context.Context, event Event) error {
				return nil
			})
			return nil
		})
		bus.Publish(context.Background(), "topic", nil)
		require.Len(t, bus.handlers["topic"], 2)
	})
}
