package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognition-sh/cognition/pkg/types"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, "stream-1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish("stream-1", &types.CoreEvent{
		Kind:  types.EventToken,
		Token: &types.TokenPayload{Content: "hello"},
	}))

	select {
	case event := <-sub:
		require.NotNil(t, event)
		assert.Equal(t, types.EventToken, event.Kind)
		assert.Equal(t, "hello", event.Token.Content)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusTopicsAreIndependent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subA, err := bus.Subscribe(ctx, "a")
	require.NoError(t, err)
	subB, err := bus.Subscribe(ctx, "b")
	require.NoError(t, err)

	require.NoError(t, bus.Publish("a", &types.CoreEvent{Kind: types.EventDone}))

	select {
	case <-subA:
	case <-time.After(time.Second):
		t.Fatal("stream a should have received its event")
	}

	select {
	case <-subB:
		t.Fatal("stream b should not receive stream a's event")
	case <-time.After(50 * time.Millisecond):
	}
}
