package authevents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/northwind-consulting/portal/internal/domain/auth"
	"github.com/northwind-consulting/portal/internal/ports"
)

func TestLocalBus_DeliversOnlyToMatchingSession(t *testing.T) {
	bus := NewLocalBus()
	var gotA, gotB []domainauth.ChangeEvent

	unsubA := bus.Subscribe("a", func(e ports.AuthEvent) { gotA = append(gotA, e.Event) })
	defer unsubA()
	unsubB := bus.Subscribe("b", func(e ports.AuthEvent) { gotB = append(gotB, e.Event) })
	defer unsubB()

	require.NoError(t, bus.Publish(context.Background(), ports.AuthEvent{SessionID: "a", Event: domainauth.EventSignedIn}))
	require.NoError(t, bus.Publish(context.Background(), ports.AuthEvent{SessionID: "a", Event: domainauth.EventSignedOut}))

	assert.Equal(t, []domainauth.ChangeEvent{domainauth.EventSignedIn, domainauth.EventSignedOut}, gotA)
	assert.Empty(t, gotB)
}

func TestLocalBus_Unsubscribe(t *testing.T) {
	bus := NewLocalBus()
	calls := 0
	unsub := bus.Subscribe("s", func(ports.AuthEvent) { calls++ })
	assert.Equal(t, 1, bus.Subscribers("s"))

	unsub()
	unsub() // idempotent
	assert.Equal(t, 0, bus.Subscribers("s"))

	bus.Dispatch(ports.AuthEvent{SessionID: "s", Event: domainauth.EventSignedOut})
	assert.Zero(t, calls)
}

func TestLocalBus_SubscriberOrder(t *testing.T) {
	bus := NewLocalBus()
	var order []int
	for i := range 5 {
		defer bus.Subscribe("s", func(ports.AuthEvent) { order = append(order, i) })()
	}

	bus.Dispatch(ports.AuthEvent{SessionID: "s"})
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
