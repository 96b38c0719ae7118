package godcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLifecycleMachineNotifiesObservers(t *testing.T) {
	m := newLifecycleMachine(LifecycleStateDisconnected)

	var seen []LifecycleState
	m.Observe(func(state LifecycleState) {
		seen = append(seen, state)
	})

	m.TransitionTo(LifecycleStateConnecting)
	m.TransitionTo(LifecycleStateConnected)
	// repeated transitions to the current state are suppressed
	m.TransitionTo(LifecycleStateConnected)
	m.TransitionTo(LifecycleStateDisconnecting)
	m.TransitionTo(LifecycleStateDisconnected)

	assert.Equal(t, []LifecycleState{
		LifecycleStateConnecting,
		LifecycleStateConnected,
		LifecycleStateDisconnecting,
		LifecycleStateDisconnected,
	}, seen)

	assert.Equal(t, LifecycleStateDisconnected, m.State())
}
