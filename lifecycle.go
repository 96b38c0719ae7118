package godcp

import "sync"

// LifecycleState describes where a connected entity is within its
// connect/disconnect cycle.
type LifecycleState int

const (
	LifecycleStateDisconnected LifecycleState = iota
	LifecycleStateConnecting
	LifecycleStateConnected
	LifecycleStateDisconnecting
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleStateDisconnected:
		return "DISCONNECTED"
	case LifecycleStateConnecting:
		return "CONNECTING"
	case LifecycleStateConnected:
		return "CONNECTED"
	case LifecycleStateDisconnecting:
		return "DISCONNECTING"
	}
	return "UNKNOWN"
}

// lifecycleMachine is a small observable state holder that components
// embed rather than inherit.  Observers are invoked synchronously on the
// transitioning goroutine.
type lifecycleMachine struct {
	lock      sync.Mutex
	state     LifecycleState
	observers []func(LifecycleState)
}

func newLifecycleMachine(initial LifecycleState) *lifecycleMachine {
	return &lifecycleMachine{
		state: initial,
	}
}

func (m *lifecycleMachine) State() LifecycleState {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.state
}

func (m *lifecycleMachine) Observe(fn func(LifecycleState)) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.observers = append(m.observers, fn)
}

func (m *lifecycleMachine) TransitionTo(state LifecycleState) {
	m.lock.Lock()
	if m.state == state {
		m.lock.Unlock()
		return
	}
	m.state = state
	observers := make([]func(LifecycleState), len(m.observers))
	copy(observers, m.observers)
	m.lock.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}
