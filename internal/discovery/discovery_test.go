package discovery_test

import (
	"sync"
	"testing"
	"time"

	"github.com/cec-lip/lipd/internal/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialStateIsInit(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	m := discovery.New(&mu)
	assert.Equal(t, discovery.Init, m.State)
	assert.False(t, m.State.Settled())
}

func TestTransitionToSupportedIsSettled(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	m := discovery.New(&mu)
	mu.Lock()
	m.Transition(discovery.Supported)
	mu.Unlock()
	assert.True(t, discovery.Supported.Settled())
	assert.True(t, discovery.Unsupported.Settled())
	assert.False(t, discovery.WaitForReply.Settled())
}

// TestWaitForSettledBlocksUntilTransition exercises get_status's
// wait_for_discovery=true path: a waiter blocked on WaitForSettled is
// released only once the state machine reaches a terminal state.
func TestWaitForSettledBlocksUntilTransition(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	m := discovery.New(&mu)

	released := make(chan struct{})
	go func() {
		mu.Lock()
		m.WaitForSettled()
		mu.Unlock()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("WaitForSettled returned before any transition")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	m.Transition(discovery.WaitForReply) // not terminal: must not release the waiter
	mu.Unlock()

	select {
	case <-released:
		t.Fatal("WaitForSettled returned on a non-terminal transition")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	m.Transition(discovery.Supported)
	mu.Unlock()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("WaitForSettled did not return after reaching a terminal state")
	}
}

func TestWakeDoesNotChangeState(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	m := discovery.New(&mu)
	mu.Lock()
	m.Wake()
	mu.Unlock()
	require.Equal(t, discovery.Init, m.State)
}

func TestTimeoutConstants(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 2000*time.Millisecond, discovery.SourceTimeout)
	assert.Equal(t, 1000*time.Millisecond, discovery.HubTimeout)
	assert.Less(t, discovery.HubTimeout, discovery.SourceTimeout)
}
