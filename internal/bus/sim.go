package bus

import (
	"sync"

	"github.com/cec-lip/lipd/internal/lipconst"
)

// SimRegistry is an in-process switch connecting several SimBus
// instances by logical address, for demos and tests that want several
// Node values talking to each other without a physical CEC adapter.
type SimRegistry struct {
	mu   sync.Mutex
	recv map[lipconst.LogicalAddress]func(Frame) bool
}

// NewSimRegistry creates an empty switch.
func NewSimRegistry() *SimRegistry {
	return &SimRegistry{recv: make(map[lipconst.LogicalAddress]func(Frame) bool)}
}

// SimBus is a Bus bound to one logical address within a SimRegistry.
type SimBus struct {
	reg  *SimRegistry
	addr lipconst.LogicalAddress
}

// NewSimBus returns a Bus for addr, backed by reg.
func NewSimBus(reg *SimRegistry, addr lipconst.LogicalAddress) *SimBus {
	return &SimBus{reg: reg, addr: addr}
}

func (b *SimBus) RegisterReceive(fn func(Frame) bool) {
	b.reg.mu.Lock()
	defer b.reg.mu.Unlock()
	b.reg.recv[b.addr] = fn
}

// Transmit looks up the destination's registered receive function and
// invokes it on a fresh goroutine. Dispatch must not be synchronous:
// the core calls Transmit with its own core mutex held, and the
// destination's receive callback acquires that peer's core mutex in
// turn, so a synchronous call here could deadlock two nodes sharing a
// registry against each other.
func (b *SimBus) Transmit(f Frame) bool {
	if f.Destination == lipconst.Broadcast {
		b.reg.mu.Lock()
		targets := make([]func(Frame) bool, 0, len(b.reg.recv))
		for addr, fn := range b.reg.recv {
			if addr != b.addr {
				targets = append(targets, fn)
			}
		}
		b.reg.mu.Unlock()
		for _, fn := range targets {
			fn := fn
			go fn(f)
		}
		return true
	}

	b.reg.mu.Lock()
	fn, ok := b.reg.recv[f.Destination]
	b.reg.mu.Unlock()
	if !ok {
		return false
	}
	go fn(f)
	return true
}
