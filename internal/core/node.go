package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cec-lip/lipd/internal/bus"
	"github.com/cec-lip/lipd/internal/cache"
	"github.com/cec-lip/lipd/internal/discovery"
	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/pending"
	"github.com/cec-lip/lipd/internal/timerengine"
)

// Node is a single LIP endpoint/hub. All exported methods are safe
// for concurrent use; internally every one of them acquires coreMu
// before touching shared state, per the protocol's single-core-mutex
// concurrency model.
type Node struct {
	coreMu sync.Mutex

	cfg Config
	cb  Callbacks
	bus bus.Bus

	cache   *cache.Cache
	pending *pending.Table
	disc    *discovery.Machine
	timer   *timerengine.Engine

	upstream [lipconst.NumAddresses]bool

	downstreamKnown bool
	downstreamUUID  uint32

	// sentVideoFmt/sentAudioFmt remember the format tuple a promoted
	// SENT slot was asked about, so the REPORT_* handler knows what
	// to index the cache under (§4.5's "remember the requested
	// formats").
	sentVideoFmt format.VideoFormat
	sentAudioFmt format.AudioFormat
	sentVideo    bool
	sentAudio    bool

	workerStop chan struct{}
	workerDone chan struct{}
	closed     bool
}

// Open validates cfg, wires together the cache, pending table,
// discovery machine and timer engine, registers the bus receive
// callback, starts the background worker, and returns a handle. It
// fails (returning a nil *Node) on a bad config or a missing required
// callback, per §4.7 and §7.
func Open(cfg Config, cb Callbacks, persistence cache.Persistence, transport bus.Bus) (*Node, error) {
	if transport == nil {
		return nil, ErrNilBus
	}
	if cb.MergeUUID == nil {
		return nil, ErrMissingMergeUUID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core: open: %w", err)
	}

	n := &Node{
		cfg:        cfg,
		cb:         cb,
		bus:        transport,
		cache:      cache.New(persistence),
		workerStop: make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	n.pending = pending.New(&n.coreMu)
	n.disc = discovery.New(&n.coreMu)
	n.timer = timerengine.New(n.onTimerFire)

	transport.RegisterReceive(n.receive)

	go n.workerLoop()

	return n, nil
}

// Close signals the worker to stop, joins it, persists the cache if a
// downstream identity was known, and tears down the timer.
func (n *Node) Close() {
	n.coreMu.Lock()
	if n.closed {
		n.coreMu.Unlock()
		return
	}
	n.closed = true
	n.timer.Cancel()
	downstreamKnown := n.downstreamKnown
	n.disc.Wake()
	n.pending.Cond.Broadcast() // wake any blocked GetAVLatency/etc. callers so they observe closed
	n.coreMu.Unlock()

	close(n.workerStop)
	<-n.workerDone

	if downstreamKnown {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.cache.Persist(ctx); err != nil {
			n.logf("failed to persist cache on close: %v", err)
		}
	}
}

func (n *Node) defaultLogf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...))
}
