package cmd

import (
	"fmt"
	"io"

	"github.com/cec-lip/lipd/internal/bus"
	"github.com/cec-lip/lipd/internal/config"
)

// buildBus constructs the configured CEC transport. "sim" needs no
// external process and is its own no-op closer; "tcp" dials or
// listens per cfg.Bus.Dial and returns the connection as the closer.
func buildBus(cfg *config.Config) (bus.Bus, io.Closer, error) {
	switch cfg.Bus.Driver {
	case config.BusDriverSim:
		reg := bus.NewSimRegistry()
		return bus.NewSimBus(reg, cfg.Node.OwnAddr), nopCloser{}, nil
	case config.BusDriverTCP:
		if cfg.Bus.Dial {
			b, err := bus.DialTCPBus(cfg.Bus.Addr)
			if err != nil {
				return nil, nil, err
			}
			return b, b, nil
		}
		b, err := bus.ListenTCPBus(cfg.Bus.Addr)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("cmd: unsupported bus driver %q", cfg.Bus.Driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
