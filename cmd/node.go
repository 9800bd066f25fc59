package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cec-lip/lipd/internal/bus"
	"github.com/cec-lip/lipd/internal/config"
	"github.com/cec-lip/lipd/internal/core"
	"github.com/cec-lip/lipd/internal/db"
	"github.com/cec-lip/lipd/internal/httpapi"
	"github.com/cec-lip/lipd/internal/pubsub"
	"gorm.io/gorm"
)

// openNode wires a core.Node from the loaded configuration: the
// gorm-backed cache persistence, the merge_uuid and status-changed
// callbacks, and the configured bus transport.
func openNode(cfg *config.Config, database *gorm.DB, ps pubsub.PubSub, transport bus.Bus) (*core.Node, error) {
	coreCfg, err := cfg.Node.ToCoreWithLatencyTable()
	if err != nil {
		return nil, err
	}

	persistence := db.NewPersistence(database)

	cb := core.Callbacks{
		MergeUUID:     defaultMergeUUID,
		StatusChanged: statusChangedCallback(ps),
		Log: func(format string, args ...any) {
			slog.Debug("core: " + fmt.Sprintf(format, args...))
		},
	}

	return core.Open(coreCfg, cb, persistence, transport)
}

// statusChangedCallback publishes every status change to
// httpapi.StatusTopic so internal/httpapi's WebSocket relay (and any
// other pubsub consumer) observes it, mirroring the teacher's pattern
// of fanning internal state changes out over its PubSub abstraction
// rather than only serving them on demand.
func statusChangedCallback(ps pubsub.PubSub) func(core.Status) {
	return func(s core.Status) {
		if ps == nil {
			return
		}
		payload, err := json.Marshal(s)
		if err != nil {
			slog.Error("cmd: failed to marshal status for publish", "error", err)
			return
		}
		if err := ps.Publish(httpapi.StatusTopic, payload); err != nil {
			slog.Error("cmd: failed to publish status", "error", err)
		}
	}
}
