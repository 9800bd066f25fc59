package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cec-lip/lipd/internal/core"
)

// latencyTableEntry is one sparse cell of a video or audio latency
// table document. Only the dimensions relevant to the entry's array
// need to be set; everything else defaults to zero.
type latencyTableEntry struct {
	VIC         uint8 `json:"vic"`
	ColorFormat uint8 `json:"color_format"`
	HDRMode     uint8 `json:"hdr_mode"`

	Codec   uint8 `json:"codec"`
	Subtype uint8 `json:"subtype"`
	Ext     uint8 `json:"ext"`

	Latency uint8 `json:"latency"`
}

// latencyTableDocument is the JSON shape of Node.LatencyTableFile: a
// sparse list of cells rather than the full [219][3][4]/[32][4][32]
// arrays, since the vast majority of cells in a real deployment are
// InvalidLatency (unmeasured/unsupported format).
type latencyTableDocument struct {
	Video []latencyTableEntry `json:"video"`
	Audio []latencyTableEntry `json:"audio"`
}

// ToCoreWithLatencyTable builds the protocol Config exactly as ToCore
// does, additionally populating VideoLatencies/AudioLatencies from
// LatencyTableFile when one is configured. Every cell not named in
// the document keeps core.Config's zero value, which internal/core
// uses as a real 0 ms latency, not as lipconst.InvalidLatency, so
// operators who need "unsupported" instead of "0ms" must say so
// explicitly with "latency": 255 in the document.
func (n Node) ToCoreWithLatencyTable() (core.Config, error) {
	cfg := n.ToCore()
	if n.LatencyTableFile == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(n.LatencyTableFile)
	if err != nil {
		return core.Config{}, fmt.Errorf("config: read latency table %s: %w", n.LatencyTableFile, err)
	}

	var doc latencyTableDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.Config{}, fmt.Errorf("config: parse latency table %s: %w", n.LatencyTableFile, err)
	}

	for _, e := range doc.Video {
		if int(e.VIC) >= len(cfg.VideoLatencies) || int(e.ColorFormat) >= len(cfg.VideoLatencies[0]) ||
			int(e.HDRMode) >= len(cfg.VideoLatencies[0][0]) {
			return core.Config{}, fmt.Errorf("config: latency table %s: video entry %+v out of range", n.LatencyTableFile, e)
		}
		cfg.VideoLatencies[e.VIC][e.ColorFormat][e.HDRMode] = e.Latency
	}
	for _, e := range doc.Audio {
		if int(e.Codec) >= len(cfg.AudioLatencies) || int(e.Subtype) >= len(cfg.AudioLatencies[0]) ||
			int(e.Ext) >= len(cfg.AudioLatencies[0][0]) {
			return core.Config{}, fmt.Errorf("config: latency table %s: audio entry %+v out of range", n.LatencyTableFile, e)
		}
		cfg.AudioLatencies[e.Codec][e.Subtype][e.Ext] = e.Latency
	}

	return cfg, nil
}
