package httpapi

import (
	"errors"
	"net/http"

	"github.com/cec-lip/lipd/internal/core"
	"github.com/cec-lip/lipd/internal/format"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/cec-lip/lipd/internal/pubsub"
	"github.com/gin-gonic/gin"
)

type controller struct {
	node *core.Node
	ps   pubsub.PubSub
}

// statusResponse mirrors core.Status in JSON, with addresses as plain
// ints and downstream_addr omitted while the downstream address is
// unknown (-1).
type statusResponse struct {
	DownstreamConnected bool    `json:"downstream_connected"`
	UpstreamConnected   bool    `json:"upstream_connected"`
	DownstreamAddr      *int8   `json:"downstream_addr,omitempty"`
	DownstreamUUID      uint32  `json:"downstream_uuid"`
	DiscoveryState      string  `json:"discovery_state"`
	UpstreamAddrs       []int8  `json:"upstream_addrs"`
}

func toStatusResponse(s core.Status) statusResponse {
	resp := statusResponse{
		DownstreamConnected: s.DownstreamConnected,
		UpstreamConnected:   s.UpstreamConnected,
		DownstreamUUID:      s.DownstreamUUID,
		DiscoveryState:      s.DiscoveryState,
		UpstreamAddrs:       make([]int8, 0, len(s.UpstreamAddrs)),
	}
	if s.DownstreamAddr != lipconst.Unknown {
		v := int8(s.DownstreamAddr)
		resp.DownstreamAddr = &v
	}
	for _, a := range s.UpstreamAddrs {
		resp.UpstreamAddrs = append(resp.UpstreamAddrs, int8(a))
	}
	return resp
}

// getStatus implements GET /status. ?wait=true blocks until discovery
// settles, matching core.GetStatus(waitForDiscovery).
func (c *controller) getStatus(ctx *gin.Context) {
	wait := ctx.Query("wait") == "true"
	status := c.node.GetStatus(wait)
	ctx.JSON(http.StatusOK, toStatusResponse(status))
}

// videoFormatJSON/audioFormatJSON mirror format.VideoFormat/AudioFormat
// for request/response bodies.
type videoFormatJSON struct {
	VIC         uint8 `json:"vic"`
	ColorFormat uint8 `json:"color_format"`
	HDRMode     uint8 `json:"hdr_mode"`
}

func (v videoFormatJSON) toFormat() format.VideoFormat {
	return format.VideoFormat{VIC: v.VIC, ColorFormat: format.ColorFormat(v.ColorFormat), HDRMode: v.HDRMode}
}

type audioFormatJSON struct {
	Codec   uint8 `json:"codec"`
	Subtype uint8 `json:"subtype"`
	Ext     uint8 `json:"ext"`
}

func (a audioFormatJSON) toFormat() format.AudioFormat {
	return format.AudioFormat{Codec: a.Codec, Subtype: a.Subtype, Ext: a.Ext}
}

type queryRequest struct {
	Video *videoFormatJSON `json:"video,omitempty"`
	Audio *audioFormatJSON `json:"audio,omitempty"`
}

type queryResponse struct {
	VideoLatency *uint8 `json:"video_latency,omitempty"`
	AudioLatency *uint8 `json:"audio_latency,omitempty"`
}

// postQuery implements POST /query, a synchronous latency query for
// manual testing and dashboards: the caller is funneled through the
// node's public Get*Latency API, which forces a downstream round trip
// and reports the raw downstream-only latency (force_local) rather
// than the composed value a wire peer's REPORT_* reply would carry.
func (c *controller) postQuery(ctx *gin.Context) {
	var req queryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Video == nil && req.Audio == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "at least one of video or audio is required"})
		return
	}

	var resp queryResponse
	switch {
	case req.Video != nil && req.Audio != nil:
		v, a, err := c.node.GetAVLatency(req.Video.toFormat(), req.Audio.toFormat())
		if c.handleQueryError(ctx, err) {
			return
		}
		resp.VideoLatency, resp.AudioLatency = &v, &a
	case req.Video != nil:
		v, err := c.node.GetVideoLatency(req.Video.toFormat())
		if c.handleQueryError(ctx, err) {
			return
		}
		resp.VideoLatency = &v
	default:
		a, err := c.node.GetAudioLatency(req.Audio.toFormat())
		if c.handleQueryError(ctx, err) {
			return
		}
		resp.AudioLatency = &a
	}

	ctx.JSON(http.StatusOK, resp)
}

func (c *controller) handleQueryError(ctx *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, core.ErrDownstreamUnknown):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrAborted):
		ctx.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrClosed):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	return true
}

// configRequest mirrors core.Config for PATCH /config, plus the two
// out-of-band set_config parameters §4.7 defines alongside it.
type configRequest struct {
	Config             *configJSON `json:"config,omitempty"`
	ForceDiscovery      bool        `json:"force_discovery"`
	RemoveUpstreamAddr  *int8       `json:"remove_upstream_addr,omitempty"`
}

type configJSON struct {
	DownstreamAddr    int8            `json:"downstream_addr"`
	OwnAddr           int8            `json:"own_addr"`
	OwnUUID           uint32          `json:"own_uuid"`
	RenderMode        uint8           `json:"render_mode"`
	AudioTranscoding  bool            `json:"audio_transcoding"`
	TranscodingFormat audioFormatJSON `json:"transcoding_format"`
}

// patchConfig implements PATCH /config. The video/audio latency
// tables are intentionally not part of this body — they are loaded
// from config at startup (see internal/config.Node.LatencyTableFile)
// and are 219*3*4 + 32*4*32 entries, not something a JSON PATCH body
// should carry; this endpoint only ever edits the fields §4.7 names
// explicitly (identity, render mode, transcoding, downstream address).
func (c *controller) patchConfig(ctx *gin.Context) {
	var req configRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	removeAddr := lipconst.Unknown
	if req.RemoveUpstreamAddr != nil {
		removeAddr = lipconst.LogicalAddress(*req.RemoveUpstreamAddr)
	}

	var newCfg *core.Config
	if req.Config != nil {
		current := c.node.CurrentConfig()
		newCfg = &core.Config{
			DownstreamAddr:    lipconst.LogicalAddress(req.Config.DownstreamAddr),
			OwnAddr:           lipconst.LogicalAddress(req.Config.OwnAddr),
			OwnUUID:           req.Config.OwnUUID,
			RenderMode:        lipconst.RenderMode(req.Config.RenderMode),
			AudioTranscoding:  req.Config.AudioTranscoding,
			TranscodingFormat: req.Config.TranscodingFormat.toFormat(),
			VideoLatencies:    current.VideoLatencies,
			AudioLatencies:    current.AudioLatencies,
		}
	}

	if err := c.node.SetConfig(newCfg, req.ForceDiscovery, removeAddr); err != nil {
		switch {
		case errors.Is(err, core.ErrForbiddenConfigEdit):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, core.ErrClosed):
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	ctx.JSON(http.StatusOK, toStatusResponse(c.node.GetStatus(false)))
}
