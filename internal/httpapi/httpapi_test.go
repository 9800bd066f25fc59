package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cec-lip/lipd/internal/bus"
	"github.com/cec-lip/lipd/internal/config"
	"github.com/cec-lip/lipd/internal/core"
	"github.com/cec-lip/lipd/internal/httpapi"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/stretchr/testify/require"
)

func testNode(t *testing.T) *core.Node {
	t.Helper()
	reg := bus.NewSimRegistry()
	transport := bus.NewSimBus(reg, lipconst.TV)
	cb := core.Callbacks{
		MergeUUID: func(own, _ uint32, _ bool) uint32 { return own },
	}
	node, err := core.Open(core.Config{OwnAddr: lipconst.TV, DownstreamAddr: lipconst.Unknown}, cb, nil, transport)
	require.NoError(t, err)
	t.Cleanup(node.Close)
	return node
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel: config.LogLevelError,
		HTTP:     config.HTTP{Bind: "127.0.0.1", Port: 0, RateLimitRPS: 1000},
	}
}

func TestGetStatusReturnsCurrentState(t *testing.T) {
	t.Parallel()
	node := testNode(t)
	r := httpapi.CreateRouter(testConfig(), node, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, false, resp["downstream_connected"])
}

func TestPostQueryWithoutDownstreamReturnsConflict(t *testing.T) {
	t.Parallel()
	node := testNode(t)
	r := httpapi.CreateRouter(testConfig(), node, nil)

	body := []byte(`{"video": {"vic": 16, "color_format": 0, "hdr_mode": 0}}`)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}

func TestPostQueryRejectsEmptyBody(t *testing.T) {
	t.Parallel()
	node := testNode(t)
	r := httpapi.CreateRouter(testConfig(), node, nil)

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPatchConfigRejectsRenderModeChangeWithoutUUIDChange(t *testing.T) {
	t.Parallel()
	node := testNode(t)
	r := httpapi.CreateRouter(testConfig(), node, nil)

	body := []byte(`{"config": {"own_addr": 0, "downstream_addr": -1, "render_mode": 1}}`)
	req := httptest.NewRequest(http.MethodPatch, "/config", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
}
