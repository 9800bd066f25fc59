package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cec-lip/lipd/internal/config"
	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/stretchr/testify/require"
)

func TestToCoreWithLatencyTableNoFileReturnsZeroTables(t *testing.T) {
	t.Parallel()
	n := config.Node{OwnAddr: lipconst.TV, DownstreamAddr: lipconst.AudioSystem}

	cfg, err := n.ToCoreWithLatencyTable()
	require.NoError(t, err)
	require.Equal(t, uint8(0), cfg.VideoLatencies[16][0][0])
}

func TestToCoreWithLatencyTablePopulatesSparseEntries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "table.json")
	doc := `{
		"video": [{"vic": 16, "color_format": 0, "hdr_mode": 0, "latency": 40}],
		"audio": [{"codec": 1, "subtype": 0, "ext": 0, "latency": 20}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	n := config.Node{OwnAddr: lipconst.TV, DownstreamAddr: lipconst.AudioSystem, LatencyTableFile: path}
	cfg, err := n.ToCoreWithLatencyTable()
	require.NoError(t, err)
	require.Equal(t, uint8(40), cfg.VideoLatencies[16][0][0])
	require.Equal(t, uint8(20), cfg.AudioLatencies[1][0][0])
}

func TestToCoreWithLatencyTableRejectsOutOfRangeEntry(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "table.json")
	doc := `{"video": [{"vic": 255, "color_format": 0, "hdr_mode": 0, "latency": 40}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	n := config.Node{OwnAddr: lipconst.TV, DownstreamAddr: lipconst.AudioSystem, LatencyTableFile: path}
	_, err := n.ToCoreWithLatencyTable()
	require.Error(t, err)
}

func TestToCoreWithLatencyTableMissingFileErrors(t *testing.T) {
	t.Parallel()
	n := config.Node{OwnAddr: lipconst.TV, DownstreamAddr: lipconst.AudioSystem, LatencyTableFile: "/nonexistent/table.json"}
	_, err := n.ToCoreWithLatencyTable()
	require.Error(t, err)
}
