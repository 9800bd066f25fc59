package lipconst_test

import (
	"testing"

	"github.com/cec-lip/lipd/internal/lipconst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestSumLatencyClamping exercises §8 property 4's literal examples.
func TestSumLatencyClamping(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint8(254), lipconst.SumLatency(254, 1))
	assert.Equal(t, uint8(255), lipconst.SumLatency(255, 0))
	assert.Equal(t, uint8(255), lipconst.SumLatency(1, 255))
	assert.Equal(t, uint8(254), lipconst.SumLatency(200, 60))
}

func TestSumLatencyInvalidPropagates(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.Uint8().Draw(t, "a")
		got := lipconst.SumLatency(a, lipconst.InvalidLatency)
		require.Equal(t, lipconst.InvalidLatency, got)
		got = lipconst.SumLatency(lipconst.InvalidLatency, a)
		require.Equal(t, lipconst.InvalidLatency, got)
	})
}

// TestSumLatencyNeverExceedsInvalid checks the two valid-operand
// outcomes SumLatency can ever produce never collide with or exceed
// the invalid sentinel.
func TestSumLatencyNeverExceedsInvalid(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.IntRange(0, int(lipconst.MaxClampedLatency)).Draw(t, "a")
		b := rapid.IntRange(0, int(lipconst.MaxClampedLatency)).Draw(t, "b")
		got := lipconst.SumLatency(uint8(a), uint8(b))
		require.LessOrEqual(t, got, lipconst.MaxClampedLatency)
		if a+b <= int(lipconst.MaxClampedLatency) {
			require.Equal(t, uint8(a+b), got)
		} else {
			require.Equal(t, lipconst.MaxClampedLatency, got)
		}
	})
}

func TestIECDecodingDelayTable(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint8(7), lipconst.IECDecodingDelay(lipconst.CodecAC3))
	assert.Equal(t, uint8(6), lipconst.IECDecodingDelay(lipconst.CodecMAT))
	assert.Equal(t, uint8(47), lipconst.IECDecodingDelay(lipconst.CodecEAC3))
	assert.Equal(t, uint8(0), lipconst.IECDecodingDelay(99))
}

func TestValidOutsideSupported(t *testing.T) {
	t.Parallel()
	assert.True(t, lipconst.ValidOutsideSupported(lipconst.RequestLIPSupport))
	assert.True(t, lipconst.ValidOutsideSupported(lipconst.ReportLIPSupport))
	assert.False(t, lipconst.ValidOutsideSupported(lipconst.RequestAudioLatency))
	assert.False(t, lipconst.ValidOutsideSupported(lipconst.UpdateUUID))
}

func TestIsLatencyRequest(t *testing.T) {
	t.Parallel()
	assert.True(t, lipconst.RequestAVLatency.IsLatencyRequest())
	assert.True(t, lipconst.RequestAudioLatency.IsLatencyRequest())
	assert.True(t, lipconst.RequestVideoLatency.IsLatencyRequest())
	assert.False(t, lipconst.RequestLIPSupport.IsLatencyRequest())
	assert.False(t, lipconst.ReportAVLatency.IsLatencyRequest())
}
