package format_test

import (
	"testing"

	"github.com/cec-lip/lipd/internal/format"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestVideoFormatHDRByteRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		colorFormat := format.ColorFormat(rapid.IntRange(0, 2).Draw(t, "color_format"))
		hdrMode := uint8(rapid.IntRange(0, format.HDRModeDepth-1).Draw(t, "hdr_mode"))
		vf := format.VideoFormat{VIC: 16, ColorFormat: colorFormat, HDRMode: hdrMode}
		require.True(t, vf.Valid())

		gotColor, gotMode := format.DecodeHDRByte(vf.HDRByte())
		require.Equal(t, colorFormat, gotColor)
		require.Equal(t, hdrMode, gotMode)
	})
}

func TestHDRByteDisjointRanges(t *testing.T) {
	t.Parallel()
	static := format.VideoFormat{ColorFormat: format.HDRStatic, HDRMode: 3}
	dynamic := format.VideoFormat{ColorFormat: format.HDRDynamic, HDRMode: 0}
	dolby := format.VideoFormat{ColorFormat: format.DolbyVision, HDRMode: 0}

	assert.Less(t, static.HDRByte(), dynamic.HDRByte())
	assert.Less(t, dynamic.HDRByte(), dolby.HDRByte())
	assert.Equal(t, uint8(3), static.HDRByte())
	assert.Equal(t, uint8(64), dynamic.HDRByte())
	assert.Equal(t, uint8(128), dolby.HDRByte())
}

func TestVideoFormatValidRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	assert.False(t, format.VideoFormat{VIC: 219}.Valid())
	assert.False(t, format.VideoFormat{VIC: 0, ColorFormat: 3}.Valid())
	assert.False(t, format.VideoFormat{VIC: 0, HDRMode: format.HDRModeDepth}.Valid())
	assert.True(t, format.VideoFormat{VIC: 218, ColorFormat: format.DolbyVision, HDRMode: format.HDRModeDepth - 1}.Valid())
}

func TestAudioFormatExtByteRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		subtype := uint8(rapid.IntRange(0, 3).Draw(t, "subtype"))
		ext := uint8(rapid.IntRange(0, 31).Draw(t, "ext"))
		af := format.AudioFormat{Codec: 1, Subtype: subtype, Ext: ext}
		require.True(t, af.Valid())

		gotExt, gotSubtype := format.DecodeExtByte(af.ExtByte())
		require.Equal(t, ext, gotExt)
		require.Equal(t, subtype, gotSubtype)
	})
}

func TestAudioFormatHasExtByte(t *testing.T) {
	t.Parallel()
	assert.False(t, format.AudioFormat{Codec: 1}.HasExtByte())
	assert.True(t, format.AudioFormat{Codec: 1, Subtype: 1}.HasExtByte())
	assert.True(t, format.AudioFormat{Codec: 1, Ext: 1}.HasExtByte())
}

func TestAudioFormatValidRejectsOutOfRange(t *testing.T) {
	t.Parallel()
	assert.False(t, format.AudioFormat{Codec: 32}.Valid())
	assert.False(t, format.AudioFormat{Subtype: 4}.Valid())
	assert.False(t, format.AudioFormat{Ext: 32}.Valid())
	assert.True(t, format.AudioFormat{Codec: 31, Subtype: 3, Ext: 31}.Valid())
}
