package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampBoundsPreGainAndCeiling(t *testing.T) {
	c := &Config{PreGain: 50, MaxTruePeak: -40, ID3v2Version: 4, TagMode: TagModeWrite}
	c.Clamp()
	assert.Equal(t, 32.0, c.PreGain)
	assert.Equal(t, -32.0, c.MaxTruePeak)
}

func TestClampID3Version(t *testing.T) {
	c := &Config{ID3v2Version: 2, TagMode: TagModeSkip}
	c.Clamp()
	assert.Equal(t, 3, c.ID3v2Version)

	c.ID3v2Version = 5
	c.Clamp()
	assert.Equal(t, 4, c.ID3v2Version)
}

func TestClampUnknownTagModeFallsBackToSkip(t *testing.T) {
	c := &Config{ID3v2Version: 4, TagMode: "frobnicate"}
	c.Clamp()
	assert.Equal(t, TagModeSkip, c.TagMode)
}

func TestSetExtensionsNormalizesAndFilters(t *testing.T) {
	c := &Config{Extensions: SupportedExtensions}
	c.SetExtensions("FLAC, .mp3, xyz")
	assert.Equal(t, []string{".flac", ".mp3"}, c.Extensions)
}

func TestSetExtensionsKeepsDefaultWhenEmpty(t *testing.T) {
	c := &Config{Extensions: SupportedExtensions}
	c.SetExtensions(",")
	assert.Equal(t, SupportedExtensions, c.Extensions)
}

func TestUnitLabel(t *testing.T) {
	c := &Config{}
	assert.Equal(t, "dB", c.Unit())
	c.UnitLU = true
	assert.Equal(t, "LU", c.Unit())
}

func TestLoadDefaults(t *testing.T) {
	c := Load()
	assert.Equal(t, "ffmpeg", c.FFmpegPath)
	assert.Equal(t, -1.0, c.MaxTruePeak)
	assert.True(t, c.PreventClipping)
	assert.Equal(t, TagModeSkip, c.TagMode)
}
