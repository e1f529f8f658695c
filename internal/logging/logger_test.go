package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: &buf}))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	l := With("archive")
	l.Info().Str("mode", "full").Msg("cycle finished")

	out := buf.String()
	assert.Contains(t, out, `"component":"archive"`)
	assert.Contains(t, out, `"mode":"full"`)
	assert.Contains(t, out, `"message":"cycle finished"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: "warn", Output: &buf}))
	t.Cleanup(func() { _ = Init(DefaultConfig()) })

	Info().Msg("hidden")
	Warn().Msg("shown")
	assert.False(t, strings.Contains(buf.String(), "hidden"))
	assert.True(t, strings.Contains(buf.String(), "shown"))

	SetDebug(true)
	Debug().Msg("debug-on")
	assert.Contains(t, buf.String(), "debug-on")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
}
