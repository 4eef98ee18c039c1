package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithScope(t *testing.T) {
	var buf bytes.Buffer
	logger := WithScope(newLogger(&buf, zerolog.InfoLevel), "INJECTOR")

	logger.Info().Msg("started")

	out := buf.String()
	assert.Contains(t, out, "[INJECTOR]")
	assert.Contains(t, out, "started")
	assert.NotContains(t, out, "scope=")
}

func TestErrorUnwrapped(t *testing.T) {
	tcs := []struct {
		name  string
		err   error
		lines int
	}{
		{name: "single error", err: errors.New("a"), lines: 1},
		{name: "joined errors", err: errors.Join(errors.New("a"), errors.New("b"), errors.New("c")), lines: 3},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&buf, zerolog.InfoLevel)

			ErrorUnwrapped(&logger, "config", tc.err)

			out := strings.TrimSpace(buf.String())
			assert.Len(t, strings.Split(out, "\n"), tc.lines)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = ParseLevel("trace")
	require.NoError(t, err)
	assert.Equal(t, zerolog.TraceLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, closer, err := NewFileLogger(path, zerolog.InfoLevel)
	require.NoError(t, err)

	scoped := WithScope(logger, "MASTER")
	scoped.Info().Msg("poisoning")
	logger.Debug().Msg("hidden")
	require.NoError(t, closer.Close())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[MASTER]")
	assert.Contains(t, string(content), "poisoning")
	assert.NotContains(t, string(content), "hidden")

	_, _, err = NewFileLogger(filepath.Join(t.TempDir(), "missing", "run.log"), zerolog.InfoLevel)
	assert.Error(t, err)
}
