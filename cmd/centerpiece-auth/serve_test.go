package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		logger, err := newLogger(slog.LevelInfo, "json")
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("Text", func(t *testing.T) {
		logger, err := newLogger(slog.LevelError, "text")
		require.NoError(t, err)
		require.NotNil(t, logger)
	})

	t.Run("Unknown", func(t *testing.T) {
		logger, err := newLogger(slog.LevelError, "gofmt")
		require.Error(t, err)
		require.Equal(t, "log format is not one of the supported values (json, text): gofmt", err.Error())
		require.Nil(t, logger)
	})
}

func TestParseLogLevel(t *testing.T) {
	t.Run("Known", func(t *testing.T) {
		level, err := parseLogLevel("debug")
		require.NoError(t, err)
		require.Equal(t, slog.LevelDebug, level)
	})

	t.Run("DefaultsToInfo", func(t *testing.T) {
		level, err := parseLogLevel("")
		require.NoError(t, err)
		require.Equal(t, slog.LevelInfo, level)
	})

	t.Run("Unknown", func(t *testing.T) {
		_, err := parseLogLevel("verbose")
		require.Error(t, err)
	})
}

func TestCommandRootRegistersSubcommands(t *testing.T) {
	root := commandRoot()
	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["version"])
}
