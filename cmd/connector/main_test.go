package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/connector/internal/common/config"
)

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "test-directory", "test-calendar", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "connector dev")
}

func TestNewBackends(t *testing.T) {
	cfg := &config.Config{
		Directory: config.DirectoryConfig{Host: "dc01.example.local", Port: 389, BaseDN: "DC=example,DC=local"},
	}

	b := newBackends(cfg, zaptest.NewLogger(t))
	assert.NotNil(t, b.sync)
	assert.NotNil(t, b.auth)
	assert.Nil(t, b.ews)
	assert.Nil(t, b.calendar(), "no typed nil provider without a calendar")
	assert.Empty(t, b.breakers.AllStats())

	cfg.Calendar = config.CalendarConfig{URL: "https://mail.example.local/EWS/Exchange.asmx", BreakerThreshold: 3}
	b = newBackends(cfg, zaptest.NewLogger(t))
	require.NotNil(t, b.ews)
	assert.NotNil(t, b.calendar())

	stats := b.breakers.AllStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "ews", stats[0].Name)
	assert.Equal(t, 3, stats[0].Threshold)
}
