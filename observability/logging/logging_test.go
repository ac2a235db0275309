package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWriterRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, "strategyd", "test")
	logger.Info("strategy finalized", slog.String("strategy", "0xabc"), slog.String("hmac_secret", "hunter2"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "strategy finalized", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "strategyd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "0xabc", line["strategy"])
	require.Equal(t, RedactedValue, line["hmac_secret"])
	require.Contains(t, line, "timestamp")
}

func TestRedactsNestedCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, "strategyd", "")
	logger.Info("audit store opened", slog.Group("audit", slog.String("driver", "postgres"), slog.String("dsn", "postgres://user:pass@db")))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	group, ok := line["audit"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "postgres", group["driver"])
	require.Equal(t, RedactedValue, group["dsn"])
	require.NotContains(t, line, "env")
}

func TestIsSensitive(t *testing.T) {
	require.True(t, IsSensitive(" Authorization "))
	require.True(t, IsSensitive("keeper_api_key"))
	require.False(t, IsSensitive("keeper"))
	require.False(t, IsSensitive(""))
}
