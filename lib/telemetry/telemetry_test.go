package telemetry

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupFromEnvWithoutConfig(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	tel, err := SetupFromEnv(context.Background(), "chartermap-test")
	require.NoError(t, err)
	require.Nil(t, tel.TracerProvider)
	require.Nil(t, tel.MeterProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSetupWithoutEndpoints(t *testing.T) {
	tel, err := Setup(context.Background(), "chartermap-test", Config{})
	require.NoError(t, err)
	require.Nil(t, tel.TracerProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestInitSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := InitSlog(&buf, false, "run_id", "abc")
	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "shown")
	require.Contains(t, out, "run_id")
	require.Contains(t, out, "abc")
}
