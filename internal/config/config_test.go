package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_DUR", "5s")

	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)

	d, err := envDuration("TEST_DUR", 0)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = envDuration("TEST_DUR_MISSING", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)
}

func TestEnvHelpersRejectGarbage(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	t.Setenv("TEST_DUR_BAD", "five-seconds")

	_, err := envInt("TEST_INT_BAD", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_INT_BAD")

	_, err = envDuration("TEST_DUR_BAD", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_DUR_BAD")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 20, cfg.MaxConcurrentPerProgram)
	assert.Equal(t, 10*time.Second, cfg.AdmissionWait)
	assert.Empty(t, cfg.APIKey, "auth is off unless a key is set")
}

func TestLoadCollectsEveryInvalidVar(t *testing.T) {
	t.Setenv("ENSO_PORT", "abc")
	t.Setenv("ENSO_ADMISSION_WAIT", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENSO_PORT")
	assert.Contains(t, err.Error(), "ENSO_ADMISSION_WAIT")
}

func TestValidateBounds(t *testing.T) {
	t.Setenv("ENSO_MAX_CONCURRENT_PER_PROGRAM", "0")
	_, err := Load()
	assert.Error(t, err, "zero capacity would admit nothing")

	t.Setenv("ENSO_MAX_CONCURRENT_PER_PROGRAM", "1")
	t.Setenv("ENSO_PORT", "70000")
	_, err = Load()
	assert.Error(t, err, "port must fit in 1..65535")
}
