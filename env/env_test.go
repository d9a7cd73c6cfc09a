package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvSources(t *testing.T) {
	dir := t.TempDir()
	prev := secretsDir
	secretsDir = dir
	t.Cleanup(func() { secretsDir = prev })

	t.Run("direct value", func(t *testing.T) {
		t.Setenv("BOUNDS_TEST_DIRECT", "direct")
		assert.Equal(t, "direct", GetEnv("BOUNDS_TEST_DIRECT", "fallback"))
	})

	t.Run("file value", func(t *testing.T) {
		path := filepath.Join(dir, "value.txt")
		require.NoError(t, os.WriteFile(path, []byte("  from-file\n"), 0o600))
		t.Setenv("BOUNDS_TEST_FILE_FILE", path)
		assert.Equal(t, "from-file", GetEnv("BOUNDS_TEST_FILE"))
	})

	t.Run("missing file falls back to default", func(t *testing.T) {
		t.Setenv("BOUNDS_TEST_MISSING_FILE", filepath.Join(dir, "nope"))
		assert.Equal(t, "fallback", GetEnv("BOUNDS_TEST_MISSING", "fallback"))
	})

	t.Run("secrets dir", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "BOUNDS_TEST_SECRET"), []byte("s3cret"), 0o600))
		assert.Equal(t, "s3cret", GetEnv("BOUNDS_TEST_SECRET"))
	})

	t.Run("default", func(t *testing.T) {
		assert.Equal(t, "", GetEnv("BOUNDS_TEST_UNSET"))
		assert.Equal(t, "x", GetEnv("BOUNDS_TEST_UNSET", "x"))
	})
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("BOUNDS_TEST_INT", "42")
	t.Setenv("BOUNDS_TEST_BAD_INT", "forty")
	t.Setenv("BOUNDS_TEST_BOOL", "true")
	t.Setenv("BOUNDS_TEST_DURATION", "2d")
	t.Setenv("BOUNDS_TEST_GO_DURATION", "1m30s")
	t.Setenv("BOUNDS_TEST_BAD_DURATION", "whenever")

	assert.Equal(t, int64(42), GetEnvInt64("BOUNDS_TEST_INT", 1))
	assert.Equal(t, 7, GetEnvInt("BOUNDS_TEST_BAD_INT", 7))
	assert.Zero(t, GetEnvInt("BOUNDS_TEST_UNSET_INT"))

	assert.True(t, GetEnvBool("BOUNDS_TEST_BOOL"))
	assert.True(t, GetEnvBool("BOUNDS_TEST_UNSET_BOOL", true))
	assert.False(t, GetEnvBool("BOUNDS_TEST_UNSET_BOOL"))

	assert.Equal(t, 48*time.Hour, GetEnvDuration("BOUNDS_TEST_DURATION"))
	assert.Equal(t, 90*time.Second, GetEnvDuration("BOUNDS_TEST_GO_DURATION"))
	assert.Equal(t, time.Minute, GetEnvDuration("BOUNDS_TEST_BAD_DURATION", time.Minute))
}
