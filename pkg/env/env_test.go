package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_PrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  from-file\n"), 0o600))

	t.Setenv("AUTH_TOKEN", "from-env")
	t.Setenv("AUTH_TOKEN_FILE", path)

	value, err := Secret("AUTH_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestSecret_MissingFile(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "from-env")
	t.Setenv("AUTH_TOKEN_FILE", filepath.Join(t.TempDir(), "missing"))

	_, err := Secret("AUTH_TOKEN")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_TOKEN_FILE")
}

func TestSecretOr(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "")
	t.Setenv("AUTH_TOKEN_FILE", "")

	value, err := SecretOr("AUTH_TOKEN", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)

	t.Setenv("AUTH_TOKEN", "from-env")
	value, err = SecretOr("AUTH_TOKEN", "fallback")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)
}
