package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSecret(t *testing.T) {
	t.Run("file variant wins", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		require.NoError(t, os.WriteFile(path, []byte("  from-file\n"), 0o600))
		t.Setenv("RW_TEST_TOKEN", "from-env")
		t.Setenv("RW_TEST_TOKEN_FILE", path)

		got, err := GetSecret("RW_TEST_TOKEN", "default")
		require.NoError(t, err)
		assert.Equal(t, "from-file", got)
	})

	t.Run("env then default", func(t *testing.T) {
		t.Setenv("RW_TEST_OTHER", "from-env")
		got, err := GetSecret("RW_TEST_OTHER", "default")
		require.NoError(t, err)
		assert.Equal(t, "from-env", got)

		got, err = GetSecret("RW_TEST_UNSET", "default")
		require.NoError(t, err)
		assert.Equal(t, "default", got)
	})

	t.Run("missing file falls back for optional", func(t *testing.T) {
		t.Setenv("RW_TEST_BROKEN_FILE", filepath.Join(t.TempDir(), "nope"))
		_, err := GetSecret("RW_TEST_BROKEN", "")
		assert.Error(t, err)
		assert.Equal(t, "fallback", GetOptionalSecret("RW_TEST_BROKEN", "fallback"))
	})
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := hexutil.Encode(crypto.FromECDSA(key))

	parsed, err := ParsePrivateKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))

	_, err = ParsePrivateKey("")
	assert.Error(t, err)

	_, err = ParsePrivateKey("zz")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "zz")
}
