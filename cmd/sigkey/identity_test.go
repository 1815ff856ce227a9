package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/sigkey/internal/config"
	"github.com/layer-3/sigkey/keycache"
)

const hardhatKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestRunIdentity(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORE_DRIVER", config.StoreMemory)
	t.Setenv("CACHE_DRIVER", config.CacheFile)
	t.Setenv("CACHE_DIR", dir)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	require.NoError(t, runIdentity(context.Background(), hardhatKey, &out))

	var result identityOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", result.Address)
	assert.Len(t, result.EncryptionPublicKey, 64)
	assert.Len(t, result.SigningPublicKey, 64)
	assert.NotNil(t, result.CacheExpiresAt)

	info, err := os.Stat(filepath.Join(dir, keycache.SlotKey+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, runClearCache(context.Background()))
	_, err = os.Stat(filepath.Join(dir, keycache.SlotKey+".json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunIdentityBadKey(t *testing.T) {
	t.Setenv("CACHE_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "error")
	assert.Error(t, runIdentity(context.Background(), "not a key", &bytes.Buffer{}))
}

func TestOpenBackendUnknownDriver(t *testing.T) {
	_, err := openBackend(context.Background(), &config.Config{StoreDriver: "etcd"})
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestOpenCacheUnknownDriver(t *testing.T) {
	_, _, err := openCache(&config.Config{CacheDriver: "s3"}, nil, nil)
	assert.ErrorContains(t, err, "unknown cache driver")
}
