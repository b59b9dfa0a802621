package keystore

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chatrelay/chatrelay/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys.store")
	s, err := New(path, []byte("machine-id-123"), logger.NewDefaultLogger())
	require.NoError(t, err)
	return s, path
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Load())
	assert.False(t, s.Has("c_somechat"))
}

func TestPutGetHas(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Load())

	s.Put("c_chat1", []byte("pub-pem"), []byte("priv-pem"))
	assert.True(t, s.Has("c_chat1"))

	pub, priv, ok := s.Get("c_chat1")
	assert.True(t, ok)
	assert.Equal(t, []byte("pub-pem"), pub)
	assert.Equal(t, []byte("priv-pem"), priv)
}

func TestPutReplacesExistingRecord(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Load())

	s.Put("c_chat1", []byte("pub1"), []byte("priv1"))
	s.Put("c_chat1", []byte("pub2"), []byte("priv2"))

	pub, priv, ok := s.Get("c_chat1")
	assert.True(t, ok)
	assert.Equal(t, []byte("pub2"), pub)
	assert.Equal(t, []byte("priv2"), priv)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Load())
	s.Put("c_chat1", []byte("pub-pem-bytes"), []byte("priv-pem-bytes"))
	require.NoError(t, s.Save())

	s2, err := New(path, []byte("machine-id-123"), logger.NewDefaultLogger())
	require.NoError(t, err)
	require.NoError(t, s2.Load())

	pub, priv, ok := s2.Get("c_chat1")
	assert.True(t, ok)
	assert.Equal(t, []byte("pub-pem-bytes"), pub)
	assert.Equal(t, []byte("priv-pem-bytes"), priv)
}

func TestSaveProducesLineWrappedFile(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Load())
	s.Put("c_chat1", []byte("a very long public key pem blob to force wrapping across multiple lines of output"), []byte("priv"))
	require.NoError(t, s.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimRight(raw, "\n"), []byte("\n"))
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), lineWrapWidth)
	}
}

func TestWrongIdentifierFailsToDecrypt(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Load())
	s.Put("c_chat1", []byte("pub"), []byte("priv"))
	require.NoError(t, s.Save())

	wrong, err := New(path, []byte("some-other-machine"), logger.NewDefaultLogger())
	require.NoError(t, err)
	assert.Error(t, wrong.Load())
}
