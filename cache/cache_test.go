package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	defer s.Close()

	key := Fingerprint([]byte("twitter"), []byte("user"))
	_, ok := s.Get(key)
	assert.False(t, ok)

	require.True(t, s.Put(key, []byte("terms")))
	s.Wait()
	v, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("terms"), v)

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.KeysAdded)

	require.NoError(t, s.Clear())
	_, ok = s.Get(key)
	assert.False(t, ok)
	st, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.Clears)
}

func TestService_Closed(t *testing.T) {
	s, err := New(Config{MaxCost: 1 << 10})
	require.NoError(t, err)
	s.Close()
	s.Close()

	assert.False(t, s.Put(1, []byte("x")))
	_, ok := s.Get(1)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Clear(), ErrClosed)
	_, err = s.Stats()
	assert.ErrorIs(t, err, ErrClosed)
	s.Wait()
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint([]byte("a"), []byte("b")), Fingerprint([]byte("a"), []byte("b")))
	assert.NotEqual(t, Fingerprint([]byte("ab"), []byte("c")), Fingerprint([]byte("a"), []byte("bc")))
	assert.NotEqual(t, Fingerprint(nil), Fingerprint())
}
