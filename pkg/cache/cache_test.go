package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	_, ok := h.Get("top.mask")
	assert.False(t, ok)

	h.Set("top.mask", "loaded")
	v, ok := h.Get("top.mask")
	require.True(t, ok)
	assert.Equal(t, "loaded", v)

	h.Delete("top.mask")
	_, ok = h.Get("top.mask")
	assert.False(t, ok)

	ok, err = h.Ping()
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestExpiration(t *testing.T) {
	h, err := NewWithExpiration(10 * time.Millisecond)
	require.NoError(t, err)
	h.Set("k", 1)
	assert.Eventually(t, func() bool {
		_, ok := h.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestNilHandler(t *testing.T) {
	var h *Handler
	h.Set("k", 1)
	_, ok := h.Get("k")
	assert.False(t, ok)
}
