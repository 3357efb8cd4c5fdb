package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-bufpool/internal/memory"
)

func TestMapWriteRelease(t *testing.T) {
	r, err := memory.Map(1 << 16)
	require.NoError(t, err)
	require.Equal(t, 1<<16, r.Len())

	b := r.Bytes()
	b[0], b[len(b)-1] = 1, 2
	base := r.Addr()
	require.NotZero(t, base)
	assert.True(t, r.Contains(base, r.Len()))
	assert.False(t, r.Contains(base+1, r.Len()))
	assert.Equal(t, 42, r.Offset(base+42))

	require.NoError(t, r.Release())
	assert.ErrorIs(t, r.Release(), memory.ErrReleased)
	assert.Zero(t, r.Addr())
}

func TestMapRejectsEmpty(t *testing.T) {
	_, err := memory.Map(0)
	assert.Error(t, err)
}
