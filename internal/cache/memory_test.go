package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{Prefix: "gate"})

	_, err := c.Get(ctx, "k")
	require.True(t, IsNotFound(err))

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrNotFound)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "memory", st.Driver)
	require.EqualValues(t, 1, st.Hits)
	require.EqualValues(t, 2, st.Misses)
}

func TestMemory_Expires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Config{})
	require.NoError(t, c.Set(ctx, "short", "v", 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)
	_, err := c.Get(ctx, "short")
	require.True(t, IsNotFound(err))
}

func TestNew_UnknownDriverFallsBackToMemory(t *testing.T) {
	c, err := New(Config{Driver: "bogus"})
	require.NoError(t, err)
	require.NoError(t, c.Ping(context.Background()))
	st, _ := c.Stats(context.Background())
	require.Equal(t, "memory", st.Driver)
}
