package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vultisig/txengine/storage"
	"github.com/vultisig/txengine/storage/storagetest"
)

func TestRedisStorage_GetSet(t *testing.T) {
	ctx := context.Background()
	store, mr := storagetest.NewRedisStorage(t)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", "v", time.Second))
	v, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	mr.FastForward(2 * time.Second)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRedisStorage_SetNX(t *testing.T) {
	ctx := context.Background()
	store, mr := storagetest.NewRedisStorage(t)

	ok, err := store.SetNX(ctx, "lock", "a", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SetNX(ctx, "lock", "b", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(2 * time.Second)
	ok, err = store.SetNX(ctx, "lock", "b", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStorage_DeleteIfValue(t *testing.T) {
	ctx := context.Background()
	store, _ := storagetest.NewRedisStorage(t)

	require.NoError(t, store.Set(ctx, "lock", "owner", time.Minute))

	deleted, err := store.DeleteIfValue(ctx, "lock", "someone-else")
	require.NoError(t, err)
	assert.False(t, deleted)

	exists, err := store.Exists(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err = store.DeleteIfValue(ctx, "lock", "owner")
	require.NoError(t, err)
	assert.True(t, deleted)

	exists, err = store.Exists(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStorage_LowerTo(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name     string
		current  string
		value    int64
		lowered  bool
		expected string
	}{
		{name: "greater is lowered", current: "9", value: 7, lowered: true, expected: "7"},
		{name: "equal is kept", current: "7", value: 7, lowered: false, expected: "7"},
		{name: "smaller is kept", current: "5", value: 7, lowered: false, expected: "5"},
		{name: "missing stays missing", current: "", value: 7, lowered: false, expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := storagetest.NewRedisStorage(t)
			if tc.current != "" {
				require.NoError(t, store.Set(ctx, "counter", tc.current, time.Minute))
			}
			lowered, err := store.LowerTo(ctx, "counter", tc.value, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tc.lowered, lowered)

			v, err := store.Get(ctx, "counter")
			if tc.expected == "" {
				assert.ErrorIs(t, err, storage.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, v)
		})
	}
}

func TestRedisStorage_CancelledContext(t *testing.T) {
	store, _ := storagetest.NewRedisStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.SetNX(ctx, "k", "v", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
