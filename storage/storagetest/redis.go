// Package storagetest provides an in-memory redis for tests of code built on
// storage.KeyedStore.
package storagetest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vultisig/txengine/storage"
)

func NewRedisStorage(t testing.TB) (*storage.RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return storage.NewRedisStorageFromClient(client), mr
}
