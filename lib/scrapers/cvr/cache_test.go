package cvr

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func TestFetchPageUsesCache(t *testing.T) {
	ctx := context.Background()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	platform := newFakePlatform("hunter2")
	server := httptest.NewServer(platform.mux)
	t.Cleanup(server.Close)

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL, Cache: db})
	require.NoError(t, err)

	err = client.Login(ctx, Credentials{Username: "alice", Password: "hunter2"})
	require.NoError(t, err)

	body, err := client.FetchPage(ctx, "/event/101/")
	require.NoError(t, err)
	require.Contains(t, string(body), "Lincoln High School Gym")

	// kill the session and rotate the password so any refetch would fail,
	// the cached page must be served without touching the network
	platform.mu.Lock()
	platform.password = "rotated"
	platform.mu.Unlock()
	platform.expireAll()

	cached, err := client.FetchPage(ctx, "/event/101/")
	require.NoError(t, err)
	require.Equal(t, body, cached)
}

func TestFetchPageNeverCachesListPages(t *testing.T) {
	ctx := context.Background()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	platform := newFakePlatform("hunter2")
	server := httptest.NewServer(platform.mux)
	t.Cleanup(server.Close)

	client, err := NewClient(ctx, ClientOptions{BaseUrl: server.URL, Cache: db})
	require.NoError(t, err)
	require.NoError(t, client.Login(ctx, Credentials{Username: "alice", Password: "hunter2"}))

	_, err = client.FetchPage(ctx, "/event/archive/")
	require.NoError(t, err)

	// nothing was cached, a second fetch has to hit the platform again
	err = db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Rewind()
		require.False(t, it.Valid(), "list page ended up in the cache")
		return nil
	})
	require.NoError(t, err)
}
