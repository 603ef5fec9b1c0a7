package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type snapshot struct {
	Status string `json:"status"`
}

func TestStatusCacheFetchAndBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewStatusCache(client, time.Minute)
	ctx := context.Background()
	scope := Scope{Kind: ScopeWakala, ID: 10}

	loads := 0
	status := "open"
	loader := func(context.Context) (any, error) {
		loads++
		return snapshot{Status: status}, nil
	}

	var got snapshot
	require.NoError(t, cache.FetchJSON(ctx, scope, &got, loader, "day", "2026-03-14"))
	require.Equal(t, "open", got.Status)

	status = "closed"
	require.NoError(t, cache.FetchJSON(ctx, scope, &got, loader, "day", "2026-03-14"))
	require.Equal(t, "open", got.Status)
	require.Equal(t, 1, loads)

	ver, err := cache.Version(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, int64(1), ver)

	require.NoError(t, cache.Bump(ctx, scope))
	require.NoError(t, cache.FetchJSON(ctx, scope, &got, loader, "day", "2026-03-14"))
	require.Equal(t, "closed", got.Status)
	require.Equal(t, 2, loads)

	other := Scope{Kind: ScopeMchezo, ID: 10}
	key, err := cache.BuildKey(ctx, other, "cycle", "1")
	require.NoError(t, err)
	require.Equal(t, "status:mchezo:10:cycle:1:v1", key)
}

func TestStatusCacheWithoutClientAlwaysLoads(t *testing.T) {
	var cache *StatusCache
	loads := 0
	loader := func(context.Context) (any, error) {
		loads++
		return snapshot{Status: "open"}, nil
	}
	var got snapshot
	for i := 0; i < 2; i++ {
		require.NoError(t, cache.FetchJSON(context.Background(), Scope{Kind: ScopeWakala, ID: 1}, &got, loader))
	}
	require.Equal(t, 2, loads)
	require.NoError(t, cache.Bump(context.Background(), Scope{Kind: ScopeWakala, ID: 1}))
	require.Error(t, cache.FetchJSON(context.Background(), Scope{}, &got, nil))
}
