package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, 5*time.Second), mr
}

func TestLockerRejectsConcurrentHolder(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := PurchaseOrderLockKey(1, 10)
	require.Equal(t, "procurement:po:1:10", key)

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		require.True(t, mr.Exists(key))
		inner := locker.WithLock(ctx, key, func(context.Context) error {
			t.Fatal("second holder must not run")
			return nil
		})
		require.ErrorIs(t, inner, ErrBusy)
		return nil
	})
	require.NoError(t, err)
	require.False(t, mr.Exists(key))
}

func TestLockerReleasesOnError(t *testing.T) {
	locker, mr := newTestLocker(t)
	key := StockAuditLockKey(2, 5)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), key, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(key))

	ran := false
	require.NoError(t, locker.WithLock(context.Background(), key, func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestNilLockerRunsUnguarded(t *testing.T) {
	var locker *Locker
	ran := false
	require.NoError(t, locker.WithLock(context.Background(), "any", func(context.Context) error {
		ran = true
		return nil
	}))
	require.True(t, ran)
}

func TestContextTenantAndActor(t *testing.T) {
	ctx := context.Background()
	_, ok := TenantFromContext(ctx)
	require.False(t, ok)

	ctx = ContextWithActor(ContextWithTenant(ctx, 9), 3)
	tenantID, ok := TenantFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, int64(9), tenantID)
	require.Equal(t, int64(3), ActorFromContext(ctx))
}
