package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
)

func testPrincipal(userID string) *Principal {
	claims := NewClaims()
	claims.AddCourseRole("c1", "_student")
	claims.AddGeneral("course_role", "list")
	return NewPrincipal(&userID, []string{"_user"}, claims, nil)
}

func TestPrincipalCacheLocal(t *testing.T) {
	cache := NewPrincipalCache(10*time.Second, nil, nil, nil)
	ctx := context.Background()
	credHash := CredentialHash("basic", "user", "pass")

	if got := cache.Get(ctx, credHash); got != nil {
		t.Fatal("expected miss on empty cache")
	}
	cache.Put(ctx, credHash, testPrincipal("u1"))

	got := cache.Get(ctx, credHash)
	if got == nil {
		t.Fatal("expected hit after put")
	}
	if got.UserID == nil || *got.UserID != "u1" {
		t.Errorf("unexpected user id: %v", got.UserID)
	}
	if diff := cmp.Diff(testPrincipal("u1").Claims.Serialize(), got.Claims.Serialize()); diff != "" {
		t.Errorf("claims changed through the cache: %s", diff)
	}

	cache.InvalidateUser(ctx, "u1")
	if got := cache.Get(ctx, credHash); got != nil {
		t.Error("expected miss after invalidation")
	}
}

func TestPrincipalCacheRedisTier(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	ctx := context.Background()

	writer := NewPrincipalCache(time.Hour, nil, client, nil)
	credHash := CredentialHash("token", "session-1")
	writer.Put(ctx, credHash, testPrincipal("u2"))

	// A second cache instance with a cold local tier must find the entry
	// through redis.
	reader := NewPrincipalCache(time.Hour, nil, client, nil)
	got := reader.Get(ctx, credHash)
	if got == nil {
		t.Fatal("expected hit through the redis tier")
	}
	if got.UserID == nil || *got.UserID != "u2" {
		t.Errorf("unexpected user id: %v", got.UserID)
	}

	writer.InvalidateUser(ctx, "u2")
	if got := reader.Get(ctx, credHash); got != nil {
		t.Error("expected miss after cross-instance invalidation")
	}
}

func TestPrincipalCachePutWithTTL(t *testing.T) {
	cache := NewPrincipalCache(time.Hour, nil, nil, nil)
	ctx := context.Background()

	short := CredentialHash("basic", "user", "pass")
	cache.PutWithTTL(ctx, short, testPrincipal("u4"), time.Millisecond)
	long := CredentialHash("token", "session-1")
	cache.PutWithTTL(ctx, long, testPrincipal("u5"), 0)

	time.Sleep(5 * time.Millisecond)
	if got := cache.Get(ctx, short); got != nil {
		t.Error("expected the short-lived entry to expire")
	}
	// Zero falls back to the cache default.
	if got := cache.Get(ctx, long); got == nil {
		t.Error("expected the default-TTL entry to survive")
	}
}

func TestPrincipalCacheExpiry(t *testing.T) {
	cache := NewPrincipalCache(time.Millisecond, nil, nil, nil)
	ctx := context.Background()
	credHash := CredentialHash("basic", "user", "pass")
	cache.Put(ctx, credHash, testPrincipal("u3"))
	time.Sleep(5 * time.Millisecond)
	if got := cache.Get(ctx, credHash); got != nil {
		t.Error("expected expired entry to miss")
	}
}
