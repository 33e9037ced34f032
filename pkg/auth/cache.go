package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	principalKeyPrefix = "computor:principal:"
	userKeysPrefix     = "computor:principal-keys:"
)

// CredentialHash derives the cache key for a set of authentication
// credentials. The raw credentials never leave this function.
func CredentialHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type cachedPrincipal struct {
	UserID *string  `json:"user_id,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Claims []string `json:"claims,omitempty"`
}

type localEntry struct {
	principal cachedPrincipal
	userID    string
	expiresAt time.Time
}

// PrincipalCache memoizes constructed principals by credential hash. It has
// an in-process tier and an optional Redis tier; entries expire after the
// configured TTL and are invalidated whenever a role or claim mutation
// touches the user.
type PrincipalCache struct {
	ttl       time.Duration
	hierarchy RoleHierarchy
	redis     *redis.Client
	logger    *logrus.Entry

	mu      sync.Mutex
	entries map[string]localEntry
	byUser  map[string]map[string]struct{}
}

// NewPrincipalCache builds a cache with the given TTL. redisClient may be
// nil, in which case only the in-process tier is used.
func NewPrincipalCache(ttl time.Duration, hierarchy RoleHierarchy, redisClient *redis.Client, logger *logrus.Entry) *PrincipalCache {
	if hierarchy == nil {
		hierarchy = DefaultRoleHierarchy()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PrincipalCache{
		ttl:       ttl,
		hierarchy: hierarchy,
		redis:     redisClient,
		logger:    logger,
		entries:   map[string]localEntry{},
		byUser:    map[string]map[string]struct{}{},
	}
}

// Get returns the cached principal for the credential hash, or nil.
func (c *PrincipalCache) Get(ctx context.Context, credHash string) *Principal {
	c.mu.Lock()
	entry, ok := c.entries[credHash]
	if ok && time.Now().After(entry.expiresAt) {
		c.deleteLocked(credHash)
		ok = false
	}
	c.mu.Unlock()
	if ok {
		return c.rebuild(entry.principal)
	}

	if c.redis == nil {
		return nil
	}
	raw, err := c.redis.Get(ctx, principalKeyPrefix+credHash).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Warn("Failed to read principal from redis.")
		}
		return nil
	}
	var cached cachedPrincipal
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.WithError(err).Warn("Discarding undecodable cached principal.")
		return nil
	}
	return c.rebuild(cached)
}

// Put caches the principal under the credential hash with the default TTL.
func (c *PrincipalCache) Put(ctx context.Context, credHash string, principal *Principal) {
	c.PutWithTTL(ctx, credHash, principal, c.ttl)
}

// PutWithTTL caches the principal with an explicit TTL. A zero or negative
// TTL falls back to the cache default.
func (c *PrincipalCache) PutWithTTL(ctx context.Context, credHash string, principal *Principal, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	cached := cachedPrincipal{
		UserID: principal.UserID,
		Roles:  principal.Roles,
		Claims: principal.Claims.Serialize(),
	}
	userID := ""
	if principal.UserID != nil {
		userID = *principal.UserID
	}

	c.mu.Lock()
	c.entries[credHash] = localEntry{principal: cached, userID: userID, expiresAt: time.Now().Add(ttl)}
	if userID != "" {
		if c.byUser[userID] == nil {
			c.byUser[userID] = map[string]struct{}{}
		}
		c.byUser[userID][credHash] = struct{}{}
	}
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to serialize principal for redis.")
		return
	}
	pipe := c.redis.Pipeline()
	pipe.Set(ctx, principalKeyPrefix+credHash, raw, ttl)
	if userID != "" {
		pipe.SAdd(ctx, userKeysPrefix+userID, credHash)
		pipe.Expire(ctx, userKeysPrefix+userID, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WithError(err).Warn("Failed to write principal to redis.")
	}
}

// InvalidateUser drops every cached principal of the user, in both tiers.
// Call it on any role or claim mutation touching the user.
func (c *PrincipalCache) InvalidateUser(ctx context.Context, userID string) {
	c.mu.Lock()
	for credHash := range c.byUser[userID] {
		delete(c.entries, credHash)
	}
	delete(c.byUser, userID)
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	hashes, err := c.redis.SMembers(ctx, userKeysPrefix+userID).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Warn("Failed to list principal keys for invalidation.")
		}
		return
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, principalKeyPrefix+h)
	}
	keys = append(keys, userKeysPrefix+userID)
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to invalidate cached principals.")
	}
}

func (c *PrincipalCache) deleteLocked(credHash string) {
	entry, ok := c.entries[credHash]
	if !ok {
		return
	}
	delete(c.entries, credHash)
	if entry.userID != "" {
		delete(c.byUser[entry.userID], credHash)
	}
}

func (c *PrincipalCache) rebuild(cached cachedPrincipal) *Principal {
	claims := NewClaims()
	for _, value := range cached.Claims {
		if err := claims.Parse(value); err != nil {
			c.logger.WithError(err).Warn("Skipping malformed cached claim.")
		}
	}
	return NewPrincipal(cached.UserID, cached.Roles, claims, c.hierarchy)
}
