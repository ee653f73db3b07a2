package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Mechanism names how a cached authentication succeeded
type Mechanism string

const (
	MechanismMaster      Mechanism = "master"
	MechanismTenantAdmin Mechanism = "tenant_admin"
	MechanismOverride    Mechanism = "override"
)

// CredentialCache remembers successful administrator authentications per
// tenant so repeated calls skip the bcrypt comparison. Only a keyed digest
// of the secret is kept, bound to the stored hash the secret was verified
// against: once that hash changes, entries written for the old one miss,
// including entries written by authentications still in flight.
type CredentialCache interface {
	// Check returns the mechanism a matching entry was stored with. hash is
	// the currently stored hash of the identity.
	Check(ctx context.Context, tenantID int64, login, secret, hash string) (Mechanism, bool, error)

	// Remember stores a successful authentication against hash
	Remember(ctx context.Context, tenantID int64, login, secret, hash string, mechanism Mechanism) error

	// Remove drops every entry of a tenant
	Remove(ctx context.Context, tenantID int64) error
}

// secretDigester computes keyed digests of secrets
type secretDigester struct {
	key []byte
}

func newSecretDigester(key []byte) secretDigester {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("auth: cannot generate digest key: %v", err))
		}
	}
	return secretDigester{key: key}
}

func (d secretDigester) digest(login, secret, hash string) string {
	mac := hmac.New(sha256.New, d.key)
	for i, part := range []string{login, secret, hash} {
		if i > 0 {
			mac.Write([]byte{0})
		}
		mac.Write([]byte(part))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func (d secretDigester) equal(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// RedisCredentialCache implements CredentialCache with one Redis hash per tenant
type RedisCredentialCache struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	digester  secretDigester
}

// NewRedisCredentialCache creates a credential cache on an existing Redis client.
// All nodes must share digestKey for entries to be usable across the cluster.
func NewRedisCredentialCache(client redis.UniversalClient, digestKey []byte, ttl time.Duration) *RedisCredentialCache {
	return &RedisCredentialCache{
		client:    client,
		keyPrefix: "admin:authcache:",
		ttl:       ttl,
		digester:  newSecretDigester(digestKey),
	}
}

// tenantKey returns the Redis key holding a tenant's entries
func (c *RedisCredentialCache) tenantKey(tenantID int64) string {
	return c.keyPrefix + strconv.FormatInt(tenantID, 10)
}

// Check looks up a cached authentication
func (c *RedisCredentialCache) Check(ctx context.Context, tenantID int64, login, secret, hash string) (Mechanism, bool, error) {
	vals, err := c.client.HMGet(ctx, c.tenantKey(tenantID), login+":digest", login+":mechanism").Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to read credential cache: %w", err)
	}

	digest, _ := vals[0].(string)
	mechanism, _ := vals[1].(string)
	if digest == "" || !c.digester.equal(digest, c.digester.digest(login, secret, hash)) {
		return "", false, nil
	}
	return Mechanism(mechanism), true, nil
}

// Remember stores a successful authentication
func (c *RedisCredentialCache) Remember(ctx context.Context, tenantID int64, login, secret, hash string, mechanism Mechanism) error {
	key := c.tenantKey(tenantID)

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key,
		login+":digest", c.digester.digest(login, secret, hash),
		login+":mechanism", string(mechanism),
	)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write credential cache: %w", err)
	}
	return nil
}

// Remove drops every entry of a tenant
func (c *RedisCredentialCache) Remove(ctx context.Context, tenantID int64) error {
	if err := c.client.Del(ctx, c.tenantKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("failed to clear credential cache: %w", err)
	}
	return nil
}

// Ensure RedisCredentialCache implements CredentialCache
var _ CredentialCache = (*RedisCredentialCache)(nil)

type credentialEntry struct {
	digest    string
	mechanism Mechanism
	expiresAt time.Time
}

// tenantEntries holds one tenant's entries behind its own lock
type tenantEntries struct {
	mu      sync.Mutex
	entries map[string]credentialEntry
}

// InMemoryCredentialCache implements CredentialCache in process.
// Writers of one tenant serialize on that tenant's lock; tenants do not contend.
type InMemoryCredentialCache struct {
	mu        sync.RWMutex
	tenants   map[int64]*tenantEntries
	ttl       time.Duration
	digester  secretDigester
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryCredentialCache creates an in-process credential cache.
// It starts a background goroutine to clean up expired entries.
func NewInMemoryCredentialCache(ttl time.Duration) *InMemoryCredentialCache {
	c := &InMemoryCredentialCache{
		tenants:  make(map[int64]*tenantEntries),
		ttl:      ttl,
		digester: newSecretDigester(nil),
		stopChan: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.cleanupLoop()

	return c
}

// tenant returns the entry set of a tenant, creating it when create is set
func (c *InMemoryCredentialCache) tenant(tenantID int64, create bool) *tenantEntries {
	c.mu.RLock()
	t, ok := c.tenants[tenantID]
	c.mu.RUnlock()
	if ok || !create {
		return t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok = c.tenants[tenantID]; !ok {
		t = &tenantEntries{entries: make(map[string]credentialEntry)}
		c.tenants[tenantID] = t
	}
	return t
}

// Check looks up a cached authentication
func (c *InMemoryCredentialCache) Check(_ context.Context, tenantID int64, login, secret, hash string) (Mechanism, bool, error) {
	t := c.tenant(tenantID, false)
	if t == nil {
		return "", false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[login]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(e.expiresAt) {
		delete(t.entries, login)
		return "", false, nil
	}
	if !c.digester.equal(e.digest, c.digester.digest(login, secret, hash)) {
		return "", false, nil
	}
	return e.mechanism, true, nil
}

// Remember stores a successful authentication
func (c *InMemoryCredentialCache) Remember(_ context.Context, tenantID int64, login, secret, hash string, mechanism Mechanism) error {
	t := c.tenant(tenantID, true)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[login] = credentialEntry{
		digest:    c.digester.digest(login, secret, hash),
		mechanism: mechanism,
		expiresAt: time.Now().Add(c.ttl),
	}
	return nil
}

// Remove drops every entry of a tenant
func (c *InMemoryCredentialCache) Remove(_ context.Context, tenantID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tenants, tenantID)
	return nil
}

// Close stops the cleanup goroutine
// Safe to call multiple times
func (c *InMemoryCredentialCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

// cleanupLoop periodically removes expired entries
func (c *InMemoryCredentialCache) cleanupLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired entries
func (c *InMemoryCredentialCache) cleanup() {
	c.mu.RLock()
	tenants := make([]*tenantEntries, 0, len(c.tenants))
	for _, t := range c.tenants {
		tenants = append(tenants, t)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, t := range tenants {
		t.mu.Lock()
		for login, e := range t.entries {
			if now.After(e.expiresAt) {
				delete(t.entries, login)
			}
		}
		t.mu.Unlock()
	}
}

// Size returns the number of cached entries (for testing/monitoring)
func (c *InMemoryCredentialCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, t := range c.tenants {
		t.mu.Lock()
		n += len(t.entries)
		t.mu.Unlock()
	}
	return n
}

// Ensure InMemoryCredentialCache implements CredentialCache
var _ CredentialCache = (*InMemoryCredentialCache)(nil)
