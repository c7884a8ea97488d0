package nl2sql

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kbsearch/backend/internal/cache/redis"
)

// Entry is one validated query pattern. Entries exist only after the SQL
// they hold has executed successfully at least once.
type Entry struct {
	Key         string    `json:"key"`
	SQLTemplate string    `json:"sql_template"`
	HitCount    int       `json:"hit_count"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

// Store is the pattern cache backend. Writes are idempotent upserts keyed
// by pattern key; concurrent writers may race and the last one wins.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, entry *Entry) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, limit int) ([]*Entry, error)
	RecordHit(ctx context.Context) error
	RecordMiss(ctx context.Context) error
	Counters(ctx context.Context) (hits, misses int64, err error)
}

// MemoryStore keeps patterns in-process with a TTL. The default when Redis
// is not configured, and what the tests run against.
type MemoryStore struct {
	cache  *gocache.Cache
	mu     sync.Mutex
	hits   int64
	misses int64
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &MemoryStore{
		cache: gocache.New(ttl, 10*time.Minute),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	entry := v.(Entry)
	return &entry, true, nil
}

func (m *MemoryStore) Put(_ context.Context, entry *Entry) error {
	m.cache.Set(entry.Key, *entry, gocache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]*Entry, error) {
	items := m.cache.Items()

	entries := make([]*Entry, 0, len(items))
	for _, item := range items {
		entry := item.Object.(Entry)
		entries = append(entries, &entry)
	}

	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *MemoryStore) RecordHit(_ context.Context) error {
	atomic.AddInt64(&m.hits, 1)
	return nil
}

func (m *MemoryStore) RecordMiss(_ context.Context) error {
	atomic.AddInt64(&m.misses, 1)
	return nil
}

func (m *MemoryStore) Counters(_ context.Context) (int64, int64, error) {
	return atomic.LoadInt64(&m.hits), atomic.LoadInt64(&m.misses), nil
}

const redisKeyPrefix = "nl2sql:pattern:"

// RedisStore shares patterns across server instances, as the original
// deployment did.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	var entry Entry
	found, err := r.client.GetJSON(ctx, redisKeyPrefix+key, &entry)
	if err != nil || !found {
		return nil, false, err
	}
	return &entry, true, nil
}

func (r *RedisStore) Put(ctx context.Context, entry *Entry) error {
	return r.client.SetJSON(ctx, redisKeyPrefix+entry.Key, entry, r.ttl)
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Delete(ctx, redisKeyPrefix+key)
}

func (r *RedisStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	keys, err := r.client.Keys(ctx, redisKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		var entry Entry
		found, err := r.client.GetJSON(ctx, key, &entry)
		if err != nil || !found {
			continue
		}
		entries = append(entries, &entry)
	}

	sortEntries(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *RedisStore) RecordHit(ctx context.Context) error {
	return r.client.Increment(ctx, "nl2sql:hits")
}

func (r *RedisStore) RecordMiss(ctx context.Context) error {
	return r.client.Increment(ctx, "nl2sql:misses")
}

func (r *RedisStore) Counters(ctx context.Context) (int64, int64, error) {
	hits, err := r.client.GetCounter(ctx, "nl2sql:hits")
	if err != nil {
		return 0, 0, err
	}
	misses, err := r.client.GetCounter(ctx, "nl2sql:misses")
	if err != nil {
		return 0, 0, err
	}
	return hits, misses, nil
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].HitCount != entries[j].HitCount {
			return entries[i].HitCount > entries[j].HitCount
		}
		return entries[i].Key < entries[j].Key
	})
}
