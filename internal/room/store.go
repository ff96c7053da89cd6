package room

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlRecord = 24 * time.Hour

// Store persists room records so a restarted server can resume a room.
// Load returns nil, nil for an unknown room.
type Store interface {
	Load(ctx context.Context, name string) (*Record, error)
	Save(ctx context.Context, name string, rec *Record) error
}

type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func recordKey(name string) string { return "game:" + strings.TrimSpace(name) }
func leaseKey(name string) string  { return recordKey(name) + ":lease" }

func (s *RedisStore) Save(ctx context.Context, name string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, recordKey(name), raw, ttlRecord).Err()
}

func (s *RedisStore) Load(ctx context.Context, name string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, recordKey(name)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.State == nil {
		return nil, nil
	}
	return &rec, nil
}

// MemoryStore keeps records in process, for servers without redis.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string][]byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{recs: make(map[string][]byte)} }

func (s *MemoryStore) Save(_ context.Context, name string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.recs[name] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, name string) (*Record, error) {
	s.mu.Lock()
	raw, ok := s.recs[name]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
