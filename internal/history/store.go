package history

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL bounds how long an abandoned analysis cache survives.
const TTL = 7 * 24 * time.Hour

// Record is the persisted move list of one viewer in one room.
type Record struct {
	GameNumber int      `json:"gameNumber"`
	Moves      []string `json:"moves"`
	SANs       []string `json:"sans"`
	Index      int      `json:"index"`
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Moves = append([]string(nil), r.Moves...)
	cp.SANs = append([]string(nil), r.SANs...)
	return &cp
}

// Store persists records. Load returns nil, nil when nothing is stored.
type Store interface {
	Load(ctx context.Context, room, viewer string) (*Record, error)
	Save(ctx context.Context, room, viewer string, rec *Record) error
	Delete(ctx context.Context, room, viewer string) error
}

// RedisStore keeps records under history:<room>:<viewer>.
type RedisStore struct{ rdb *redis.Client }

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func key(room, viewer string) string {
	return "history:" + strings.TrimSpace(room) + ":" + strings.ToLower(strings.TrimSpace(viewer))
}

func (s *RedisStore) Load(ctx context.Context, room, viewer string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, key(room, viewer)).Bytes()
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
	return &rec, nil
}

func (s *RedisStore) Save(ctx context.Context, room, viewer string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(room, viewer), raw, TTL).Err()
}

func (s *RedisStore) Delete(ctx context.Context, room, viewer string) error {
	return s.rdb.Del(ctx, key(room, viewer)).Err()
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]*Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{recs: make(map[string]*Record)} }

func (s *MemoryStore) Load(_ context.Context, room, viewer string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[key(room, viewer)].clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, room, viewer string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[key(room, viewer)] = rec.clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, room, viewer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key(room, viewer))
	return nil
}
