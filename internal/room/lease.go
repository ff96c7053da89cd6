package room

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/betchess/internal/obslog"
)

// DefaultLeaseTTL is how long a host keeps a room without refreshing.
const DefaultLeaseTTL = 15 * time.Second

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Lease marks this instance as the single host of a room.
type Lease struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration

	once sync.Once
	quit chan struct{}
}

// AcquireLease takes the room's lease for owner. Re-acquiring a lease the
// owner already holds succeeds.
func AcquireLease(ctx context.Context, rdb *redis.Client, name, owner string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	key := leaseKey(name)
	ok, err := rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		cur, err := rdb.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return nil, err
		}
		if cur != owner {
			return nil, ErrRoomHeldElsewhere
		}
		if err := rdb.PExpire(ctx, key, ttl).Err(); err != nil {
			return nil, err
		}
	}
	return &Lease{rdb: rdb, key: key, owner: owner, ttl: ttl, quit: make(chan struct{})}, nil
}

// Keep refreshes the lease every ttl/3 until Release. lost is called once if
// another instance took the lease or redis stayed unreachable past the ttl.
func (l *Lease) Keep(lost func()) {
	go func() {
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		last := time.Now()
		for {
			select {
			case <-l.quit:
				return
			case <-t.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
				n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
				cancel()
				if err == nil && n == 1 {
					last = time.Now()
					continue
				}
				if err == nil || time.Since(last) >= l.ttl {
					obslog.L().Warn("room_lease_lost", zap.String("key", l.key), zap.Error(err))
					if lost != nil {
						lost()
					}
					return
				}
				obslog.L().Warn("room_lease_refresh_error", zap.String("key", l.key), zap.Error(err))
			}
		}
	}()
}

// Release stops refreshing and frees the lease if still held.
func (l *Lease) Release(ctx context.Context) {
	l.once.Do(func() {
		close(l.quit)
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.owner).Err(); err != nil && err != redis.Nil {
			obslog.L().Warn("room_lease_release_error", zap.String("key", l.key), zap.Error(err))
		}
	})
}
