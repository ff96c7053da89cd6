package lobby

import (
    "context"
    "crypto/subtle"
    "encoding/json"
    "errors"
    "sort"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"

    "github.com/park285/betchess/internal/obslog"
)

const (
    ttlRoom       = 24 * time.Hour
    ttlWalletIdx  = 7 * 24 * time.Hour
    allocAttempts = 5
)

// Registry keeps room metadata in Redis so any server instance can verify
// a join and list open rooms.
type Registry struct {
    rdb *redis.Client
    now func() time.Time
}

func NewRegistry(rdb *redis.Client) *Registry {
    return &Registry{rdb: rdb, now: time.Now}
}

func (r *Registry) keyMeta(name string) string     { return "room:" + strings.TrimSpace(name) }
func (r *Registry) keySeats(name string) string    { return r.keyMeta(name) + ":seats" }
func (r *Registry) keyWallet(wallet string) string { return "room:index:wallet:" + normWallet(wallet) }
func (r *Registry) keyLobby() string               { return "room:lobby" }

func normWallet(w string) string { return strings.ToLower(strings.TrimSpace(w)) }

// Create registers meta under its name. It fails with ErrRoomExists when the
// name is taken.
func (r *Registry) Create(ctx context.Context, meta *RoomMeta) error {
    if meta == nil || strings.TrimSpace(meta.Name) == "" { return ErrInvalidArgs }
    if meta.State == "" { meta.State = StateOpen }
    if meta.CreatedAt.IsZero() { meta.CreatedAt = r.now() }
    raw, err := json.Marshal(meta)
    if err != nil { return err }
    ok, err := r.rdb.SetNX(ctx, r.keyMeta(meta.Name), raw, ttlRoom).Result()
    if err != nil { return err }
    if !ok { return ErrRoomExists }
    if meta.State == StateOpen {
        if err := r.addLobby(ctx, meta.Name); err != nil { return err }
    }
    if meta.CreatorWallet != "" {
        if err := r.indexWallet(ctx, meta.CreatorWallet, meta.Name); err != nil { return err }
    }
    obslog.L().Info("lobby_create",
        zap.String("room", meta.Name),
        zap.String("creator", meta.CreatorWallet),
        zap.String("bet", meta.Bet),
        zap.String("rematch_of", meta.RematchOf))
    return nil
}

// Allocate fills in a fresh name and password when missing and registers the
// room, retrying on name collisions.
func (r *Registry) Allocate(ctx context.Context, meta *RoomMeta) (*RoomMeta, error) {
    if meta == nil { meta = &RoomMeta{} }
    if meta.Password == "" {
        pw, err := NewPassword()
        if err != nil { return nil, err }
        meta.Password = pw
    }
    fixed := meta.Name != ""
    for i := 0; i < allocAttempts; i++ {
        if !fixed {
            name, err := NewRoomName()
            if err != nil { return nil, err }
            meta.Name = name
        }
        err := r.Create(ctx, meta)
        if err == nil { return meta, nil }
        if !errors.Is(err, ErrRoomExists) || fixed { return nil, err }
    }
    return nil, ErrNameExhausted
}

// Lookup returns the room's metadata with its seated wallets.
func (r *Registry) Lookup(ctx context.Context, name string) (*RoomMeta, error) {
    meta, err := r.load(ctx, name)
    if err != nil { return nil, err }
    seats, err := r.rdb.SMembers(ctx, r.keySeats(name)).Result()
    if err != nil && err != redis.Nil { return nil, err }
    sort.Strings(seats)
    meta.Wallets = seats
    return meta, nil
}

// Verify checks password against the registered room.
func (r *Registry) Verify(ctx context.Context, name, password string) (*RoomMeta, error) {
    meta, err := r.Lookup(ctx, name)
    if err != nil { return nil, err }
    if meta.State == StateClosed { return nil, ErrRoomClosed }
    if subtle.ConstantTimeCompare([]byte(meta.Password), []byte(password)) != 1 {
        obslog.L().Warn("lobby_bad_password", zap.String("room", name))
        return nil, ErrBadPassword
    }
    return meta, nil
}

// Touch extends the room's expiry.
func (r *Registry) Touch(ctx context.Context, name string) error {
    ok, err := r.rdb.Expire(ctx, r.keyMeta(name), ttlRoom).Result()
    if err != nil { return err }
    if !ok { return ErrRoomNotFound }
    _ = r.rdb.Expire(ctx, r.keySeats(name), ttlRoom).Err()
    return nil
}

// Seat records wallet as one of the room's two players. Seating a wallet
// twice is a no-op.
func (r *Registry) Seat(ctx context.Context, name, wallet string) (int64, error) {
    wallet = normWallet(wallet)
    if wallet == "" { return 0, ErrInvalidArgs }
    meta, err := r.load(ctx, name)
    if err != nil { return 0, err }
    if meta.State == StateClosed { return 0, ErrRoomClosed }

    // WATCH seats to prevent race joins
    seatKey := r.keySeats(name)
    err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
        seated, err := tx.SIsMember(ctx, seatKey, wallet).Result()
        if err != nil { return err }
        if seated { return nil }
        cnt, err := tx.SCard(ctx, seatKey).Result()
        if err != nil && err != redis.Nil { return err }
        if cnt >= 2 { return ErrRoomFull }
        pipe := tx.TxPipeline()
        pipe.SAdd(ctx, seatKey, wallet)
        pipe.Expire(ctx, seatKey, ttlRoom)
        pipe.SAdd(ctx, r.keyWallet(wallet), name)
        pipe.Expire(ctx, r.keyWallet(wallet), ttlWalletIdx)
        _, pErr := pipe.Exec(ctx)
        return pErr
    }, seatKey)
    if err != nil {
        obslog.L().Warn("lobby_seat_error", zap.String("room", name), zap.String("wallet", wallet), zap.Error(err))
        return 0, err
    }
    return r.rdb.SCard(ctx, seatKey).Result()
}

// MarkStarted moves an open room out of the lobby listing.
func (r *Registry) MarkStarted(ctx context.Context, name string) error {
    if err := r.setState(ctx, name, StateStarted); err != nil { return err }
    return r.rdb.SRem(ctx, r.keyLobby(), name).Err()
}

// MarkClosed refuses further joins; the record expires on its own.
func (r *Registry) MarkClosed(ctx context.Context, name string) error {
    if err := r.setState(ctx, name, StateClosed); err != nil { return err }
    return r.rdb.SRem(ctx, r.keyLobby(), name).Err()
}

// ListOpen returns open rooms, oldest first, without passwords. Expired
// entries are pruned from the index.
func (r *Registry) ListOpen(ctx context.Context) ([]*RoomMeta, error) {
    names, err := r.rdb.SMembers(ctx, r.keyLobby()).Result()
    if err != nil { return nil, err }
    var out []*RoomMeta
    for _, n := range names {
        m, err := r.load(ctx, n)
        if errors.Is(err, ErrRoomNotFound) {
            _ = r.rdb.SRem(ctx, r.keyLobby(), n).Err()
            continue
        }
        if err != nil { return nil, err }
        if m.State != StateOpen { continue }
        out = append(out, m.Public())
    }
    sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
    return out, nil
}

// RoomsByWallet lists rooms the wallet created or sat in.
func (r *Registry) RoomsByWallet(ctx context.Context, wallet string) ([]string, error) {
    if normWallet(wallet) == "" { return nil, ErrInvalidArgs }
    names, err := r.rdb.SMembers(ctx, r.keyWallet(wallet)).Result()
    if err != nil { return nil, err }
    sort.Strings(names)
    return names, nil
}

func (r *Registry) load(ctx context.Context, name string) (*RoomMeta, error) {
    if strings.TrimSpace(name) == "" { return nil, ErrInvalidArgs }
    raw, err := r.rdb.Get(ctx, r.keyMeta(name)).Bytes()
    if err == redis.Nil { return nil, ErrRoomNotFound }
    if err != nil { return nil, err }
    var m RoomMeta
    if err := json.Unmarshal(raw, &m); err != nil { return nil, err }
    return &m, nil
}

func (r *Registry) setState(ctx context.Context, name string, st RoomState) error {
    key := r.keyMeta(name)
    return r.rdb.Watch(ctx, func(tx *redis.Tx) error {
        raw, err := tx.Get(ctx, key).Bytes()
        if err == redis.Nil { return ErrRoomNotFound }
        if err != nil { return err }
        var m RoomMeta
        if err := json.Unmarshal(raw, &m); err != nil { return err }
        if m.State == st { return nil }
        m.State = st
        out, err := json.Marshal(&m)
        if err != nil { return err }
        pipe := tx.TxPipeline()
        pipe.Set(ctx, key, out, redis.KeepTTL)
        _, pErr := pipe.Exec(ctx)
        if pErr == nil {
            obslog.L().Info("lobby_state", zap.String("room", name), zap.String("state", string(st)))
        }
        return pErr
    }, key)
}

func (r *Registry) addLobby(ctx context.Context, name string) error {
    if err := r.rdb.SAdd(ctx, r.keyLobby(), name).Err(); err != nil { return err }
    // refresh TTL of the lobby index
    _ = r.rdb.Expire(ctx, r.keyLobby(), ttlRoom).Err()
    return nil
}

func (r *Registry) indexWallet(ctx context.Context, wallet, name string) error {
    key := r.keyWallet(wallet)
    if err := r.rdb.SAdd(ctx, key, name).Err(); err != nil { return err }
    return r.rdb.Expire(ctx, key, ttlWalletIdx).Err()
}
