package room

import (
	"context"
	"crypto/subtle"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/session"
)

// Verifier checks a join against the lobby registry.
type Verifier interface {
	Verify(ctx context.Context, name, password string) (*lobby.RoomMeta, error)
}

// Options configure a room the first time it is opened.
type Options struct {
	GameTime int
	Bet      string
	// Creator is the registered funder of a bet room.
	Creator string
}

// SetupFunc runs once per opened room before its goroutine starts. It may
// return a payment gate, e.g. a betting tracker bound to r.Context().
type SetupFunc func(ctx context.Context, r *Room, opts Options) (session.PaymentGate, error)

// HubConfig wires a Hub. Everything is optional.
type HubConfig struct {
	Store      Store
	Redis      *redis.Client
	Registry   Verifier
	InstanceID string
	LeaseTTL   time.Duration
	Tick       time.Duration
	IdleTTL    time.Duration
	Rematch    bool
	Setup      SetupFunc
	OnStart    []StartFunc
	OnTerminal []TerminalFunc
	Now        func() time.Time
}

// Hub hosts the rooms of this process.
type Hub struct {
	cfg HubConfig
	log *zap.Logger

	mu      sync.Mutex
	rooms   map[string]*Room
	opening map[string]chan struct{}
	closed  bool
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		cfg:     cfg,
		log:     obslog.Named("room").With(zap.String("instance", cfg.InstanceID)),
		rooms:   make(map[string]*Room),
		opening: make(map[string]chan struct{}),
	}
}

// Open returns the named room, starting it on first use. A persisted record
// is resumed. The password must match the registry, the record, or the
// running room.
func (h *Hub) Open(ctx context.Context, name, password string, opts Options) (*Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t/:") {
		return nil, ErrInvalidName
	}

	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return nil, ErrHubClosed
		}
		if r, ok := h.rooms[name]; ok {
			h.mu.Unlock()
			if !samePassword(r.password, password) {
				return nil, ErrBadPassword
			}
			return r, nil
		}
		if wait, ok := h.opening[name]; ok {
			// another caller is opening this room; use its result
			h.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		h.opening[name] = done
		h.mu.Unlock()

		r, err := h.open(ctx, name, password, opts)

		h.mu.Lock()
		delete(h.opening, name)
		closed := h.closed
		if err == nil && !closed {
			h.rooms[name] = r
		}
		h.mu.Unlock()
		close(done)
		if err != nil {
			return nil, err
		}
		if closed {
			r.Close()
			return nil, ErrHubClosed
		}
		return r, nil
	}
}

// open verifies, leases and starts a room. It runs without h.mu; the caller
// holds the name in h.opening.
func (h *Hub) open(ctx context.Context, name, password string, opts Options) (*Room, error) {
	if h.cfg.Registry != nil {
		meta, err := h.cfg.Registry.Verify(ctx, name, password)
		if err != nil {
			if errors.Is(err, lobby.ErrBadPassword) {
				return nil, ErrBadPassword
			}
			return nil, err
		}
		if meta.GameTime > 0 {
			opts.GameTime = meta.GameTime
		}
		if meta.Bet != "" {
			opts.Bet = meta.Bet
		}
		opts.Creator = meta.CreatorWallet
	}

	var lease *Lease
	if h.cfg.Redis != nil {
		l, err := AcquireLease(ctx, h.cfg.Redis, name, h.cfg.InstanceID, h.cfg.LeaseTTL)
		if err != nil {
			h.log.Warn("room_lease_denied", zap.String("room", name), zap.Error(err))
			return nil, err
		}
		lease = l
	}
	r, err := h.start(ctx, name, password, opts)
	if err != nil {
		if lease != nil {
			lease.Release(context.Background())
		}
		return nil, err
	}
	if lease != nil {
		r.OnClose(func() {
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			defer cancel()
			lease.Release(ctx)
		})
		lease.Keep(func() { go h.drop(name, r) })
	}
	return r, nil
}

func (h *Hub) start(ctx context.Context, name, password string, opts Options) (*Room, error) {
	rec, err := h.cfg.Store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	var state *session.State
	if rec != nil {
		if !samePassword(rec.State.RoomPassword, password) {
			return nil, ErrBadPassword
		}
		state = rec.State
		h.log.Info("room_resume", zap.String("room", name), zap.Int("game_number", state.GameNumber), zap.Int("moves", len(state.Moves)))
	} else {
		state = session.NewState(name, password, opts.GameTime)
		state.BetAmount = opts.Bet
		state.CreatedAt = h.cfg.Now().UnixMilli()
	}

	reducer := session.NewReducer(session.Options{Rematch: h.cfg.Rematch, Now: h.cfg.Now})
	r := newRoom(context.Background(), roomConfig{
		name:      name,
		password:  password,
		state:     state,
		reducer:   reducer,
		store:     h.cfg.Store,
		tick:      h.cfg.Tick,
		observers: h.cfg.OnTerminal,
		starters:  h.cfg.OnStart,
		now:       h.cfg.Now,
	})
	if h.cfg.Setup != nil {
		opts.Bet = state.BetAmount
		gate, err := h.cfg.Setup(ctx, r, opts)
		if err != nil {
			go r.run()
			r.Close()
			return nil, err
		}
		reducer.SetGate(gate)
	}
	go r.run()
	h.log.Info("room_open", zap.String("room", name), zap.String("bet", state.BetAmount))
	return r, nil
}

// Get returns a running room.
func (h *Hub) Get(name string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[strings.TrimSpace(name)]
	return r, ok
}

// Names lists running rooms.
func (h *Hub) Names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rooms))
	for n := range h.rooms {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Run closes rooms that stayed unwatched for IdleTTL, until ctx ends. It
// closes the hub on return.
func (h *Hub) Run(ctx context.Context) error {
	defer h.Close()
	if h.cfg.IdleTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(h.cfg.IdleTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.Lock()
	var idle []*Room
	for _, r := range h.rooms {
		if r.Idle() >= h.cfg.IdleTTL {
			idle = append(idle, r)
		}
	}
	h.mu.Unlock()
	for _, r := range idle {
		h.log.Info("room_idle", zap.String("room", r.Name()))
		h.drop(r.Name(), r)
	}
}

// drop removes r if it is still the registered room for name, then closes it.
func (h *Hub) drop(name string, r *Room) {
	h.mu.Lock()
	if cur, ok := h.rooms[name]; ok && cur == r {
		delete(h.rooms, name)
	}
	h.mu.Unlock()
	r.Close()
}

// Close stops every room. Opening afterwards fails with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = map[string]*Room{}
	h.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
}

func samePassword(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
