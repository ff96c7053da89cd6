package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/session"
)

const (
	DefaultTick = time.Second
	eventBuffer = 64
	saveTimeout = 2 * time.Second
)

// Room owns one session. A single goroutine applies events in arrival order;
// everything else reads copies.
type Room struct {
	name     string
	password string

	reducer *session.Reducer
	state   *session.State

	store     Store
	tick      time.Duration
	observers []TerminalFunc
	starters  []StartFunc
	log       *zap.Logger

	startedAt time.Time

	events chan session.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	latest    *session.State
	betting   *betting.Status
	subs      map[int]chan Update
	nextSub   int
	idleSince time.Time
	onClose   []func()
	closeOnce sync.Once
	now       func() time.Time
}

type roomConfig struct {
	name      string
	password  string
	state     *session.State
	reducer   *session.Reducer
	store     Store
	tick      time.Duration
	observers []TerminalFunc
	starters  []StartFunc
	now       func() time.Time
}

func newRoom(parent context.Context, cfg roomConfig) *Room {
	if cfg.tick <= 0 {
		cfg.tick = DefaultTick
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		name:      cfg.name,
		password:  cfg.password,
		reducer:   cfg.reducer,
		state:     cfg.state,
		store:     cfg.store,
		tick:      cfg.tick,
		observers: cfg.observers,
		starters:  cfg.starters,
		log:       obslog.L().With(zap.String("room", cfg.name)),
		events:    make(chan session.Event, eventBuffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		subs:      make(map[int]chan Update),
		now:       cfg.now,
	}
	r.latest = r.state.Clone()
	r.idleSince = cfg.now()
	return r
}

func (r *Room) Name() string { return r.name }

// Context is cancelled when the room closes. Per-room helpers such as the
// betting tracker bind to it.
func (r *Room) Context() context.Context { return r.ctx }

// Done is closed once the room goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Snapshot returns a copy of the latest state.
func (r *Room) Snapshot() *session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest.Clone()
}

// Record returns a copy of the latest snapshot with the move lists.
func (r *Room) Record() *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordLocked()
}

// Publish queues ev for the room goroutine.
func (r *Room) Publish(ctx context.Context, ev session.Event) error {
	select {
	case <-r.ctx.Done():
		return ErrRoomClosed
	default:
	}
	select {
	case r.events <- ev:
		return nil
	case <-r.ctx.Done():
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel that always holds the most recent update. A
// slow reader skips intermediate snapshots. The channel is closed by cancel
// or when the room closes.
func (r *Room) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)
	r.mu.Lock()
	select {
	case <-r.ctx.Done():
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	ch <- r.updateLocked()
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
				if len(r.subs) == 0 {
					r.idleSince = r.now()
				}
			}
		})
	}
}

// SetBetting publishes a betting status to subscribers.
func (r *Room) SetBetting(st betting.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.betting != nil && *r.betting == st {
		return
	}
	r.betting = &st
	r.broadcastLocked()
}

// Idle reports how long the room has had no subscribers; zero while watched.
func (r *Room) Idle() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.subs) > 0 {
		return 0
	}
	return r.now().Sub(r.idleSince)
}

// OnClose registers f to run when the room closes.
func (r *Room) OnClose(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = append(r.onClose, f)
}

// Close stops the room goroutine and closes every subscription.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		r.mu.Lock()
		for id, c := range r.subs {
			close(c)
			delete(r.subs, id)
		}
		hooks := r.onClose
		r.onClose = nil
		r.mu.Unlock()
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
		r.log.Info("room_close")
	})
}

func (r *Room) run() {
	defer close(r.done)
	var (
		ticker *time.Ticker
		tickC  <-chan time.Time
		clk    clock
	)
	syncClock := func() {
		switch {
		case r.state.IsActive && ticker == nil:
			ticker = time.NewTicker(r.tick)
			tickC = ticker.C
			clk.reset(r.now())
		case !r.state.IsActive && ticker != nil:
			ticker.Stop()
			ticker, tickC = nil, nil
		}
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	syncClock()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			r.handle(ev)
		case <-tickC:
			if secs := clk.elapse(r.now()); secs > 0 {
				r.handle(session.Event{Kind: session.KindUpdateTimer, Seconds: secs})
			}
		}
		syncClock()
	}
}

// clock turns ticks into whole elapsed seconds. The remainder carries over,
// so a tick that is not a whole second does not drift.
type clock struct {
	last  time.Time
	carry time.Duration
}

func (c *clock) reset(now time.Time) {
	c.last, c.carry = now, 0
}

func (c *clock) elapse(now time.Time) int {
	if now.After(c.last) {
		c.carry += now.Sub(c.last)
	}
	c.last = now
	secs := int(c.carry / time.Second)
	c.carry -= time.Duration(secs) * time.Second
	return secs
}

func (r *Room) handle(ev session.Event) {
	out := r.reducer.Apply(r.state, ev)
	if !out.Changed {
		if ev.Kind != session.KindUpdateTimer {
			r.log.Debug("session_rejected", zap.String("kind", string(ev.Kind)), zap.String("player_id", ev.PlayerID))
		}
		return
	}
	if out.Started {
		r.startedAt = r.now()
		r.log.Info("session_start", zap.Int("game_number", r.state.GameNumber))
		for _, f := range r.starters {
			go f(r.name, r.state.GameNumber)
		}
	}

	r.mu.Lock()
	r.latest = r.state.Clone()
	rec := r.recordLocked()
	r.mu.Unlock()

	if ev.Kind == session.KindMove && r.state.LastMove != nil {
		r.log.Info("session_move", zap.String("uci", r.state.LastMove.UCI), zap.String("san", r.state.LastMove.SAN))
	}
	// persisted before it is visible
	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := r.store.Save(ctx, r.name, rec); err != nil {
			r.log.Warn("room_save_error", zap.Error(err))
		}
		cancel()
	}
	r.mu.Lock()
	r.broadcastLocked()
	r.mu.Unlock()

	if out.Terminal {
		r.terminal(rec)
	}
}

func (r *Room) terminal(rec *Record) {
	s := rec.State
	t := Terminal{
		Room:       r.name,
		GameNumber: s.GameNumber,
		Result:     s.GameResult,
		Players:    s.Players,
		Moves:      rec.Moves,
		SANs:       rec.SANs,
		FEN:        s.FEN,
		Bet:        s.BetAmount,
		StartedAt:  r.startedAt,
		EndedAt:    r.now(),
	}
	r.log.Info("session_end",
		zap.Int("game_number", t.GameNumber),
		zap.String("result", string(t.Result.Type)),
		zap.String("winner", string(t.Result.Winner)))
	for _, obs := range r.observers {
		go obs(t)
	}
}

func (r *Room) recordLocked() *Record {
	return &Record{
		State: r.latest.Clone(),
		Moves: append([]string(nil), r.latest.Moves...),
		SANs:  append([]string(nil), r.latest.SANs...),
	}
}

func (r *Room) updateLocked() Update {
	u := Update{State: r.latest.Clone()}
	if r.betting != nil {
		b := *r.betting
		u.Betting = &b
	}
	return u
}

func (r *Room) broadcastLocked() {
	for _, ch := range r.subs {
		// keep only the newest update
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- r.updateLocked():
		default:
		}
	}
}
