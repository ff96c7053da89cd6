package betting

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/session"
)

const (
	DefaultPaymentPoll = 2500 * time.Millisecond
	DefaultFinishPoll  = 3 * time.Second
	defaultCallTimeout = 20 * time.Second
)

type TrackerConfig struct {
	Room        string
	Bet         *big.Int // configured bet; nil or zero means none
	PaymentPoll time.Duration
	FinishPoll  time.Duration
	CallTimeout time.Duration
	// Creator is the wallet expected to fund the game and play white.
	Creator common.Address
	// Events nudges a refresh; usually a Watcher subscription.
	Events <-chan escrow.Event
	// OnBothPaid runs once, the first time a required bet is fully paid.
	OnBothPaid func()
	// OnChange runs whenever Status changes.
	OnChange func(Status)
}

// Status is the betting view of a room sent to clients.
type Status struct {
	Room         string `json:"roomName"`
	Required     bool   `json:"required"`
	GameID       string `json:"gameId,omitempty"`
	Bet          string `json:"bet,omitempty"`
	State        string `json:"state,omitempty"`
	Result       string `json:"result,omitempty"`
	WhitePlayer  string `json:"whitePlayer,omitempty"`
	BlackPlayer  string `json:"blackPlayer,omitempty"`
	WhitePaid    bool   `json:"whitePaid"`
	BlackPaid    bool   `json:"blackPaid"`
	BothPaid     bool   `json:"bothPaid"`
	WhiteClaimed bool   `json:"whiteClaimed"`
	BlackClaimed bool   `json:"blackClaimed"`
	Error        string `json:"error,omitempty"`
}

// Tracker keeps a cached copy of a room's escrow game and answers the
// reducer's payment questions from it. It never blocks the caller on chain IO.
type Tracker struct {
	reader escrow.Reader
	cfg    TrackerConfig

	mu       sync.RWMutex
	info     *escrow.GameInfo
	lastErr  error
	status   Status
	paidSeen bool

	nudge chan struct{}
}

func NewTracker(reader escrow.Reader, cfg TrackerConfig) *Tracker {
	if cfg.PaymentPoll <= 0 {
		cfg.PaymentPoll = DefaultPaymentPoll
	}
	if cfg.FinishPoll <= 0 {
		cfg.FinishPoll = DefaultFinishPoll
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	t := &Tracker{reader: reader, cfg: cfg, nudge: make(chan struct{}, 1)}
	t.status = t.buildStatus(nil, nil)
	return t
}

// Required implements session.PaymentGate.
func (t *Tracker) Required() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return HasRequirement(t.cfg.Bet, t.info)
}

// Ready implements session.PaymentGate.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return BothPaid(t.info)
}

// CanMove implements session.PaymentGate.
func (t *Tracker) CanMove(wallet string, color session.Color) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return CanMove(t.cfg.Bet, t.info, wallet, color)
}

// ReservedColor implements session.SeatReserver.
func (t *Tracker) ReservedColor(wallet string) (session.Color, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !HasRequirement(t.cfg.Bet, t.info) {
		return "", false
	}
	return SeatFor(t.info, t.cfg.Creator, wallet)
}

// Info returns a copy of the cached game, or nil before the first read.
func (t *Tracker) Info() *escrow.GameInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info.Clone()
}

func (t *Tracker) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Nudge asks Run to refresh now. It never blocks.
func (t *Tracker) Nudge() {
	select {
	case t.nudge <- struct{}{}:
	default:
	}
}

// Refresh reads the room's game from chain and updates the cache.
// A room without an escrow game yet is not an error.
func (t *Tracker) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
	defer cancel()

	info, err := t.read(ctx)
	if errors.Is(err, escrow.ErrGameNotFound) {
		info, err = nil, nil
	}

	t.mu.Lock()
	if err == nil {
		t.info = info
	}
	t.lastErr = err
	prev := t.status
	t.status = t.buildStatus(t.info, err)
	changed := prev != t.status
	fire := !t.paidSeen && HasRequirement(t.cfg.Bet, t.info) && BothPaid(t.info)
	if fire {
		t.paidSeen = true
	}
	status := t.status
	t.mu.Unlock()

	if changed && t.cfg.OnChange != nil {
		t.cfg.OnChange(status)
	}
	if fire {
		obslog.L().Info("betting_both_paid", zap.String("room", t.cfg.Room), zap.String("game_id", status.GameID))
		if t.cfg.OnBothPaid != nil {
			t.cfg.OnBothPaid()
		}
	}
	return err
}

func (t *Tracker) read(ctx context.Context) (*escrow.GameInfo, error) {
	t.mu.RLock()
	var id *big.Int
	if t.info != nil && t.info.GameID != nil {
		id = new(big.Int).Set(t.info.GameID)
	}
	t.mu.RUnlock()
	if id == nil {
		var err error
		id, err = t.reader.GameIDByRoom(ctx, t.cfg.Room)
		if err != nil {
			return nil, err
		}
	}
	return t.reader.Game(ctx, id)
}

func (t *Tracker) buildStatus(info *escrow.GameInfo, err error) Status {
	s := Status{Room: t.cfg.Room, Required: HasRequirement(t.cfg.Bet, info)}
	if t.cfg.Bet != nil && t.cfg.Bet.Sign() > 0 {
		s.Bet = FormatEther(t.cfg.Bet)
	}
	if err != nil {
		s.Error = err.Error()
	}
	if info == nil {
		return s
	}
	if info.GameID != nil {
		s.GameID = info.GameID.String()
	}
	if info.BetAmount != nil && info.BetAmount.Sign() > 0 {
		s.Bet = FormatEther(info.BetAmount)
	}
	s.State = info.State.String()
	if info.Result != escrow.ResultNone {
		s.Result = info.Result.String()
	}
	if info.WhitePlayer != (common.Address{}) {
		s.WhitePlayer = info.WhitePlayer.Hex()
		s.WhitePaid = true
	}
	if info.BlackPlayer != (common.Address{}) {
		s.BlackPlayer = info.BlackPlayer.Hex()
		s.BlackPaid = true
	}
	s.BothPaid = BothPaid(info)
	s.WhiteClaimed = info.WhiteClaimed
	s.BlackClaimed = info.BlackClaimed
	return s
}

// settled reports whether the chain game can no longer change: cancelled,
// or finished with every payout collected.
func (t *Tracker) settled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g := t.info
	if g == nil {
		return false
	}
	switch g.State {
	case escrow.StateCancelled:
		return true
	case escrow.StateFinished:
		switch g.Result {
		case escrow.ResultWhiteWins:
			return g.WhiteClaimed
		case escrow.ResultBlackWins:
			return g.BlackClaimed
		default:
			return g.WhiteClaimed && g.BlackClaimed
		}
	}
	return false
}

func (t *Tracker) interval() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !BothPaid(t.info) {
		return t.cfg.PaymentPoll
	}
	return t.cfg.FinishPoll
}

// Run polls until ctx ends or the game settles. Payment is polled on the
// short interval; once paid the finish interval is used.
func (t *Tracker) Run(ctx context.Context) {
	log := obslog.L().With(zap.String("room", t.cfg.Room))
	events := t.cfg.Events
	for {
		if err := t.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Debug("betting_refresh_failed", zap.Error(err))
		}
		if t.settled() {
			log.Debug("betting_tracker_settled")
			return
		}
		timer := time.NewTimer(t.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-t.nudge:
			timer.Stop()
		case _, ok := <-events:
			timer.Stop()
			if !ok {
				events = nil
			}
		}
	}
}

var (
	_ session.PaymentGate  = (*Tracker)(nil)
	_ session.SeatReserver = (*Tracker)(nil)
)
