package lobby

import (
    "context"
    "errors"
    "fmt"
    "math/big"
    "sync"
    "time"

    "github.com/ethereum/go-ethereum/common"
    "go.uber.org/zap"

    "github.com/park285/betchess/internal/betting"
    "github.com/park285/betchess/internal/escrow"
    "github.com/park285/betchess/internal/obslog"
)

// DefaultRematchTimeout bounds a whole rematch attempt.
const DefaultRematchTimeout = 30 * time.Second

// SagaState is where a rematch attempt stands. created, failed and
// timed_out are terminal.
type SagaState string

const (
    SagaIdle     SagaState = "idle"
    SagaCreating SagaState = "creating"
    SagaCreated  SagaState = "created"
    SagaFailed   SagaState = "failed"
    SagaTimedOut SagaState = "timed_out"
)

// Terminal reports whether the saga has finished.
func (s SagaState) Terminal() bool {
    return s == SagaCreated || s == SagaFailed || s == SagaTimedOut
}

// Rooms registers the rematch room and closes it again when a later step
// fails.
type Rooms interface {
    Allocate(ctx context.Context, meta *RoomMeta) (*RoomMeta, error)
    MarkClosed(ctx context.Context, name string) error
}

// GameCreator opens the escrow game for a new room.
type GameCreator interface {
    CreateGame(ctx context.Context, from common.Address, room string, bet *big.Int) (escrow.TxRef, error)
}

// SagaConfig wires the saga's steps. Rooms and Escrow may be nil; Send is
// required.
type SagaConfig struct {
    Rooms   Rooms
    Escrow  GameCreator
    Send    func(ctx context.Context, message string) error
    Timeout time.Duration
}

// RematchRequest describes the rematch the creator wants.
type RematchRequest struct {
    PrevRoom string
    Creator  string
    Bet      string
    GameTime int
}

// RematchSaga creates a fresh room for a bet rematch: generate, register,
// fund, invite. It runs once.
type RematchSaga struct {
    cfg SagaConfig

    mu    sync.Mutex
    state SagaState
    err   error
    inv   Invitation
    done  chan struct{}
}

var ErrNoEscrow = errors.New("lobby: bet rematch needs an escrow contract")

func NewRematchSaga(cfg SagaConfig) *RematchSaga {
    if cfg.Timeout <= 0 {
        cfg.Timeout = DefaultRematchTimeout
    }
    return &RematchSaga{cfg: cfg, state: SagaIdle, done: make(chan struct{})}
}

// State returns the current state and, for failed or timed_out, the cause.
func (s *RematchSaga) State() (SagaState, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.state, s.err
}

// Invitation returns the sent invitation once the saga is created.
func (s *RematchSaga) Invitation() (Invitation, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.inv, s.state == SagaCreated
}

// Done is closed when the saga reaches a terminal state.
func (s *RematchSaga) Done() <-chan struct{} { return s.done }

type sagaResult struct {
    inv Invitation
    err error
}

// Run performs the rematch. It returns the invitation that was sent, or the
// terminal cause. A second call returns ErrSagaUsed.
func (s *RematchSaga) Run(ctx context.Context, req RematchRequest) (Invitation, error) {
    s.mu.Lock()
    if s.state != SagaIdle {
        s.mu.Unlock()
        return Invitation{}, ErrSagaUsed
    }
    s.state = SagaCreating
    s.mu.Unlock()

    obslog.L().Info("rematch_start", zap.String("prev_room", req.PrevRoom), zap.String("bet", req.Bet))
    runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
    defer cancel()

    res := make(chan sagaResult, 1)
    go func() {
        inv, err := s.steps(runCtx, req)
        res <- sagaResult{inv: inv, err: err}
    }()

    var r sagaResult
    select {
    case r = <-res:
        if r.err == nil {
            return r.inv, s.finish(SagaCreated, r.inv, nil)
        }
    case <-runCtx.Done():
        r.err = runCtx.Err()
    }
    if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
        return Invitation{}, s.finish(SagaTimedOut, Invitation{}, ErrSagaTimedOut)
    }
    return Invitation{}, s.finish(SagaFailed, Invitation{}, r.err)
}

func (s *RematchSaga) finish(st SagaState, inv Invitation, err error) error {
    s.mu.Lock()
    s.state, s.inv, s.err = st, inv, err
    s.mu.Unlock()
    close(s.done)
    if err != nil {
        obslog.L().Warn("rematch_end", zap.String("state", string(st)), zap.Error(err))
    } else {
        obslog.L().Info("rematch_end", zap.String("state", string(st)), zap.String("room", inv.Room))
    }
    return err
}

func (s *RematchSaga) steps(ctx context.Context, req RematchRequest) (Invitation, error) {
    if s.cfg.Send == nil {
        return Invitation{}, ErrInvalidArgs
    }
    bet, err := betting.ParseEther(req.Bet)
    if err != nil {
        return Invitation{}, err
    }
    var creator common.Address
    if bet.Sign() > 0 {
        if s.cfg.Escrow == nil {
            return Invitation{}, ErrNoEscrow
        }
        addr, ok := betting.ParseWallet(req.Creator)
        if !ok {
            return Invitation{}, fmt.Errorf("creator wallet %q: %w", req.Creator, ErrInvalidArgs)
        }
        creator = addr
    }

    // 1. generate + 2. register
    meta := &RoomMeta{
        CreatorWallet: normWallet(req.Creator),
        Bet:           betting.FormatEther(bet),
        GameTime:      req.GameTime,
        RematchOf:     req.PrevRoom,
    }
    if s.cfg.Rooms != nil {
        if meta, err = s.cfg.Rooms.Allocate(ctx, meta); err != nil {
            return Invitation{}, fmt.Errorf("register room: %w", err)
        }
    } else {
        if meta.Name, err = NewRoomName(); err != nil {
            return Invitation{}, err
        }
        if meta.Password, err = NewPassword(); err != nil {
            return Invitation{}, err
        }
    }

    // 3. fund
    if bet.Sign() > 0 {
        ref, err := s.cfg.Escrow.CreateGame(ctx, creator, meta.Name, bet)
        if err != nil {
            s.abandon(meta.Name)
            return Invitation{}, fmt.Errorf("create escrow game: %w", err)
        }
        obslog.L().Info("rematch_funded", zap.String("room", meta.Name), zap.String("tx", ref.Hash.Hex()))
    }

    // 4. invite
    inv := Invitation{Room: meta.Name, Password: meta.Password, Bet: meta.Bet, GameTime: req.GameTime}
    if err := s.cfg.Send(ctx, inv.Encode()); err != nil {
        s.abandon(meta.Name)
        return Invitation{}, fmt.Errorf("send invitation: %w", err)
    }
    return inv, nil
}

// abandon closes a registered room after a later step failed. It runs on a
// fresh context since the saga's own may already be done.
func (s *RematchSaga) abandon(name string) {
    if s.cfg.Rooms == nil {
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := s.cfg.Rooms.MarkClosed(ctx, name); err != nil {
        obslog.L().Warn("rematch_abandon_error", zap.String("room", name), zap.Error(err))
    }
}
