package betting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/obslog"
	"github.com/park285/betchess/internal/relayer"
	"github.com/park285/betchess/internal/session"
)

// Relay submits finishGame through a third party holding the owner key.
type Relay interface {
	FinishGame(ctx context.Context, req relayer.FinishRequest) (string, error)
}

type JobState string

const (
	JobPending   JobState = "pending"
	JobFinalized JobState = "finalized"
	JobFailed    JobState = "failed"
)

// Route names how a job reached FINISHED.
const (
	ViaRelayer = "relayer"
	ViaOwner   = "owner"
	ViaChain   = "already_finished"
)

var (
	ErrQueueFull        = errors.New("betting: finalize queue full")
	ErrNoRoute          = errors.New("betting: no relayer or owner key configured")
	ErrNotFinalizable   = errors.New("betting: escrow game is not active")
	ErrFinalizerStopped = errors.New("betting: finalizer stopped")
)

// Job is one finalization request and its progress.
type Job struct {
	Room      string    `json:"roomName"`
	GameID    string    `json:"gameId"`
	Result    string    `json:"result"`
	State     JobState  `json:"state"`
	Attempts  int       `json:"attempts"`
	Via       string    `json:"via,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`

	id     *big.Int
	result escrow.Result
}

type FinalizerConfig struct {
	// Owner signs the direct fallback call. Zero disables the fallback.
	Owner           common.Address
	Workers         int
	QueueSize       int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	AttemptTimeout  time.Duration
}

// Finalizer records terminal results on chain. Each attempt prefers the
// relayer and falls back to an owner-signed call; attempts repeat with
// exponential backoff until MaxElapsed, after which the job is failed and
// needs manual recovery.
type Finalizer struct {
	contract escrow.Contract
	relay    Relay
	cfg      FinalizerConfig

	queue chan *Job

	mu   sync.RWMutex
	jobs map[string]*Job // by game id
}

func NewFinalizer(contract escrow.Contract, relay Relay, cfg FinalizerConfig) *Finalizer {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 2 * time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = time.Minute
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 10 * time.Minute
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultCallTimeout
	}
	return &Finalizer{
		contract: contract,
		relay:    relay,
		cfg:      cfg,
		queue:    make(chan *Job, cfg.QueueSize),
		jobs:     make(map[string]*Job),
	}
}

// Schedule enqueues the on-chain record of a finished session. Sessions
// without a result are ignored.
func (f *Finalizer) Schedule(room string, gameID *big.Int, res session.GameResult) error {
	r, ok := ResultFor(res)
	if !ok {
		return nil
	}
	return f.Enqueue(room, gameID, r)
}

// Enqueue adds a job. A game already pending or finalized is not queued twice;
// a failed one is retried.
func (f *Finalizer) Enqueue(room string, gameID *big.Int, result escrow.Result) error {
	if gameID == nil || gameID.Sign() <= 0 {
		return escrow.ErrGameNotFound
	}
	if result == escrow.ResultNone {
		return escrow.ErrInvalidResult
	}
	key := gameID.String()

	f.mu.Lock()
	if j, ok := f.jobs[key]; ok && j.State != JobFailed {
		f.mu.Unlock()
		return nil
	}
	j := &Job{
		Room:      room,
		GameID:    key,
		Result:    result.String(),
		State:     JobPending,
		UpdatedAt: time.Now(),
		id:        new(big.Int).Set(gameID),
		result:    result,
	}
	f.jobs[key] = j
	f.mu.Unlock()

	select {
	case f.queue <- j:
		obslog.L().Info("finalize_enqueued", zap.String("room", room), zap.String("game_id", key), zap.String("result", j.Result))
		return nil
	default:
		f.update(j, func(j *Job) {
			j.State = JobFailed
			j.LastError = ErrQueueFull.Error()
		})
		return ErrQueueFull
	}
}

// Status returns a copy of the job for gameID.
func (f *Finalizer) Status(gameID string) (Job, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	j, ok := f.jobs[gameID]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// StatusByRoom returns the most recently updated job for room.
func (f *Finalizer) StatusByRoom(room string) (Job, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var best *Job
	for _, j := range f.jobs {
		if j.Room == room && (best == nil || j.UpdatedAt.After(best.UpdatedAt)) {
			best = j
		}
	}
	if best == nil {
		return Job{}, false
	}
	return *best, true
}

// Jobs lists every job, newest first.
func (f *Finalizer) Jobs() []Job {
	f.mu.RLock()
	out := make([]Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.After(out[b].UpdatedAt) })
	return out
}

func (f *Finalizer) update(j *Job, fn func(*Job)) {
	f.mu.Lock()
	fn(j)
	j.UpdatedAt = time.Now()
	f.mu.Unlock()
}

// Run processes the queue with cfg.Workers workers until ctx ends.
func (f *Finalizer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < f.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j := <-f.queue:
					f.process(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

func (f *Finalizer) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialInterval
	b.MaxInterval = f.cfg.MaxInterval
	b.MaxElapsedTime = f.cfg.MaxElapsed
	b.Reset()
	return backoff.WithContext(b, ctx)
}

func (f *Finalizer) process(ctx context.Context, j *Job) {
	log := obslog.L().With(zap.String("room", j.Room), zap.String("game_id", j.GameID))
	op := func() error {
		f.update(j, func(j *Job) { j.Attempts++ })
		via, tx, err := f.attempt(ctx, j)
		if err != nil {
			return err
		}
		f.update(j, func(j *Job) {
			j.State = JobFinalized
			j.Via = via
			j.TxHash = tx
			j.LastError = ""
		})
		log.Info("finalize_done", zap.String("via", via), zap.String("tx", tx))
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.update(j, func(j *Job) { j.LastError = err.Error() })
		log.Warn("finalize_attempt_failed", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(op, f.newBackOff(ctx), notify); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", ErrFinalizerStopped, err)
		}
		f.update(j, func(j *Job) {
			j.State = JobFailed
			j.LastError = err.Error()
		})
		log.Error("finalize_failed", zap.Error(err), zap.Int("attempts", j.Attempts))
	}
}

// attempt runs one relayer-then-owner pass. A game already FINISHED counts
// as success; one that is not ACTIVE cannot be finished and stops retries.
func (f *Finalizer) attempt(ctx context.Context, j *Job) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	info, err := f.contract.Game(ctx, j.id)
	if err == nil {
		switch info.State {
		case escrow.StateFinished:
			return ViaChain, "", nil
		case escrow.StateActive:
		default:
			return "", "", backoff.Permanent(fmt.Errorf("%w: state %s", ErrNotFinalizable, info.State))
		}
	} else if errors.Is(err, escrow.ErrGameNotFound) {
		return "", "", backoff.Permanent(err)
	}

	var errs []error
	if f.relay != nil {
		tx, rerr := f.relay.FinishGame(ctx, relayer.FinishRequest{GameID: j.GameID, Result: uint8(j.result), RoomName: j.Room})
		if rerr == nil {
			return ViaRelayer, tx, nil
		}
		errs = append(errs, fmt.Errorf("relayer: %w", rerr))
	}
	if f.cfg.Owner != (common.Address{}) {
		ref, oerr := f.contract.FinishGame(ctx, f.cfg.Owner, j.id, j.result)
		if oerr == nil {
			return ViaOwner, ref.Hash.Hex(), nil
		}
		errs = append(errs, fmt.Errorf("owner: %w", oerr))
	}
	if len(errs) == 0 {
		return "", "", backoff.Permanent(ErrNoRoute)
	}
	return "", "", errors.Join(errs...)
}
