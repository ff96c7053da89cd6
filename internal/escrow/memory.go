package escrow

import (
	"context"
	"crypto/sha256"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Memory is an in-process escrow with the deployed contract's rules.
// It backs tests and the local dev server.
type Memory struct {
	mu      sync.Mutex
	owner   common.Address
	nextID  int64
	block   uint64
	games   map[int64]*GameInfo
	rooms   map[string]int64
	events  []Event
	payouts map[common.Address]*big.Int
}

// NewMemory returns an empty escrow owned by owner.
func NewMemory(owner common.Address) *Memory {
	return &Memory{
		owner:   owner,
		nextID:  1,
		games:   make(map[int64]*GameInfo),
		rooms:   make(map[string]int64),
		payouts: make(map[common.Address]*big.Int),
	}
}

// Owner returns the only address allowed to finish games.
func (m *Memory) Owner() common.Address { return m.owner }

// Paid returns the total paid out to addr so far.
func (m *Memory) Paid(addr common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.payouts[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func roomKey(room string) string { return strings.TrimSpace(room) }

// emit records an event in a new block and returns a fake tx hash. Caller holds mu.
func (m *Memory) emit(name string, id int64) TxRef {
	m.block++
	m.events = append(m.events, Event{Name: name, GameID: big.NewInt(id), Block: m.block})
	sum := sha256.Sum256([]byte(name + ":" + big.NewInt(id).String() + ":" + new(big.Int).SetUint64(m.block).String()))
	return TxRef{Hash: common.BytesToHash(sum[:])}
}

// lookup returns the stored game for id. Caller holds mu.
func (m *Memory) lookup(id *big.Int) (*GameInfo, error) {
	if id == nil || !id.IsInt64() {
		return nil, ErrGameNotFound
	}
	g, ok := m.games[id.Int64()]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g, nil
}

func (m *Memory) GameIDByRoom(_ context.Context, room string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.rooms[roomKey(room)]
	if !ok {
		return nil, ErrGameNotFound
	}
	return big.NewInt(id), nil
}

func (m *Memory) Game(_ context.Context, id *big.Int) (*GameInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (m *Memory) CreateGame(_ context.Context, from common.Address, room string, bet *big.Int) (TxRef, error) {
	if bet == nil || bet.Sign() <= 0 {
		return TxRef{}, ErrInvalidBet
	}
	key := roomKey(room)
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		return TxRef{}, ErrInvalidRoom
	}
	if _, taken := m.rooms[key]; taken {
		return TxRef{}, ErrRoomTaken
	}
	id := m.nextID
	m.nextID++
	m.games[id] = &GameInfo{
		GameID:      big.NewInt(id),
		WhitePlayer: from,
		BetAmount:   new(big.Int).Set(bet),
		State:       StateWaiting,
		RoomName:    key,
	}
	m.rooms[key] = id
	return m.emit(EventGameCreated, id), nil
}

func (m *Memory) JoinGameByRoom(_ context.Context, from common.Address, room string, bet *big.Int) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.rooms[roomKey(room)]
	if !ok {
		return TxRef{}, ErrGameNotFound
	}
	g := m.games[id]
	if g.State != StateWaiting {
		return TxRef{}, ErrGameNotWaiting
	}
	if from == g.WhitePlayer {
		return TxRef{}, ErrSelfJoin
	}
	if bet == nil || bet.Cmp(g.BetAmount) != 0 {
		return TxRef{}, ErrInvalidBet
	}
	g.BlackPlayer = from
	g.State = StateActive
	return m.emit(EventGameJoined, id), nil
}

func (m *Memory) FinishGame(_ context.Context, from common.Address, id *big.Int, result Result) (TxRef, error) {
	if result == ResultNone || result > ResultDraw {
		return TxRef{}, ErrInvalidResult
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if from != m.owner {
		return TxRef{}, ErrNotOwner
	}
	g, err := m.lookup(id)
	if err != nil {
		return TxRef{}, err
	}
	if g.State != StateActive {
		return TxRef{}, ErrNotActive
	}
	g.State = StateFinished
	g.Result = result
	return m.emit(EventGameFinished, id.Int64()), nil
}

// winningsCheck reports why player cannot claim winnings, or nil. Caller holds mu.
func winningsCheck(g *GameInfo, player common.Address) error {
	if g.State != StateFinished {
		return ErrNotFinished
	}
	switch player {
	case g.WhitePlayer:
		if g.Result != ResultWhiteWins {
			return ErrNotWinner
		}
		if g.WhiteClaimed {
			return ErrAlreadyClaimed
		}
	case g.BlackPlayer:
		if g.Result != ResultBlackWins {
			return ErrNotWinner
		}
		if g.BlackClaimed {
			return ErrAlreadyClaimed
		}
	default:
		return ErrNotPlayer
	}
	return nil
}

// refundCheck reports why player cannot claim a draw refund, or nil. Caller holds mu.
func refundCheck(g *GameInfo, player common.Address) error {
	if g.State != StateFinished {
		return ErrNotFinished
	}
	if g.Result != ResultDraw {
		return ErrNotDraw
	}
	switch player {
	case g.WhitePlayer:
		if g.WhiteClaimed {
			return ErrAlreadyClaimed
		}
	case g.BlackPlayer:
		if g.BlackClaimed {
			return ErrAlreadyClaimed
		}
	default:
		return ErrNotPlayer
	}
	return nil
}

func markClaimed(g *GameInfo, player common.Address) {
	if player == g.WhitePlayer {
		g.WhiteClaimed = true
	} else {
		g.BlackClaimed = true
	}
}

func (m *Memory) pay(to common.Address, amount *big.Int) {
	cur, ok := m.payouts[to]
	if !ok {
		cur = new(big.Int)
		m.payouts[to] = cur
	}
	cur.Add(cur, amount)
}

func (m *Memory) ClaimWinnings(_ context.Context, from common.Address, id *big.Int) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.lookup(id)
	if err != nil {
		return TxRef{}, err
	}
	if err := winningsCheck(g, from); err != nil {
		return TxRef{}, err
	}
	markClaimed(g, from)
	m.pay(from, new(big.Int).Mul(g.BetAmount, big.NewInt(2)))
	return m.emit(EventWinningsClaimed, id.Int64()), nil
}

func (m *Memory) ClaimDrawRefund(_ context.Context, from common.Address, id *big.Int) (TxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.lookup(id)
	if err != nil {
		return TxRef{}, err
	}
	if err := refundCheck(g, from); err != nil {
		return TxRef{}, err
	}
	markClaimed(g, from)
	m.pay(from, new(big.Int).Set(g.BetAmount))
	return m.emit(EventDrawRefundClaimed, id.Int64()), nil
}

func (m *Memory) CanClaimWinnings(_ context.Context, id *big.Int, player common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	return winningsCheck(g, player) == nil, nil
}

func (m *Memory) CanClaimDrawRefund(_ context.Context, id *big.Int, player common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	return refundCheck(g, player) == nil, nil
}

func (m *Memory) CalculateWinnings(_ context.Context, id *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(g.BetAmount, big.NewInt(2)), nil
}

func (m *Memory) CalculateDrawRefund(_ context.Context, id *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(g.BetAmount), nil
}

func (m *Memory) EventsSince(_ context.Context, fromBlock uint64) ([]Event, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Block >= fromBlock {
			out = append(out, Event{Name: ev.Name, GameID: new(big.Int).Set(ev.GameID), Block: ev.Block})
		}
	}
	next := m.block + 1
	if next < fromBlock {
		next = fromBlock
	}
	return out, next, nil
}

var (
	_ Contract    = (*Memory)(nil)
	_ EventSource = (*Memory)(nil)
)
