package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State mirrors the contract's game state enum.
type State uint8

const (
	StateWaiting State = iota
	StateActive
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateActive:
		return "ACTIVE"
	case StateFinished:
		return "FINISHED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Result mirrors the contract's result enum.
type Result uint8

const (
	ResultNone Result = iota
	ResultWhiteWins
	ResultBlackWins
	ResultDraw
)

func (r Result) String() string {
	switch r {
	case ResultWhiteWins:
		return "WHITE_WINS"
	case ResultBlackWins:
		return "BLACK_WINS"
	case ResultDraw:
		return "DRAW"
	default:
		return "NONE"
	}
}

// GameInfo is the escrow's view of one game.
type GameInfo struct {
	GameID       *big.Int       `json:"gameId"`
	WhitePlayer  common.Address `json:"whitePlayer"`
	BlackPlayer  common.Address `json:"blackPlayer"`
	BetAmount    *big.Int       `json:"betAmount"`
	State        State          `json:"state"`
	Result       Result         `json:"result"`
	WhiteClaimed bool           `json:"whiteClaimed"`
	BlackClaimed bool           `json:"blackClaimed"`
	RoomName     string         `json:"roomName"`
}

// Clone returns a copy that shares no big.Int with g.
func (g *GameInfo) Clone() *GameInfo {
	if g == nil {
		return nil
	}
	c := *g
	if g.GameID != nil {
		c.GameID = new(big.Int).Set(g.GameID)
	}
	if g.BetAmount != nil {
		c.BetAmount = new(big.Int).Set(g.BetAmount)
	}
	return &c
}

// TxRef identifies a submitted transaction.
type TxRef struct {
	Hash common.Hash
}

// Reader is the read-only half of the escrow.
type Reader interface {
	GameIDByRoom(ctx context.Context, room string) (*big.Int, error)
	Game(ctx context.Context, id *big.Int) (*GameInfo, error)
	CanClaimWinnings(ctx context.Context, id *big.Int, player common.Address) (bool, error)
	CanClaimDrawRefund(ctx context.Context, id *big.Int, player common.Address) (bool, error)
	CalculateWinnings(ctx context.Context, id *big.Int) (*big.Int, error)
	CalculateDrawRefund(ctx context.Context, id *big.Int) (*big.Int, error)
}

// Writer submits state-changing calls signed by from.
type Writer interface {
	CreateGame(ctx context.Context, from common.Address, room string, bet *big.Int) (TxRef, error)
	JoinGameByRoom(ctx context.Context, from common.Address, room string, bet *big.Int) (TxRef, error)
	FinishGame(ctx context.Context, from common.Address, id *big.Int, result Result) (TxRef, error)
	ClaimWinnings(ctx context.Context, from common.Address, id *big.Int) (TxRef, error)
	ClaimDrawRefund(ctx context.Context, from common.Address, id *big.Int) (TxRef, error)
}

// Contract is the full escrow surface.
type Contract interface {
	Reader
	Writer
}

// Event is a contract log reduced to what watchers need.
type Event struct {
	Name   string
	GameID *big.Int
	Block  uint64
}

// Event names emitted by the escrow.
const (
	EventGameCreated       = "GameCreated"
	EventGameJoined        = "GameJoined"
	EventGameFinished      = "GameFinished"
	EventWinningsClaimed   = "WinningsClaimed"
	EventDrawRefundClaimed = "DrawRefundClaimed"
)

// EventSource returns events at or after fromBlock and the next block to ask for.
type EventSource interface {
	EventsSince(ctx context.Context, fromBlock uint64) ([]Event, uint64, error)
}

// Errors
var (
	ErrGameNotFound   = errf("escrow: game not found")
	ErrRoomTaken      = errf("escrow: room already has a game")
	ErrInvalidRoom    = errf("escrow: empty room name")
	ErrInvalidBet     = errf("escrow: invalid bet amount")
	ErrGameNotWaiting = errf("escrow: game is not waiting for a player")
	ErrSelfJoin       = errf("escrow: creator cannot join own game")
	ErrNotOwner       = errf("escrow: caller is not the owner")
	ErrNotActive      = errf("escrow: game is not active")
	ErrNotFinished    = errf("escrow: game not finished")
	ErrAlreadyClaimed = errf("escrow: already claimed")
	ErrNotWinner      = errf("escrow: not the winner")
	ErrNotDraw        = errf("escrow: game is not a draw")
	ErrNotPlayer      = errf("escrow: not a player")
	ErrNoSigner       = errf("escrow: no signer for address")
	ErrWrongNetwork   = errf("escrow: wrong network")
	ErrTxReverted     = errf("escrow: transaction reverted")
	ErrInvalidResult  = errf("escrow: invalid result")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }
