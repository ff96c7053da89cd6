package room

import (
	"errors"
	"time"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/session"
)

var (
	ErrRoomClosed        = errors.New("room: closed")
	ErrRoomHeldElsewhere = errors.New("room: hosted by another instance")
	ErrBadPassword       = errors.New("room: wrong password")
	ErrInvalidName       = errors.New("room: invalid name")
	ErrHubClosed         = errors.New("room: hub closed")
)

// Record is what a room persists after every accepted event.
type Record struct {
	State *session.State `json:"state"`
	Moves []string       `json:"moves"`
	SANs  []string       `json:"sans"`
}

// Update is what subscribers receive: the latest snapshot and, in bet rooms,
// the latest betting status. Both are copies.
type Update struct {
	State   *session.State
	Betting *betting.Status
}

// Terminal describes a game that just ended.
type Terminal struct {
	Room       string
	GameNumber int
	Result     session.GameResult
	Players    []session.Player
	Moves      []string
	SANs       []string
	FEN        string
	Bet        string
	StartedAt  time.Time
	EndedAt    time.Time
}

// TerminalFunc observes finished games. It runs off the room goroutine.
type TerminalFunc func(Terminal)

// StartFunc observes a game going ACTIVE. It runs off the room goroutine.
type StartFunc func(room string, gameNumber int)
