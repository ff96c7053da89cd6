package session

import (
	"encoding/json"
	"strings"

	"github.com/park285/betchess/internal/rules"
)

// Color identifies a side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Other returns the opposite side.
func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Short returns the FEN side letter.
func (c Color) Short() string {
	if c == Black {
		return "b"
	}
	return "w"
}

// Title returns the capitalized side name for messages.
func (c Color) Title() string {
	if c == Black {
		return "Black"
	}
	return "White"
}

// ColorOfTurn maps "w"/"b" to a Color.
func ColorOfTurn(turn string) Color {
	if turn == "b" {
		return Black
	}
	return White
}

// ResultType tags a finished game. The zero value means no result and encodes as null.
type ResultType string

const (
	ResultNone      ResultType = ""
	ResultAbandoned ResultType = "abandoned"
	ResultDraw      ResultType = "draw"
	ResultCheckmate ResultType = "checkmate"
	ResultStalemate ResultType = "stalemate"
	ResultTimeout   ResultType = "timeout"
)

func (t ResultType) MarshalJSON() ([]byte, error) {
	if t == ResultNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

func (t *ResultType) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = ResultNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ResultType(s)
	return nil
}

// Winner is "white", "black" or "draw".
type Winner string

const (
	WinnerWhite Winner = "white"
	WinnerBlack Winner = "black"
	WinnerDraw  Winner = "draw"
)

func winnerOf(c Color) Winner {
	if c == Black {
		return WinnerBlack
	}
	return WinnerWhite
}

type Player struct {
	ID        string `json:"id"`
	Wallet    string `json:"wallet"`
	Color     Color  `json:"color"`
	Connected bool   `json:"connected"`
}

// identity is the wallet when present, otherwise the transient id.
func (p Player) identity() string {
	if w := strings.TrimSpace(p.Wallet); w != "" {
		return strings.ToLower(w)
	}
	return p.ID
}

type Clocks struct {
	White int `json:"white"`
	Black int `json:"black"`
}

func (c *Clocks) of(color Color) *int {
	if color == Black {
		return &c.Black
	}
	return &c.White
}

type ChatMessage struct {
	ID           string `json:"id"`
	PlayerID     string `json:"playerId"`
	PlayerWallet string `json:"playerWallet"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

type GameResult struct {
	Type    ResultType `json:"type"`
	Winner  Winner     `json:"winner,omitempty"`
	Message string     `json:"message,omitempty"`
}

// Offer is a pending draw or rematch proposal.
type Offer struct {
	Offered bool   `json:"offered"`
	By      *Color `json:"by"`
}

func (o *Offer) set(c Color) {
	o.Offered = true
	o.By = &c
}

func (o *Offer) clear() {
	o.Offered = false
	o.By = nil
}

// LastMove describes the move that produced the current position.
type LastMove struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Promotion string   `json:"promotion,omitempty"`
	UCI       string   `json:"uci"`
	SAN       string   `json:"san"`
	Color     Color    `json:"color"`
	Captured  string   `json:"captured,omitempty"`
	Flags     []string `json:"flags,omitempty"`
}

// State is the replicated session of one room.
type State struct {
	FEN           string        `json:"fen"`
	IsActive      bool          `json:"isActive"`
	Turn          string        `json:"turn"`
	Players       []Player      `json:"players"`
	Clocks        Clocks        `json:"clocks"`
	GameTimeLimit int           `json:"gameTimeLimit"`
	LastMoveTime  *int64        `json:"lastMoveTime"`
	ChatLog       []ChatMessage `json:"chatLog"`
	GameResult    GameResult    `json:"gameResult"`
	DrawOffer     Offer         `json:"drawOffer"`
	RematchOffer  Offer         `json:"rematchOffer"`
	GameNumber    int           `json:"gameNumber"`
	RoomName      string        `json:"roomName"`
	RoomPassword  string        `json:"roomPassword"`
	LastMove      *LastMove     `json:"lastMove"`
	// Moves and SANs list the current game's moves in order.
	Moves         []string      `json:"moves,omitempty"`
	SANs          []string      `json:"sans,omitempty"`
	BetAmount     string        `json:"betAmount,omitempty"`
	CreatedAt     int64         `json:"createdAt"`
}

// NewState returns a waiting room with both clocks at gameTime seconds.
func NewState(roomName, password string, gameTime int) *State {
	if gameTime <= 0 {
		gameTime = DefaultGameTime
	}
	return &State{
		FEN:           rules.StartFEN,
		Turn:          "w",
		Players:       []Player{},
		Clocks:        Clocks{White: gameTime, Black: gameTime},
		GameTimeLimit: gameTime,
		ChatLog:       []ChatMessage{},
		GameNumber:    1,
		RoomName:      roomName,
		RoomPassword:  password,
	}
}

// Phase reports WAITING, ACTIVE or ENDED.
func (s *State) Phase() Phase {
	switch {
	case s.IsActive:
		return PhaseActive
	case s.GameResult.Type != ResultNone:
		return PhaseEnded
	default:
		return PhaseWaiting
	}
}

// PlayerByIdentity finds a player by wallet, or by id when the wallet is empty.
func (s *State) PlayerByIdentity(wallet, id string) *Player {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	for i := range s.Players {
		p := &s.Players[i]
		if wallet != "" {
			if p.identity() == wallet {
				return p
			}
			continue
		}
		if id != "" && p.ID == id {
			return p
		}
	}
	return nil
}

// PlayerByColor returns the player holding color, or nil.
func (s *State) PlayerByColor(c Color) *Player {
	for i := range s.Players {
		if s.Players[i].Color == c {
			return &s.Players[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Players = make([]Player, len(s.Players))
	copy(c.Players, s.Players)
	c.ChatLog = make([]ChatMessage, len(s.ChatLog))
	copy(c.ChatLog, s.ChatLog)
	if s.LastMoveTime != nil {
		v := *s.LastMoveTime
		c.LastMoveTime = &v
	}
	c.Moves = append([]string(nil), s.Moves...)
	c.SANs = append([]string(nil), s.SANs...)
	c.DrawOffer = cloneOffer(s.DrawOffer)
	c.RematchOffer = cloneOffer(s.RematchOffer)
	if s.LastMove != nil {
		lm := *s.LastMove
		lm.Flags = append([]string(nil), s.LastMove.Flags...)
		c.LastMove = &lm
	}
	return &c
}

func cloneOffer(o Offer) Offer {
	if o.By == nil {
		return o
	}
	by := *o.By
	return Offer{Offered: o.Offered, By: &by}
}

type Phase string

const (
	PhaseWaiting Phase = "WAITING"
	PhaseActive  Phase = "ACTIVE"
	PhaseEnded   Phase = "ENDED"
)
