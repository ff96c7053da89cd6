package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/park285/betchess/internal/rules"
)

const (
	DefaultGameTime = 600
	MinGameTime     = 10
	MaxGameTime     = 3 * 60 * 60
	DefaultChatMax  = 500
	DefaultChatKeep = 200
)

// PaymentGate decides whether betting allows a game to start and a player to move.
type PaymentGate interface {
	// Required reports whether the room carries a bet.
	Required() bool
	// Ready reports whether both players have paid.
	Ready() bool
	// CanMove reports whether wallet is the recognized payer for color.
	CanMove(wallet string, color Color) bool
}

// SeatReserver is implemented by gates that pin wallets to colors, e.g. the
// escrow creator to white. ok is false when wallet has no fixed seat.
type SeatReserver interface {
	ReservedColor(wallet string) (c Color, ok bool)
}

// FreePlay is the gate of a room without a bet.
type FreePlay struct{}

func (FreePlay) Required() bool             { return false }
func (FreePlay) Ready() bool                { return true }
func (FreePlay) CanMove(string, Color) bool { return true }

// Options are the reducer's capability flags.
type Options struct {
	// Rematch enables the in-room rematch offer for rooms without a bet.
	Rematch bool
	// ChatMaxLen caps one message in runes.
	ChatMaxLen int
	// ChatKeep caps the chat log to the most recent entries.
	ChatKeep int
	Gate     PaymentGate
	Now      func() time.Time
	NewID    func() string
}

// Reducer applies events to a State. It holds no state of its own; the
// caller serializes Apply calls for a given State.
type Reducer struct {
	rematch  bool
	chatMax  int
	chatKeep int
	gate     PaymentGate
	now      func() time.Time
	newID    func() string
}

func NewReducer(opts Options) *Reducer {
	r := &Reducer{
		rematch:  opts.Rematch,
		chatMax:  opts.ChatMaxLen,
		chatKeep: opts.ChatKeep,
		gate:     opts.Gate,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if r.chatMax <= 0 {
		r.chatMax = DefaultChatMax
	}
	if r.chatKeep <= 0 {
		r.chatKeep = DefaultChatKeep
	}
	if r.gate == nil {
		r.gate = FreePlay{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

// SetGate swaps the payment gate, e.g. once a betting tracker is attached.
func (r *Reducer) SetGate(g PaymentGate) {
	if g == nil {
		g = FreePlay{}
	}
	r.gate = g
}

// Gate returns the active payment gate.
func (r *Reducer) Gate() PaymentGate { return r.gate }

// Apply handles ev against s in place. Rejected events leave s untouched and
// report Changed=false.
func (r *Reducer) Apply(s *State, ev Event) Outcome {
	if s == nil {
		return Outcome{}
	}
	switch ev.Kind {
	case KindJoin:
		return r.join(s, ev)
	case KindLeave:
		return r.leave(s, ev)
	case KindMove:
		return r.move(s, ev)
	case KindChat:
		return r.chat(s, ev)
	case KindStartGame:
		return r.start(s)
	case KindResetGame:
		return r.reset(s, ev)
	case KindUpdateTimer:
		return r.tick(s, ev)
	case KindOfferDraw:
		return r.offerDraw(s, ev)
	case KindRespondDraw:
		return r.respondDraw(s, ev)
	case KindResign:
		return r.resign(s, ev)
	case KindSetGameTime:
		return r.setGameTime(s, ev)
	case KindRequestRematch:
		return r.requestRematch(s, ev)
	case KindRespondRematch:
		return r.respondRematch(s, ev)
	default:
		return Outcome{}
	}
}

func (r *Reducer) join(s *State, ev Event) Outcome {
	id := strings.TrimSpace(ev.PlayerID)
	wallet := strings.TrimSpace(ev.Wallet)
	if id == "" && wallet == "" {
		return Outcome{}
	}
	if p := s.PlayerByIdentity(wallet, id); p != nil {
		changed := false
		if id != "" && p.ID != id {
			p.ID = id
			changed = true
		}
		if !p.Connected {
			p.Connected = true
			changed = true
		}
		out := r.maybeStart(s)
		out.Changed = out.Changed || changed
		return out
	}
	if len(s.Players) >= 2 {
		return Outcome{}
	}
	if id == "" {
		id = r.newID()
	}
	color := White
	if s.PlayerByColor(White) != nil {
		color = Black
	}
	if sr, ok := r.gate.(SeatReserver); ok {
		if c, reserved := sr.ReservedColor(wallet); reserved {
			if s.PlayerByColor(c) != nil {
				return Outcome{}
			}
			color = c
		}
	}
	s.Players = append(s.Players, Player{ID: id, Wallet: wallet, Color: color, Connected: true})
	out := r.maybeStart(s)
	out.Changed = true
	return out
}

func (r *Reducer) leave(s *State, ev Event) Outcome {
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil || !p.Connected {
		return Outcome{}
	}
	// a stale connection must not mark a reconnected player offline
	if ev.PlayerID != "" && p.ID != ev.PlayerID {
		return Outcome{}
	}
	p.Connected = false
	return Outcome{Changed: true}
}

// maybeStart moves WAITING to ACTIVE once two players are seated and paid.
func (r *Reducer) maybeStart(s *State) Outcome {
	if len(s.Players) < 2 || s.IsActive || s.GameResult.Type != ResultNone {
		return Outcome{}
	}
	if !r.gate.Ready() {
		return Outcome{}
	}
	s.IsActive = true
	r.stamp(s)
	return Outcome{Changed: true, Started: true}
}

func (r *Reducer) start(s *State) Outcome {
	return r.maybeStart(s)
}

func (r *Reducer) move(s *State, ev Event) Outcome {
	if !s.IsActive {
		return Outcome{}
	}
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil || p.Color != ColorOfTurn(s.Turn) {
		return Outcome{}
	}
	if r.gate.Required() && !r.gate.CanMove(p.Wallet, p.Color) {
		return Outcome{}
	}
	prop := rules.ProposeMove(s.FEN, ev.From, ev.To, ev.Promotion)
	if !prop.Accepted {
		return Outcome{}
	}
	mover := p.Color
	s.FEN = prop.NewFEN
	s.Turn = prop.Turn
	r.stamp(s)
	s.LastMove = &LastMove{
		From:      prop.From,
		To:        prop.To,
		Promotion: prop.Promotion,
		UCI:       prop.UCI,
		SAN:       prop.SAN,
		Color:     mover,
		Captured:  prop.Captured,
		Flags:     prop.Flags,
	}
	s.Moves = append(s.Moves, prop.UCI)
	s.SANs = append(s.SANs, prop.SAN)
	out := Outcome{Changed: true}
	switch {
	case prop.IsCheckmate:
		r.finish(s, GameResult{Type: ResultCheckmate, Winner: winnerOf(mover), Message: fmt.Sprintf("Checkmate! %s wins", mover.Title())})
		out.Terminal = true
	case prop.IsStalemate:
		r.finish(s, GameResult{Type: ResultStalemate, Winner: WinnerDraw, Message: "Draw by stalemate"})
		out.Terminal = true
	case prop.IsDraw:
		r.finish(s, GameResult{Type: ResultDraw, Winner: WinnerDraw, Message: "Draw"})
		out.Terminal = true
	}
	return out
}

func (r *Reducer) chat(s *State, ev Event) Outcome {
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil {
		return Outcome{}
	}
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		return Outcome{}
	}
	if utf8.RuneCountInString(msg) > r.chatMax {
		msg = string([]rune(msg)[:r.chatMax])
	}
	s.ChatLog = append(s.ChatLog, ChatMessage{
		ID:           r.newID(),
		PlayerID:     p.ID,
		PlayerWallet: p.Wallet,
		Message:      msg,
		Timestamp:    r.now().UnixMilli(),
	})
	if n := len(s.ChatLog); n > r.chatKeep {
		s.ChatLog = append([]ChatMessage(nil), s.ChatLog[n-r.chatKeep:]...)
	}
	return Outcome{Changed: true}
}

func (r *Reducer) tick(s *State, ev Event) Outcome {
	if !s.IsActive {
		return Outcome{}
	}
	secs := ev.Seconds
	if secs <= 0 {
		secs = 1
	}
	turn := ColorOfTurn(s.Turn)
	clock := s.Clocks.of(turn)
	*clock -= secs
	if *clock > 0 {
		return Outcome{Changed: true}
	}
	*clock = 0
	r.finish(s, GameResult{
		Type:    ResultTimeout,
		Winner:  winnerOf(turn.Other()),
		Message: fmt.Sprintf("%s ran out of time", turn.Title()),
	})
	return Outcome{Changed: true, Terminal: true}
}

func (r *Reducer) offerDraw(s *State, ev Event) Outcome {
	if !s.IsActive || s.DrawOffer.Offered {
		return Outcome{}
	}
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil {
		return Outcome{}
	}
	s.DrawOffer.set(p.Color)
	return Outcome{Changed: true}
}

func (r *Reducer) respondDraw(s *State, ev Event) Outcome {
	if !s.IsActive || !s.DrawOffer.Offered {
		return Outcome{}
	}
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil || (s.DrawOffer.By != nil && *s.DrawOffer.By == p.Color) {
		return Outcome{}
	}
	if !ev.Accepted {
		s.DrawOffer.clear()
		return Outcome{Changed: true}
	}
	r.finish(s, GameResult{Type: ResultDraw, Winner: WinnerDraw, Message: "Draw by agreement"})
	return Outcome{Changed: true, Terminal: true}
}

func (r *Reducer) resign(s *State, ev Event) Outcome {
	if !s.IsActive {
		return Outcome{}
	}
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil {
		return Outcome{}
	}
	r.finish(s, GameResult{
		Type:    ResultAbandoned,
		Winner:  winnerOf(p.Color.Other()),
		Message: fmt.Sprintf("%s resigned", p.Color.Title()),
	})
	return Outcome{Changed: true, Terminal: true}
}

func (r *Reducer) setGameTime(s *State, ev Event) Outcome {
	if s.Phase() != PhaseWaiting {
		return Outcome{}
	}
	if ev.Seconds < MinGameTime || ev.Seconds > MaxGameTime {
		return Outcome{}
	}
	if ev.PlayerID != "" || ev.Wallet != "" {
		if s.PlayerByIdentity(ev.Wallet, ev.PlayerID) == nil {
			return Outcome{}
		}
	}
	s.GameTimeLimit = ev.Seconds
	s.Clocks = Clocks{White: ev.Seconds, Black: ev.Seconds}
	return Outcome{Changed: true}
}

func (r *Reducer) requestRematch(s *State, ev Event) Outcome {
	if !r.rematch || r.gate.Required() {
		return Outcome{}
	}
	if s.Phase() != PhaseEnded || s.RematchOffer.Offered {
		return Outcome{}
	}
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil {
		return Outcome{}
	}
	s.RematchOffer.set(p.Color)
	return Outcome{Changed: true}
}

func (r *Reducer) respondRematch(s *State, ev Event) Outcome {
	if s.Phase() != PhaseEnded || !s.RematchOffer.Offered {
		return Outcome{}
	}
	p := s.PlayerByIdentity(ev.Wallet, ev.PlayerID)
	if p == nil || (s.RematchOffer.By != nil && *s.RematchOffer.By == p.Color) {
		return Outcome{}
	}
	if !ev.Accepted {
		s.RematchOffer.clear()
		return Outcome{Changed: true}
	}
	return r.newGame(s)
}

func (r *Reducer) reset(s *State, ev Event) Outcome {
	// bet rooms start a fresh room instead of reusing a paid escrow game
	if r.gate.Required() {
		return Outcome{}
	}
	if ev.PlayerID != "" || ev.Wallet != "" {
		if s.PlayerByIdentity(ev.Wallet, ev.PlayerID) == nil {
			return Outcome{}
		}
	}
	return r.newGame(s)
}

// newGame resets the board, swaps colors and bumps the game number.
func (r *Reducer) newGame(s *State) Outcome {
	s.FEN = rules.StartFEN
	s.Turn = "w"
	s.IsActive = false
	s.Clocks = Clocks{White: s.GameTimeLimit, Black: s.GameTimeLimit}
	s.LastMoveTime = nil
	s.LastMove = nil
	s.Moves, s.SANs = nil, nil
	s.GameResult = GameResult{}
	s.DrawOffer.clear()
	s.RematchOffer.clear()
	for i := range s.Players {
		s.Players[i].Color = s.Players[i].Color.Other()
	}
	s.GameNumber++
	out := r.maybeStart(s)
	out.Changed = true
	return out
}

func (r *Reducer) finish(s *State, res GameResult) {
	s.IsActive = false
	s.GameResult = res
	s.DrawOffer.clear()
	r.stamp(s)
}

func (r *Reducer) stamp(s *State) {
	ms := r.now().UnixMilli()
	s.LastMoveTime = &ms
}
