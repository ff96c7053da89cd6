package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
)

func newTestReducer(t *testing.T, opts Options) *Reducer {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	}
	seq := 0
	if opts.NewID == nil {
		opts.NewID = func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		}
	}
	return NewReducer(opts)
}

func seatTwo(t *testing.T, r *Reducer, s *State) {
	t.Helper()
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1", Wallet: "0xAAA"})
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p2", Wallet: "0xBBB"})
}

func play(t *testing.T, r *Reducer, s *State, uci ...string) {
	t.Helper()
	for _, mv := range uci {
		p := s.PlayerByColor(ColorOfTurn(s.Turn))
		if p == nil { t.Fatalf("no player for turn %s", s.Turn) }
		out := r.Apply(s, Event{Kind: KindMove, PlayerID: p.ID, Wallet: p.Wallet, From: mv[0:2], To: mv[2:4], Promotion: mv[4:]})
		if !out.Changed { t.Fatalf("move %s rejected", mv) }
	}
}

// stubGate is a PaymentGate driven by test fields.
type stubGate struct {
	required bool
	ready    bool
	payers   map[Color]string
}

func (g *stubGate) Required() bool { return g.required }
func (g *stubGate) Ready() bool    { return g.ready }
func (g *stubGate) CanMove(wallet string, c Color) bool {
	return strings.EqualFold(g.payers[c], wallet)
}

// seatGate reserves white for one wallet and black for everyone else.
type seatGate struct {
	stubGate
	white string
}

func (g *seatGate) ReservedColor(wallet string) (Color, bool) {
	if g.white == "" {
		return "", false
	}
	if strings.EqualFold(wallet, g.white) {
		return White, true
	}
	return Black, true
}

func TestScholarsMate(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "pw", 0)
	seatTwo(t, r, s)
	if !s.IsActive || s.GameNumber != 1 { t.Fatalf("expected active game 1, got active=%v n=%d", s.IsActive, s.GameNumber) }
	if s.LastMoveTime == nil { t.Fatalf("start must stamp lastMoveTime") }

	play(t, r, s, "e2e4", "e7e5", "d1h5", "b8c6", "f1c4", "g8f6")
	p := s.PlayerByColor(White)
	out := r.Apply(s, Event{Kind: KindMove, PlayerID: p.ID, Wallet: p.Wallet, From: "h5", To: "f7"})
	if !out.Terminal { t.Fatalf("expected terminal outcome") }
	if s.IsActive || s.GameResult.Type != ResultCheckmate || s.GameResult.Winner != WinnerWhite {
		t.Fatalf("unexpected result: %+v active=%v", s.GameResult, s.IsActive)
	}
	if s.LastMove == nil || s.LastMove.UCI != "h5f7" || s.LastMove.Color != White {
		t.Fatalf("last move descriptor: %+v", s.LastMove)
	}
}

func TestJoin_SlotOrderAndCapacity(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	for i := 0; i < 5; i++ {
		r.Apply(s, Event{Kind: KindJoin, PlayerID: fmt.Sprintf("p%d", i), Wallet: fmt.Sprintf("0x%d", i)})
		if len(s.Players) > 2 { t.Fatalf("players exceeded 2: %d", len(s.Players)) }
	}
	if s.Players[0].Wallet != "0x0" || s.Players[0].Color != White { t.Fatalf("first joiner: %+v", s.Players[0]) }
	if s.Players[1].Wallet != "0x1" || s.Players[1].Color != Black { t.Fatalf("second joiner: %+v", s.Players[1]) }
}

func TestJoin_IdempotentAndReconnect(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1", Wallet: "0xAAA"})
	if out := r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1", Wallet: "0xAAA"}); out.Changed {
		t.Fatalf("duplicate join reported a change")
	}
	if len(s.Players) != 1 || s.Players[0].Color != White { t.Fatalf("duplicate join mutated roster: %+v", s.Players) }

	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p2", Wallet: "0xBBB"})
	r.Apply(s, Event{Kind: KindLeave, PlayerID: "p1", Wallet: "0xAAA"})
	if s.Players[0].Connected { t.Fatalf("leave did not mark disconnected") }

	// same wallet, new transient id, different case
	out := r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1-new", Wallet: "0xaaa"})
	if !out.Changed || len(s.Players) != 2 { t.Fatalf("reconnect: changed=%v players=%d", out.Changed, len(s.Players)) }
	if s.Players[0].ID != "p1-new" || !s.Players[0].Connected || s.Players[0].Color != White {
		t.Fatalf("reconnect did not refresh id: %+v", s.Players[0])
	}
	// stale leave for the old id is ignored
	if out := r.Apply(s, Event{Kind: KindLeave, PlayerID: "p1", Wallet: "0xAAA"}); out.Changed {
		t.Fatalf("stale leave applied")
	}
}

func TestJoin_WithoutIdentityIgnored(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	if out := r.Apply(s, Event{Kind: KindJoin}); out.Changed || len(s.Players) != 0 { t.Fatalf("anonymous join applied") }
}

func TestMove_NoOps(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1", Wallet: "0xAAA"})
	if out := r.Apply(s, Event{Kind: KindMove, PlayerID: "p1", Wallet: "0xAAA", From: "e2", To: "e4"}); out.Changed {
		t.Fatalf("move applied while waiting")
	}
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p2", Wallet: "0xBBB"})
	before, _ := json.Marshal(s)
	cases := []Event{
		{Kind: KindMove, PlayerID: "p2", Wallet: "0xBBB", From: "e7", To: "e5"},
		{Kind: KindMove, PlayerID: "p1", Wallet: "0xAAA", From: "e2", To: "e5"},
		{Kind: KindMove, PlayerID: "x", Wallet: "0xCCC", From: "e2", To: "e4"},
	}
	for _, ev := range cases {
		if out := r.Apply(s, ev); out.Changed { t.Fatalf("move %+v applied", ev) }
		after, _ := json.Marshal(s)
		if string(after) != string(before) { t.Fatalf("rejected move %+v changed state", ev) }
	}
}

func TestTimeout(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	s.Clocks.White = 5
	terminal := 0
	for i := 0; i < 6; i++ {
		out := r.Apply(s, Event{Kind: KindUpdateTimer})
		if out.Terminal { terminal++ }
		if i == 5 && out.Changed { t.Fatalf("tick after timeout changed state") }
	}
	if terminal != 1 { t.Fatalf("expected one terminal tick, got %d", terminal) }
	if s.GameResult.Type != ResultTimeout || s.GameResult.Winner != WinnerBlack || s.IsActive {
		t.Fatalf("unexpected result %+v", s.GameResult)
	}
	if s.Clocks.White != 0 || s.Clocks.Black != DefaultGameTime { t.Fatalf("clocks: %+v", s.Clocks) }
}

func TestTick_DecrementsSideToMove(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 60)
	seatTwo(t, r, s)
	r.Apply(s, Event{Kind: KindUpdateTimer})
	play(t, r, s, "e2e4")
	r.Apply(s, Event{Kind: KindUpdateTimer, Seconds: 3})
	if s.Clocks.White != 59 || s.Clocks.Black != 57 { t.Fatalf("clocks: %+v", s.Clocks) }
}

func TestDrawOfferDeclineThenAccept(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	offer := Event{Kind: KindOfferDraw, PlayerID: "p1", Wallet: "0xAAA"}
	r.Apply(s, offer)
	if !s.DrawOffer.Offered || s.DrawOffer.By == nil || *s.DrawOffer.By != White { t.Fatalf("offer not recorded: %+v", s.DrawOffer) }
	if out := r.Apply(s, offer); out.Changed { t.Fatalf("second pending offer applied") }

	self := Event{Kind: KindRespondDraw, PlayerID: "p1", Wallet: "0xAAA", Accepted: true}
	if out := r.Apply(s, self); out.Changed { t.Fatalf("offerer accepted own draw") }

	r.Apply(s, Event{Kind: KindRespondDraw, PlayerID: "p2", Wallet: "0xBBB"})
	if s.DrawOffer.Offered || s.DrawOffer.By != nil { t.Fatalf("decline did not clear offer: %+v", s.DrawOffer) }
	if s.GameResult.Type != ResultNone || !s.IsActive { t.Fatalf("decline ended the game") }

	raw, _ := json.Marshal(s)
	if !strings.Contains(string(raw), `"drawOffer":{"offered":false,"by":null}`) || !strings.Contains(string(raw), `"gameResult":{"type":null}`) {
		t.Fatalf("unexpected wire shape: %s", raw)
	}

	r.Apply(s, offer)
	out := r.Apply(s, Event{Kind: KindRespondDraw, PlayerID: "p2", Wallet: "0xBBB", Accepted: true})
	if !out.Terminal || s.GameResult.Type != ResultDraw || s.GameResult.Winner != WinnerDraw { t.Fatalf("accept: %+v", s.GameResult) }
}

func TestResign(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	out := r.Apply(s, Event{Kind: KindResign, PlayerID: "p2", Wallet: "0xBBB"})
	if !out.Terminal || s.GameResult.Type != ResultAbandoned || s.GameResult.Winner != WinnerWhite {
		t.Fatalf("resign: %+v", s.GameResult)
	}
	if s.GameResult.Message != "Black resigned" { t.Fatalf("message: %q", s.GameResult.Message) }
	if out := r.Apply(s, Event{Kind: KindResign, PlayerID: "p1", Wallet: "0xAAA"}); out.Changed {
		t.Fatalf("resign after end applied")
	}
}

func TestResultSetOncePerGameNumber(t *testing.T) {
	r := newTestReducer(t, Options{Rematch: true})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	r.Apply(s, Event{Kind: KindResign, PlayerID: "p1", Wallet: "0xAAA"})
	first := s.GameResult
	r.Apply(s, Event{Kind: KindUpdateTimer})
	r.Apply(s, Event{Kind: KindOfferDraw, PlayerID: "p1", Wallet: "0xAAA"})
	if s.GameResult != first { t.Fatalf("result overwritten: %+v", s.GameResult) }

	r.Apply(s, Event{Kind: KindRequestRematch, PlayerID: "p2", Wallet: "0xBBB"})
	if !s.RematchOffer.Offered { t.Fatalf("rematch offer missing") }
	out := r.Apply(s, Event{Kind: KindRespondRematch, PlayerID: "p1", Wallet: "0xAAA", Accepted: true})
	if !out.Changed || !out.Started { t.Fatalf("rematch accept: %+v", out) }
	if s.GameNumber != 2 || s.GameResult.Type != ResultNone || !s.IsActive { t.Fatalf("after rematch: n=%d res=%+v", s.GameNumber, s.GameResult) }
	if s.PlayerByIdentity("0xAAA", "").Color != Black || s.PlayerByIdentity("0xBBB", "").Color != White {
		t.Fatalf("colors not swapped: %+v", s.Players)
	}
	if s.FEN == "" || s.Turn != "w" || s.Clocks.White != s.GameTimeLimit || s.LastMove != nil { t.Fatalf("board not reset") }
}

func TestRematch_DisabledOrBetting(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	r.Apply(s, Event{Kind: KindResign, PlayerID: "p1", Wallet: "0xAAA"})
	if out := r.Apply(s, Event{Kind: KindRequestRematch, PlayerID: "p1", Wallet: "0xAAA"}); out.Changed {
		t.Fatalf("rematch allowed without capability")
	}

	gate := &stubGate{required: true, ready: true, payers: map[Color]string{White: "0xAAA", Black: "0xBBB"}}
	rb := newTestReducer(t, Options{Rematch: true, Gate: gate})
	sb := NewState("room", "", 0)
	seatTwo(t, rb, sb)
	rb.Apply(sb, Event{Kind: KindResign, PlayerID: "p1", Wallet: "0xAAA"})
	if out := rb.Apply(sb, Event{Kind: KindRequestRematch, PlayerID: "p1", Wallet: "0xAAA"}); out.Changed {
		t.Fatalf("in-room rematch allowed for bet room")
	}
	if out := rb.Apply(sb, Event{Kind: KindResetGame, PlayerID: "p1", Wallet: "0xAAA"}); out.Changed {
		t.Fatalf("reset allowed for bet room")
	}
}

func TestResetSwapsAndIncrements(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	play(t, r, s, "e2e4")
	out := r.Apply(s, Event{Kind: KindResetGame, PlayerID: "p1", Wallet: "0xAAA"})
	if !out.Changed || s.GameNumber != 2 || !s.IsActive { t.Fatalf("reset: %+v n=%d", out, s.GameNumber) }
	if s.Players[0].Color != Black || s.Players[1].Color != White { t.Fatalf("colors not swapped") }
	if out := r.Apply(s, Event{Kind: KindResetGame, PlayerID: "zz", Wallet: "0xZZZ"}); out.Changed {
		t.Fatalf("stranger reset applied")
	}
}

func TestSetGameTime(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1", Wallet: "0xAAA"})
	if out := r.Apply(s, Event{Kind: KindSetGameTime, PlayerID: "p1", Wallet: "0xAAA", Seconds: 5}); out.Changed {
		t.Fatalf("too-short time accepted")
	}
	r.Apply(s, Event{Kind: KindSetGameTime, PlayerID: "p1", Wallet: "0xAAA", Seconds: 180})
	if s.GameTimeLimit != 180 || s.Clocks.White != 180 || s.Clocks.Black != 180 { t.Fatalf("time not set: %+v", s.Clocks) }
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p2", Wallet: "0xBBB"})
	if out := r.Apply(s, Event{Kind: KindSetGameTime, PlayerID: "p1", Wallet: "0xAAA", Seconds: 300}); out.Changed {
		t.Fatalf("time changed while active")
	}
}

func TestChat(t *testing.T) {
	r := newTestReducer(t, Options{ChatMaxLen: 5, ChatKeep: 2})
	s := NewState("room", "", 0)
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1", Wallet: "0xAAA"})
	if out := r.Apply(s, Event{Kind: KindChat, PlayerID: "p1", Wallet: "0xAAA", Message: "   "}); out.Changed { t.Fatalf("blank chat applied") }
	if out := r.Apply(s, Event{Kind: KindChat, PlayerID: "x", Wallet: "0xZZZ", Message: "hi"}); out.Changed { t.Fatalf("stranger chat applied") }
	for _, m := range []string{"one", "two", "three-long"} {
		r.Apply(s, Event{Kind: KindChat, PlayerID: "p1", Wallet: "0xAAA", Message: m})
	}
	if len(s.ChatLog) != 2 { t.Fatalf("chat log not capped: %d", len(s.ChatLog)) }
	if s.ChatLog[0].Message != "two" || s.ChatLog[1].Message != "three" { t.Fatalf("chat: %+v", s.ChatLog) }
	if s.ChatLog[1].PlayerWallet != "0xAAA" || s.ChatLog[1].Timestamp == 0 || s.ChatLog[1].ID == "" { t.Fatalf("chat entry: %+v", s.ChatLog[1]) }
}

func TestBettingGate(t *testing.T) {
	gate := &stubGate{required: true, payers: map[Color]string{White: "0xAAA"}}
	r := newTestReducer(t, Options{Gate: gate})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	if s.IsActive { t.Fatalf("bet room started before payment") }
	if out := r.Apply(s, Event{Kind: KindStartGame}); out.Changed { t.Fatalf("start before payment applied") }

	gate.ready = true
	if out := r.Apply(s, Event{Kind: KindStartGame}); !out.Started { t.Fatalf("start after payment: %+v", out) }
	play(t, r, s, "e2e4")
	black := Event{Kind: KindMove, PlayerID: "p2", Wallet: "0xBBB", From: "e7", To: "e5"}
	if out := r.Apply(s, black); out.Changed { t.Fatalf("unpaid black moved") }
	gate.payers[Black] = "0xbbb"
	if out := r.Apply(s, black); !out.Changed { t.Fatalf("paid black move rejected") }
}

func TestClone_Independent(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	r.Apply(s, Event{Kind: KindOfferDraw, PlayerID: "p1", Wallet: "0xAAA"})
	c := s.Clone()
	r.Apply(s, Event{Kind: KindRespondDraw, PlayerID: "p2", Wallet: "0xBBB"})
	s.Players[0].Connected = false
	if !c.DrawOffer.Offered || c.DrawOffer.By == nil || !c.Players[0].Connected { t.Fatalf("clone shares memory with state") }
}

func TestJoin_ReservedSeats(t *testing.T) {
	gate := &seatGate{stubGate: stubGate{required: true, ready: true, payers: map[Color]string{White: "0xAAA", Black: "0xBBB"}}, white: "0xaaa"}
	r := newTestReducer(t, Options{Gate: gate})
	s := NewState("room", "", 0)

	// the invitee arrives first and still gets black
	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p2", Wallet: "0xBBB"})
	if p := s.PlayerByColor(Black); p == nil || p.Wallet != "0xBBB" { t.Fatalf("invitee seat: %+v", s.Players) }
	if out := r.Apply(s, Event{Kind: KindJoin, PlayerID: "p3", Wallet: "0xCCC"}); out.Changed { t.Fatalf("stranger took white: %+v", s.Players) }

	r.Apply(s, Event{Kind: KindJoin, PlayerID: "p1", Wallet: "0xAAA"})
	if p := s.PlayerByColor(White); p == nil || p.Wallet != "0xAAA" { t.Fatalf("creator seat: %+v", s.Players) }
	if !s.IsActive { t.Fatalf("paid room did not start") }
	play(t, r, s, "e2e4", "e7e5")

	open := NewReducer(Options{Gate: &seatGate{}})
	s2 := NewState("room", "", 0)
	open.Apply(s2, Event{Kind: KindJoin, PlayerID: "p2", Wallet: "0xBBB"})
	if s2.Players[0].Color != White { t.Fatalf("unreserved room should seat by arrival") }
}

func TestMoveListFollowsGame(t *testing.T) {
	r := newTestReducer(t, Options{})
	s := NewState("room", "", 0)
	seatTwo(t, r, s)
	play(t, r, s, "e2e4", "g8f6")
	if strings.Join(s.Moves, " ") != "e2e4 g8f6" || strings.Join(s.SANs, " ") != "e4 Nf6" {
		t.Fatalf("moves %v sans %v", s.Moves, s.SANs)
	}
	c := s.Clone()
	c.Moves[0] = "xxxx"
	if s.Moves[0] != "e2e4" { t.Fatalf("clone shares the move list") }

	r.Apply(s, Event{Kind: KindResetGame, PlayerID: "p1", Wallet: "0xAAA"})
	if len(s.Moves) != 0 || len(s.SANs) != 0 { t.Fatalf("new game kept moves %v", s.Moves) }
}
