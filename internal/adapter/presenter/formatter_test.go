package presenter

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/client"
	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/rules"
	"github.com/park285/betchess/internal/session"
)

func activeState() *session.State {
	st := session.NewState("chess-abc123", "pw", 300)
	st.IsActive = true
	st.Players = []session.Player{
		{ID: "p1", Wallet: "0x1111111111111111111111111111111111111111", Color: session.White, Connected: true},
		{ID: "p2", Wallet: "0x2222222222222222222222222222222222222222", Color: session.Black, Connected: false},
	}
	st.Clocks = session.Clocks{White: 125, Black: 9}
	return st
}

func TestHeadline(t *testing.T) {
	f := NewFormatter(nil)
	st := activeState()
	me := &st.Players[0]
	if got := f.Headline(st, me, nil); got != "Your move" {
		t.Fatalf("white to move for white: %q", got)
	}
	if got := f.Headline(st, &st.Players[1], nil); got != "Opponent to move" {
		t.Fatalf("white to move for black: %q", got)
	}
	if got := f.Headline(st, nil, nil); got != "White to move" {
		t.Fatalf("spectator: %q", got)
	}

	waiting := session.NewState("r", "", 0)
	if got := f.Headline(waiting, nil, nil); !strings.Contains(got, "Waiting for an opponent") {
		t.Fatalf("waiting: %q", got)
	}
	waiting.Players = st.Players
	bet := &betting.Status{Required: true, Bet: "0.5"}
	if got := f.Headline(waiting, nil, bet); !strings.Contains(got, "0.5 ETH") {
		t.Fatalf("awaiting payment: %q", got)
	}

	st.IsActive = false
	st.GameResult = session.GameResult{Type: session.ResultTimeout, Winner: session.WinnerBlack}
	if got := f.Headline(st, me, nil); got != "Black wins on time" {
		t.Fatalf("ended: %q", got)
	}
}

func TestResultFallsBackToMessage(t *testing.T) {
	f := NewFormatter(nil)
	if got := f.Result(session.GameResult{Type: session.ResultAbandoned, Winner: session.WinnerWhite}); got != "Black resigned" {
		t.Fatalf("resign: %q", got)
	}
	if got := f.Result(session.GameResult{Type: session.ResultDraw, Winner: session.WinnerDraw}); got != "Draw agreed" {
		t.Fatalf("draw: %q", got)
	}
	if got := f.Result(session.GameResult{Type: "aborted", Message: "Room closed"}); got != "Room closed" {
		t.Fatalf("unknown type: %q", got)
	}
	if f.Result(session.GameResult{}) != "" {
		t.Fatalf("no result should render empty")
	}
}

func TestStatusAndBetting(t *testing.T) {
	f := NewFormatter(nil)
	st := activeState()
	by := session.Black
	st.DrawOffer = session.Offer{Offered: true, By: &by}
	bet := &betting.Status{Required: true, Bet: "1", GameID: "7", State: "ACTIVE", WhitePaid: true, BlackPaid: true, BothPaid: true}

	out := f.Status(st, &st.Players[0], bet)
	for _, want := range []string{
		"Room chess-abc123, game #1 (active)",
		"0x1111…1111 (you)",
		"[away]",
		"2:05",
		"0:09",
		"Black offers a draw",
		"white paid, black paid",
		"Your move",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}
	if got := f.Betting(betting.Status{}); got != "No bet" {
		t.Fatalf("no bet: %q", got)
	}
}

func TestUpdateLines(t *testing.T) {
	f := NewFormatter(nil)
	st := activeState()
	lines := f.Update(client.Update{
		State:      st,
		Moved:      true,
		Move:       &rules.Move{SAN: "Nf3", Color: "b"},
		Sound:      rules.SoundPlain,
		Invitation: &lobby.Invite{Invitation: lobby.Invitation{Room: "chess-next01", Bet: "0.5"}},
	})
	if len(lines) != 2 || lines[0] != "Black played Nf3 [move]" || !strings.Contains(lines[1], "chess-next01") {
		t.Fatalf("unexpected lines: %v", lines)
	}

	self := f.Update(client.Update{Moved: true, SelfOriginated: true, Move: &rules.Move{SAN: "e4", Color: "w"}, Sound: rules.SoundPlain})
	if len(self) != 1 || self[0] != "You played e4 [move]" {
		t.Fatalf("self move: %v", self)
	}
	gap := f.Update(client.Update{Moved: true})
	if len(gap) != 1 || gap[0] != "Position updated" {
		t.Fatalf("gap: %v", gap)
	}
}

func TestMovesAndClock(t *testing.T) {
	f := NewFormatter(nil)
	got := f.Moves([]string{"e4", "e5", "Nf3"}, 1)
	if got != "1. e4 [e5] 2. Nf3" {
		t.Fatalf("moves: %q", got)
	}
	if !strings.HasSuffix(f.Moves([]string{"e4"}, -1), "(start position)") {
		t.Fatalf("start marker missing")
	}
	if FormatClock(-3) != "0:00" || FormatClock(600) != "10:00" {
		t.Fatalf("clock formatting")
	}
	if f.Claim(betting.ClaimReceipt{Amount: big.NewInt(2e18)}) != "Claimed 2 ETH" {
		t.Fatalf("claim text")
	}
}

func TestPresenterBoard(t *testing.T) {
	var said []string
	var images int
	p := NewPresenter(
		func(m string) error {
			said = append(said, m)
			return nil
		},
		func(png []byte) error {
			images++
			return nil
		},
	)
	if err := p.Board("  ", []byte{1}); err != nil || len(said) != 0 || images != 1 {
		t.Fatalf("blank message should be skipped: %v %v %d", err, said, images)
	}
	if err := p.Lines([]string{"a", "", "b"}); err != nil || len(said) != 2 {
		t.Fatalf("lines: %v", said)
	}

	failing := NewPresenter(func(string) error { return errors.New("closed") }, nil)
	if err := failing.Board("hi", []byte{1}); err == nil {
		t.Fatalf("send error not returned")
	}
}
