package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/park285/betchess/internal/betting"
	"github.com/park285/betchess/internal/history"
	"github.com/park285/betchess/internal/lobby"
	"github.com/park285/betchess/internal/rules"
	"github.com/park285/betchess/internal/session"
)

const (
	walletA = "0x00000000000000000000000000000000000000aa"
	walletB = "0x00000000000000000000000000000000000000bb"
)

// table drives a reducer the way a room would and hands out snapshots.
type table struct {
	t *testing.T
	r *session.Reducer
	s *session.State
}

func newTable(t *testing.T) *table {
	t.Helper()
	seq := 0
	r := session.NewReducer(session.Options{
		Rematch: true,
		Now:     func() time.Time { return time.Unix(1_700_000_000, 0) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	return &table{t: t, r: r, s: session.NewState("room-1", "pw", 300)}
}

func (tb *table) apply(ev session.Event) *session.State {
	tb.t.Helper()
	if out := tb.r.Apply(tb.s, ev); !out.Changed {
		tb.t.Fatalf("event %s rejected", ev.Kind)
	}
	return tb.s.Clone()
}

func (tb *table) seat() *session.State {
	tb.apply(session.Event{Kind: session.KindJoin, PlayerID: "pa", Wallet: walletA})
	return tb.apply(session.Event{Kind: session.KindJoin, PlayerID: "pb", Wallet: walletB})
}

func (tb *table) move(uci string) *session.State {
	tb.t.Helper()
	p := tb.s.PlayerByColor(session.ColorOfTurn(tb.s.Turn))
	return tb.apply(session.Event{Kind: session.KindMove, PlayerID: p.ID, Wallet: p.Wallet, From: uci[0:2], To: uci[2:4], Promotion: uci[4:]})
}

func TestViewRecoversMovesAndSounds(t *testing.T) {
	ctx := context.Background()
	tb := newTable(t)
	v := NewView(walletA, "pa", history.NewMemoryStore())
	if u := v.Apply(ctx, tb.seat()); u.Moved || !u.State.IsActive {
		t.Fatalf("first snapshot %+v", u)
	}

	u := v.Apply(ctx, tb.move("e2e4"))
	if !u.Moved || u.Move == nil || u.Move.UCI != "e2e4" || !u.SelfOriginated || u.Sound != rules.SoundPlain {
		t.Fatalf("own move %+v", u)
	}

	// a snapshot without a move descriptor is reverse-engineered
	snap := tb.move("d7d5")
	snap.LastMove = nil
	u = v.Apply(ctx, snap)
	if u.Move == nil || u.Move.SAN != "d5" || u.SelfOriginated {
		t.Fatalf("inferred move %+v", u.Move)
	}

	u = v.Apply(ctx, tb.move("e4d5"))
	if u.Sound != rules.SoundCapture || u.Move.Captured != "p" {
		t.Fatalf("capture %+v sound=%s", u.Move, u.Sound)
	}

	sans, idx := v.Moves()
	if len(sans) != 3 || sans[2] != "exd5" || idx != 2 {
		t.Fatalf("history %v idx=%d", sans, idx)
	}
	i, fen, err := v.Navigate(ctx, StepFirst)
	if err != nil || i != -1 || fen != rules.StartFEN {
		t.Fatalf("first: %d %q %v", i, fen, err)
	}
	if i, _, _ := v.Navigate(ctx, StepNext); i != 0 {
		t.Fatalf("next: %d", i)
	}
	// browsing survives a new move
	v.Apply(ctx, tb.move("d8d5"))
	if sans, idx := v.Moves(); len(sans) != 4 || idx != 0 {
		t.Fatalf("after move while browsing %v idx=%d", sans, idx)
	}
	if i, _, _ := v.Navigate(ctx, StepLast); i != 3 {
		t.Fatalf("last: %d", i)
	}
}

func TestViewGapWithoutRecovery(t *testing.T) {
	ctx := context.Background()
	tb := newTable(t)
	v := NewView(walletB, "pb", nil)
	v.Apply(ctx, tb.seat())
	tb.move("e2e4")
	snap := tb.move("e7e5")
	snap.LastMove = nil
	u := v.Apply(ctx, snap)
	if !u.Moved || u.Move != nil || u.Sound != rules.SoundPlain {
		t.Fatalf("two moves in one snapshot: %+v", u)
	}
	if _, _, err := v.Navigate(ctx, StepFirst); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("navigate without store: %v", err)
	}
}

func TestViewHistoryFollowsSkippedSnapshots(t *testing.T) {
	ctx := context.Background()
	tb := newTable(t)
	v := NewView(walletB, "pb", history.NewMemoryStore())
	v.Apply(ctx, tb.seat())
	v.Apply(ctx, tb.move("e2e4"))
	tb.move("e7e5") // never delivered
	if u := v.Apply(ctx, tb.move("g1f3")); u.Move != nil {
		t.Fatalf("recovered across a gap: %+v", u.Move)
	}
	v.Apply(ctx, tb.move("b8c6"))

	sans, idx := v.Moves()
	if want := []string{"e4", "e5", "Nf3", "Nc6"}; fmt.Sprint(sans) != fmt.Sprint(want) || idx != 3 {
		t.Fatalf("history %v idx=%d, want %v", sans, idx, want)
	}
	if _, fen, err := v.Navigate(ctx, StepLast); err != nil || fen != tb.s.FEN {
		t.Fatalf("last position %q, live %q: %v", fen, tb.s.FEN, err)
	}

	// a viewer arriving mid-game starts with the full list
	late := NewView(walletA, "pa", history.NewMemoryStore())
	late.Apply(ctx, tb.s.Clone())
	if sans, idx := late.Moves(); len(sans) != 4 || idx != 3 {
		t.Fatalf("late joiner history %v idx=%d", sans, idx)
	}
	if i, fen, err := late.Navigate(ctx, StepPrev); err != nil || i != 2 || fen == tb.s.FEN {
		t.Fatalf("late joiner prev: %d %q %v", i, fen, err)
	}
}

func TestViewEndAndRematchResetHistory(t *testing.T) {
	ctx := context.Background()
	tb := newTable(t)
	v := NewView(walletA, "pa", history.NewMemoryStore())
	v.Apply(ctx, tb.seat())
	v.Apply(ctx, tb.move("e2e4"))

	u := v.Apply(ctx, tb.apply(session.Event{Kind: session.KindResign, PlayerID: "pb", Wallet: walletB}))
	if !u.Ended || u.State.GameResult.Type != session.ResultAbandoned {
		t.Fatalf("resign %+v", u.State.GameResult)
	}
	u = v.Apply(ctx, tb.apply(session.Event{Kind: session.KindRequestRematch, PlayerID: "pb", Wallet: walletB}))
	if !u.RematchOffered || u.Ended {
		t.Fatalf("rematch offer %+v", u)
	}
	u = v.Apply(ctx, tb.apply(session.Event{Kind: session.KindRespondRematch, PlayerID: "pa", Wallet: walletA, Accepted: true}))
	if !u.NewGame || u.Moved || u.State.GameNumber != 2 {
		t.Fatalf("new game %+v", u)
	}
	if sans, idx := v.Moves(); len(sans) != 0 || idx != -1 {
		t.Fatalf("history not reset: %v %d", sans, idx)
	}
	// colors swapped; black's first move is now the opponent's
	u = v.Apply(ctx, tb.move("e2e4"))
	if u.SelfOriginated {
		t.Fatalf("opponent move marked as own")
	}
}

func TestViewOffersInvitationsAndChat(t *testing.T) {
	ctx := context.Background()
	tb := newTable(t)
	a := NewView(walletA, "pa", nil)
	b := NewView(walletB, "pb", nil)
	s := tb.seat()
	a.Apply(ctx, s)
	b.Apply(ctx, s)

	s = tb.apply(session.Event{Kind: session.KindOfferDraw, PlayerID: "pb", Wallet: walletB})
	if !a.Apply(ctx, s).DrawOffered || b.Apply(ctx, s).DrawOffered {
		t.Fatalf("draw offer should reach only the opponent")
	}

	inv := lobby.Invitation{Room: "chess-new123", Password: "PW", Bet: "0.1", GameTime: 300}
	tb.apply(session.Event{Kind: session.KindChat, PlayerID: "pb", Wallet: walletB, Message: "gg"})
	s = tb.apply(session.Event{Kind: session.KindChat, PlayerID: "pb", Wallet: walletB, Message: inv.Encode()})

	u := a.Apply(ctx, s)
	if u.Invitation == nil || u.Invitation.Invitation != inv || u.Invitation.From != walletB {
		t.Fatalf("invitation %+v", u.Invitation)
	}
	if again := a.Apply(ctx, s); again.Invitation != nil {
		t.Fatalf("invitation surfaced twice")
	}
	if ub := b.Apply(ctx, s); ub.Invitation != nil {
		t.Fatalf("sender saw its own invitation")
	}
	for _, v := range []*View{a, b} {
		chat := v.VisibleChat()
		if len(chat) != 1 || chat[0].Message != "gg" {
			t.Fatalf("visible chat %+v", chat)
		}
	}
	if p, ok := a.Invites().Pending(walletA); !ok || p.Invitation.Room != "chess-new123" {
		t.Fatalf("pending invite %+v", p)
	}
}

func TestViewNeedsRejoin(t *testing.T) {
	ctx := context.Background()
	tb := newTable(t)
	v := NewView(walletA, "pa", nil)

	// not yet seated: nothing to rejoin
	if u := v.Apply(ctx, tb.apply(session.Event{Kind: session.KindJoin, PlayerID: "pb", Wallet: walletB})); u.NeedsRejoin {
		t.Fatalf("rejoin before joining")
	}
	if u := v.Apply(ctx, tb.apply(session.Event{Kind: session.KindJoin, PlayerID: "pa", Wallet: walletA})); u.NeedsRejoin || !u.State.IsActive {
		t.Fatalf("seated %+v", u)
	}
	u := v.Apply(ctx, tb.apply(session.Event{Kind: session.KindLeave, PlayerID: "pa", Wallet: walletA}))
	if !u.NeedsRejoin {
		t.Fatalf("dropped player should rejoin")
	}
	if u := v.Apply(ctx, tb.apply(session.Event{Kind: session.KindJoin, PlayerID: "pa", Wallet: walletA})); u.NeedsRejoin {
		t.Fatalf("still rejoining after join")
	}
}

func TestPrepareMove(t *testing.T) {
	ctx := context.Background()
	tb := newTable(t)
	v := NewView(walletA, "pa", nil)

	if _, _, err := v.PrepareMove("e2", "e4", ""); !errors.Is(err, ErrNotActive) {
		t.Fatalf("before any snapshot: %v", err)
	}
	v.Apply(ctx, tb.seat())

	ev, p, err := v.PrepareMove("e2", "e4", "")
	if err != nil || ev.Kind != session.KindMove || ev.Wallet != walletA || ev.From != "e2" || p.SAN != "e4" {
		t.Fatalf("legal move: %+v %+v %v", ev, p, err)
	}
	if _, _, err := v.PrepareMove("e2", "e5", ""); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("illegal: %v", err)
	}

	v.SetBetting(betting.Status{Required: true, WhitePlayer: walletB})
	if _, _, err := v.PrepareMove("e2", "e4", ""); !errors.Is(err, ErrPaymentPending) {
		t.Fatalf("unpaid: %v", err)
	}
	v.SetBetting(betting.Status{Required: true, BothPaid: true, WhitePlayer: "0x00000000000000000000000000000000000000AA", BlackPlayer: walletB})
	if _, _, err := v.PrepareMove("e2", "e4", ""); err != nil {
		t.Fatalf("paid: %v", err)
	}

	v.Apply(ctx, tb.move("e2e4"))
	if _, _, err := v.PrepareMove("d2", "d4", ""); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("out of turn: %v", err)
	}

	spectator := NewView("0x00000000000000000000000000000000000000cc", "pc", nil)
	spectator.Apply(ctx, tb.s.Clone())
	if _, _, err := spectator.PrepareMove("e7", "e5", ""); !errors.Is(err, ErrNotSeated) {
		t.Fatalf("spectator: %v", err)
	}
}
