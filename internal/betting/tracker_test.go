package betting

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/session"
)

func fixedReducer(gate session.PaymentGate) *session.Reducer {
	n := 0
	return session.NewReducer(session.Options{
		Gate: gate,
		Now:  func() time.Time { return time.Unix(1_700_000_000, 0) },
		NewID: func() string {
			n++
			return "id" + string(rune('0'+n))
		},
	})
}

// bet room: black's moves are refused until black's payment lands on chain
func TestTrackerGatesStartAndMoves(t *testing.T) {
	ctx := context.Background()
	m := escrow.NewMemory(ownerAddr)
	room := "chess-bet001"

	var paid int32
	tr := NewTracker(m, TrackerConfig{Room: room, Bet: oneEther, OnBothPaid: func() { atomic.AddInt32(&paid, 1) }})
	r := fixedReducer(tr)
	s := session.NewState(room, "pw", 0)

	_, err := m.CreateGame(ctx, whiteAddr, room, oneEther)
	require.NoError(t, err)
	require.NoError(t, tr.Refresh(ctx))
	assert.True(t, tr.Required())
	assert.False(t, tr.Ready())

	r.Apply(s, session.Event{Kind: session.KindJoin, PlayerID: "p1", Wallet: whiteAddr.Hex()})
	r.Apply(s, session.Event{Kind: session.KindJoin, PlayerID: "p2", Wallet: blackAddr.Hex()})
	assert.False(t, s.IsActive, "started before black paid")
	assert.False(t, tr.CanMove(blackAddr.Hex(), session.Black))

	_, err = m.JoinGameByRoom(ctx, blackAddr, room, oneEther)
	require.NoError(t, err)
	require.NoError(t, tr.Refresh(ctx))
	require.NoError(t, tr.Refresh(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&paid), "OnBothPaid fires once")

	out := r.Apply(s, session.Event{Kind: session.KindStartGame})
	require.True(t, out.Started)

	out = r.Apply(s, session.Event{Kind: session.KindMove, PlayerID: "p1", Wallet: whiteAddr.Hex(), From: "e2", To: "e4"})
	require.True(t, out.Changed)
	out = r.Apply(s, session.Event{Kind: session.KindMove, PlayerID: "p2", Wallet: blackAddr.Hex(), From: "e7", To: "e5"})
	assert.True(t, out.Changed, "paid black can move")

	st := tr.Status()
	assert.True(t, st.BothPaid)
	assert.Equal(t, "ACTIVE", st.State)
	assert.Equal(t, "1", st.Bet)
}

// with a game active on chain but black unseated in the cache, the
// address check still refuses black
func TestTrackerMoveNeedsRecognizedPayer(t *testing.T) {
	tr := NewTracker(nil, TrackerConfig{Room: "r", Bet: oneEther})
	tr.info = &escrow.GameInfo{State: escrow.StateActive, BetAmount: oneEther, WhitePlayer: whiteAddr}
	assert.True(t, tr.Ready())
	assert.True(t, tr.CanMove(whiteAddr.Hex(), session.White))
	assert.False(t, tr.CanMove(blackAddr.Hex(), session.Black))
}

func TestTrackerNoGameYetIsNotAnError(t *testing.T) {
	m := escrow.NewMemory(ownerAddr)
	tr := NewTracker(m, TrackerConfig{Room: "nothing-here"})
	require.NoError(t, tr.Refresh(context.Background()))
	assert.Nil(t, tr.Info())
	assert.False(t, tr.Required())
	assert.Equal(t, "", tr.Status().Error)
}

func TestTrackerRunFollowsEventsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := escrow.NewMemory(ownerAddr)
	room := "chess-evt001"
	_, err := m.CreateGame(ctx, whiteAddr, room, oneEther)
	require.NoError(t, err)

	events := make(chan escrow.Event, 1)
	changes := make(chan Status, 16)
	tr := NewTracker(m, TrackerConfig{
		Room:        room,
		Bet:         oneEther,
		PaymentPoll: time.Hour,
		FinishPoll:  time.Hour,
		Events:      events,
		OnChange:    func(s Status) { changes <- s },
	})
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return tr.Status().State == "WAITING" }, 2*time.Second, 5*time.Millisecond)

	_, err = m.JoinGameByRoom(ctx, blackAddr, room, oneEther)
	require.NoError(t, err)
	events <- escrow.Event{Name: escrow.EventGameJoined}
	require.Eventually(t, func() bool { return tr.Status().BothPaid }, 2*time.Second, 5*time.Millisecond)

	id, err := m.GameIDByRoom(ctx, room)
	require.NoError(t, err)
	_, err = m.FinishGame(ctx, ownerAddr, id, escrow.ResultWhiteWins)
	require.NoError(t, err)
	_, err = m.ClaimWinnings(ctx, whiteAddr, id)
	require.NoError(t, err)
	tr.Nudge()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tracker kept running after the pot was collected")
	}
	assert.True(t, tr.Status().WhiteClaimed)
	assert.NotEmpty(t, changes)
}

func TestTrackerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := NewTracker(escrow.NewMemory(ownerAddr), TrackerConfig{Room: "r", PaymentPoll: time.Hour})
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run ignored cancel")
	}
}

// the funder plays white no matter who reaches the room first
func TestTrackerSeatsFunderWhite(t *testing.T) {
	ctx := context.Background()
	m := escrow.NewMemory(ownerAddr)
	room := "chess-bet002"

	early := NewTracker(m, TrackerConfig{Room: room, Bet: oneEther, Creator: whiteAddr})
	require.NoError(t, early.Refresh(ctx))
	c, ok := early.ReservedColor(blackAddr.Hex())
	assert.True(t, ok)
	assert.Equal(t, session.Black, c)
	c, ok = early.ReservedColor(whiteAddr.Hex())
	assert.True(t, ok)
	assert.Equal(t, session.White, c)

	tr := NewTracker(m, TrackerConfig{Room: room, Bet: oneEther})
	_, ok = tr.ReservedColor(whiteAddr.Hex())
	assert.False(t, ok, "no creator and no game yet")

	_, err := m.CreateGame(ctx, whiteAddr, room, oneEther)
	require.NoError(t, err)
	require.NoError(t, tr.Refresh(ctx))

	r := fixedReducer(tr)
	s := session.NewState(room, "pw", 0)
	r.Apply(s, session.Event{Kind: session.KindJoin, PlayerID: "p2", Wallet: blackAddr.Hex()})
	r.Apply(s, session.Event{Kind: session.KindJoin, PlayerID: "p1", Wallet: whiteAddr.Hex()})
	require.NotNil(t, s.PlayerByColor(session.White))
	assert.Equal(t, whiteAddr.Hex(), s.PlayerByColor(session.White).Wallet)

	_, err = m.JoinGameByRoom(ctx, blackAddr, room, oneEther)
	require.NoError(t, err)
	require.NoError(t, tr.Refresh(ctx))
	require.True(t, r.Apply(s, session.Event{Kind: session.KindStartGame}).Started)

	out := r.Apply(s, session.Event{Kind: session.KindMove, PlayerID: "p1", Wallet: whiteAddr.Hex(), From: "e2", To: "e4"})
	assert.True(t, out.Changed, "white's first move")
}
