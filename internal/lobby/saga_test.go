package lobby

import (
    "context"
    "errors"
    "testing"
    "time"

    "github.com/ethereum/go-ethereum/common"

    "github.com/park285/betchess/internal/escrow"
)

const creatorHex = "0x1111111111111111111111111111111111111111"

type chatLog struct{ sent []string }

func (c *chatLog) send(_ context.Context, msg string) error {
    c.sent = append(c.sent, msg)
    return nil
}

func TestRematchSagaCreatesFundedRoom(t *testing.T) {
    reg, _ := newTestRegistry(t)
    chain := escrow.NewMemory(common.HexToAddress("0xaa"))
    chat := &chatLog{}
    s := NewRematchSaga(SagaConfig{Rooms: reg, Escrow: chain, Send: chat.send})
    ctx := context.Background()

    inv, err := s.Run(ctx, RematchRequest{PrevRoom: "chess-old001", Creator: creatorHex, Bet: "0.5", GameTime: 300})
    if err != nil { t.Fatalf("Run: %v", err) }
    if st, _ := s.State(); st != SagaCreated { t.Fatalf("state=%s", st) }
    if len(chat.sent) != 1 || chat.sent[0] != inv.Encode() { t.Fatalf("chat: %v", chat.sent) }
    if inv.Bet != "0.5" || inv.GameTime != 300 { t.Fatalf("invitation %+v", inv) }

    meta, err := reg.Verify(ctx, inv.Room, inv.Password)
    if err != nil { t.Fatalf("Verify: %v", err) }
    if meta.RematchOf != "chess-old001" { t.Fatalf("rematch_of=%q", meta.RematchOf) }

    id, err := chain.GameIDByRoom(ctx, inv.Room)
    if err != nil { t.Fatalf("GameIDByRoom: %v", err) }
    info, err := chain.Game(ctx, id)
    if err != nil { t.Fatalf("Game: %v", err) }
    if info.State != escrow.StateWaiting || info.WhitePlayer != common.HexToAddress(creatorHex) {
        t.Fatalf("escrow game %+v", info)
    }

    select {
    case <-s.Done():
    default:
        t.Fatalf("Done not closed")
    }
    if _, err := s.Run(ctx, RematchRequest{Bet: "0"}); !errors.Is(err, ErrSagaUsed) { t.Fatalf("reuse: %v", err) }
}

func TestRematchSagaFreeWithoutRegistry(t *testing.T) {
    chat := &chatLog{}
    s := NewRematchSaga(SagaConfig{Send: chat.send})
    inv, err := s.Run(context.Background(), RematchRequest{PrevRoom: "r", Bet: ""})
    if err != nil { t.Fatalf("Run: %v", err) }
    if inv.Room == "" || inv.Password == "" || inv.Bet != "0" { t.Fatalf("invitation %+v", inv) }
    if got, ok := s.Invitation(); !ok || got != inv { t.Fatalf("Invitation(): %+v %v", got, ok) }
}

func TestRematchSagaFailsAndClosesRoom(t *testing.T) {
    reg, _ := newTestRegistry(t)
    boom := errors.New("socket closed")
    s := NewRematchSaga(SagaConfig{
        Rooms: reg,
        Send:  func(context.Context, string) error { return boom },
    })
    _, err := s.Run(context.Background(), RematchRequest{Creator: creatorHex, Bet: "0"})
    if !errors.Is(err, boom) { t.Fatalf("Run: %v", err) }
    st, cause := s.State()
    if st != SagaFailed || !errors.Is(cause, boom) { t.Fatalf("state=%s cause=%v", st, cause) }

    open, err := reg.ListOpen(context.Background())
    if err != nil { t.Fatalf("ListOpen: %v", err) }
    if len(open) != 0 { t.Fatalf("failed rematch left an open room: %+v", open) }
}

func TestRematchSagaBetNeedsEscrow(t *testing.T) {
    chat := &chatLog{}
    s := NewRematchSaga(SagaConfig{Send: chat.send})
    if _, err := s.Run(context.Background(), RematchRequest{Creator: creatorHex, Bet: "1"}); !errors.Is(err, ErrNoEscrow) {
        t.Fatalf("Run: %v", err)
    }
    if len(chat.sent) != 0 { t.Fatalf("invitation sent for unfunded room") }
}

func TestRematchSagaTimesOut(t *testing.T) {
    s := NewRematchSaga(SagaConfig{
        Timeout: 20 * time.Millisecond,
        Send: func(ctx context.Context, _ string) error {
            <-ctx.Done()
            return ctx.Err()
        },
    })
    start := time.Now()
    _, err := s.Run(context.Background(), RematchRequest{Bet: "0"})
    if !errors.Is(err, ErrSagaTimedOut) { t.Fatalf("Run: %v", err) }
    if time.Since(start) > 2*time.Second { t.Fatalf("timeout not enforced") }
    if st, _ := s.State(); st != SagaTimedOut || !st.Terminal() { t.Fatalf("state=%s", st) }
}
