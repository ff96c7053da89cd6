package archive

import (
    "strings"
    "testing"
    "time"

    "github.com/park285/betchess/internal/room"
    "github.com/park285/betchess/internal/session"
)

func scholarsMate() room.Terminal {
    return room.Terminal{
        Room:       "chess-abc123",
        GameNumber: 2,
        Result:     session.GameResult{Type: session.ResultCheckmate, Winner: session.WinnerWhite, Message: "White wins"},
        Players: []session.Player{
            {ID: "p1", Wallet: "0xAAA", Color: session.White},
            {ID: "p2", Wallet: "0xBBB", Color: session.Black},
        },
        Moves:     []string{"e2e4", "e7e5", "d1h5", "b8c6", "f1c4", "g8f6", "h5f7"},
        SANs:      []string{"e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#"},
        Bet:       "0.5",
        StartedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
        EndedAt:   time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
    }
}

func TestBuildPGN(t *testing.T) {
    pgn := BuildPGN(scholarsMate())
    for _, want := range []string{
        `[Date "2026.03.01"]`,
        `[Round "2"]`,
        `[White "0xAAA"]`,
        `[Stake "0.5 ETH"]`,
        `[Termination "checkmate"]`,
        `[Result "1-0"]`,
        "1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0",
    } {
        if !strings.Contains(pgn, want) {
            t.Fatalf("pgn missing %q:\n%s", want, pgn)
        }
    }
}

func TestPGNResult(t *testing.T) {
    cases := []struct {
        res  session.GameResult
        want string
    }{
        {session.GameResult{Type: session.ResultTimeout, Winner: session.WinnerBlack}, "0-1"},
        {session.GameResult{Type: session.ResultAbandoned, Winner: session.WinnerWhite}, "1-0"},
        {session.GameResult{Type: session.ResultStalemate}, "1/2-1/2"},
        {session.GameResult{Type: session.ResultDraw, Winner: session.WinnerDraw}, "1/2-1/2"},
        {session.GameResult{}, "*"},
    }
    for _, c := range cases {
        if got := PGNResult(c.res); got != c.want {
            t.Fatalf("PGNResult(%+v) = %s, want %s", c.res, got, c.want)
        }
    }
    if GameKey(" room-1 ", 3) != "room-1#3" {
        t.Fatalf("GameKey trim")
    }
}
