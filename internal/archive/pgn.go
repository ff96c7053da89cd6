package archive

import (
    "fmt"
    "strings"
    "time"

    "github.com/park285/betchess/internal/room"
    "github.com/park285/betchess/internal/session"
)

// PGNResult maps a game result to the PGN result token.
func PGNResult(res session.GameResult) string {
    switch res.Winner {
    case session.WinnerWhite:
        return "1-0"
    case session.WinnerBlack:
        return "0-1"
    case session.WinnerDraw:
        return "1/2-1/2"
    }
    if res.Type == session.ResultDraw || res.Type == session.ResultStalemate { return "1/2-1/2" }
    return "*"
}

// BuildPGN renders a finished game with SAN move text.
func BuildPGN(t room.Terminal) string {
    var b strings.Builder
    date := t.EndedAt
    if date.IsZero() {
        date = time.Now()
    }
    result := PGNResult(t.Result)
    white, black := "?", "?"
    for _, p := range t.Players {
        name := p.Wallet
        if name == "" { name = p.ID }
        if p.Color == session.White { white = name } else { black = name }
    }

    b.WriteString("[Event \"Wager chess\"]\n")
    b.WriteString(fmt.Sprintf("[Site \"%s\"]\n", sanitizePGN(t.Room)))
    b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
    b.WriteString(fmt.Sprintf("[Round \"%d\"]\n", t.GameNumber))
    b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(white)))
    b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(black)))
    if t.Bet != "" {
        b.WriteString(fmt.Sprintf("[Stake \"%s ETH\"]\n", sanitizePGN(t.Bet)))
    }
    if t.Result.Type != session.ResultNone {
        b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(t.Result.Type))))
    }
    b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", result))

    for i := 0; i < len(t.SANs); i += 2 {
        b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(t.SANs[i])))
        if i+1 < len(t.SANs) {
            b.WriteString(" ")
            b.WriteString(strings.TrimSpace(t.SANs[i+1]))
        }
        b.WriteString(" ")
    }
    b.WriteString(result)
    return b.String()
}

func sanitizePGN(s string) string {
    s = strings.ReplaceAll(s, "\\", "")
    s = strings.ReplaceAll(s, "\"", "'")
    return strings.TrimSpace(s)
}
