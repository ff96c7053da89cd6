package rules

import (
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var (
	ecoOnce sync.Once
	ecoBook *opening.BookECO
)

// Opening names the ECO line reached by playing uciMoves from the start position.
// Empty strings are returned when no line matches or a move does not apply.
func Opening(uciMoves []string) (code, title string) {
	if len(uciMoves) == 0 {
		return "", ""
	}
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, raw := range uciMoves {
		mv, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			return "", ""
		}
		if err := game.Move(mv, nil); err != nil {
			return "", ""
		}
	}
	ecoOnce.Do(func() { ecoBook = opening.NewBookECO() })
	if ecoBook == nil {
		return "", ""
	}
	if o := ecoBook.Find(game.Moves()); o != nil {
		return o.Code(), o.Title()
	}
	return "", ""
}

// FENAfter replays uciMoves from the start position and returns the resulting FEN.
func FENAfter(uciMoves []string) (string, bool) {
	fen := StartFEN
	for _, mv := range uciMoves {
		p := ProposeUCI(fen, mv)
		if !p.Accepted {
			return "", false
		}
		fen = p.NewFEN
	}
	return fen, true
}

// Diagram draws the position as text, white at the bottom.
func Diagram(fen string) (string, bool) {
	game, err := load(fen)
	if err != nil {
		return "", false
	}
	return game.Position().Board().Draw(), true
}
