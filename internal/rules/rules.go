package rules

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Flag names carried on a Proposal and on move descriptors.
const (
	FlagCapture         = "capture"
	FlagEnPassant       = "en_passant"
	FlagCastleKingside  = "castle_kingside"
	FlagCastleQueenside = "castle_queenside"
	FlagPromotion       = "promotion"
	FlagCheck           = "check"
)

// Proposal is the outcome of validating one move against a position.
// Only Accepted is meaningful when the move was rejected.
type Proposal struct {
	Accepted    bool
	NewFEN      string
	From        string
	To          string
	Promotion   string
	UCI         string
	SAN         string
	Captured    string
	Flags       []string
	IsCheck     bool
	IsCheckmate bool
	IsStalemate bool
	IsDraw      bool
	// Turn is the side to move after the move, "w" or "b".
	Turn string
}

// HasFlag reports whether the proposal carries the named flag.
func (p Proposal) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Move is a move recovered from two positions.
type Move struct {
	From      string
	To        string
	Promotion string
	UCI       string
	SAN       string
	Captured  string
	Flags     []string
	// Color is the side that made the move, "w" or "b".
	Color string
}

// ProposeMove validates from/to/promotion against fen on a throwaway game.
// A pawn reaching the last rank without a promotion piece promotes to a queen.
func ProposeMove(fen, from, to, promotion string) Proposal {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promotion = strings.ToLower(strings.TrimSpace(promotion))
	if !ValidSquare(from) || !ValidSquare(to) || !validPromotion(promotion) {
		return Proposal{}
	}
	game, err := load(fen)
	if err != nil {
		return Proposal{}
	}
	mv := findMove(game, from+to+promotion)
	if mv == nil && promotion == "" {
		mv = findMove(game, from+to+"q")
	}
	if mv == nil {
		return Proposal{}
	}
	return apply(game, mv)
}

// ProposeUCI is ProposeMove for a single UCI token such as "e7e8q".
func ProposeUCI(fen, uci string) Proposal {
	uci = strings.ToLower(strings.TrimSpace(uci))
	if len(uci) < 4 || len(uci) > 5 {
		return Proposal{}
	}
	return ProposeMove(fen, uci[0:2], uci[2:4], uci[4:])
}

// InferMove finds the legal move that turns prevFEN into nextFEN.
// Only the placement, side, castling and en passant fields are compared so
// that clock counters never hide a match.
func InferMove(prevFEN, nextFEN string) (Move, bool) {
	game, err := load(prevFEN)
	if err != nil {
		return Move{}, false
	}
	want := positionKey(nextFEN)
	if want == "" {
		return Move{}, false
	}
	mover := TurnOf(prevFEN)
	for _, candidate := range game.ValidMoves() {
		uci := candidate.String()
		g, err := load(prevFEN)
		if err != nil {
			return Move{}, false
		}
		mv := findMove(g, uci)
		if mv == nil {
			continue
		}
		p := apply(g, mv)
		if !p.Accepted || positionKey(p.NewFEN) != want {
			continue
		}
		return Move{
			From:      p.From,
			To:        p.To,
			Promotion: p.Promotion,
			UCI:       p.UCI,
			SAN:       p.SAN,
			Captured:  p.Captured,
			Flags:     p.Flags,
			Color:     mover,
		}, true
	}
	return Move{}, false
}

// LegalMoves lists every legal move of fen in UCI.
func LegalMoves(fen string) []string {
	game, err := load(fen)
	if err != nil {
		return nil
	}
	var out []string
	for _, mv := range game.ValidMoves() {
		out = append(out, mv.String())
	}
	return out
}

// TurnOf returns the side to move of fen, "w" or "b". Malformed input yields "w".
func TurnOf(fen string) string {
	parts := strings.Fields(fen)
	if len(parts) >= 2 && parts[1] == "b" {
		return "b"
	}
	return "w"
}

// ValidFEN reports whether fen parses as a position.
func ValidFEN(fen string) bool {
	_, err := load(fen)
	return err == nil
}

// ValidSquare reports whether s names a board square like "e4".
func ValidSquare(s string) bool {
	if len(s) != 2 {
		return false
	}
	return s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}

func validPromotion(p string) bool {
	switch p {
	case "", "q", "r", "b", "n":
		return true
	default:
		return false
	}
}

func load(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		fen = StartFEN
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return nchess.NewGame(opt), nil
}

// findMove resolves uci to the generated move so that tags are populated.
func findMove(game *nchess.Game, uci string) *nchess.Move {
	mv, err := nchess.UCINotation{}.Decode(game.Position(), uci)
	if err != nil || mv == nil {
		return nil
	}
	for _, legal := range game.ValidMoves() {
		if legal.String() == mv.String() {
			return mv
		}
	}
	return nil
}

func apply(game *nchess.Game, mv *nchess.Move) Proposal {
	pos := game.Position()
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	captured := capturedPiece(pos, mv)
	if err := game.Move(mv, nil); err != nil {
		return Proposal{}
	}
	uci := mv.String()
	p := Proposal{
		Accepted: true,
		NewFEN:   game.FEN(),
		From:     uci[0:2],
		To:       uci[2:4],
		UCI:      uci,
		SAN:      san,
		Captured: captured,
		Turn:     TurnOf(game.FEN()),
	}
	if len(uci) == 5 {
		p.Promotion = uci[4:]
	}
	if captured != "" {
		p.Flags = append(p.Flags, FlagCapture)
	}
	if mv.HasTag(nchess.EnPassant) {
		p.Flags = append(p.Flags, FlagEnPassant)
	}
	if mv.HasTag(nchess.KingSideCastle) {
		p.Flags = append(p.Flags, FlagCastleKingside)
	}
	if mv.HasTag(nchess.QueenSideCastle) {
		p.Flags = append(p.Flags, FlagCastleQueenside)
	}
	if p.Promotion != "" {
		p.Flags = append(p.Flags, FlagPromotion)
	}
	// SAN carries '+' or '#' whenever the opponent king is attacked.
	if mv.HasTag(nchess.Check) || strings.ContainsAny(san, "+#") {
		p.IsCheck = true
		p.Flags = append(p.Flags, FlagCheck)
	}
	switch game.Outcome() {
	case nchess.WhiteWon, nchess.BlackWon:
		p.IsCheckmate = game.Method() == nchess.Checkmate
	case nchess.Draw:
		if game.Method() == nchess.Stalemate {
			p.IsStalemate = true
		} else {
			p.IsDraw = true
		}
	}
	return p
}

func capturedPiece(pos *nchess.Position, mv *nchess.Move) string {
	sq := mv.S2()
	if mv.HasTag(nchess.EnPassant) {
		if pos.Turn() == nchess.White {
			sq = nchess.NewSquare(sq.File(), sq.Rank()-1)
		} else {
			sq = nchess.NewSquare(sq.File(), sq.Rank()+1)
		}
	}
	piece := pos.Board().Piece(sq)
	if piece == nchess.NoPiece {
		return ""
	}
	return pieceLetter(piece.Type())
}

func pieceLetter(pt nchess.PieceType) string {
	switch pt {
	case nchess.Pawn:
		return "p"
	case nchess.Knight:
		return "n"
	case nchess.Bishop:
		return "b"
	case nchess.Rook:
		return "r"
	case nchess.Queen:
		return "q"
	case nchess.King:
		return "k"
	default:
		return ""
	}
}

func positionKey(fen string) string {
	parts := strings.Fields(fen)
	if len(parts) < 4 {
		return ""
	}
	return strings.Join(parts[:4], " ")
}
