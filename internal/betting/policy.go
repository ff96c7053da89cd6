package betting

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/session"
)

// HasRequirement reports whether a room carries a bet, either configured
// locally or recorded on chain.
func HasRequirement(configured *big.Int, info *escrow.GameInfo) bool {
	if configured != nil && configured.Sign() > 0 {
		return true
	}
	return info != nil && info.BetAmount != nil && info.BetAmount.Sign() > 0
}

// BothPaid reports whether both seats are funded. An ACTIVE game counts as
// paid without looking at the addresses.
func BothPaid(info *escrow.GameInfo) bool {
	if info == nil {
		return false
	}
	if info.State == escrow.StateActive {
		return true
	}
	return info.WhitePlayer != (common.Address{}) && info.BlackPlayer != (common.Address{})
}

// PayerFor returns the on-chain address that funded color.
func PayerFor(info *escrow.GameInfo, color session.Color) common.Address {
	if info == nil {
		return common.Address{}
	}
	if color == session.Black {
		return info.BlackPlayer
	}
	return info.WhitePlayer
}

// SeatFor pins the escrow white player to white and everyone else to black.
// The white player is the funded game's, or creator before the game exists.
// ok is false while neither is known.
func SeatFor(info *escrow.GameInfo, creator common.Address, wallet string) (session.Color, bool) {
	white := creator
	if info != nil && info.WhitePlayer != (common.Address{}) {
		white = info.WhitePlayer
	}
	if white == (common.Address{}) {
		return "", false
	}
	if addr, ok := ParseWallet(wallet); ok && addr == white {
		return session.White, true
	}
	return session.Black, true
}

// ParseWallet turns a hex wallet string into an address.
func ParseWallet(wallet string) (common.Address, bool) {
	wallet = strings.TrimSpace(wallet)
	if !common.IsHexAddress(wallet) {
		return common.Address{}, false
	}
	return common.HexToAddress(wallet), true
}

// CanMove reports whether wallet may move color's pieces under the room's bet.
func CanMove(configured *big.Int, info *escrow.GameInfo, wallet string, color session.Color) bool {
	if !HasRequirement(configured, info) {
		return true
	}
	payer := PayerFor(info, color)
	if payer == (common.Address{}) {
		return false
	}
	addr, ok := ParseWallet(wallet)
	return ok && addr == payer
}

// ResultFor maps a finished session result to the contract enum. ok is false
// when the game has no result yet.
func ResultFor(r session.GameResult) (escrow.Result, bool) {
	if r.Type == session.ResultNone {
		return escrow.ResultNone, false
	}
	switch r.Winner {
	case session.WinnerWhite:
		return escrow.ResultWhiteWins, true
	case session.WinnerBlack:
		return escrow.ResultBlackWins, true
	default:
		return escrow.ResultDraw, true
	}
}

// ClaimKind is what a wallet can collect from a finished game.
type ClaimKind string

const (
	ClaimNone     ClaimKind = "none"
	ClaimWinnings ClaimKind = "winnings"
	ClaimRefund   ClaimKind = "refund"
)

// Claim is the eligibility of one wallet. Reason explains ClaimNone.
type Claim struct {
	Kind   ClaimKind
	Color  session.Color
	Reason error
}

// Eligible reports whether a claim can be sent.
func (c Claim) Eligible() bool { return c.Kind != ClaimNone }

// Eligibility decides what wallet can claim. It mirrors the contract's own
// canClaimWinnings/canClaimDrawRefund so the client can show the affordance
// without a round trip.
func Eligibility(info *escrow.GameInfo, wallet string) Claim {
	if info == nil {
		return Claim{Kind: ClaimNone, Reason: escrow.ErrGameNotFound}
	}
	if info.State != escrow.StateFinished {
		return Claim{Kind: ClaimNone, Reason: escrow.ErrNotFinished}
	}
	addr, ok := ParseWallet(wallet)
	if !ok {
		return Claim{Kind: ClaimNone, Reason: escrow.ErrNotPlayer}
	}
	var color session.Color
	var claimed bool
	switch addr {
	case info.WhitePlayer:
		color, claimed = session.White, info.WhiteClaimed
	case info.BlackPlayer:
		color, claimed = session.Black, info.BlackClaimed
	default:
		return Claim{Kind: ClaimNone, Reason: escrow.ErrNotPlayer}
	}

	kind := ClaimNone
	switch info.Result {
	case escrow.ResultDraw:
		kind = ClaimRefund
	case escrow.ResultWhiteWins:
		if color == session.White {
			kind = ClaimWinnings
		}
	case escrow.ResultBlackWins:
		if color == session.Black {
			kind = ClaimWinnings
		}
	}
	if kind == ClaimNone {
		return Claim{Kind: ClaimNone, Color: color, Reason: escrow.ErrNotWinner}
	}
	if claimed {
		return Claim{Kind: ClaimNone, Color: color, Reason: escrow.ErrAlreadyClaimed}
	}
	return Claim{Kind: kind, Color: color}
}

// ErrNothingToClaim is returned by Collect when Eligibility says no.
var ErrNothingToClaim = errors.New("betting: nothing to claim")
