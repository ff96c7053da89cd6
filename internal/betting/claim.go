package betting

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/obslog"
)

// ClaimReceipt is a successful claim.
type ClaimReceipt struct {
	Kind   ClaimKind
	Amount *big.Int
	Tx     escrow.TxRef
}

// Collect claims whatever wallet is owed from game id. Eligibility is read
// fresh from chain; the cached view may be stale.
func Collect(ctx context.Context, c escrow.Contract, id *big.Int, wallet string) (ClaimReceipt, error) {
	info, err := c.Game(ctx, id)
	if err != nil {
		return ClaimReceipt{}, err
	}
	cl := Eligibility(info, wallet)
	if !cl.Eligible() {
		return ClaimReceipt{}, fmt.Errorf("%w: %w", ErrNothingToClaim, cl.Reason)
	}
	from, _ := ParseWallet(wallet)

	var (
		amount *big.Int
		ref    escrow.TxRef
	)
	switch cl.Kind {
	case ClaimWinnings:
		if amount, err = c.CalculateWinnings(ctx, id); err != nil {
			return ClaimReceipt{}, err
		}
		ref, err = c.ClaimWinnings(ctx, from, id)
	default:
		if amount, err = c.CalculateDrawRefund(ctx, id); err != nil {
			return ClaimReceipt{}, err
		}
		ref, err = c.ClaimDrawRefund(ctx, from, id)
	}
	if err != nil {
		return ClaimReceipt{}, err
	}
	obslog.L().Info("claim_sent",
		zap.String("game_id", id.String()),
		zap.String("kind", string(cl.Kind)),
		zap.String("amount", FormatEther(amount)),
		zap.String("tx", ref.Hash.Hex()))
	return ClaimReceipt{Kind: cl.Kind, Amount: amount, Tx: ref}, nil
}
