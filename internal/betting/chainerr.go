package betting

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/msgcat"
)

// ChainErrorKey classifies a chain call failure into a catalog key.
func ChainErrorKey(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, escrow.ErrWrongNetwork):
		return "chain.wrong_network"
	case errors.Is(err, escrow.ErrAlreadyClaimed):
		return "chain.already_claimed"
	case errors.Is(err, escrow.ErrNotWinner):
		return "chain.not_winner"
	case errors.Is(err, escrow.ErrNotFinished):
		return "chain.not_finished"
	case errors.Is(err, escrow.ErrNotDraw):
		return "chain.not_draw"
	case errors.Is(err, escrow.ErrTxReverted):
		return "chain.reverted"
	case errors.Is(err, context.DeadlineExceeded):
		return "chain.timeout"
	}
	// node and wallet errors arrive as text
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"), strings.Contains(msg, "user denied"), strings.Contains(msg, "rejected by user"):
		return "chain.rejected"
	case strings.Contains(msg, "insufficient funds"):
		return "chain.insufficient_funds"
	case strings.Contains(msg, "already claimed"):
		return "chain.already_claimed"
	case strings.Contains(msg, "not the winner"), strings.Contains(msg, "not winner"):
		return "chain.not_winner"
	case strings.Contains(msg, "not finished"):
		return "chain.not_finished"
	case strings.Contains(msg, "chain id"), strings.Contains(msg, "wrong network"):
		return "chain.wrong_network"
	case strings.Contains(msg, "execution reverted"):
		return "chain.reverted"
	}
	return "chain.unknown"
}

// DescribeChainError renders err as user-facing text. chainID fills the
// wrong-network hint.
func DescribeChainError(cat *msgcat.Catalog, err error, chainID int64) string {
	if err == nil {
		return ""
	}
	if cat == nil {
		cat = msgcat.Default()
	}
	key := ChainErrorKey(err)
	return cat.Text(key, map[string]any{"ChainID": chainID, "Detail": err.Error()})
}
