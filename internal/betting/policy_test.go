package betting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/betchess/internal/escrow"
	"github.com/park285/betchess/internal/msgcat"
	"github.com/park285/betchess/internal/session"
)

var (
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	whiteAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	blackAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	oneEther  = big.NewInt(1_000_000_000_000_000_000)
)

func TestHasRequirement(t *testing.T) {
	cases := []struct {
		name       string
		configured *big.Int
		info       *escrow.GameInfo
		want       bool
	}{
		{"nothing", nil, nil, false},
		{"zero configured", big.NewInt(0), nil, false},
		{"configured", oneEther, nil, true},
		{"on chain only", nil, &escrow.GameInfo{BetAmount: oneEther}, true},
		{"on chain zero", big.NewInt(0), &escrow.GameInfo{BetAmount: big.NewInt(0)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasRequirement(tc.configured, tc.info))
		})
	}
}

func TestBothPaid(t *testing.T) {
	assert.False(t, BothPaid(nil))
	assert.False(t, BothPaid(&escrow.GameInfo{WhitePlayer: whiteAddr}))
	assert.True(t, BothPaid(&escrow.GameInfo{WhitePlayer: whiteAddr, BlackPlayer: blackAddr}))
	// ACTIVE is trusted even when the addresses are not populated
	assert.True(t, BothPaid(&escrow.GameInfo{State: escrow.StateActive}))
}

func TestCanMove(t *testing.T) {
	waiting := &escrow.GameInfo{BetAmount: oneEther, WhitePlayer: whiteAddr}
	assert.True(t, CanMove(nil, nil, "", session.Black), "free room")
	assert.True(t, CanMove(oneEther, waiting, whiteAddr.Hex(), session.White))
	assert.False(t, CanMove(oneEther, waiting, blackAddr.Hex(), session.Black), "black has not paid")
	assert.False(t, CanMove(oneEther, waiting, blackAddr.Hex(), session.White), "wrong payer")
	assert.False(t, CanMove(oneEther, waiting, "not-a-wallet", session.White))

	paid := &escrow.GameInfo{BetAmount: oneEther, WhitePlayer: whiteAddr, BlackPlayer: blackAddr}
	assert.True(t, CanMove(oneEther, paid, "0x2222222222222222222222222222222222222222", session.Black))
}

func TestResultFor(t *testing.T) {
	_, ok := ResultFor(session.GameResult{})
	assert.False(t, ok)

	r, ok := ResultFor(session.GameResult{Type: session.ResultCheckmate, Winner: session.WinnerWhite})
	assert.True(t, ok)
	assert.Equal(t, escrow.ResultWhiteWins, r)
	assert.Equal(t, uint8(1), uint8(r))

	r, _ = ResultFor(session.GameResult{Type: session.ResultTimeout, Winner: session.WinnerBlack})
	assert.Equal(t, uint8(2), uint8(r))

	r, _ = ResultFor(session.GameResult{Type: session.ResultStalemate, Winner: session.WinnerDraw})
	assert.Equal(t, uint8(3), uint8(r))
}

func TestEligibility(t *testing.T) {
	won := &escrow.GameInfo{
		State: escrow.StateFinished, Result: escrow.ResultWhiteWins,
		WhitePlayer: whiteAddr, BlackPlayer: blackAddr, BetAmount: oneEther,
	}
	assert.Equal(t, ClaimWinnings, Eligibility(won, whiteAddr.Hex()).Kind)

	c := Eligibility(won, blackAddr.Hex())
	assert.False(t, c.Eligible())
	assert.ErrorIs(t, c.Reason, escrow.ErrNotWinner)

	c = Eligibility(won, "0x3333333333333333333333333333333333333333")
	assert.ErrorIs(t, c.Reason, escrow.ErrNotPlayer)

	won.WhiteClaimed = true
	c = Eligibility(won, whiteAddr.Hex())
	assert.ErrorIs(t, c.Reason, escrow.ErrAlreadyClaimed)

	active := &escrow.GameInfo{State: escrow.StateActive, WhitePlayer: whiteAddr, BlackPlayer: blackAddr}
	assert.ErrorIs(t, Eligibility(active, whiteAddr.Hex()).Reason, escrow.ErrNotFinished)

	draw := &escrow.GameInfo{
		State: escrow.StateFinished, Result: escrow.ResultDraw,
		WhitePlayer: whiteAddr, BlackPlayer: blackAddr, BlackClaimed: true,
	}
	assert.Equal(t, ClaimRefund, Eligibility(draw, whiteAddr.Hex()).Kind)
	assert.ErrorIs(t, Eligibility(draw, blackAddr.Hex()).Reason, escrow.ErrAlreadyClaimed)
}

// finished bet game won by white: one claim each way
func TestCollectWinnerOnce(t *testing.T) {
	ctx := context.Background()
	m := escrow.NewMemory(ownerAddr)
	_, err := m.CreateGame(ctx, whiteAddr, "chess-aaaaaa", oneEther)
	require.NoError(t, err)
	_, err = m.JoinGameByRoom(ctx, blackAddr, "chess-aaaaaa", oneEther)
	require.NoError(t, err)
	id, err := m.GameIDByRoom(ctx, "chess-aaaaaa")
	require.NoError(t, err)
	_, err = m.FinishGame(ctx, ownerAddr, id, escrow.ResultWhiteWins)
	require.NoError(t, err)

	rc, err := Collect(ctx, m, id, whiteAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, ClaimWinnings, rc.Kind)
	assert.Zero(t, rc.Amount.Cmp(new(big.Int).Mul(oneEther, big.NewInt(2))))

	info, err := m.Game(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.WhiteClaimed)

	_, err = Collect(ctx, m, id, whiteAddr.Hex())
	assert.ErrorIs(t, err, escrow.ErrAlreadyClaimed)
	assert.ErrorIs(t, err, ErrNothingToClaim)

	_, err = Collect(ctx, m, id, blackAddr.Hex())
	assert.ErrorIs(t, err, escrow.ErrNotWinner)

	// the contract agrees when called directly
	_, err = m.ClaimWinnings(ctx, whiteAddr, id)
	assert.ErrorIs(t, err, escrow.ErrAlreadyClaimed)
	_, err = m.ClaimWinnings(ctx, blackAddr, id)
	assert.ErrorIs(t, err, escrow.ErrNotWinner)
}

func TestParseEther(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"1", "1000000000000000000"},
		{"0.05", "50000000000000000"},
		{".5", "500000000000000000"},
		{"2.", "2000000000000000000"},
		{"0.000000000000000001", "1"},
	}
	for _, tc := range cases {
		got, err := ParseEther(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}
	for _, bad := range []string{".", "-1", "1e18", "abc", "0.0000000000000000001", "1.2.3"} {
		_, err := ParseEther(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestFormatEther(t *testing.T) {
	assert.Equal(t, "0", FormatEther(nil))
	assert.Equal(t, "1", FormatEther(oneEther))
	assert.Equal(t, "0.05", FormatEther(big.NewInt(50_000_000_000_000_000)))
	assert.Equal(t, "2.5", FormatEther(big.NewInt(2_500_000_000_000_000_000)))
	assert.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	for _, s := range []string{"0.1", "12.345", "3"} {
		wei, err := ParseEther(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatEther(wei))
	}
}

func TestDescribeChainError(t *testing.T) {
	cat := msgcat.Default()
	cases := []struct {
		err error
		key string
	}{
		{fmt.Errorf("wrap: %w", escrow.ErrWrongNetwork), "chain.wrong_network"},
		{escrow.ErrAlreadyClaimed, "chain.already_claimed"},
		{escrow.ErrNotWinner, "chain.not_winner"},
		{escrow.ErrNotFinished, "chain.not_finished"},
		{errors.New("insufficient funds for gas * price + value"), "chain.insufficient_funds"},
		{errors.New("User rejected the request."), "chain.rejected"},
		{errors.New("execution reverted: already claimed"), "chain.already_claimed"},
		{context.DeadlineExceeded, "chain.timeout"},
		{errors.New("boom"), "chain.unknown"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.key, ChainErrorKey(tc.err), tc.err.Error())
		assert.NotEqual(t, tc.key, DescribeChainError(cat, tc.err, 1), "rendered text for %s", tc.key)
	}
	assert.Contains(t, DescribeChainError(cat, escrow.ErrWrongNetwork, 8453), "8453")
	assert.Contains(t, DescribeChainError(nil, errors.New("boom"), 1), "boom")
	assert.Equal(t, "", DescribeChainError(cat, nil, 1))
}
