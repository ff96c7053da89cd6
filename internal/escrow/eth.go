package escrow

import (
	"context"
	"crypto/ecdsa"
	_ "embed"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/park285/betchess/internal/obslog"
)

//go:embed escrow.abi.json
var abiJSON string

// ParsedABI returns the escrow ABI.
func ParsedABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(abiJSON))
}

// EthConfig locates the deployed escrow.
type EthConfig struct {
	RPCURL         string
	Address        string
	ChainID        int64
	ReceiptTimeout time.Duration
}

// EthContract talks to a deployed escrow over JSON-RPC.
type EthContract struct {
	client  *ethclient.Client
	bound   *bind.BoundContract
	parsed  abi.ABI
	address common.Address
	chainID *big.Int
	timeout time.Duration

	mu      sync.RWMutex
	signers map[common.Address]*bind.TransactOpts
}

// gameTuple is the getGame return value after abi conversion.
type gameTuple struct {
	GameId       *big.Int
	WhitePlayer  common.Address
	BlackPlayer  common.Address
	BetAmount    *big.Int
	State        uint8
	Result       uint8
	WhiteClaimed bool
	BlackClaimed bool
	RoomName     string
}

// Dial connects to cfg.RPCURL and binds the escrow at cfg.Address.
func Dial(ctx context.Context, cfg EthConfig) (*EthContract, error) {
	if !common.IsHexAddress(cfg.Address) {
		return nil, fmt.Errorf("escrow: invalid contract address %q", cfg.Address)
	}
	parsed, err := ParsedABI()
	if err != nil { return nil, fmt.Errorf("escrow: parse abi: %w", err) }
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil { return nil, fmt.Errorf("escrow: dial %s: %w", cfg.RPCURL, err) }
	addr := common.HexToAddress(cfg.Address)
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &EthContract{
		client:  client,
		bound:   bind.NewBoundContract(addr, parsed, client, client, client),
		parsed:  parsed,
		address: addr,
		chainID: big.NewInt(cfg.ChainID),
		timeout: timeout,
		signers: make(map[common.Address]*bind.TransactOpts),
	}, nil
}

// Close releases the RPC connection.
func (e *EthContract) Close() { e.client.Close() }

// Address returns the contract address.
func (e *EthContract) Address() common.Address { return e.address }

// AddSigner registers a hex private key and returns its address.
func (e *EthContract) AddSigner(hexKey string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("escrow: parse key: %w", err)
	}
	return e.addKey(key)
}

func (e *EthContract) addKey(key *ecdsa.PrivateKey) (common.Address, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, e.chainID)
	if err != nil {
		return common.Address{}, fmt.Errorf("escrow: transactor: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	e.mu.Lock()
	e.signers[addr] = opts
	e.mu.Unlock()
	return addr, nil
}

// CheckNetwork fails with ErrWrongNetwork when the node serves another chain.
func (e *EthContract) CheckNetwork(ctx context.Context) error {
	id, err := e.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("escrow: chain id: %w", err)
	}
	if id.Cmp(e.chainID) != 0 {
		return fmt.Errorf("%w: node chain %s, expected %s", ErrWrongNetwork, id, e.chainID)
	}
	return nil
}

func (e *EthContract) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := e.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, fmt.Errorf("escrow: %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("escrow: %s: empty result", method)
	}
	return out, nil
}

func (e *EthContract) GameIDByRoom(ctx context.Context, room string) (*big.Int, error) {
	out, err := e.call(ctx, "getGameIdByRoom", room)
	if err != nil { return nil, err }
	id := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if id == nil || id.Sign() == 0 {
		return nil, ErrGameNotFound
	}
	return id, nil
}

func (e *EthContract) Game(ctx context.Context, id *big.Int) (*GameInfo, error) {
	out, err := e.call(ctx, "getGame", id)
	if err != nil { return nil, err }
	t := abi.ConvertType(out[0], new(gameTuple)).(*gameTuple)
	if t.GameId == nil || t.GameId.Sign() == 0 {
		return nil, ErrGameNotFound
	}
	return &GameInfo{
		GameID:       t.GameId,
		WhitePlayer:  t.WhitePlayer,
		BlackPlayer:  t.BlackPlayer,
		BetAmount:    t.BetAmount,
		State:        State(t.State),
		Result:       Result(t.Result),
		WhiteClaimed: t.WhiteClaimed,
		BlackClaimed: t.BlackClaimed,
		RoomName:     t.RoomName,
	}, nil
}

func (e *EthContract) boolCall(ctx context.Context, method string, params ...interface{}) (bool, error) {
	out, err := e.call(ctx, method, params...)
	if err != nil { return false, err }
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (e *EthContract) amountCall(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	out, err := e.call(ctx, method, params...)
	if err != nil { return nil, err }
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (e *EthContract) CanClaimWinnings(ctx context.Context, id *big.Int, player common.Address) (bool, error) {
	return e.boolCall(ctx, "canClaimWinnings", id, player)
}

func (e *EthContract) CanClaimDrawRefund(ctx context.Context, id *big.Int, player common.Address) (bool, error) {
	return e.boolCall(ctx, "canClaimDrawRefund", id, player)
}

func (e *EthContract) CalculateWinnings(ctx context.Context, id *big.Int) (*big.Int, error) {
	return e.amountCall(ctx, "calculateWinnings", id)
}

func (e *EthContract) CalculateDrawRefund(ctx context.Context, id *big.Int) (*big.Int, error) {
	return e.amountCall(ctx, "calculateDrawRefund", id)
}

// Owner reads the contract owner, the only account allowed to finish games.
func (e *EthContract) Owner(ctx context.Context) (common.Address, error) {
	out, err := e.call(ctx, "owner")
	if err != nil { return common.Address{}, err }
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// transact signs with from, submits and waits for the receipt.
func (e *EthContract) transact(ctx context.Context, from common.Address, value *big.Int, method string, params ...interface{}) (TxRef, error) {
	e.mu.RLock()
	signer, ok := e.signers[from]
	e.mu.RUnlock()
	if !ok {
		return TxRef{}, fmt.Errorf("%w: %s", ErrNoSigner, from.Hex())
	}
	opts := *signer
	opts.Context = ctx
	opts.Value = value

	tx, err := e.bound.Transact(&opts, method, params...)
	if err != nil {
		return TxRef{}, fmt.Errorf("escrow: %s: %w", method, err)
	}
	ref := TxRef{Hash: tx.Hash()}
	obslog.L().Info("escrow tx submitted",
		zap.String("method", method),
		zap.String("from", from.Hex()),
		zap.String("tx", ref.Hash.Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, e.client, tx)
	if err != nil {
		return ref, fmt.Errorf("escrow: %s: wait receipt: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ref, fmt.Errorf("%w: %s tx %s", ErrTxReverted, method, ref.Hash.Hex())
	}
	return ref, nil
}

func (e *EthContract) CreateGame(ctx context.Context, from common.Address, room string, bet *big.Int) (TxRef, error) {
	if bet == nil || bet.Sign() <= 0 {
		return TxRef{}, ErrInvalidBet
	}
	return e.transact(ctx, from, bet, "createGame", room)
}

func (e *EthContract) JoinGameByRoom(ctx context.Context, from common.Address, room string, bet *big.Int) (TxRef, error) {
	if bet == nil || bet.Sign() <= 0 {
		return TxRef{}, ErrInvalidBet
	}
	return e.transact(ctx, from, bet, "joinGameByRoom", room)
}

func (e *EthContract) FinishGame(ctx context.Context, from common.Address, id *big.Int, result Result) (TxRef, error) {
	if result == ResultNone || result > ResultDraw {
		return TxRef{}, ErrInvalidResult
	}
	return e.transact(ctx, from, nil, "finishGame", id, uint8(result))
}

func (e *EthContract) ClaimWinnings(ctx context.Context, from common.Address, id *big.Int) (TxRef, error) {
	return e.transact(ctx, from, nil, "claimWinnings", id)
}

func (e *EthContract) ClaimDrawRefund(ctx context.Context, from common.Address, id *big.Int) (TxRef, error) {
	return e.transact(ctx, from, nil, "claimDrawRefund", id)
}

// EventsSince reads escrow logs in [fromBlock, head].
func (e *EthContract) EventsSince(ctx context.Context, fromBlock uint64) ([]Event, uint64, error) {
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return nil, fromBlock, fmt.Errorf("escrow: block number: %w", err)
	}
	if head < fromBlock {
		return nil, fromBlock, nil
	}
	logs, err := e.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: []common.Address{e.address},
	})
	if err != nil {
		return nil, fromBlock, fmt.Errorf("escrow: filter logs: %w", err)
	}
	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if ev, ok := e.decodeLog(lg); ok {
			events = append(events, ev)
		}
	}
	return events, head + 1, nil
}

func (e *EthContract) decodeLog(lg types.Log) (Event, bool) {
	if len(lg.Topics) < 2 {
		return Event{}, false
	}
	def, err := e.parsed.EventByID(lg.Topics[0])
	if err != nil {
		return Event{}, false
	}
	return Event{Name: def.Name, GameID: lg.Topics[1].Big(), Block: lg.BlockNumber}, true
}

var (
	_ Contract    = (*EthContract)(nil)
	_ EventSource = (*EthContract)(nil)
)
