package ledger

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"election_engine/pkg/config"
	"election_engine/pkg/data"
	"election_engine/pkg/merkle"
)

// EthClient implements Client over JSON-RPC with go-ethereum bindings
type EthClient struct {
	rpc     *ethclient.Client
	abi     abi.ABI
	key     *ecdsa.PrivateKey
	chainID *big.Int
	logger  *zap.Logger
}

// Ensure EthClient implements the Client interface
var _ Client = (*EthClient)(nil)

// DialEth connects to the configured RPC endpoint. Without a private key the
// client is read-only and SetRoot fails with a validation error.
func DialEth(ctx context.Context, cfg *config.LedgerConfig, logger *zap.Logger) (*EthClient, error) {
	parsed, err := parseABI()
	if err != nil {
		return nil, err
	}

	c := &EthClient{
		abi:     parsed,
		chainID: big.NewInt(cfg.ChainID),
		logger:  logger.Named("ledger"),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parsing ledger private key: %w", err)
		}
		c.key = key
	}

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, data.NewError(data.KindLedgerUnavailable, "dial ledger", err)
	}
	c.rpc = rpc

	c.logger.Info("Ledger client connected",
		zap.String("rpcURL", cfg.RPCURL),
		zap.Bool("signer", c.key != nil))
	return c, nil
}

// Close releases the RPC connection
func (c *EthClient) Close() {
	c.rpc.Close()
}

func (c *EthClient) GetStats(ctx context.Context, contract string) (*Stats, error) {
	out, err := c.call(ctx, contract, "getStats")
	if err != nil {
		return nil, err
	}
	return decodeStats(out)
}

func (c *EthClient) GetCandidates(ctx context.Context, contract string) ([]Candidate, error) {
	out, err := c.call(ctx, contract, "getCandidates")
	if err != nil {
		return nil, err
	}
	return decodeCandidates(out)
}

func (c *EthClient) GetState(ctx context.Context, contract string) (State, error) {
	out, err := c.call(ctx, contract, "getState")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, decodeError("getState", out)
	}
	return State(*abi.ConvertType(out[0], new(uint8)).(*uint8)), nil
}

func (c *EthClient) GetDetails(ctx context.Context, contract string) (*Details, error) {
	out, err := c.call(ctx, contract, "getDetails")
	if err != nil {
		return nil, err
	}
	return decodeDetails(out)
}

func (c *EthClient) GetOwner(ctx context.Context, contract string) (string, error) {
	out, err := c.call(ctx, contract, "getOwner")
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", decodeError("getOwner", out)
	}
	return abi.ConvertType(out[0], new(common.Address)).(*common.Address).Hex(), nil
}

// HasVoted asks the contract about the voter's leaf hash; identifiers never
// leave the engine in clear text.
func (c *EthClient) HasVoted(ctx context.Context, contract string, voterID string) (bool, error) {
	var voterHash [32]byte
	copy(voterHash[:], merkle.LeafHash(strings.TrimSpace(voterID)))

	out, err := c.call(ctx, contract, "hasVoted", voterHash)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, decodeError("hasVoted", out)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// SetRoot submits setRoot and waits for the receipt. Publishing the root the
// contract already holds is a no-op; replacing a different root is refused.
func (c *EthClient) SetRoot(ctx context.Context, contract string, root string) error {
	const op = "set root"

	if c.key == nil {
		return data.NewError(data.KindValidation, op, fmt.Errorf("ledger client has no signing key"))
	}
	raw, err := merkle.DecodeHex(root)
	if err != nil {
		return data.NewError(data.KindValidation, op, err)
	}

	current, err := c.currentRoot(ctx, contract)
	if err != nil {
		return err
	}
	switch current {
	case strings.ToLower(root):
		c.logger.Info("Root already published, skipping transaction",
			zap.String("contract", contract))
		return nil
	case "":
	default:
		return data.NewError(data.KindValidation, op,
			fmt.Errorf("contract %s already holds a different root %s", contract, current))
	}

	bound, err := c.bind(contract)
	if err != nil {
		return err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return data.NewError(data.KindValidation, op, err)
	}
	auth.Context = ctx

	var root32 [32]byte
	copy(root32[:], raw)

	start := time.Now()
	tx, err := bound.Transact(auth, "setRoot", root32)
	if err != nil {
		return data.NewError(data.KindLedgerUnavailable, op, fmt.Errorf("submitting setRoot: %w", err))
	}

	receipt, err := bind.WaitMined(ctx, c.rpc, tx)
	if err != nil {
		return data.NewError(data.KindLedgerUnavailable, op, fmt.Errorf("awaiting receipt of %s: %w", tx.Hash().Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return data.NewError(data.KindLedgerUnavailable, op, fmt.Errorf("transaction %s reverted", tx.Hash().Hex()))
	}

	c.logger.Info("Root published",
		zap.String("contract", contract),
		zap.String("tx", tx.Hash().Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Private methods

// currentRoot reads the published root; an unset root is returned as ""
func (c *EthClient) currentRoot(ctx context.Context, contract string) (string, error) {
	out, err := c.call(ctx, contract, "merkleRoot")
	if err != nil {
		return "", err
	}
	return decodeRoot(out)
}

func (c *EthClient) bind(contract string) (*bind.BoundContract, error) {
	if !ValidAddress(contract) {
		return nil, data.NewError(data.KindValidation, "bind contract", fmt.Errorf("invalid contract address %q", contract))
	}
	address := common.HexToAddress(strings.TrimSpace(contract))
	return bind.NewBoundContract(address, c.abi, c.rpc, c.rpc, c.rpc), nil
}

func (c *EthClient) call(ctx context.Context, contract, method string, args ...interface{}) ([]interface{}, error) {
	bound, err := c.bind(contract)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, data.NewError(data.KindLedgerUnavailable, method, err)
	}
	return out, nil
}

func parseABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(electionABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parsing election ABI: %w", err)
	}
	return parsed, nil
}

func decodeStats(out []interface{}) (*Stats, error) {
	if len(out) != 2 {
		return nil, decodeError("getStats", out)
	}
	total, err := uint256ToInt64("getStats", out[0])
	if err != nil {
		return nil, err
	}
	count, err := uint256ToInt64("getStats", out[1])
	if err != nil {
		return nil, err
	}
	return &Stats{TotalVotes: total, CandidateCount: count}, nil
}

func decodeCandidates(out []interface{}) ([]Candidate, error) {
	if len(out) != 1 {
		return nil, decodeError("getCandidates", out)
	}
	raw := *abi.ConvertType(out[0], new([]abiCandidate)).(*[]abiCandidate)

	candidates := make([]Candidate, 0, len(raw))
	for _, rc := range raw {
		id, err := uint256ToInt64("getCandidates", rc.Id)
		if err != nil {
			return nil, err
		}
		votes, err := uint256ToInt64("getCandidates", rc.VoteCount)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, Candidate{ID: id, Name: rc.Name, VoteCount: votes})
	}
	return candidates, nil
}

func decodeDetails(out []interface{}) (*Details, error) {
	const method = "getDetails"
	if len(out) != 7 {
		return nil, decodeError(method, out)
	}

	var ints [4]int64
	for i, idx := range []int{0, 2, 3, 6} {
		v, err := uint256ToInt64(method, out[idx])
		if err != nil {
			return nil, err
		}
		ints[i] = v
	}

	return &Details{
		ID:         ints[0],
		Title:      *abi.ConvertType(out[1], new(string)).(*string),
		StartTime:  time.Unix(ints[1], 0).UTC(),
		EndTime:    time.Unix(ints[2], 0).UTC(),
		State:      State(*abi.ConvertType(out[4], new(uint8)).(*uint8)),
		IsPublic:   *abi.ConvertType(out[5], new(bool)).(*bool),
		TotalVotes: ints[3],
	}, nil
}

func decodeRoot(out []interface{}) (string, error) {
	if len(out) != 1 {
		return "", decodeError("merkleRoot", out)
	}
	root := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	if bytes.Equal(root[:], make([]byte, 32)) {
		return "", nil
	}
	return merkle.EncodeHex(root[:]), nil
}

// uint256ToInt64 rejects values an int64 cannot hold instead of wrapping them
func uint256ToInt64(method string, v interface{}) (int64, error) {
	n, ok := v.(*big.Int)
	if !ok || n == nil || !n.IsInt64() {
		return 0, data.NewError(data.KindLedgerUnavailable, method,
			fmt.Errorf("value %v out of int64 range", n))
	}
	return n.Int64(), nil
}

func decodeError(method string, out []interface{}) error {
	return data.NewError(data.KindLedgerUnavailable, method,
		fmt.Errorf("unexpected %d return values", len(out)))
}
