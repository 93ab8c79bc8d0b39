// Package chain provides read-only contract clients for the live venues the
// engine prices against.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ContractCaller executes read-only calls. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client wraps an RPC connection.
type Client struct {
	eth    *ethclient.Client
	logger *slog.Logger
}

// Dial connects to rpcURL and checks the endpoint answers.
func Dial(ctx context.Context, rpcURL string, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	logger = logger.With(slog.String("component", "chain"))
	logger.InfoContext(ctx, "chain: connected", slog.String("chain_id", id.String()))
	return &Client{eth: eth, logger: logger}, nil
}

// Caller returns the underlying contract caller.
func (c *Client) Caller() ContractCaller { return c.eth }

// Close releases the RPC connection.
func (c *Client) Close() { c.eth.Close() }

// call packs method with args, executes it against to at the latest block
// and unpacks the outputs.
func call(ctx context.Context, caller ContractCaller, parsed abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	vals, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
