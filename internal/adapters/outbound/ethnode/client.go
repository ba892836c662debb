package ethnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel/codes"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
	"github.com/archon-research/stl/stl-feed/internal/pkg/retry"
	"github.com/archon-research/stl/stl-feed/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.BlockFetcher
var _ outbound.BlockFetcher = (*Client)(nil)

const methodGetBlockByNumber = "eth_getBlockByNumber"

// Client fetches full blocks over JSON-RPC using go-ethereum's ethclient.
type Client struct {
	config ClientConfig
	rpc    *rpc.Client
	eth    *ethclient.Client
	logger *slog.Logger
}

// NewClient dials the node JSON-RPC endpoint. For http(s) URLs the dial is
// lazy and only fails on a malformed URL.
func NewClient(ctx context.Context, config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	rpcClient, err := rpc.DialOptions(ctx, config.RPCURL,
		rpc.WithHTTPClient(&http.Client{Timeout: config.Timeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node RPC: %w", err)
	}

	return &Client{
		config: config,
		rpc:    rpcClient,
		eth:    ethclient.NewClient(rpcClient),
		logger: config.Logger.With("component", "ethnode-client"),
	}, nil
}

// BlockByNumber fetches the block with the given number, transactions included.
// A block the node does not know yet is reported as ethereum.NotFound and is
// not retried.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*entity.Block, error) {
	start := time.Now()

	var endSpan func(error)
	if c.config.Telemetry != nil {
		spanCtx, span := c.config.Telemetry.StartSpan(ctx, methodGetBlockByNumber)
		ctx = spanCtx
		endSpan = func(err error) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}
	}

	block, err := retry.Do(ctx, c.retryConfig(), IsRetryable, c.onRetry(ctx), func() (*types.Block, error) {
		return c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	})

	if c.config.Telemetry != nil {
		c.config.Telemetry.RecordRequest(ctx, methodGetBlockByNumber, time.Since(start), err)
		endSpan(err)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching block %d: %w", number, err)
	}

	return toEntityBlock(block, c.logger), nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) retryConfig() retry.Config {
	return retry.Config{
		MaxRetries:     c.config.MaxRetries,
		InitialBackoff: c.config.InitialBackoff,
		MaxBackoff:     c.config.MaxBackoff,
		BackoffFactor:  c.config.BackoffFactor,
	}
}

func (c *Client) onRetry(ctx context.Context) retry.OnRetryFunc {
	return func(attempt int, err error, backoff time.Duration) {
		c.logger.Debug("retrying block fetch", "attempt", attempt, "backoff", backoff, "error", err)
		if c.config.Telemetry != nil {
			c.config.Telemetry.RecordRetry(ctx, methodGetBlockByNumber, attempt)
		}
	}
}

// IsRetryable reports whether a BlockByNumber error is a transient
// transport failure worth another attempt.
// JSON-RPC errors, missing blocks and cancellation are final.
func IsRetryable(err error) bool {
	if errors.Is(err, ethereum.NotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError || httpErr.StatusCode == http.StatusTooManyRequests
	}

	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

// toEntityBlock converts a go-ethereum block into the feed's block entity.
func toEntityBlock(block *types.Block, logger *slog.Logger) *entity.Block {
	header := block.Header()

	out := &entity.Block{
		Number:       block.NumberU64(),
		Hash:         block.Hash().Hex(),
		ParentHash:   header.ParentHash.Hex(),
		Miner:        header.Coinbase.Hex(),
		Timestamp:    time.Unix(int64(header.Time), 0).UTC(),
		GasLimit:     header.GasLimit,
		GasUsed:      header.GasUsed,
		BaseFee:      header.BaseFee,
		Transactions: make([]entity.Transaction, 0, len(block.Transactions())),
	}

	for _, tx := range block.Transactions() {
		converted := entity.Transaction{
			Hash:  tx.Hash().Hex(),
			Value: tx.Value(),
			Nonce: tx.Nonce(),
			Gas:   tx.Gas(),
		}
		if to := tx.To(); to != nil {
			converted.To = to.Hex()
		}
		from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
		if err != nil {
			logger.Debug("failed to recover sender", "tx", tx.Hash().Hex(), "error", err)
		} else {
			converted.From = from.Hex()
		}
		out.Transactions = append(out.Transactions, converted)
	}

	return out
}

// ChainID returns the chain id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}
	return chainID, nil
}

// BlockNumber returns the number of the most recent block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	number, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching block number: %w", err)
	}
	return number, nil
}

// HealthCheck verifies the node answers JSON-RPC requests.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.BlockNumber(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
