// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"

	"github.com/archon-research/stl/stl-feed/internal/domain/entity"
)

// BlockHeader represents an Ethereum block header from an eth_newHeads subscription.
// Only the fields the feed uses are decoded.
type BlockHeader struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Miner      string `json:"miner"`
	GasLimit   string `json:"gasLimit"`
	GasUsed    string `json:"gasUsed"`
	Timestamp  string `json:"timestamp"`
}

// HeaderSubscriber defines the interface for subscribing to new block headers.
// This port is designed for WebSocket-based eth_newHeads subscriptions.
type HeaderSubscriber interface {
	// Subscribe starts listening for new block headers.
	// The returned channel emits a BlockHeader for every notification pushed by the node.
	// It is closed after Unsubscribe or when the reconnect policy gives up.
	Subscribe(ctx context.Context) (<-chan BlockHeader, error)

	// Unsubscribe stops the subscription, releases the node subscription and
	// closes the header channel. It is safe to call more than once.
	Unsubscribe() error

	// HealthCheck verifies the connection to the node is operational.
	HealthCheck(ctx context.Context) error
}

// BlockFetcher fetches full blocks from a node.
type BlockFetcher interface {
	// BlockByNumber returns the block with the given number, transactions included.
	BlockByNumber(ctx context.Context, number uint64) (*entity.Block, error)
}
