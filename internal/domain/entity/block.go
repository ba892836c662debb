// Package entity contains the domain values carried by the feed streams.
// These entities have no external dependencies.
package entity

import (
	"fmt"
	"math/big"
	"time"
)

// Block is a fully fetched block, transactions included.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         string        `json:"hash"`
	ParentHash   string        `json:"parentHash"`
	Miner        string        `json:"miner"`
	Timestamp    time.Time     `json:"timestamp"`
	GasLimit     uint64        `json:"gasLimit"`
	GasUsed      uint64        `json:"gasUsed"`
	BaseFee      *big.Int      `json:"baseFeePerGas,omitempty"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction is a transaction included in a Block.
type Transaction struct {
	Hash  string   `json:"hash"`
	From  string   `json:"from,omitempty"`
	To    string   `json:"to,omitempty"`
	Value *big.Int `json:"value"`
	Nonce uint64   `json:"nonce"`
	Gas   uint64   `json:"gas"`
}

// IsContractCreation reports whether the transaction has no recipient.
func (tx Transaction) IsContractCreation() bool {
	return tx.To == ""
}

// Validate checks the invariants of a block returned by a node.
func (b *Block) Validate() error {
	if b.Hash == "" {
		return fmt.Errorf("hash must not be empty")
	}
	if b.Number > 0 && b.ParentHash == "" {
		return fmt.Errorf("parentHash must not be empty for block %d", b.Number)
	}
	if b.GasUsed > b.GasLimit {
		return fmt.Errorf("gasUsed %d exceeds gasLimit %d", b.GasUsed, b.GasLimit)
	}
	for i, tx := range b.Transactions {
		if tx.Hash == "" {
			return fmt.Errorf("transaction %d: hash must not be empty", i)
		}
	}
	return nil
}

// TransactionCount returns the number of transactions in the block.
func (b *Block) TransactionCount() int {
	return len(b.Transactions)
}
