// Package adapter implements the batched JSON-RPC chain client the
// keeper reads blocks and receipts through.
package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ChainClient is the read surface the keeper needs from an EVM node.
type ChainClient interface {
	// HeadBlock returns the current chain head height.
	HeadBlock(ctx context.Context) (uint64, error)

	// BlocksWithTransactions returns blocks [start, end) in ascending
	// order, each carrying its full transaction list.
	BlocksWithTransactions(ctx context.Context, start, end uint64) ([]Block, error)

	// ReceiptStatuses returns hash -> success for every given
	// transaction hash. Hash keys are lowercased.
	ReceiptStatuses(ctx context.Context, hashes []string) (map[string]bool, error)
}

// BlockTransaction is the slice of a transaction the keeper filters and
// decodes: destination, sender and raw calldata.
type BlockTransaction struct {
	Hash  string `json:"hash"`
	From  string `json:"from"`
	To    string `json:"to"`
	Input string `json:"input"`
}

// Block is a block header plus its transactions, decoded from
// eth_getBlockByNumber with full transaction objects.
type Block struct {
	Number       hexutil.Uint64     `json:"number"`
	Timestamp    hexutil.Uint64     `json:"timestamp"`
	Transactions []BlockTransaction `json:"transactions"`
}

type receiptStatus struct {
	TransactionHash string         `json:"transactionHash"`
	Status          hexutil.Uint64 `json:"status"`
}

// RPCError wraps a failed JSON-RPC operation with the call that failed.
type RPCError struct {
	Op  string
	Err error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error [%s]: %v", e.Op, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// RPCClient talks to a single EVM node over HTTP JSON-RPC. Batch calls
// correlate responses by request id (the rpc package matches ids, not
// array positions, since upstream ordering is not guaranteed).
type RPCClient struct {
	client            *rpc.Client
	receiptBatchLimit int
}

// RPCClientConfig configures an RPCClient.
type RPCClientConfig struct {
	// URL is the node endpoint. Required.
	URL string

	// RequestTimeout bounds every HTTP round trip, batched or not.
	RequestTimeout time.Duration

	// ReceiptBatchLimit caps the number of receipt lookups per JSON-RPC
	// batch, respecting upstream batch-size limits. Default: 950.
	ReceiptBatchLimit int
}

// NewRPCClient creates a chain client for the given node endpoint.
func NewRPCClient(cfg *RPCClientConfig) (*RPCClient, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	limit := cfg.ReceiptBatchLimit
	if limit <= 0 {
		limit = 950
	}

	client, err := rpc.DialOptions(context.Background(), cfg.URL,
		rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, &RPCError{Op: "dial", Err: err}
	}

	return &RPCClient{
		client:            client,
		receiptBatchLimit: limit,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *RPCClient) Close() {
	c.client.Close()
}

// HeadBlock returns the current chain head height via eth_blockNumber.
// No retry here: the caller owns the retry policy.
func (c *RPCClient) HeadBlock(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := c.client.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, &RPCError{Op: "eth_blockNumber", Err: err}
	}
	return uint64(head), nil
}

// BlocksWithTransactions fetches blocks [start, end) as one batched
// call, one eth_getBlockByNumber sub-request per height.
func (c *RPCClient) BlocksWithTransactions(ctx context.Context, start, end uint64) ([]Block, error) {
	if end <= start {
		return nil, &RPCError{Op: "eth_getBlockByNumber", Err: fmt.Errorf("invalid range [%d, %d)", start, end)}
	}

	blocks := make([]Block, end-start)
	batch := make([]rpc.BatchElem, end-start)
	for i := range batch {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []interface{}{hexutil.EncodeUint64(start + uint64(i)), true},
			Result: &blocks[i],
		}
	}

	if err := c.client.BatchCallContext(ctx, batch); err != nil {
		return nil, &RPCError{Op: "eth_getBlockByNumber", Err: err}
	}
	for i := range batch {
		if batch[i].Error != nil {
			return nil, &RPCError{
				Op:  "eth_getBlockByNumber",
				Err: fmt.Errorf("block %d: %w", start+uint64(i), batch[i].Error),
			}
		}
	}

	return blocks, nil
}

// ReceiptStatuses resolves success status for the given transaction
// hashes via batched eth_getTransactionReceipt calls, chunked to stay
// under the upstream batch-size limit.
func (c *RPCClient) ReceiptStatuses(ctx context.Context, hashes []string) (map[string]bool, error) {
	statuses := make(map[string]bool, len(hashes))

	for _, group := range chunk(hashes, c.receiptBatchLimit) {
		receipts := make([]receiptStatus, len(group))
		batch := make([]rpc.BatchElem, len(group))
		for i, hash := range group {
			batch[i] = rpc.BatchElem{
				Method: "eth_getTransactionReceipt",
				Args:   []interface{}{hash},
				Result: &receipts[i],
			}
		}

		if err := c.client.BatchCallContext(ctx, batch); err != nil {
			return nil, &RPCError{Op: "eth_getTransactionReceipt", Err: err}
		}
		for i := range batch {
			if batch[i].Error != nil {
				return nil, &RPCError{
					Op:  "eth_getTransactionReceipt",
					Err: fmt.Errorf("tx %s: %w", group[i], batch[i].Error),
				}
			}
			statuses[strings.ToLower(receipts[i].TransactionHash)] = receipts[i].Status == 1
		}
	}

	return statuses, nil
}

// chunk splits items into groups of at most size elements, preserving
// order.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}

	groups := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		groups = append(groups, items[start:end])
	}
	return groups
}
