// Package keeper implements the chain-sync loop: it walks the chain
// from the stored cursor, extracts confirmed trades against the shares
// contract, prices them on the bonding curve and commits them
// atomically together with the resulting supply changes.
package keeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shares-tracker/internal/adapter"
	"github.com/shares-tracker/internal/logging"
	"github.com/shares-tracker/internal/models"
	"github.com/shares-tracker/internal/pricing"
	"github.com/shares-tracker/internal/protocol"
	"github.com/shares-tracker/internal/retry"
)

// SupplySeeder loads the persisted supply state the in-memory cache is
// seeded from.
type SupplySeeder interface {
	ListSupplies(ctx context.Context) ([]models.UserSupply, error)
}

// BatchCommitter persists one sync cycle's output atomically and
// answers which trades a range replay has already committed.
type BatchCommitter interface {
	CommitSyncBatch(ctx context.Context, supplies []models.UserSupply, trades []*models.Trade) error
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
}

// Cursor persists the next block height to sync.
type Cursor interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, height uint64) error
}

// TradeMirror receives committed trades for analytics. Mirror failures
// never fail a sync cycle.
type TradeMirror interface {
	InsertBatch(ctx context.Context, events []*models.TradeEvent) error
}

// Config holds keeper tuning knobs.
type Config struct {
	BlocksPerCycle int
	PollInterval   time.Duration
}

// Keeper is the chain-sync worker. Exactly one instance may run against
// a database: the supply cache assumes it is the only writer.
type Keeper struct {
	chain   adapter.ChainClient
	users   SupplySeeder
	trades  BatchCommitter
	cursor  Cursor
	mirror  TradeMirror
	cfg     Config
	backoff *retry.Config
	logger  *logging.Logger

	// supplies maps lowercase address to outstanding share supply. Only
	// mutated after a successful commit.
	supplies map[string]int64
}

// New creates a keeper. mirror may be nil to disable analytics
// mirroring.
func New(chain adapter.ChainClient, users SupplySeeder, trades BatchCommitter, cursor Cursor, mirror TradeMirror, cfg Config) *Keeper {
	if cfg.BlocksPerCycle <= 0 {
		cfg.BlocksPerCycle = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &Keeper{
		chain:    chain,
		users:    users,
		trades:   trades,
		cursor:   cursor,
		mirror:   mirror,
		cfg:      cfg,
		backoff:  retry.DefaultConfig(),
		logger:   logging.GetGlobalLogger().WithField("component", "keeper"),
		supplies: make(map[string]int64),
	}
}

// Run seeds the supply cache and syncs until the context is cancelled.
// Cycle errors are logged and retried with backoff; the cursor is never
// advanced past a failed range, so a crash resumes exactly where the
// last commit left off.
func (k *Keeper) Run(ctx context.Context) error {
	if err := k.seedSupplies(ctx); err != nil {
		return fmt.Errorf("failed to seed supply cache: %w", err)
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		caughtUp, err := k.cycle(ctx)
		if err != nil {
			failures++
			delay := k.backoff.Delay(failures)
			k.logger.WithError(err).WithFields(map[string]interface{}{
				"failures": failures,
				"delay":    delay.String(),
			}).Error("Sync cycle failed, backing off")
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		failures = 0

		if caughtUp {
			if !sleep(ctx, k.cfg.PollInterval) {
				return ctx.Err()
			}
		}
	}
}

func (k *Keeper) seedSupplies(ctx context.Context) error {
	var supplies []models.UserSupply
	err := retry.Do(ctx, k.backoff, func(ctx context.Context, attempt int) error {
		var listErr error
		supplies, listErr = k.users.ListSupplies(ctx)
		return listErr
	})
	if err != nil {
		return err
	}
	for _, s := range supplies {
		k.supplies[strings.ToLower(s.Address)] = s.Supply
	}
	k.logger.WithField("users", len(supplies)).Info("Supply cache seeded")
	return nil
}

// cycle syncs one block range. Returns caughtUp=true when the cursor
// has reached the chain head and the keeper should idle.
func (k *Keeper) cycle(ctx context.Context) (bool, error) {
	head, err := k.chain.HeadBlock(ctx)
	if err != nil {
		return false, err
	}

	cursor, err := k.cursor.Get(ctx)
	if err != nil {
		return false, err
	}

	if head < cursor {
		return true, nil
	}

	count := head - cursor + 1
	if count > uint64(k.cfg.BlocksPerCycle) {
		count = uint64(k.cfg.BlocksPerCycle)
	}

	if err := k.SyncRange(ctx, cursor, cursor+count); err != nil {
		return false, err
	}

	return cursor+count > head, nil
}

// SyncRange processes blocks [start, end): filters trade transactions,
// confirms them against receipts, prices them in chain order and
// commits the batch. Safe to call again on an already-synced range.
func (k *Keeper) SyncRange(ctx context.Context, start, end uint64) error {
	blocks, err := k.chain.BlocksWithTransactions(ctx, start, end)
	if err != nil {
		return err
	}

	candidates := k.collectCandidates(blocks)
	if len(candidates) == 0 {
		return k.advanceCursor(ctx, start, end, 0)
	}

	existing, err := k.trades.ExistingHashes(ctx, candidates)
	if err != nil {
		return fmt.Errorf("failed to check existing trades: %w", err)
	}

	pending := make([]string, 0, len(candidates))
	for _, hash := range candidates {
		if !existing[hash] {
			pending = append(pending, hash)
		}
	}
	if len(pending) == 0 {
		return k.advanceCursor(ctx, start, end, 0)
	}

	statuses, err := k.chain.ReceiptStatuses(ctx, pending)
	if err != nil {
		return err
	}

	trades, supplies, overlay, events, err := k.buildBatch(blocks, existing, statuses)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return k.advanceCursor(ctx, start, end, 0)
	}

	if err := k.trades.CommitSyncBatch(ctx, supplies, trades); err != nil {
		return fmt.Errorf("failed to commit sync batch: %w", err)
	}

	// The batch is durable; only now may the shared cache see it.
	for address, supply := range overlay {
		k.supplies[address] = supply
	}

	k.mirrorTrades(events)

	return k.advanceCursor(ctx, start, end, len(trades))
}

// collectCandidates returns the hashes of transactions addressed to the
// shares contract with a trade selector, in chain order.
func (k *Keeper) collectCandidates(blocks []adapter.Block) []string {
	var hashes []string
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			if strings.ToLower(tx.To) != protocol.ContractAddress {
				continue
			}
			if !isTradeInput(tx.Input) {
				continue
			}
			hashes = append(hashes, strings.ToLower(tx.Hash))
		}
	}
	return hashes
}

// buildBatch replays the candidate transactions in chain order against
// a scratch overlay of the supply cache. Costs are always computed from
// the supply as it stood before each trade, so intra-range ordering
// affects pricing exactly as it did on chain.
func (k *Keeper) buildBatch(
	blocks []adapter.Block,
	existing map[string]bool,
	statuses map[string]bool,
) ([]*models.Trade, []models.UserSupply, map[string]int64, []*models.TradeEvent, error) {
	overlay := make(map[string]int64)
	supplyOf := func(address string) int64 {
		if supply, ok := overlay[address]; ok {
			return supply
		}
		return k.supplies[address]
	}

	var trades []*models.Trade
	var events []*models.TradeEvent
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			hash := strings.ToLower(tx.Hash)
			if strings.ToLower(tx.To) != protocol.ContractAddress || !isTradeInput(tx.Input) {
				continue
			}
			if existing[hash] || !statuses[hash] {
				continue
			}

			call, err := decodeTradeCall(tx.Input)
			if err != nil {
				return nil, nil, nil, nil, fmt.Errorf("failed to decode trade %s: %w", hash, err)
			}

			from := strings.ToLower(tx.From)
			prior := supplyOf(call.Subject)

			cost := pricing.BuyPriceAfterFee(clampSupply(prior), uint64(call.Amount))
			newSupply := prior + call.Amount
			if !call.IsBuy {
				if call.Amount > prior {
					k.logger.WithFields(map[string]interface{}{
						"tx":      hash,
						"subject": call.Subject,
						"supply":  prior,
						"amount":  call.Amount,
					}).Warn("Sell exceeds tracked supply, pricing from zero")
				}
				cost = pricing.SellPriceAfterFee(clampSupply(prior), uint64(call.Amount))
				newSupply = prior - call.Amount
				if newSupply < 0 {
					newSupply = 0
				}
			}

			overlay[call.Subject] = newSupply
			// The trader row must exist before the trade's foreign key
			// lands, even when their own supply is untouched.
			if _, ok := overlay[from]; !ok {
				overlay[from] = supplyOf(from)
			}

			trades = append(trades, &models.Trade{
				Hash:           hash,
				Timestamp:      int64(block.Timestamp),
				BlockNumber:    uint64(block.Number),
				FromAddress:    from,
				SubjectAddress: call.Subject,
				IsBuy:          call.IsBuy,
				Amount:         call.Amount,
				Cost:           cost,
			})
			events = append(events, &models.TradeEvent{
				Hash:           hash,
				Timestamp:      int64(block.Timestamp),
				BlockNumber:    uint64(block.Number),
				FromAddress:    from,
				SubjectAddress: call.Subject,
				IsBuy:          call.IsBuy,
				Amount:         call.Amount,
				SupplyAfter:    newSupply,
				CostWei:        cost.String(),
			})
		}
	}

	supplies := make([]models.UserSupply, 0, len(overlay))
	for address, supply := range overlay {
		supplies = append(supplies, models.UserSupply{Address: address, Supply: supply})
	}

	return trades, supplies, overlay, events, nil
}

// advanceCursor marks the range synced. This is the commit point for
// the whole cycle: everything before it has already landed durably.
func (k *Keeper) advanceCursor(ctx context.Context, start, end uint64, tradeCount int) error {
	if err := k.cursor.Set(ctx, end); err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}

	k.logger.WithFields(map[string]interface{}{
		"from":   start,
		"to":     end - 1,
		"trades": tradeCount,
	}).Info("Range synced")
	return nil
}

// mirrorTrades forwards the committed batch to the analytics mirror in
// the background. The mirror heals via range replay and hash
// deduplication, so failures are logged and dropped.
func (k *Keeper) mirrorTrades(events []*models.TradeEvent) {
	if k.mirror == nil || len(events) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := k.mirror.InsertBatch(ctx, events); err != nil {
			k.logger.WithError(err).Warn("Failed to mirror trades to analytics store")
		}
	}()
}

// clampSupply converts a cached supply to the unsigned domain the
// pricing curve works in.
func clampSupply(supply int64) uint64 {
	if supply < 0 {
		return 0
	}
	return uint64(supply)
}

// sleep waits for d or until the context is cancelled. Returns false on
// cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
