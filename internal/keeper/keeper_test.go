package keeper

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/shares-tracker/internal/adapter"
	"github.com/shares-tracker/internal/models"
	"github.com/shares-tracker/internal/pricing"
	"github.com/shares-tracker/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	subjectA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	subjectB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	traderX  = "0x1111111111111111111111111111111111111111"
	traderY  = "0x2222222222222222222222222222222222222222"
)

// tradeInput builds calldata for a buy or sell of amount shares of
// subject.
func tradeInput(isBuy bool, subject string, amount uint64) string {
	selector := protocol.BuySelector
	if !isBuy {
		selector = protocol.SellSelector
	}
	return fmt.Sprintf("%s%024x%s%064x", selector, 0, strings.TrimPrefix(subject, "0x"), amount)
}

type fakeChain struct {
	head     uint64
	blocks   []adapter.Block
	receipts map[string]bool
}

func (c *fakeChain) HeadBlock(ctx context.Context) (uint64, error) {
	return c.head, nil
}

func (c *fakeChain) BlocksWithTransactions(ctx context.Context, start, end uint64) ([]adapter.Block, error) {
	var out []adapter.Block
	for _, block := range c.blocks {
		if uint64(block.Number) >= start && uint64(block.Number) < end {
			out = append(out, block)
		}
	}
	return out, nil
}

func (c *fakeChain) ReceiptStatuses(ctx context.Context, hashes []string) (map[string]bool, error) {
	statuses := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		status, ok := c.receipts[strings.ToLower(hash)]
		if !ok {
			status = true
		}
		statuses[strings.ToLower(hash)] = status
	}
	return statuses, nil
}

type fakeStore struct {
	seed     []models.UserSupply
	commits  int
	supplies map[string]int64
	trades   map[string]*models.Trade
}

func newFakeStore(seed ...models.UserSupply) *fakeStore {
	return &fakeStore{
		seed:     seed,
		supplies: make(map[string]int64),
		trades:   make(map[string]*models.Trade),
	}
}

func (s *fakeStore) ListSupplies(ctx context.Context) ([]models.UserSupply, error) {
	return s.seed, nil
}

func (s *fakeStore) CommitSyncBatch(ctx context.Context, supplies []models.UserSupply, trades []*models.Trade) error {
	s.commits++
	for _, supply := range supplies {
		s.supplies[supply.Address] = supply.Supply
	}
	for _, trade := range trades {
		if _, ok := s.trades[trade.Hash]; !ok {
			s.trades[trade.Hash] = trade
		}
	}
	return nil
}

func (s *fakeStore) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	for _, hash := range hashes {
		if _, ok := s.trades[strings.ToLower(hash)]; ok {
			existing[strings.ToLower(hash)] = true
		}
	}
	return existing, nil
}

type fakeCursor struct {
	value uint64
	set   bool
}

func (c *fakeCursor) Get(ctx context.Context) (uint64, error) {
	if !c.set {
		return protocol.DeployBlock - 1, nil
	}
	return c.value, nil
}

func (c *fakeCursor) Set(ctx context.Context, height uint64) error {
	c.value = height
	c.set = true
	return nil
}

type fakeMirror struct {
	events []*models.TradeEvent
}

func (m *fakeMirror) InsertBatch(ctx context.Context, events []*models.TradeEvent) error {
	m.events = append(m.events, events...)
	return nil
}

func newTestKeeper(t *testing.T, chain *fakeChain, store *fakeStore, cursor *fakeCursor) *Keeper {
	t.Helper()
	k := New(chain, store, store, cursor, nil, Config{BlocksPerCycle: 100})
	require.NoError(t, k.seedSupplies(context.Background()))
	return k
}

func TestSyncRange_CommitsTradeAndSupplies(t *testing.T) {
	chain := &fakeChain{
		head: 2_500_104,
		blocks: []adapter.Block{
			{Number: 2_500_100, Timestamp: 1_700_000_100},
			{Number: 2_500_101, Timestamp: 1_700_000_102},
			{Number: 2_500_102, Timestamp: 1_700_000_104, Transactions: []adapter.BlockTransaction{
				{
					Hash:  "0xT1",
					From:  traderX,
					To:    protocol.ContractAddress,
					Input: tradeInput(true, subjectA, 3),
				},
			}},
			{Number: 2_500_103, Timestamp: 1_700_000_106},
			{Number: 2_500_104, Timestamp: 1_700_000_108},
		},
		receipts: map[string]bool{},
	}
	store := newFakeStore()
	cursor := &fakeCursor{value: 2_500_100, set: true}
	k := newTestKeeper(t, chain, store, cursor)

	caughtUp, err := k.cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, caughtUp)
	assert.Equal(t, uint64(2_500_105), cursor.value)

	require.Equal(t, 1, store.commits)
	trade := store.trades["0xt1"]
	require.NotNil(t, trade)
	assert.Equal(t, traderX, trade.FromAddress)
	assert.Equal(t, subjectA, trade.SubjectAddress)
	assert.True(t, trade.IsBuy)
	assert.Equal(t, int64(3), trade.Amount)
	assert.Equal(t, int64(1_700_000_104), trade.Timestamp)
	assert.Equal(t, uint64(2_500_102), trade.BlockNumber)
	assert.Equal(t, pricing.BuyPriceAfterFee(0, 3).String(), trade.Cost.String())

	assert.Equal(t, int64(3), store.supplies[subjectA])
	assert.Equal(t, int64(0), store.supplies[traderX])
}

func TestSyncRange_PricesFromPreTradeSupplyWithinRange(t *testing.T) {
	// A buy of 5 then a sell of 3 against the same subject in one block:
	// the sell must be priced from supply 5, not from the pre-range 0.
	chain := &fakeChain{
		head: 2_500_200,
		blocks: []adapter.Block{
			{Number: 2_500_200, Timestamp: 1_700_001_000, Transactions: []adapter.BlockTransaction{
				{
					Hash:  "0xB1",
					From:  traderX,
					To:    protocol.ContractAddress,
					Input: tradeInput(true, subjectA, 5),
				},
				{
					Hash:  "0xS1",
					From:  traderY,
					To:    protocol.ContractAddress,
					Input: tradeInput(false, subjectA, 3),
				},
			}},
		},
		receipts: map[string]bool{},
	}
	store := newFakeStore()
	k := newTestKeeper(t, chain, store, &fakeCursor{})

	require.NoError(t, k.SyncRange(context.Background(), 2_500_200, 2_500_201))

	require.NotNil(t, store.trades["0xs1"])
	assert.Equal(t, pricing.SellPriceAfterFee(5, 3).String(), store.trades["0xs1"].Cost.String())
	assert.Equal(t, int64(2), store.supplies[subjectA])
}

func TestSyncRange_FiltersNonTradeTransactions(t *testing.T) {
	chain := &fakeChain{
		head: 2_500_300,
		blocks: []adapter.Block{
			{Number: 2_500_300, Timestamp: 1_700_002_000, Transactions: []adapter.BlockTransaction{
				// Wrong destination.
				{Hash: "0xW1", From: traderX, To: subjectB, Input: tradeInput(true, subjectA, 1)},
				// Right destination, unrelated method.
				{Hash: "0xW2", From: traderX, To: protocol.ContractAddress, Input: "0xa9059cbb"},
				// Trade that reverted on chain.
				{Hash: "0xW3", From: traderX, To: protocol.ContractAddress, Input: tradeInput(true, subjectA, 1)},
			}},
		},
		receipts: map[string]bool{"0xw3": false},
	}
	store := newFakeStore()
	cursor := &fakeCursor{}
	k := newTestKeeper(t, chain, store, cursor)

	require.NoError(t, k.SyncRange(context.Background(), 2_500_300, 2_500_301))

	assert.Equal(t, 0, store.commits)
	assert.Empty(t, store.trades)
	assert.Equal(t, uint64(2_500_301), cursor.value)
}

func TestSyncRange_ReplayIsIdempotent(t *testing.T) {
	chain := &fakeChain{
		head: 2_500_400,
		blocks: []adapter.Block{
			{Number: 2_500_400, Timestamp: 1_700_003_000, Transactions: []adapter.BlockTransaction{
				{
					Hash:  "0xR1",
					From:  traderX,
					To:    protocol.ContractAddress,
					Input: tradeInput(true, subjectA, 2),
				},
			}},
		},
		receipts: map[string]bool{},
	}
	store := newFakeStore()
	k := newTestKeeper(t, chain, store, &fakeCursor{})

	require.NoError(t, k.SyncRange(context.Background(), 2_500_400, 2_500_401))
	require.NoError(t, k.SyncRange(context.Background(), 2_500_400, 2_500_401))

	assert.Equal(t, 1, store.commits)
	assert.Equal(t, int64(2), store.supplies[subjectA])
	assert.Equal(t, int64(2), k.supplies[subjectA])
}

func TestSyncRange_SellBeyondSupplyFloorsAtZero(t *testing.T) {
	chain := &fakeChain{
		head: 2_500_500,
		blocks: []adapter.Block{
			{Number: 2_500_500, Timestamp: 1_700_004_000, Transactions: []adapter.BlockTransaction{
				{
					Hash:  "0xS2",
					From:  traderY,
					To:    protocol.ContractAddress,
					Input: tradeInput(false, subjectB, 5),
				},
			}},
		},
		receipts: map[string]bool{},
	}
	store := newFakeStore(models.UserSupply{Address: subjectB, Supply: 2})
	k := newTestKeeper(t, chain, store, &fakeCursor{})

	require.NoError(t, k.SyncRange(context.Background(), 2_500_500, 2_500_501))

	assert.Equal(t, int64(0), store.supplies[subjectB])
	assert.Equal(t, pricing.SellPriceAfterFee(2, 5).String(), store.trades["0xs2"].Cost.String())
}

func TestSyncRange_DecodeFailureAbortsCycle(t *testing.T) {
	chain := &fakeChain{
		head: 2_500_600,
		blocks: []adapter.Block{
			{Number: 2_500_600, Timestamp: 1_700_005_000, Transactions: []adapter.BlockTransaction{
				// Trade selector with truncated calldata.
				{Hash: "0xD1", From: traderX, To: protocol.ContractAddress, Input: protocol.BuySelector + "dead"},
			}},
		},
		receipts: map[string]bool{},
	}
	store := newFakeStore()
	cursor := &fakeCursor{}
	k := newTestKeeper(t, chain, store, cursor)

	err := k.SyncRange(context.Background(), 2_500_600, 2_500_601)
	require.Error(t, err)
	assert.Equal(t, 0, store.commits)
	assert.False(t, cursor.set)
}

func TestCycle_StartsAtDeployBlock(t *testing.T) {
	chain := &fakeChain{head: protocol.DeployBlock + 1, receipts: map[string]bool{}}
	store := newFakeStore()
	cursor := &fakeCursor{}
	k := newTestKeeper(t, chain, store, cursor)

	caughtUp, err := k.cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, caughtUp)
	assert.Equal(t, protocol.DeployBlock+2, cursor.value)
}

func TestCycle_CaughtUpDoesNothing(t *testing.T) {
	chain := &fakeChain{head: 2_500_699, receipts: map[string]bool{}}
	store := newFakeStore()
	cursor := &fakeCursor{value: 2_500_700, set: true}
	k := newTestKeeper(t, chain, store, cursor)

	caughtUp, err := k.cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, caughtUp)
	assert.Equal(t, uint64(2_500_700), cursor.value)
}

func TestMirrorReceivesSupplyAfter(t *testing.T) {
	chain := &fakeChain{
		head: 2_500_800,
		blocks: []adapter.Block{
			{Number: 2_500_800, Timestamp: 1_700_006_000, Transactions: []adapter.BlockTransaction{
				{
					Hash:  "0xM1",
					From:  traderX,
					To:    protocol.ContractAddress,
					Input: tradeInput(true, subjectA, 4),
				},
			}},
		},
		receipts: map[string]bool{},
	}
	store := newFakeStore()
	mirror := &fakeMirror{}
	k := New(chain, store, store, &fakeCursor{}, mirror, Config{BlocksPerCycle: 100})
	require.NoError(t, k.seedSupplies(context.Background()))

	_, supplies, _, events, err := k.buildBatch(chain.blocks, map[string]bool{}, map[string]bool{"0xm1": true})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(4), events[0].SupplyAfter)
	assert.Equal(t, pricing.BuyPriceAfterFee(0, 4).String(), events[0].CostWei)
	assert.Len(t, supplies, 2)
}

func TestDecodeTradeCall(t *testing.T) {
	call, err := decodeTradeCall(tradeInput(true, subjectA, 7))
	require.NoError(t, err)
	assert.Equal(t, subjectA, call.Subject)
	assert.Equal(t, int64(7), call.Amount)
	assert.True(t, call.IsBuy)

	call, err = decodeTradeCall(tradeInput(false, subjectB, 1))
	require.NoError(t, err)
	assert.Equal(t, subjectB, call.Subject)
	assert.False(t, call.IsBuy)

	_, err = decodeTradeCall("0xa9059cbb")
	assert.Error(t, err)

	_, err = decodeTradeCall(protocol.SellSelector + "beef")
	assert.Error(t, err)
}
