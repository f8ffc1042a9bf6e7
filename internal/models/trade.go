package models

import "math/big"

// Trade is one append-only row per successfully decoded, on-chain
// confirmed buy/sell. Timestamp is the block timestamp, not insert time.
// Cost is the fee-inclusive trade value in wei; direction is carried by
// IsBuy, so Cost is always non-negative.
type Trade struct {
	Hash           string   `json:"hash"`
	Timestamp      int64    `json:"timestamp"`
	BlockNumber    uint64   `json:"blockNumber"`
	FromAddress    string   `json:"fromAddress"`
	SubjectAddress string   `json:"subjectAddress"`
	IsBuy          bool     `json:"isBuy"`
	Amount         int64    `json:"amount"`
	Cost           *big.Int `json:"cost"`
}

// TradeProfile is the subset of user metadata joined onto trade listings
// for the dashboard.
type TradeProfile struct {
	TwitterUsername *string `json:"twitterUsername"`
	TwitterPfpURL   *string `json:"twitterPfpUrl"`
}

// TradeWithProfiles is a trade augmented with the trader's and subject's
// profile metadata.
type TradeWithProfiles struct {
	Trade
	FromUser    TradeProfile `json:"fromUser"`
	SubjectUser TradeProfile `json:"subjectUser"`
}

// Holding is a subject position held by a trader, replayed from that
// trader's buy/sell history.
type Holding struct {
	User
	Balance int64 `json:"balance"`
}

// ProfitEntry is one realized-profit ledger row: sells minus buys in wei
// across every trade the address has made.
type ProfitEntry struct {
	Address string   `json:"address"`
	Profit  *big.Int `json:"profit"`
}

// TradeEvent is the analytics mirror of a committed trade, extended
// with the subject's supply after the trade so price series can be
// read back without replaying history.
type TradeEvent struct {
	Hash           string
	Timestamp      int64
	BlockNumber    uint64
	FromAddress    string
	SubjectAddress string
	IsBuy          bool
	Amount         int64
	SupplyAfter    int64
	CostWei        string
}

// SeriesPoint is one step of a subject's supply history, ordered by
// block time.
type SeriesPoint struct {
	Timestamp   int64 `json:"timestamp"`
	SupplyAfter int64 `json:"supplyAfter"`
}
