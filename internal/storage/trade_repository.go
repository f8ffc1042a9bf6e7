package storage

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shares-tracker/internal/models"
)

// TradeRepository handles trade persistence. Trades are append-only:
// rows are only ever inserted, keyed by transaction hash.
type TradeRepository struct {
	db *PostgresDB
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *PostgresDB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `hash, timestamp, block_number, from_address, subject_address, is_buy, amount, cost::text`

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var trade models.Trade
	var costText string
	err := row.Scan(
		&trade.Hash,
		&trade.Timestamp,
		&trade.BlockNumber,
		&trade.FromAddress,
		&trade.SubjectAddress,
		&trade.IsBuy,
		&trade.Amount,
		&costText,
	)
	if err != nil {
		return nil, err
	}

	cost, ok := new(big.Int).SetString(costText, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt cost value %q for trade %s", costText, trade.Hash)
	}
	trade.Cost = cost
	return &trade, nil
}

func collectTrades(rows pgx.Rows) ([]*models.Trade, error) {
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return trades, nil
}

// ExistingHashes returns which of the given transaction hashes already
// have a trade row. The keeper drops these before replaying a range, so
// a re-run never double-applies supply deltas.
func (r *TradeRepository) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	lowered := make([]string, len(hashes))
	for i, hash := range hashes {
		lowered[i] = strings.ToLower(hash)
	}

	rows, err := r.db.Pool().Query(ctx, `SELECT hash FROM trades WHERE hash = ANY($1)`, lowered)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing hashes: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool)
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan hash: %w", err)
		}
		existing[hash] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hashes: %w", err)
	}
	return existing, nil
}

// CommitSyncBatch writes one sync cycle's results in a single
// transaction: supply upserts for every touched user, then the trade
// rows. Either everything lands or nothing does, so a crash between
// statements can never leave supplies and trades disagreeing.
func (r *TradeRepository) CommitSyncBatch(ctx context.Context, supplies []models.UserSupply, trades []*models.Trade) error {
	if len(supplies) == 0 && len(trades) == 0 {
		return nil
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	upsertUser := `
		INSERT INTO users (address, supply, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE
		SET supply = EXCLUDED.supply, updated_at = NOW()
	`
	for _, s := range supplies {
		if _, err := tx.Exec(ctx, upsertUser, strings.ToLower(s.Address), s.Supply); err != nil {
			return fmt.Errorf("failed to upsert user %s: %w", s.Address, err)
		}
	}

	insertTrade := `
		INSERT INTO trades (hash, timestamp, block_number, from_address, subject_address, is_buy, amount, cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)
		ON CONFLICT (hash) DO NOTHING
	`
	for _, trade := range trades {
		_, err := tx.Exec(ctx, insertTrade,
			strings.ToLower(trade.Hash),
			trade.Timestamp,
			trade.BlockNumber,
			strings.ToLower(trade.FromAddress),
			strings.ToLower(trade.SubjectAddress),
			trade.IsBuy,
			trade.Amount,
			trade.Cost.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade %s: %w", trade.Hash, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit sync batch: %w", err)
	}
	return nil
}

// ListRecent returns the latest trades, newest first.
func (r *TradeRepository) ListRecent(ctx context.Context, limit int) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		ORDER BY timestamp DESC, hash ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	return collectTrades(rows)
}

// ListBySubject returns a subject's trade history, newest first, with
// both parties' profile metadata joined on.
func (r *TradeRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]*models.TradeWithProfiles, error) {
	query := `
		SELECT t.hash, t.timestamp, t.block_number, t.from_address, t.subject_address,
		       t.is_buy, t.amount, t.cost::text,
		       f.twitter_username, f.twitter_pfp_url,
		       s.twitter_username, s.twitter_pfp_url
		FROM trades t
		JOIN users f ON f.address = t.from_address
		JOIN users s ON s.address = t.subject_address
		WHERE t.subject_address = $1
		ORDER BY t.timestamp DESC, t.hash ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, strings.ToLower(subject), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query subject trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.TradeWithProfiles
	for rows.Next() {
		var t models.TradeWithProfiles
		var costText string
		err := rows.Scan(
			&t.Hash,
			&t.Timestamp,
			&t.BlockNumber,
			&t.FromAddress,
			&t.SubjectAddress,
			&t.IsBuy,
			&t.Amount,
			&costText,
			&t.FromUser.TwitterUsername,
			&t.FromUser.TwitterPfpURL,
			&t.SubjectUser.TwitterUsername,
			&t.SubjectUser.TwitterPfpURL,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subject trade: %w", err)
		}

		cost, ok := new(big.Int).SetString(costText, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt cost value %q for trade %s", costText, t.Hash)
		}
		t.Cost = cost
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subject trades: %w", err)
	}
	return trades, nil
}

// ListByTrader returns every trade made by an address in chain order,
// oldest first, so holdings can be replayed from it.
func (r *TradeRepository) ListByTrader(ctx context.Context, trader string) ([]*models.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE from_address = $1
		ORDER BY block_number ASC, timestamp ASC, hash ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, strings.ToLower(trader))
	if err != nil {
		return nil, fmt.Errorf("failed to query trader history: %w", err)
	}
	return collectTrades(rows)
}

// RealizedProfits aggregates sells minus buys in wei per trader across
// all trades. Addresses that only bought show up negative.
func (r *TradeRepository) RealizedProfits(ctx context.Context) ([]models.ProfitEntry, error) {
	query := `
		SELECT from_address,
		       SUM(CASE WHEN is_buy THEN -cost ELSE cost END)::text AS profit
		FROM trades
		GROUP BY from_address
		ORDER BY SUM(CASE WHEN is_buy THEN -cost ELSE cost END) DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query realized profits: %w", err)
	}
	defer rows.Close()

	var entries []models.ProfitEntry
	for rows.Next() {
		var entry models.ProfitEntry
		var profitText string
		if err := rows.Scan(&entry.Address, &profitText); err != nil {
			return nil, fmt.Errorf("failed to scan profit entry: %w", err)
		}

		profit, ok := new(big.Int).SetString(profitText, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt profit value %q for %s", profitText, entry.Address)
		}
		entry.Profit = profit
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profit entries: %w", err)
	}
	return entries, nil
}
