package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shares-tracker/internal/models"
)

// TradeEventsRepository writes the analytics mirror of committed trades
// into ClickHouse and serves the per-subject series queries. Writes are
// best effort: the keeper retries whole ranges and the table
// deduplicates on hash, so a lost batch heals on the next replay.
type TradeEventsRepository struct {
	db *ClickHouseDB
}

// NewTradeEventsRepository creates a new trade events repository
func NewTradeEventsRepository(db *ClickHouseDB) *TradeEventsRepository {
	return &TradeEventsRepository{db: db}
}

// InsertBatch appends trade events as one columnar batch.
func (r *TradeEventsRepository) InsertBatch(ctx context.Context, events []*models.TradeEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO trade_events
			(hash, timestamp, block_number, from_address, subject_address, is_buy, amount, supply_after, cost_wei)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade events batch: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			strings.ToLower(event.Hash),
			time.Unix(event.Timestamp, 0).UTC(),
			event.BlockNumber,
			strings.ToLower(event.FromAddress),
			strings.ToLower(event.SubjectAddress),
			event.IsBuy,
			event.Amount,
			event.SupplyAfter,
			event.CostWei,
		)
		if err != nil {
			return fmt.Errorf("failed to append trade event %s: %w", event.Hash, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send trade events batch: %w", err)
	}
	return nil
}

// ListSubjectSeries returns a subject's supply history in block order,
// one point per trade.
func (r *TradeEventsRepository) ListSubjectSeries(ctx context.Context, subject string) ([]models.SeriesPoint, error) {
	query := `
		SELECT toUnixTimestamp(timestamp) AS ts, supply_after
		FROM trade_events
		WHERE subject_address = ?
		ORDER BY block_number ASC, ts ASC
	`

	rows, err := r.db.Conn().Query(ctx, query, strings.ToLower(subject))
	if err != nil {
		return nil, fmt.Errorf("failed to query subject series: %w", err)
	}
	defer rows.Close()

	var points []models.SeriesPoint
	for rows.Next() {
		var ts uint32
		var supplyAfter int64
		if err := rows.Scan(&ts, &supplyAfter); err != nil {
			return nil, fmt.Errorf("failed to scan series point: %w", err)
		}
		points = append(points, models.SeriesPoint{
			Timestamp:   int64(ts),
			SupplyAfter: supplyAfter,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate series points: %w", err)
	}
	return points, nil
}
