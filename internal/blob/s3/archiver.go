package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openforecast/predictd/internal/domain"
)

// Archiver snapshots a settled market to object storage: the full filled-order
// log plus the settlement report, as one JSON document per market. The
// primary store keeps everything; the archive is an off-database record for
// audits and dispute handling.
type Archiver struct {
	writer domain.BlobWriter
	orders domain.OrderStore
}

// NewArchiver creates an Archiver reading from the given order store and
// writing through the given blob writer.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore) *Archiver {
	return &Archiver{writer: writer, orders: orders}
}

// settlementArchive is the JSON document layout written per settled market.
type settlementArchive struct {
	MarketID        string         `json:"market_id"`
	WinningPosition string         `json:"winning_position"`
	Redistributed   float64        `json:"redistributed"`
	WinnersCount    int            `json:"winners_count"`
	CreatorFee      float64        `json:"creator_fee"`
	ValidatorFee    float64        `json:"validator_fee"`
	SettledAt       time.Time      `json:"settled_at"`
	Orders          []archiveOrder `json:"orders"`
}

type archiveOrder struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Side      string    `json:"side"`
	Position  string    `json:"position"`
	Price     float64   `json:"price"`
	Amount    int64     `json:"amount"`
	Filled    int64     `json:"filled"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveSettlement uploads the settlement snapshot for the given result.
func (a *Archiver) ArchiveSettlement(ctx context.Context, res domain.SettlementResult) error {
	orders, err := a.orders.ListFilledByMarket(ctx, res.MarketID)
	if err != nil {
		return fmt.Errorf("s3blob: load orders for archive %s: %w", res.MarketID, err)
	}

	doc := settlementArchive{
		MarketID:        res.MarketID,
		WinningPosition: string(res.WinningPosition),
		Redistributed:   domain.Units(res.RedistributedTicks),
		WinnersCount:    res.WinnersCount,
		CreatorFee:      domain.Units(res.CreatorFee),
		ValidatorFee:    domain.Units(res.ValidatorFee),
		SettledAt:       res.SettledAt,
		Orders:          make([]archiveOrder, 0, len(orders)),
	}
	for _, o := range orders {
		doc.Orders = append(doc.Orders, archiveOrder{
			ID:        o.ID,
			UserID:    o.UserID,
			Side:      string(o.Side),
			Position:  string(o.Position),
			Price:     domain.PricePercent(o.Price),
			Amount:    o.Amount,
			Filled:    o.FilledAmount,
			CreatedAt: o.CreatedAt,
		})
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("s3blob: marshal settlement archive %s: %w", res.MarketID, err)
	}

	key := fmt.Sprintf("settlements/%s/%s.json",
		res.SettledAt.UTC().Format("2006/01/02"), res.MarketID)
	if err := a.writer.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: %w", res.MarketID, err)
	}
	return nil
}
