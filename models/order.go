package models

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
)

// OrderLine is one purchase order line as last committed by the backend.
// PendingQty = OrderedQty - PreviouslyReceivedQty.
type OrderLine struct {
	ID                    int             `json:"id"`
	ItemId                int             `json:"item_id"`
	ItemName              string          `json:"item_name"`
	OrderedQty            decimal.Decimal `json:"ordered_qty"`
	PreviouslyReceivedQty decimal.Decimal `json:"previously_received_qty"`
	PendingQty            decimal.Decimal `json:"pending_qty"`
	UnitRate              money.Money     `json:"unit_rate"`
	VatPercent            decimal.Decimal `json:"vat_percent"`
}

func (l OrderLine) Validate() error {
	if l.OrderedQty.IsNegative() || l.PreviouslyReceivedQty.IsNegative() {
		return fmt.Errorf("%w: order line %d has negative quantity", ErrInvalidSnapshot, l.ID)
	}
	if l.PreviouslyReceivedQty.GreaterThan(l.OrderedQty) {
		return fmt.Errorf("%w: order line %d received %s of %s ordered",
			ErrInvalidSnapshot, l.ID, l.PreviouslyReceivedQty, l.OrderedQty)
	}
	if l.UnitRate.IsNegative() || l.VatPercent.IsNegative() {
		return fmt.Errorf("%w: order line %d has negative rate", ErrInvalidSnapshot, l.ID)
	}
	return nil
}

type ReceiptLine struct {
	OrderLineId    int              `json:"order_line_id" validate:"required,gt=0"`
	ReceivedQtyNow decimal.Decimal  `json:"received_qty_now"`
	Condition      ReceiptCondition `json:"condition" validate:"omitempty,oneof=good damaged"`
}

type GRNDraft struct {
	OrderId int           `json:"order_id" validate:"required,gt=0"`
	Date    time.Time     `json:"date" validate:"required"`
	Notes   string        `json:"notes" validate:"max=2000"`
	Lines   []ReceiptLine `json:"lines" validate:"required,min=1,dive"`
}

type GRNResult struct {
	ID        int       `json:"id"`
	GRNNumber string    `json:"grn_number"`
	OrderId   int       `json:"order_id,omitempty"`
	Status    GRNStatus `json:"status"`
}
