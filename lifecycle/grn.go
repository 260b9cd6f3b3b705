// Package lifecycle holds the status machines of goods received notes and returns.
//
// A transition out of a terminal status fails with models.ErrInvalidTransition and changes nothing.
// Callers treat that error as a no-op, since it comes from a duplicate or late click.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/shopspring/decimal"
)

type GRN struct {
	ID          int                  `json:"id"`
	GRNNumber   string               `json:"grn_number"`
	OrderId     int                  `json:"order_id"`
	Date        time.Time            `json:"date"`
	Status      models.GRNStatus     `json:"status"`
	Lines       []models.ReceiptLine `json:"lines"`
	ConvertedAt *time.Time           `json:"converted_at,omitempty"`
	CancelledAt *time.Time           `json:"cancelled_at,omitempty"`
}

// NewGRN opens a RECEIVED note for a submitted draft.
func NewGRN(id int, number string, draft models.GRNDraft) *GRN {
	return &GRN{
		ID:        id,
		GRNNumber: number,
		OrderId:   draft.OrderId,
		Date:      draft.Date,
		Status:    models.GRNStatusReceived,
		Lines:     append([]models.ReceiptLine(nil), draft.Lines...),
	}
}

// CheckGRNTransition reports whether from -> to is allowed.
func CheckGRNTransition(from, to models.GRNStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: grn is %s, cannot move to %s", models.ErrInvalidTransition, from, to)
	}
	return nil
}

// Convert moves the note to CONVERTED. The received quantities count against the order from now on.
func (g *GRN) Convert(at time.Time) error {
	if err := CheckGRNTransition(g.Status, models.GRNStatusConverted); err != nil {
		return err
	}
	g.Status = models.GRNStatusConverted
	g.ConvertedAt = &at
	return nil
}

// Cancel moves the note to CANCELLED. Order quantities are left untouched.
func (g *GRN) Cancel(at time.Time) error {
	if err := CheckGRNTransition(g.Status, models.GRNStatusCancelled); err != nil {
		return err
	}
	g.Status = models.GRNStatusCancelled
	g.CancelledAt = &at
	return nil
}

// ApplyConversion adds converted receipt quantities to the order's previously received quantities
// and recomputes pending. The input slice is not modified.
func ApplyConversion(lines []models.OrderLine, receipt []models.ReceiptLine) []models.OrderLine {
	received := make(map[int]decimal.Decimal, len(receipt))
	for _, r := range receipt {
		received[r.OrderLineId] = received[r.OrderLineId].Add(r.ReceivedQtyNow)
	}
	out := make([]models.OrderLine, len(lines))
	for i, l := range lines {
		if qty, ok := received[l.ID]; ok {
			l.PreviouslyReceivedQty = decimal.Min(l.PreviouslyReceivedQty.Add(qty), l.OrderedQty)
		}
		l.PendingQty = l.OrderedQty.Sub(l.PreviouslyReceivedQty)
		out[i] = l
	}
	return out
}
