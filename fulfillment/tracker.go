// Package fulfillment tracks received quantities per order line for one goods received note draft.
//
// PreviouslyReceivedQty comes from the order snapshot and is never changed here. The backend raises
// it when a GRN converts, and the next draft opened against the order starts from that new value.
package fulfillment

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
)

// QtyPlaces matches the backend's decimal(20,4) quantity columns.
const QtyPlaces = 4

var ErrInvalidQuantity = errors.New("invalid quantity")

// ParseQty parses a typed quantity, rounding to QtyPlaces.
func ParseQty(raw string) (decimal.Decimal, error) {
	d, err := money.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	return d.Round(QtyPlaces), nil
}

type Line struct {
	models.OrderLine
	ReceivedQtyNow decimal.Decimal         `json:"received_qty_now"`
	Condition      models.ReceiptCondition `json:"condition"`
	Included       bool                    `json:"included"`
}

// Selectable is false once nothing is left to receive on the line.
func (l Line) Selectable() bool {
	return l.PendingQty.IsPositive()
}

func (l Line) Subtotal() money.Money {
	return money.MulQty(l.UnitRate, l.ReceivedQtyNow)
}

func (l Line) Vat() money.Money {
	return money.PercentOf(l.Subtotal(), l.VatPercent)
}

type Totals struct {
	ItemCount  int             `json:"item_count"`
	TotalQty   decimal.Decimal `json:"total_qty"`
	Subtotal   money.Money     `json:"subtotal"`
	VatTotal   money.Money     `json:"vat_total"`
	GrandTotal money.Money     `json:"grand_total"`
}

// Tracker is an immutable GRN draft over one order's lines.
type Tracker struct {
	orderId int
	lines   []Line
}

// ForOrder derives pending = ordered - previously received for every line.
func ForOrder(orderId int, orderLines []models.OrderLine) (Tracker, error) {
	lines := make([]Line, 0, len(orderLines))
	for _, ol := range orderLines {
		line, err := newLine(ol)
		if err != nil {
			return Tracker{}, err
		}
		lines = append(lines, line)
	}
	return Tracker{orderId: orderId, lines: lines}, nil
}

func newLine(ol models.OrderLine) (Line, error) {
	if err := ol.Validate(); err != nil {
		return Line{}, err
	}
	ol.PendingQty = ol.OrderedQty.Sub(ol.PreviouslyReceivedQty)
	return Line{OrderLine: ol, ReceivedQtyNow: decimal.Zero, Condition: models.ReceiptConditionGood}, nil
}

func (t Tracker) OrderId() int {
	return t.orderId
}

func (t Tracker) Lines() []Line {
	return slices.Clone(t.lines)
}

func (t Tracker) Line(lineId int) (Line, bool) {
	i := t.indexOf(lineId)
	if i < 0 {
		return Line{}, false
	}
	return t.lines[i], true
}

// SetReceivedQty clamps qty into [0, pending] and includes the line when qty > 0.
func (t Tracker) SetReceivedQty(lineId int, qty decimal.Decimal) (Tracker, error) {
	i := t.indexOf(lineId)
	if i < 0 {
		return t, models.NewFieldError("line", lineId, models.ErrLineNotFound)
	}
	next := t.clone()
	line := &next.lines[i]
	line.ReceivedQtyNow = clampQty(qty.Round(QtyPlaces), line.PendingQty)
	line.Included = line.ReceivedQtyNow.IsPositive()
	return next, nil
}

// SetReceivedInput parses typed text before clamping. Unparseable text leaves the draft as it was.
func (t Tracker) SetReceivedInput(lineId int, raw string) (Tracker, error) {
	qty, err := ParseQty(raw)
	if err != nil {
		return t, models.NewFieldError("received_qty_now", lineId, err)
	}
	return t.SetReceivedQty(lineId, qty)
}

func (t Tracker) SetCondition(lineId int, condition models.ReceiptCondition) (Tracker, error) {
	i := t.indexOf(lineId)
	if i < 0 {
		return t, models.NewFieldError("line", lineId, models.ErrLineNotFound)
	}
	if !condition.IsValid() {
		return t, models.NewFieldError("condition", lineId, fmt.Errorf("invalid condition %q", condition))
	}
	next := t.clone()
	next.lines[i].Condition = condition
	return next, nil
}

// ReceiveAllPending sets every selectable line to its full pending quantity.
func (t Tracker) ReceiveAllPending() Tracker {
	next := t.clone()
	for i := range next.lines {
		line := &next.lines[i]
		if !line.Selectable() {
			continue
		}
		line.ReceivedQtyNow = line.PendingQty
		line.Included = true
	}
	return next
}

func (t Tracker) SelectAll() Tracker {
	return t.ReceiveAllPending()
}

func (t Tracker) ClearAll() Tracker {
	next := t.clone()
	for i := range next.lines {
		next.lines[i].ReceivedQtyNow = decimal.Zero
		next.lines[i].Included = false
	}
	return next
}

// Totals covers included lines only. Line amounts are rounded once each, then summed.
func (t Tracker) Totals() Totals {
	totals := Totals{TotalQty: decimal.Zero}
	var subtotals, vats []money.Money
	for _, line := range t.lines {
		if !line.Included {
			continue
		}
		totals.ItemCount++
		totals.TotalQty = totals.TotalQty.Add(line.ReceivedQtyNow)
		subtotals = append(subtotals, line.Subtotal())
		vats = append(vats, line.Vat())
	}
	totals.Subtotal = money.Sum(subtotals...)
	totals.VatTotal = money.Sum(vats...)
	totals.GrandTotal = totals.Subtotal.Add(totals.VatTotal)
	return totals
}

// Refresh rebuilds pending quantities from a newer order snapshot. Received quantities are kept
// so that Validate reports lines the new snapshot no longer covers.
func (t Tracker) Refresh(fresh []models.OrderLine) (Tracker, error) {
	next := t.clone()
	index := indexLines(fresh)
	for i := range next.lines {
		line := &next.lines[i]
		ol, ok := index[line.ID]
		if !ok {
			line.PreviouslyReceivedQty = line.OrderedQty
			line.PendingQty = decimal.Zero
			continue
		}
		refreshed, err := newLine(ol)
		if err != nil {
			return t, err
		}
		line.OrderLine = refreshed.OrderLine
	}
	return next, nil
}

// Validate checks the draft against the snapshot it was opened with.
func (t Tracker) Validate() error {
	return t.validate(func(l Line) decimal.Decimal { return l.PendingQty })
}

// ValidateAgainst re-checks pending quantities from the current order snapshot, which catches
// another GRN converted against the same order since this draft was opened.
func (t Tracker) ValidateAgainst(fresh []models.OrderLine) error {
	index := indexLines(fresh)
	return t.validate(func(l Line) decimal.Decimal {
		ol, ok := index[l.ID]
		if !ok {
			return decimal.Zero
		}
		return ol.OrderedQty.Sub(ol.PreviouslyReceivedQty)
	})
}

func (t Tracker) validate(pending func(Line) decimal.Decimal) error {
	anyReceived := false
	for _, line := range t.lines {
		if !line.Included || !line.ReceivedQtyNow.IsPositive() {
			continue
		}
		anyReceived = true
		if p := pending(line); line.ReceivedQtyNow.GreaterThan(p) {
			return models.NewFieldError("received_qty_now", line.ID, fmt.Errorf("%w: %s received, %s pending for %s",
				models.ErrQuantityExceedsPending, line.ReceivedQtyNow, p, line.ItemName))
		}
	}
	if !anyReceived {
		return models.NewFieldError("lines", 0, models.ErrNoLineSelected)
	}
	return nil
}

// ReceiptLines lists the included lines in order.
func (t Tracker) ReceiptLines() []models.ReceiptLine {
	var receipt []models.ReceiptLine
	for _, line := range t.lines {
		if !line.Included {
			continue
		}
		receipt = append(receipt, models.ReceiptLine{
			OrderLineId:    line.ID,
			ReceivedQtyNow: line.ReceivedQtyNow,
			Condition:      line.Condition,
		})
	}
	return receipt
}

func (t Tracker) Draft(date time.Time, notes string) models.GRNDraft {
	return models.GRNDraft{
		OrderId: t.orderId,
		Date:    date,
		Notes:   notes,
		Lines:   t.ReceiptLines(),
	}
}

func (t Tracker) indexOf(lineId int) int {
	return slices.IndexFunc(t.lines, func(l Line) bool { return l.ID == lineId })
}

func (t Tracker) clone() Tracker {
	return Tracker{orderId: t.orderId, lines: slices.Clone(t.lines)}
}

func clampQty(qty, pending decimal.Decimal) decimal.Decimal {
	if qty.IsNegative() {
		return decimal.Zero
	}
	if qty.GreaterThan(pending) {
		return pending
	}
	return qty
}

func indexLines(lines []models.OrderLine) map[int]models.OrderLine {
	index := make(map[int]models.OrderLine, len(lines))
	for _, l := range lines {
		index[l.ID] = l
	}
	return index
}

type trackerState struct {
	OrderId int    `json:"order_id"`
	Lines   []Line `json:"lines"`
	Totals  Totals `json:"totals"`
}

func (t Tracker) MarshalJSON() ([]byte, error) {
	lines := t.lines
	if lines == nil {
		lines = []Line{}
	}
	return json.Marshal(trackerState{OrderId: t.orderId, Lines: lines, Totals: t.Totals()})
}

func (t *Tracker) UnmarshalJSON(data []byte) error {
	var state trackerState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	t.orderId = state.OrderId
	t.lines = state.Lines
	return nil
}
