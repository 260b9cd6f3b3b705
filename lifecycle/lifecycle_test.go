package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
)

func grnDraft() models.GRNDraft {
	return models.GRNDraft{
		OrderId: 3,
		Date:    time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Lines: []models.ReceiptLine{
			{OrderLineId: 1, ReceivedQtyNow: decimal.NewFromInt(25), Condition: models.ReceiptConditionGood},
		},
	}
}

func TestGRNTransitions(t *testing.T) {
	cases := []struct {
		name    string
		steps   []func(*GRN) error
		final   models.GRNStatus
		lastErr error
	}{
		{
			name:  "convert",
			steps: []func(*GRN) error{convert},
			final: models.GRNStatusConverted,
		},
		{
			name:  "cancel",
			steps: []func(*GRN) error{cancel},
			final: models.GRNStatusCancelled,
		},
		{
			name:    "convert twice",
			steps:   []func(*GRN) error{convert, convert},
			final:   models.GRNStatusConverted,
			lastErr: models.ErrInvalidTransition,
		},
		{
			name:    "cancel after convert",
			steps:   []func(*GRN) error{convert, cancel},
			final:   models.GRNStatusConverted,
			lastErr: models.ErrInvalidTransition,
		},
		{
			name:    "convert after cancel",
			steps:   []func(*GRN) error{cancel, convert},
			final:   models.GRNStatusCancelled,
			lastErr: models.ErrInvalidTransition,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGRN(11, "GRN-11", grnDraft())
			var err error
			for _, step := range tc.steps {
				err = step(g)
			}
			if !errors.Is(err, tc.lastErr) {
				t.Fatalf("expected error %v, got %v", tc.lastErr, err)
			}
			if g.Status != tc.final {
				t.Fatalf("expected status %s, got %s", tc.final, g.Status)
			}
		})
	}
}

func convert(g *GRN) error { return g.Convert(time.Now()) }
func cancel(g *GRN) error { return g.Cancel(time.Now()) }

func TestApplyConversion(t *testing.T) {
	lines := []models.OrderLine{
		{ID: 1, OrderedQty: decimal.NewFromInt(100), PreviouslyReceivedQty: decimal.NewFromInt(40)},
		{ID: 2, OrderedQty: decimal.NewFromInt(5), PreviouslyReceivedQty: decimal.Zero},
	}
	out := ApplyConversion(lines, grnDraft().Lines)
	if !out[0].PreviouslyReceivedQty.Equal(decimal.NewFromInt(65)) {
		t.Fatalf("expected previously received 65, got %s", out[0].PreviouslyReceivedQty)
	}
	if !out[0].PendingQty.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected pending 35, got %s", out[0].PendingQty)
	}
	if !out[1].PendingQty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected untouched line pending 5, got %s", out[1].PendingQty)
	}
	if !lines[0].PreviouslyReceivedQty.Equal(decimal.NewFromInt(40)) {
		t.Fatal("input lines must not change")
	}
}

func returnLine(id int, invoiced, returned, qty, rate string) models.ReturnLine {
	r, _ := money.Parse(rate)
	return models.ReturnLine{
		SourceLineId:          id,
		ItemName:              "item",
		InvoicedQty:           decimal.RequireFromString(invoiced),
		PreviouslyReturnedQty: decimal.RequireFromString(returned),
		Qty:                   decimal.RequireFromString(qty),
		UnitRate:              r,
		VatPercent:            decimal.NewFromInt(5),
	}
}

func returnDraft(lines ...models.ReturnLine) models.ReturnDraft {
	return models.ReturnDraft{
		Kind:             models.ReturnKindPurchase,
		PartyId:          4,
		SourceDocumentId: 9,
		Date:             time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		Lines:            lines,
	}
}

func TestNewReturn_BoundsByReturnable(t *testing.T) {
	_, err := NewReturn(returnDraft(returnLine(1, "10", "4", "7", "20")))
	if !errors.Is(err, models.ErrQuantityExceedsReturnable) {
		t.Fatalf("expected ErrQuantityExceedsReturnable, got %v", err)
	}
	var fe *models.FieldError
	if !errors.As(err, &fe) || fe.Id != 1 {
		t.Fatalf("expected field error on line 1, got %v", err)
	}

	_, err = NewReturn(returnDraft(returnLine(1, "10", "4", "0", "20")))
	if !errors.Is(err, models.ErrNoLineSelected) {
		t.Fatalf("expected ErrNoLineSelected, got %v", err)
	}

	if _, err := NewReturn(returnDraft(returnLine(1, "10", "4", "6", "20"))); err != nil {
		t.Fatalf("expected full returnable qty to be accepted, got %v", err)
	}
}

func TestReturnIssue(t *testing.T) {
	r, err := NewReturn(returnDraft(returnLine(1, "10", "4", "3", "20"), returnLine(2, "2", "0", "1", "12.50")))
	if err != nil {
		t.Fatalf("NewReturn: %v", err)
	}
	r.Submitted(models.ReturnResult{ID: 5, ReturnNumber: "PR-5", Status: models.ReturnStatusDraft})

	issuedAt := time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC)
	note, err := r.Issue("DN-1", issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// 3 x 20 + 1 x 12.50 = 72.50, vat 3.00 + 0.63
	if note.Kind != models.NoteKindDebit || note.Subtotal.String() != "72.50" || note.VatTotal.String() != "3.63" || note.Total.String() != "76.13" {
		t.Fatalf("unexpected note %+v", note)
	}
	if r.Status != models.ReturnStatusIssued {
		t.Fatalf("expected ISSUED, got %s", r.Status)
	}

	again, err := r.Issue("DN-2", issuedAt.Add(time.Hour))
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if again.NoteNumber != "DN-1" {
		t.Fatalf("expected original note to be kept, got %s", again.NoteNumber)
	}
	if err := r.SetQty(1, decimal.NewFromInt(1)); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected issued return to be immutable, got %v", err)
	}
}

func TestReturnSetQtyClamps(t *testing.T) {
	r, err := NewReturn(returnDraft(returnLine(1, "10", "4", "1", "20")))
	if err != nil {
		t.Fatalf("NewReturn: %v", err)
	}
	if err := r.SetQty(1, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("SetQty: %v", err)
	}
	if !r.Lines[0].Qty.Equal(decimal.NewFromInt(6)) {
		t.Fatalf("expected clamp to 6, got %s", r.Lines[0].Qty)
	}
	if err := r.SetQty(2, decimal.NewFromInt(1)); !errors.Is(err, models.ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}

func TestSalesReturnIssuesCreditNote(t *testing.T) {
	draft := returnDraft(returnLine(1, "10", "0", "1", "10"))
	draft.Kind = models.ReturnKindSales
	r, err := NewReturn(draft)
	if err != nil {
		t.Fatalf("NewReturn: %v", err)
	}
	note, err := r.Issue("CN-1", time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if note.Kind != models.NoteKindCredit {
		t.Fatalf("expected credit note, got %s", note.Kind)
	}
}
