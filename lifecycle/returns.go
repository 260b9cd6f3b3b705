package lifecycle

import (
	"fmt"
	"slices"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
)

// Return is a purchase or sales return. Issuing it generates the debit or credit note, after which
// neither the return nor the note changes.
type Return struct {
	ID               int                 `json:"id"`
	ReturnNumber     string              `json:"return_number"`
	Kind             models.ReturnKind   `json:"kind"`
	PartyId          int                 `json:"party_id"`
	SourceDocumentId int                 `json:"source_document_id"`
	Date             time.Time           `json:"date"`
	Reason           string              `json:"reason"`
	Status           models.ReturnStatus `json:"status"`
	Lines            []models.ReturnLine `json:"lines"`
	note             *models.Note
}

func NewReturn(draft models.ReturnDraft) (*Return, error) {
	if !draft.Kind.IsValid() {
		return nil, models.NewFieldError("kind", 0, fmt.Errorf("invalid return kind %q", draft.Kind))
	}
	if err := ValidateReturnLines(draft.Lines); err != nil {
		return nil, err
	}
	return &Return{
		Kind:             draft.Kind,
		PartyId:          draft.PartyId,
		SourceDocumentId: draft.SourceDocumentId,
		Date:             draft.Date,
		Reason:           draft.Reason,
		Status:           models.ReturnStatusDraft,
		Lines:            slices.Clone(draft.Lines),
	}, nil
}

// ValidateReturnLines requires at least one positive quantity and bounds every line by its
// returnable quantity.
func ValidateReturnLines(lines []models.ReturnLine) error {
	returning := false
	for _, l := range lines {
		if l.Qty.IsNegative() {
			return models.NewFieldError("qty", l.SourceLineId, fmt.Errorf("return qty must not be negative"))
		}
		if l.Qty.GreaterThan(l.ReturnableQty()) {
			return models.NewFieldError("qty", l.SourceLineId, fmt.Errorf("%w: %s returned, %s returnable for %s",
				models.ErrQuantityExceedsReturnable, l.Qty, l.ReturnableQty(), l.ItemName))
		}
		if l.Qty.IsPositive() {
			returning = true
		}
	}
	if !returning {
		return models.NewFieldError("lines", 0, models.ErrNoLineSelected)
	}
	return nil
}

// ClampReturnQty bounds qty into [0, returnable].
func ClampReturnQty(l models.ReturnLine, qty decimal.Decimal) decimal.Decimal {
	if qty.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(qty, l.ReturnableQty())
}

// SetQty changes a line quantity while the return is still a draft.
func (r *Return) SetQty(sourceLineId int, qty decimal.Decimal) error {
	if r.Status != models.ReturnStatusDraft {
		return fmt.Errorf("%w: return %s is %s", models.ErrInvalidTransition, r.ReturnNumber, r.Status)
	}
	i := slices.IndexFunc(r.Lines, func(l models.ReturnLine) bool { return l.SourceLineId == sourceLineId })
	if i < 0 {
		return models.NewFieldError("line", sourceLineId, models.ErrLineNotFound)
	}
	r.Lines[i].Qty = ClampReturnQty(r.Lines[i], qty)
	return nil
}

// Submitted records the identity assigned by the backend.
func (r *Return) Submitted(result models.ReturnResult) {
	r.ID = result.ID
	r.ReturnNumber = result.ReturnNumber
	if result.Status != "" {
		r.Status = result.Status
	}
}

// Totals computes line amounts rounded once each, then summed.
func (r *Return) Totals() (subtotal, vat, total money.Money) {
	return ReturnTotals(r.Lines)
}

func ReturnTotals(lines []models.ReturnLine) (subtotal, vat, total money.Money) {
	for _, l := range lines {
		if !l.Qty.IsPositive() {
			continue
		}
		lineAmount := money.MulQty(l.UnitRate, l.Qty)
		subtotal = subtotal.Add(lineAmount)
		vat = vat.Add(money.PercentOf(lineAmount, l.VatPercent))
	}
	return subtotal, vat, subtotal.Add(vat)
}

// Issue moves DRAFT -> ISSUED and generates the note. A second call fails with
// models.ErrInvalidTransition and returns the note already issued.
func (r *Return) Issue(noteNumber string, issuedAt time.Time) (models.Note, error) {
	if !r.Status.CanTransitionTo(models.ReturnStatusIssued) {
		note, _ := r.Note()
		return note, fmt.Errorf("%w: return %s is %s", models.ErrInvalidTransition, r.ReturnNumber, r.Status)
	}
	if err := ValidateReturnLines(r.Lines); err != nil {
		return models.Note{}, err
	}
	subtotal, vat, total := r.Totals()
	r.note = &models.Note{
		Kind:       r.Kind.NoteKind(),
		NoteNumber: noteNumber,
		IssuedAt:   issuedAt,
		Subtotal:   subtotal,
		VatTotal:   vat,
		Total:      total,
	}
	r.Status = models.ReturnStatusIssued
	return *r.note, nil
}

// Note returns a copy of the issued note.
func (r *Return) Note() (models.Note, bool) {
	if r.note == nil {
		return models.Note{}, false
	}
	return *r.note, true
}
