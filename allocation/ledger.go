// Package allocation splits one voucher amount across a party's outstanding documents.
//
// A Ledger is an immutable value: every operation returns a new Ledger and leaves the
// receiver untouched, so a caller can keep the previous state for undo or comparison.
package allocation

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
)

// Entry is one selected document and the amount applied to it.
type Entry struct {
	Document models.OutstandingDocument `json:"document"`
	// Credit is what the voucher being edited already applied to this document.
	Credit    money.Money `json:"credit"`
	Amount    money.Money `json:"amount"`
	LastValid money.Money `json:"last_valid"`
	Input     string      `json:"input,omitempty"`
	Editing   bool        `json:"editing,omitempty"`
}

// Ceiling is the most this voucher may apply to the document.
func (e Entry) Ceiling() money.Money {
	return e.Document.OutstandingAmount.Add(e.Credit)
}

func (e Entry) Allocation() models.Allocation {
	return models.Allocation{DocumentId: e.Document.ID, Amount: e.Amount}
}

// SettlementStatus previews the document status once this allocation posts.
func (e Entry) SettlementStatus() models.SettlementStatus {
	if e.Amount.Cmp(e.Ceiling()) >= 0 {
		return models.SettlementStatusPaid
	}
	if e.Amount.IsPositive() || e.Document.PaidAmount.Sub(e.Credit).IsPositive() {
		return models.SettlementStatusPartialPaid
	}
	return models.SettlementStatusConfirmed
}

type Ledger struct {
	entries  []Entry
	capacity *money.Money
}

func New() Ledger {
	return Ledger{}
}

// WithCapacity sets the voucher amount ceiling used when defaulting new selections.
// A nil capacity means "no voucher amount entered": selections default to paying in full.
func (l Ledger) WithCapacity(capacity *money.Money) Ledger {
	next := l.clone()
	if capacity == nil {
		next.capacity = nil
		return next
	}
	c := *capacity
	next.capacity = &c
	return next
}

func (l Ledger) Capacity() (money.Money, bool) {
	if l.capacity == nil {
		return 0, false
	}
	return *l.capacity, true
}

// Remaining is the unallocated part of the voucher amount, if one is set.
func (l Ledger) Remaining() (money.Money, bool) {
	if l.capacity == nil {
		return 0, false
	}
	return l.capacity.Sub(l.Total()), true
}

// Entries returns the selections in the order they were made.
func (l Ledger) Entries() []Entry {
	return slices.Clone(l.entries)
}

func (l Ledger) Len() int {
	return len(l.entries)
}

func (l Ledger) Entry(documentId int) (Entry, bool) {
	i := l.indexOf(documentId)
	if i < 0 {
		return Entry{}, false
	}
	return l.entries[i], true
}

func (l Ledger) IsSelected(documentId int) bool {
	return l.indexOf(documentId) >= 0
}

func (l Ledger) Allocations() []models.Allocation {
	allocations := make([]models.Allocation, 0, len(l.entries))
	for _, e := range l.entries {
		allocations = append(allocations, e.Allocation())
	}
	return allocations
}

// Total is derived from the entries on every call.
func (l Ledger) Total() money.Money {
	amounts := make([]money.Money, 0, len(l.entries))
	for _, e := range l.entries {
		amounts = append(amounts, e.Amount)
	}
	return money.Sum(amounts...)
}

// Select adds the document with its amount defaulted to the full outstanding balance,
// or to the unallocated voucher amount when that is smaller. Selecting twice is a no-op.
func (l Ledger) Select(doc models.OutstandingDocument) (Ledger, error) {
	if l.IsSelected(doc.ID) {
		return l, nil
	}
	if !doc.OutstandingAmount.IsPositive() {
		return l, models.NewFieldError("document", doc.ID, models.ErrNotOutstanding)
	}
	amount := doc.OutstandingAmount
	if remaining, ok := l.Remaining(); ok {
		if !remaining.IsPositive() {
			return l, models.NewFieldError("document", doc.ID, models.ErrCapacityExhausted)
		}
		amount = money.Min(amount, remaining)
	}
	next := l.clone()
	next.entries = append(next.entries, Entry{Document: doc, Amount: amount, LastValid: amount})
	return next, nil
}

// Restore re-opens an allocation made by a voucher that is being edited. The document's
// ceiling becomes its outstanding balance plus the amount this voucher already applied.
func (l Ledger) Restore(doc models.OutstandingDocument, amount money.Money) (Ledger, error) {
	if l.IsSelected(doc.ID) {
		return l, nil
	}
	if err := doc.Validate(); err != nil {
		return l, models.NewFieldError("document", doc.ID, err)
	}
	if !amount.IsPositive() {
		return l, models.NewFieldError("amount", doc.ID, models.ErrZeroAmount)
	}
	next := l.clone()
	next.entries = append(next.entries, Entry{Document: doc, Credit: amount, Amount: amount, LastValid: amount})
	return next, nil
}

func (l Ledger) Deselect(documentId int) Ledger {
	i := l.indexOf(documentId)
	if i < 0 {
		return l
	}
	next := l.clone()
	next.entries = slices.Delete(next.entries, i, i+1)
	return next
}

// Edit records raw text while the user is typing. Nothing is clamped here; the live
// amount follows the text whenever it parses within the Money range.
func (l Ledger) Edit(documentId int, raw string) (Ledger, error) {
	i := l.indexOf(documentId)
	if i < 0 {
		return l, models.NewFieldError("document", documentId, models.ErrDocumentNotFound)
	}
	next := l.clone()
	e := &next.entries[i]
	e.Input = raw
	e.Editing = true
	if parsed, err := money.Parse(raw); err == nil {
		e.Amount = parsed
	}
	return next, nil
}

// Commit clamps the edited amount into [0, ceiling]. Text that does not parse, or that
// clamps to zero, reverts to the last committed amount.
func (l Ledger) Commit(documentId int) (Ledger, error) {
	i := l.indexOf(documentId)
	if i < 0 {
		return l, models.NewFieldError("document", documentId, models.ErrDocumentNotFound)
	}
	if !l.entries[i].Editing {
		return l, nil
	}
	next := l.clone()
	e := &next.entries[i]
	amount := e.LastValid
	if parsed, err := money.ParseSaturating(e.Input); err == nil {
		if clamped := money.Clamp(parsed, 0, e.Ceiling()); clamped.IsPositive() {
			amount = clamped
		}
	}
	e.Amount = amount
	e.LastValid = amount
	e.Input = ""
	e.Editing = false
	return next, nil
}

// SetAmount is an edit immediately followed by a commit.
func (l Ledger) SetAmount(documentId int, raw string) (Ledger, error) {
	next, err := l.Edit(documentId, raw)
	if err != nil {
		return l, err
	}
	return next.Commit(documentId)
}

// Refresh swaps in a newer snapshot of the party's documents. Amounts are left alone so
// that Validate reports anything the newer balances no longer allow. A selected document
// missing from the snapshot was settled elsewhere and is treated as fully paid.
func (l Ledger) Refresh(fresh []models.OutstandingDocument) Ledger {
	index := indexDocuments(fresh)
	next := l.clone()
	for i := range next.entries {
		e := &next.entries[i]
		if doc, ok := index[e.Document.ID]; ok {
			e.Document = doc
			continue
		}
		e.Document.PaidAmount = e.Document.TotalAmount
		e.Document.OutstandingAmount = 0
	}
	return next
}

// Validate checks the draft against the snapshot it was built from.
func (l Ledger) Validate() error {
	return l.validate(func(e Entry) money.Money { return e.Ceiling() })
}

// ValidateAgainst re-checks every allocation against the freshest snapshot available.
func (l Ledger) ValidateAgainst(fresh []models.OutstandingDocument) error {
	index := indexDocuments(fresh)
	return l.validate(func(e Entry) money.Money {
		doc, ok := index[e.Document.ID]
		if !ok {
			return e.Credit
		}
		return doc.OutstandingAmount.Add(e.Credit)
	})
}

func (l Ledger) validate(ceiling func(Entry) money.Money) error {
	if len(l.entries) == 0 {
		return models.NewFieldError("allocations", 0, models.ErrNoDocumentSelected)
	}
	for _, e := range l.entries {
		if e.Amount.Cmp(ceiling(e)) > 0 {
			return models.NewFieldError("amount", e.Document.ID, fmt.Errorf("%w for document %s",
				models.ErrAmountExceedsOutstanding, e.Document.DocumentNumber))
		}
		if !e.Amount.IsPositive() {
			return models.NewFieldError("amount", e.Document.ID, models.ErrZeroAmount)
		}
	}
	total := l.Total()
	if !total.IsPositive() {
		return models.NewFieldError("total", 0, models.ErrZeroAmount)
	}
	if l.capacity != nil && total.Cmp(*l.capacity) > 0 {
		return models.NewFieldError("total", 0, models.ErrExceedsVoucherAmount)
	}
	return nil
}

func (l Ledger) indexOf(documentId int) int {
	return slices.IndexFunc(l.entries, func(e Entry) bool { return e.Document.ID == documentId })
}

func (l Ledger) clone() Ledger {
	next := Ledger{entries: slices.Clone(l.entries)}
	if l.capacity != nil {
		c := *l.capacity
		next.capacity = &c
	}
	return next
}

func indexDocuments(docs []models.OutstandingDocument) map[int]models.OutstandingDocument {
	index := make(map[int]models.OutstandingDocument, len(docs))
	for _, doc := range docs {
		index[doc.ID] = doc
	}
	return index
}

type ledgerState struct {
	Entries  []Entry      `json:"entries"`
	Capacity *money.Money `json:"capacity,omitempty"`
	Total    money.Money  `json:"total"`
}

// MarshalJSON lets a Ledger be persisted as a draft. Total is written for readers and
// ignored on decode.
func (l Ledger) MarshalJSON() ([]byte, error) {
	entries := l.entries
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(ledgerState{Entries: entries, Capacity: l.capacity, Total: l.Total()})
}

func (l *Ledger) UnmarshalJSON(data []byte) error {
	var state ledgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.entries = state.Entries
	l.capacity = state.Capacity
	return nil
}
