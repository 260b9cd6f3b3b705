package models

import (
	"time"

	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
)

// ReturnLine is a line of a purchase or sales return, bounded by what is still returnable
// on the source document line.
type ReturnLine struct {
	SourceLineId          int             `json:"source_line_id" validate:"required,gt=0"`
	ItemId                int             `json:"item_id"`
	ItemName              string          `json:"item_name"`
	InvoicedQty           decimal.Decimal `json:"invoiced_qty"`
	PreviouslyReturnedQty decimal.Decimal `json:"previously_returned_qty"`
	Qty                   decimal.Decimal `json:"qty"`
	UnitRate              money.Money     `json:"unit_rate"`
	VatPercent            decimal.Decimal `json:"vat_percent"`
}

func (l ReturnLine) ReturnableQty() decimal.Decimal {
	return decimal.Max(l.InvoicedQty.Sub(l.PreviouslyReturnedQty), decimal.Zero)
}

type ReturnDraft struct {
	Kind             ReturnKind   `json:"kind" validate:"required,oneof=PURCHASE_RETURN SALES_RETURN"`
	PartyId          int          `json:"party_id" validate:"required,gt=0"`
	SourceDocumentId int          `json:"source_document_id" validate:"required,gt=0"`
	Date             time.Time    `json:"date" validate:"required"`
	Reason           string       `json:"reason" validate:"max=2000"`
	Lines            []ReturnLine `json:"lines" validate:"required,min=1,dive"`
}

// Note is the debit (purchase return) or credit (sales return) note generated on issuance.
type Note struct {
	Kind       NoteKind    `json:"kind"`
	NoteNumber string      `json:"note_number"`
	IssuedAt   time.Time   `json:"issued_at"`
	Subtotal   money.Money `json:"subtotal"`
	VatTotal   money.Money `json:"vat_total"`
	Total      money.Money `json:"total"`
}

type ReturnResult struct {
	ID           int          `json:"id"`
	ReturnNumber string       `json:"return_number"`
	Status       ReturnStatus `json:"status"`
}

type IssueResult struct {
	NoteNumber string    `json:"note_number"`
	IssuedAt   time.Time `json:"issued_at"`
}
