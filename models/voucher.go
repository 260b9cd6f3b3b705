package models

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/books_reconcile/money"
)

// OutstandingDocument is an open bill or sales invoice as supplied by the backend.
// It is never mutated by the engine.
type OutstandingDocument struct {
	ID                int              `json:"id"`
	DocumentNumber    string           `json:"document_number"`
	Date              time.Time        `json:"date"`
	TotalAmount       money.Money      `json:"total_amount"`
	PaidAmount        money.Money      `json:"paid_amount"`
	OutstandingAmount money.Money      `json:"outstanding_amount"`
	Status            SettlementStatus `json:"status"`
}

// Validate checks outstanding = total - paid and outstanding >= 0.
func (d OutstandingDocument) Validate() error {
	if d.OutstandingAmount.IsNegative() {
		return fmt.Errorf("%w: document %s has negative outstanding amount", ErrInvalidSnapshot, d.DocumentNumber)
	}
	if d.TotalAmount.Sub(d.PaidAmount) != d.OutstandingAmount {
		return fmt.Errorf("%w: document %s outstanding %s does not equal total %s less paid %s",
			ErrInvalidSnapshot, d.DocumentNumber, d.OutstandingAmount, d.TotalAmount, d.PaidAmount)
	}
	return nil
}

type Allocation struct {
	DocumentId int         `json:"document_id" validate:"required,gt=0"`
	Amount     money.Money `json:"amount"`
}

type Attachment struct {
	FileName string `json:"file_name" validate:"required"`
	URL      string `json:"url" validate:"required,url"`
}

// VoucherHeader is everything on a voucher except its allocations.
type VoucherHeader struct {
	Type            VoucherType `json:"type" validate:"required,oneof=payment receipt"`
	VoucherId       int         `json:"voucher_id"`
	PartyId         int         `json:"party_id" validate:"required,gt=0"`
	AccountId       int         `json:"account_id" validate:"required,gt=0"`
	Date            time.Time   `json:"date" validate:"required"`
	ReferenceNumber string      `json:"reference_number" validate:"max=255"`
	Narration       string      `json:"narration" validate:"max=2000"`
	Attachment      *Attachment `json:"attachment" validate:"omitempty"`
}

// VoucherDraft is the assembled submission. Total always equals the sum of Allocations.
type VoucherDraft struct {
	VoucherHeader
	Allocations []Allocation `json:"allocations" validate:"required,min=1,dive"`
	Total       money.Money  `json:"total"`
}

type VoucherResult struct {
	ID            int    `json:"id"`
	VoucherNumber string `json:"voucher_number"`
}

// OutstandingQuery selects the open documents of one party.
type OutstandingQuery struct {
	PartyId      int          `json:"party_id"`
	PartyType    PartyType    `json:"party_type"`
	DocumentType DocumentType `json:"document_type"`
}

func QueryFor(voucherType VoucherType, partyId int) OutstandingQuery {
	return OutstandingQuery{
		PartyId:      partyId,
		PartyType:    voucherType.PartyType(),
		DocumentType: voucherType.DocumentType(),
	}
}
