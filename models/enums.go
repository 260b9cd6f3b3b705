package models

import (
	"errors"
	"strings"
)

type VoucherType string

const (
	// outgoing, settles supplier bills
	VoucherTypePayment VoucherType = "payment"
	// incoming, settles customer invoices
	VoucherTypeReceipt VoucherType = "receipt"
)

func (t VoucherType) IsValid() bool {
	return t == VoucherTypePayment || t == VoucherTypeReceipt
}

func (t VoucherType) PartyType() PartyType {
	if t == VoucherTypeReceipt {
		return PartyTypeCustomer
	}
	return PartyTypeSupplier
}

func (t VoucherType) DocumentType() DocumentType {
	if t == VoucherTypeReceipt {
		return DocumentTypeSalesInvoice
	}
	return DocumentTypeBill
}

func (t VoucherType) Scope() DraftScope {
	if t == VoucherTypeReceipt {
		return DraftScopeReceiptVoucher
	}
	return DraftScopePaymentVoucher
}

// convert path/query input to enum type
func (t *VoucherType) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "payment", "payment_voucher", "pv":
		*t = VoucherTypePayment
	case "receipt", "receipt_voucher", "rv":
		*t = VoucherTypeReceipt
	default:
		return errors.New("invalid voucher type")
	}
	return nil
}

type PartyType string

const (
	PartyTypeSupplier PartyType = "supplier"
	PartyTypeCustomer PartyType = "customer"
)

type DocumentType string

const (
	DocumentTypeBill         DocumentType = "bill"
	DocumentTypeSalesInvoice DocumentType = "sales_invoice"
)

// DraftScope partitions persisted drafts per document kind.
type DraftScope string

const (
	DraftScopePaymentVoucher DraftScope = "payment_voucher"
	DraftScopeReceiptVoucher DraftScope = "receipt_voucher"
	DraftScopeGRN            DraftScope = "grn"
	DraftScopePurchaseReturn DraftScope = "purchase_return"
	DraftScopeSalesReturn    DraftScope = "sales_return"
)

type SettlementStatus string

const (
	SettlementStatusConfirmed   SettlementStatus = "Confirmed"
	SettlementStatusPartialPaid SettlementStatus = "Partial Paid"
	SettlementStatusPaid        SettlementStatus = "Paid"
)

type ReceiptCondition string

const (
	ReceiptConditionGood    ReceiptCondition = "good"
	ReceiptConditionDamaged ReceiptCondition = "damaged"
)

func (c ReceiptCondition) IsValid() bool {
	return c == ReceiptConditionGood || c == ReceiptConditionDamaged
}

type GRNStatus string

const (
	GRNStatusReceived  GRNStatus = "RECEIVED"
	GRNStatusConverted GRNStatus = "CONVERTED"
	GRNStatusCancelled GRNStatus = "CANCELLED"
)

func (s GRNStatus) IsValid() bool {
	switch s {
	case GRNStatusReceived, GRNStatusConverted, GRNStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if the status can transition to another status
func (s GRNStatus) CanTransitionTo(target GRNStatus) bool {
	validTransitions := map[GRNStatus][]GRNStatus{
		GRNStatusReceived:  {GRNStatusConverted, GRNStatusCancelled},
		GRNStatusConverted: {},
		GRNStatusCancelled: {},
	}
	for _, allowed := range validTransitions[s] {
		if target == allowed {
			return true
		}
	}
	return false
}

func (s GRNStatus) IsTerminal() bool {
	return s == GRNStatusConverted || s == GRNStatusCancelled
}

type ReturnKind string

const (
	ReturnKindPurchase ReturnKind = "PURCHASE_RETURN"
	ReturnKindSales    ReturnKind = "SALES_RETURN"
)

func (k ReturnKind) IsValid() bool {
	return k == ReturnKindPurchase || k == ReturnKindSales
}

func (k ReturnKind) NoteKind() NoteKind {
	if k == ReturnKindSales {
		return NoteKindCredit
	}
	return NoteKindDebit
}

func (k ReturnKind) Scope() DraftScope {
	if k == ReturnKindSales {
		return DraftScopeSalesReturn
	}
	return DraftScopePurchaseReturn
}

type ReturnStatus string

const (
	ReturnStatusDraft  ReturnStatus = "DRAFT"
	ReturnStatusIssued ReturnStatus = "ISSUED"
)

func (s ReturnStatus) CanTransitionTo(target ReturnStatus) bool {
	return s == ReturnStatusDraft && target == ReturnStatusIssued
}

type NoteKind string

const (
	NoteKindDebit  NoteKind = "DEBIT_NOTE"
	NoteKindCredit NoteKind = "CREDIT_NOTE"
)
