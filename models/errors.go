package models

import (
	"errors"
	"fmt"
)

// invariant violations: block submission, recoverable by editing the draft
var (
	ErrNoDocumentSelected        = errors.New("select at least one document to settle")
	ErrAmountExceedsOutstanding  = errors.New("the amount entered is more than the outstanding balance")
	ErrZeroAmount                = errors.New("the amount must be greater than zero")
	ErrNoLineSelected            = errors.New("receive at least one line")
	ErrQuantityExceedsPending    = errors.New("received qty must be equal or less than pending qty")
	ErrQuantityExceedsReturnable = errors.New("return qty must be equal or less than returnable qty")
	ErrNotOutstanding            = errors.New("document has no outstanding balance")
	ErrCapacityExhausted         = errors.New("the voucher amount is already fully allocated")
	ErrExceedsVoucherAmount      = errors.New("the amount allocated is more than the voucher amount")
)

// lifecycle violations: duplicate or late clicks, callers treat them as no-ops
var ErrInvalidTransition = errors.New("invalid status transition")

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrLineNotFound     = errors.New("order line not found")
	ErrInvalidSnapshot  = errors.New("invalid snapshot")
)

// FieldError ties a validation failure to the field (and row) the user has to fix.
type FieldError struct {
	Field string
	Id    int
	Err   error
}

func NewFieldError(field string, id int, err error) *FieldError {
	return &FieldError{Field: field, Id: id, Err: err}
}

func (e *FieldError) Error() string {
	if e.Id > 0 {
		return fmt.Sprintf("%s[%d]: %s", e.Field, e.Id, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err.Error())
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
