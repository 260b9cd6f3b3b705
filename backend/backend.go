// Package backend is the collaborator that owns the books: it serves outstanding documents and
// order lines and accepts voucher, GRN and return postings.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mmdatafocus/books_reconcile/models"
)

type Backend interface {
	FetchOutstanding(ctx context.Context, session models.Session, query models.OutstandingQuery) ([]models.OutstandingDocument, error)
	FetchPendingOrderLines(ctx context.Context, session models.Session, orderId int) ([]models.OrderLine, error)

	// writes carry an idempotency key and are never retried
	SubmitVoucher(ctx context.Context, session models.Session, draft models.VoucherDraft, idempotencyKey string) (models.VoucherResult, error)
	SubmitGRN(ctx context.Context, session models.Session, draft models.GRNDraft, idempotencyKey string) (models.GRNResult, error)
	ConvertGRN(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error)
	CancelGRN(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error)
	SubmitReturn(ctx context.Context, session models.Session, draft models.ReturnDraft, idempotencyKey string) (models.ReturnResult, error)
	IssueReturn(ctx context.Context, session models.Session, returnId int) (models.IssueResult, error)
}

var ErrUnavailable = errors.New("backend unavailable")

// BackendError is a rejection or transport failure reported once to the user.
// Status is 0 when no response was received.
type BackendError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: backend error %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Temporary reports failures worth counting against the read circuit breaker.
func (e *BackendError) Temporary() bool {
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}
