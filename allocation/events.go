package allocation

import (
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
)

// Event is a user action on a voucher draft. Apply folds it into a new Ledger.
type Event interface {
	apply(Ledger) (Ledger, error)
}

type SelectDocument struct {
	Document models.OutstandingDocument
}

type DeselectDocument struct {
	DocumentId int
}

type EditAmount struct {
	DocumentId int
	Value      string
}

type CommitAmount struct {
	DocumentId int
}

type SetCapacity struct {
	Amount *money.Money
}

type RefreshDocuments struct {
	Documents []models.OutstandingDocument
}

func (e SelectDocument) apply(l Ledger) (Ledger, error) { return l.Select(e.Document) }
func (e DeselectDocument) apply(l Ledger) (Ledger, error) { return l.Deselect(e.DocumentId), nil }
func (e EditAmount) apply(l Ledger) (Ledger, error) { return l.Edit(e.DocumentId, e.Value) }
func (e CommitAmount) apply(l Ledger) (Ledger, error) { return l.Commit(e.DocumentId) }
func (e SetCapacity) apply(l Ledger) (Ledger, error) { return l.WithCapacity(e.Amount), nil }
func (e RefreshDocuments) apply(l Ledger) (Ledger, error) { return l.Refresh(e.Documents), nil }

// Apply returns the state after ev. On error the returned Ledger is l unchanged.
func Apply(l Ledger, ev Event) (Ledger, error) {
	next, err := ev.apply(l)
	if err != nil {
		return l, err
	}
	return next, nil
}

// Replay folds a sequence of events, stopping at the first error.
func Replay(l Ledger, events ...Event) (Ledger, error) {
	for _, ev := range events {
		var err error
		if l, err = Apply(l, ev); err != nil {
			return l, err
		}
	}
	return l, nil
}
