package fulfillment

import (
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/shopspring/decimal"
)

// Event is a user action on a GRN draft.
type Event interface {
	apply(Tracker) (Tracker, error)
}

type SetReceived struct {
	LineId int
	Qty    decimal.Decimal
}

type EnterReceived struct {
	LineId int
	Value  string
}

type SetLineCondition struct {
	LineId    int
	Condition models.ReceiptCondition
}

type ReceiveAll struct{}

type ClearLines struct{}

type RefreshLines struct {
	Lines []models.OrderLine
}

func (e SetReceived) apply(t Tracker) (Tracker, error) { return t.SetReceivedQty(e.LineId, e.Qty) }
func (e EnterReceived) apply(t Tracker) (Tracker, error) { return t.SetReceivedInput(e.LineId, e.Value) }
func (e SetLineCondition) apply(t Tracker) (Tracker, error) {
	return t.SetCondition(e.LineId, e.Condition)
}
func (ReceiveAll) apply(t Tracker) (Tracker, error) { return t.ReceiveAllPending(), nil }
func (ClearLines) apply(t Tracker) (Tracker, error) { return t.ClearAll(), nil }
func (e RefreshLines) apply(t Tracker) (Tracker, error) { return t.Refresh(e.Lines) }

// Apply returns the state after ev, or t unchanged with the error.
func Apply(t Tracker, ev Event) (Tracker, error) {
	next, err := ev.apply(t)
	if err != nil {
		return t, err
	}
	return next, nil
}

func Replay(t Tracker, events ...Event) (Tracker, error) {
	for _, ev := range events {
		var err error
		if t, err = Apply(t, ev); err != nil {
			return t, err
		}
	}
	return t, nil
}
