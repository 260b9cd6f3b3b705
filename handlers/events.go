package handlers

import (
	"fmt"

	"github.com/mmdatafocus/books_reconcile/allocation"
	"github.com/mmdatafocus/books_reconcile/fulfillment"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
)

// voucherEvent is the wire form of an allocation.Event.
//
//	{"type": "select", "document_id": 1}
//	{"type": "edit", "document_id": 1, "value": "12.5"}
//	{"type": "set_amount", "document_id": 1, "value": "12.5"}
//	{"type": "capacity", "amount": "1000.00"}
type voucherEvent struct {
	Type       string       `json:"type" binding:"required,oneof=select deselect edit commit set_amount capacity"`
	DocumentId int          `json:"document_id"`
	Value      string       `json:"value"`
	Amount     *money.Money `json:"amount"`
}

func (e voucherEvent) events(docs []models.OutstandingDocument) ([]allocation.Event, error) {
	switch e.Type {
	case "select":
		for _, d := range docs {
			if d.ID == e.DocumentId {
				return []allocation.Event{allocation.SelectDocument{Document: d}}, nil
			}
		}
		return nil, models.NewFieldError("document_id", e.DocumentId, models.ErrDocumentNotFound)
	case "deselect":
		return []allocation.Event{allocation.DeselectDocument{DocumentId: e.DocumentId}}, nil
	case "edit":
		return []allocation.Event{allocation.EditAmount{DocumentId: e.DocumentId, Value: e.Value}}, nil
	case "commit":
		return []allocation.Event{allocation.CommitAmount{DocumentId: e.DocumentId}}, nil
	case "set_amount":
		return []allocation.Event{
			allocation.EditAmount{DocumentId: e.DocumentId, Value: e.Value},
			allocation.CommitAmount{DocumentId: e.DocumentId},
		}, nil
	case "capacity":
		return []allocation.Event{allocation.SetCapacity{Amount: e.Amount}}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}

// grnEvent is the wire form of a fulfillment.Event.
//
//	{"type": "receive", "line_id": 1, "value": "25"}
//	{"type": "condition", "line_id": 1, "condition": "damaged"}
//	{"type": "receive_all"}
type grnEvent struct {
	Type      string                  `json:"type" binding:"required,oneof=receive condition receive_all clear"`
	LineId    int                     `json:"line_id"`
	Value     string                  `json:"value"`
	Condition models.ReceiptCondition `json:"condition"`
}

func (e grnEvent) event() (fulfillment.Event, error) {
	switch e.Type {
	case "receive":
		return fulfillment.EnterReceived{LineId: e.LineId, Value: e.Value}, nil
	case "condition":
		return fulfillment.SetLineCondition{LineId: e.LineId, Condition: e.Condition}, nil
	case "receive_all":
		return fulfillment.ReceiveAll{}, nil
	case "clear":
		return fulfillment.ClearLines{}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", e.Type)
}
