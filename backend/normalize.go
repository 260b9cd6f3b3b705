package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
)

// Field aliases seen on backend payloads, in order of preference.
var (
	documentIdKeys      = []string{"id", "document_id", "bill_id", "invoice_id"}
	documentNumberKeys  = []string{"document_number", "documentNumber", "bill_number", "invoice_number", "number"}
	documentDateKeys    = []string{"date", "document_date", "bill_date", "invoice_date"}
	totalAmountKeys     = []string{"total_amount", "totalAmount", "bill_total_amount", "invoice_total_amount", "amount", "total"}
	paidAmountKeys      = []string{"paid_amount", "paidAmount", "paid"}
	outstandingKeys     = []string{"outstanding_amount", "outstandingAmount", "remaining_balance", "remainingBalance", "balance"}
	statusKeys          = []string{"status", "current_status", "currentStatus"}
	lineIdKeys          = []string{"id", "order_line_id", "detail_id"}
	itemIdKeys          = []string{"item_id", "itemId", "product_id"}
	itemNameKeys        = []string{"item_name", "itemName", "name"}
	orderedQtyKeys      = []string{"ordered_qty", "orderedQty", "detail_qty", "qty", "quantity"}
	receivedQtyKeys     = []string{"previously_received_qty", "previouslyReceivedQty", "received_qty", "detail_received_qty"}
	unitRateKeys        = []string{"unit_rate", "unitRate", "detail_unit_rate", "rate", "price"}
	vatPercentKeys      = []string{"vat_percent", "vatPercent", "tax_rate", "vat"}
	listEnvelopeKeys    = []string{"data", "items", "results"}
	acceptedDateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}
)

type record map[string]any

// NormalizeDocuments maps any outstanding-document payload into fixed documents. Documents with
// nothing outstanding are dropped.
func NormalizeDocuments(body []byte) ([]models.OutstandingDocument, error) {
	records, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	docs := make([]models.OutstandingDocument, 0, len(records))
	for i, r := range records {
		doc, err := r.document()
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %v", models.ErrInvalidSnapshot, i, err)
		}
		if !doc.OutstandingAmount.IsPositive() {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// NormalizeOrderLines maps any order-line payload into fixed lines with pending derived.
func NormalizeOrderLines(body []byte) ([]models.OrderLine, error) {
	records, err := decodeList(body)
	if err != nil {
		return nil, err
	}
	lines := make([]models.OrderLine, 0, len(records))
	for i, r := range records {
		line, err := r.orderLine()
		if err != nil {
			return nil, fmt.Errorf("%w: order line %d: %v", models.ErrInvalidSnapshot, i, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (r record) document() (models.OutstandingDocument, error) {
	id, err := r.intField(documentIdKeys)
	if err != nil {
		return models.OutstandingDocument{}, err
	}
	total, hasTotal, err := r.moneyField(totalAmountKeys)
	if err != nil {
		return models.OutstandingDocument{}, err
	}
	paid, hasPaid, err := r.moneyField(paidAmountKeys)
	if err != nil {
		return models.OutstandingDocument{}, err
	}
	outstanding, hasOutstanding, err := r.moneyField(outstandingKeys)
	if err != nil {
		return models.OutstandingDocument{}, err
	}
	// the backend's outstanding figure wins over a computed one
	switch {
	case hasOutstanding && hasTotal:
		paid = total.Sub(outstanding)
	case hasOutstanding && hasPaid:
		total = paid.Add(outstanding)
	case hasOutstanding:
		total = outstanding
	default:
		outstanding = total.Sub(paid)
	}
	doc := models.OutstandingDocument{
		ID:                id,
		DocumentNumber:    r.stringField(documentNumberKeys),
		Date:              r.timeField(documentDateKeys),
		TotalAmount:       total,
		PaidAmount:        paid,
		OutstandingAmount: outstanding,
		Status:            settlementStatus(r.stringField(statusKeys), paid, outstanding),
	}
	if doc.DocumentNumber == "" {
		doc.DocumentNumber = strconv.Itoa(id)
	}
	return doc, nil
}

func settlementStatus(raw string, paid, outstanding money.Money) models.SettlementStatus {
	switch status := models.SettlementStatus(raw); status {
	case models.SettlementStatusConfirmed, models.SettlementStatusPartialPaid, models.SettlementStatusPaid:
		return status
	}
	if !outstanding.IsPositive() {
		return models.SettlementStatusPaid
	}
	if paid.IsPositive() {
		return models.SettlementStatusPartialPaid
	}
	return models.SettlementStatusConfirmed
}

func (r record) orderLine() (models.OrderLine, error) {
	id, err := r.intField(lineIdKeys)
	if err != nil {
		return models.OrderLine{}, err
	}
	itemId, _ := r.intField(itemIdKeys)
	ordered, err := r.decimalField(orderedQtyKeys)
	if err != nil {
		return models.OrderLine{}, err
	}
	received, err := r.decimalField(receivedQtyKeys)
	if err != nil {
		return models.OrderLine{}, err
	}
	rate, _, err := r.moneyField(unitRateKeys)
	if err != nil {
		return models.OrderLine{}, err
	}
	vat, err := r.decimalField(vatPercentKeys)
	if err != nil {
		return models.OrderLine{}, err
	}
	line := models.OrderLine{
		ID:                    id,
		ItemId:                itemId,
		ItemName:              r.stringField(itemNameKeys),
		OrderedQty:            ordered,
		PreviouslyReceivedQty: received,
		PendingQty:            ordered.Sub(received),
		UnitRate:              rate,
		VatPercent:            vat,
	}
	if err := line.Validate(); err != nil {
		return models.OrderLine{}, err
	}
	return line, nil
}

func decodeList(body []byte) ([]record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSnapshot, err)
	}
	for {
		switch v := raw.(type) {
		case nil:
			return nil, nil
		case []any:
			records := make([]record, 0, len(v))
			for _, item := range v {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%w: list item is %T", models.ErrInvalidSnapshot, item)
				}
				records = append(records, record(m))
			}
			return records, nil
		case map[string]any:
			inner, ok := envelope(v)
			if !ok {
				return nil, fmt.Errorf("%w: object without a list", models.ErrInvalidSnapshot)
			}
			raw = inner
		default:
			return nil, fmt.Errorf("%w: unexpected payload %T", models.ErrInvalidSnapshot, raw)
		}
	}
}

func envelope(m map[string]any) (any, bool) {
	for _, key := range listEnvelopeKeys {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func (r record) first(keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := r[key]; ok && v != nil && v != "" {
			return v, true
		}
	}
	return nil, false
}

func (r record) intField(keys []string) (int, error) {
	v, ok := r.first(keys)
	if !ok {
		return 0, fmt.Errorf("missing %s", keys[0])
	}
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	default:
		return 0, fmt.Errorf("%s is %T", keys[0], v)
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", keys[0], err)
	}
	return id, nil
}

func (r record) stringField(keys []string) string {
	v, ok := r.first(keys)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(v)
	}
}

func (r record) moneyField(keys []string) (money.Money, bool, error) {
	v, ok := r.first(keys)
	if !ok {
		return 0, false, nil
	}
	m, err := money.ParseAny(v)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", keys[0], err)
	}
	return m, true, nil
}

func (r record) decimalField(keys []string) (decimal.Decimal, error) {
	v, ok := r.first(keys)
	if !ok {
		return decimal.Zero, nil
	}
	var s string
	switch n := v.(type) {
	case json.Number:
		s = n.String()
	case string:
		s = n
	default:
		return decimal.Zero, fmt.Errorf("%s is %T", keys[0], v)
	}
	d, err := money.ParseDecimal(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", keys[0], err)
	}
	return d, nil
}

func (r record) timeField(keys []string) time.Time {
	s := r.stringField(keys)
	for _, layout := range acceptedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
