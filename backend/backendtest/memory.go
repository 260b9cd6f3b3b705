// Package backendtest is an in-memory books backend. It backs unit tests and the CLI's offline mode.
package backendtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/mmdatafocus/books_reconcile/backend"
	"github.com/mmdatafocus/books_reconcile/lifecycle"
	"github.com/mmdatafocus/books_reconcile/models"
)

// Memory checks every posting against its live balances, the way the real backend does at commit.
type Memory struct {
	mu          sync.Mutex
	documents   map[models.OutstandingQuery][]models.OutstandingDocument
	orders      map[int][]models.OrderLine
	vouchers    map[int]models.VoucherDraft
	grns        map[int]*lifecycle.GRN
	returns     map[int]*lifecycle.Return
	idempotency map[string]any
	calls       map[string]int
	postings    int
	nextId      int
	failWrites  error
	gate        chan struct{}
	now         func() time.Time
}

var _ backend.Backend = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		documents:   map[models.OutstandingQuery][]models.OutstandingDocument{},
		orders:      map[int][]models.OrderLine{},
		vouchers:    map[int]models.VoucherDraft{},
		grns:        map[int]*lifecycle.GRN{},
		returns:     map[int]*lifecycle.Return{},
		idempotency: map[string]any{},
		calls:       map[string]int{},
		now:         time.Now,
	}
}

type seedFile struct {
	Outstanding []struct {
		models.OutstandingQuery
		Documents []models.OutstandingDocument `json:"documents"`
	} `json:"outstanding"`
	Orders []struct {
		OrderId int                `json:"order_id"`
		Lines   []models.OrderLine `json:"lines"`
	} `json:"orders"`
}

// Load builds a Memory from a seed file of outstanding documents and orders.
func Load(r io.Reader) (*Memory, error) {
	var seed seedFile
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return nil, fmt.Errorf("reading seed: %w", err)
	}
	m := New()
	for _, o := range seed.Outstanding {
		m.SeedDocuments(o.OutstandingQuery, o.Documents...)
	}
	for _, o := range seed.Orders {
		m.SeedOrder(o.OrderId, o.Lines...)
	}
	return m, nil
}

func (m *Memory) SeedDocuments(query models.OutstandingQuery, docs ...models.OutstandingDocument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[query] = append(m.documents[query], docs...)
}

func (m *Memory) SeedOrder(orderId int, lines ...models.OrderLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderId] = lifecycle.ApplyConversion(lines, nil)
}

// FailWrites makes every posting fail with err until called with nil.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

// Hold blocks postings until the returned release func is called.
func (m *Memory) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.gate = nil
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Calls counts invocations of one Backend method.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Postings counts inventory and ledger postings made by GRN conversions.
func (m *Memory) Postings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.postings
}

func (m *Memory) Voucher(id int) (models.VoucherDraft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vouchers[id]
	return v, ok
}

func (m *Memory) GRN(id int) (lifecycle.GRN, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grns[id]
	if !ok {
		return lifecycle.GRN{}, false
	}
	return *g, true
}

func (m *Memory) FetchOutstanding(ctx context.Context, session models.Session, query models.OutstandingQuery) ([]models.OutstandingDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["FetchOutstanding"]++
	var docs []models.OutstandingDocument
	for _, d := range m.documents[query] {
		if d.OutstandingAmount.IsPositive() {
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func (m *Memory) FetchPendingOrderLines(ctx context.Context, session models.Session, orderId int) ([]models.OrderLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["FetchPendingOrderLines"]++
	lines, ok := m.orders[orderId]
	if !ok {
		return nil, &backend.BackendError{Op: "FetchPendingOrderLines", Status: http.StatusNotFound, Message: "order not found"}
	}
	return slices.Clone(lines), nil
}

func (m *Memory) SubmitVoucher(ctx context.Context, session models.Session, draft models.VoucherDraft, idempotencyKey string) (models.VoucherResult, error) {
	unlock, err := m.begin(ctx, "SubmitVoucher")
	if err != nil {
		return models.VoucherResult{}, err
	}
	defer unlock()
	if prior, ok := m.idempotency[idempotencyKey].(models.VoucherResult); ok {
		return prior, nil
	}

	query := models.QueryFor(draft.Type, draft.PartyId)
	docs := slices.Clone(m.documents[query])
	if previous, ok := m.vouchers[draft.VoucherId]; ok && draft.VoucherId > 0 {
		docs = settle(docs, previous.Allocations, -1)
	}
	for _, a := range draft.Allocations {
		i := slices.IndexFunc(docs, func(d models.OutstandingDocument) bool { return d.ID == a.DocumentId })
		if i < 0 {
			return models.VoucherResult{}, rejected("SubmitVoucher", fmt.Sprintf("document %d not found", a.DocumentId))
		}
		if a.Amount.Cmp(docs[i].OutstandingAmount) > 0 {
			return models.VoucherResult{}, rejected("SubmitVoucher", fmt.Sprintf(
				"the amount entered is more than the balance for %s", docs[i].DocumentNumber))
		}
	}
	m.documents[query] = settle(docs, draft.Allocations, 1)

	id := draft.VoucherId
	if id == 0 {
		id = m.id()
	}
	m.vouchers[id] = draft
	result := models.VoucherResult{ID: id, VoucherNumber: fmt.Sprintf("%s-%d", voucherPrefix(draft.Type), id)}
	m.remember(idempotencyKey, result)
	return result, nil
}

func settle(docs []models.OutstandingDocument, allocations []models.Allocation, sign int) []models.OutstandingDocument {
	for _, a := range allocations {
		for i := range docs {
			if docs[i].ID != a.DocumentId {
				continue
			}
			amount := a.Amount
			if sign < 0 {
				amount = -amount
			}
			docs[i].PaidAmount = docs[i].PaidAmount.Add(amount)
			docs[i].OutstandingAmount = docs[i].TotalAmount.Sub(docs[i].PaidAmount)
			switch {
			case !docs[i].OutstandingAmount.IsPositive():
				docs[i].Status = models.SettlementStatusPaid
			case docs[i].PaidAmount.IsPositive():
				docs[i].Status = models.SettlementStatusPartialPaid
			default:
				docs[i].Status = models.SettlementStatusConfirmed
			}
		}
	}
	return docs
}

func voucherPrefix(t models.VoucherType) string {
	if t == models.VoucherTypeReceipt {
		return "RV"
	}
	return "PV"
}

func (m *Memory) SubmitGRN(ctx context.Context, session models.Session, draft models.GRNDraft, idempotencyKey string) (models.GRNResult, error) {
	unlock, err := m.begin(ctx, "SubmitGRN")
	if err != nil {
		return models.GRNResult{}, err
	}
	defer unlock()
	if prior, ok := m.idempotency[idempotencyKey].(models.GRNResult); ok {
		return prior, nil
	}

	lines, ok := m.orders[draft.OrderId]
	if !ok {
		return models.GRNResult{}, rejected("SubmitGRN", fmt.Sprintf("order %d not found", draft.OrderId))
	}
	for _, r := range draft.Lines {
		i := slices.IndexFunc(lines, func(l models.OrderLine) bool { return l.ID == r.OrderLineId })
		if i < 0 {
			return models.GRNResult{}, rejected("SubmitGRN", fmt.Sprintf("order line %d not found", r.OrderLineId))
		}
		if r.ReceivedQtyNow.GreaterThan(lines[i].PendingQty) {
			return models.GRNResult{}, rejected("SubmitGRN", models.ErrQuantityExceedsPending.Error())
		}
	}

	id := m.id()
	grn := lifecycle.NewGRN(id, fmt.Sprintf("GRN-%d", id), draft)
	m.grns[id] = grn
	result := models.GRNResult{ID: id, GRNNumber: grn.GRNNumber, OrderId: grn.OrderId, Status: grn.Status}
	m.remember(idempotencyKey, result)
	return result, nil
}

// ConvertGRN posts inventory and raises the order's previously received quantities.
func (m *Memory) ConvertGRN(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error) {
	unlock, err := m.begin(ctx, "ConvertGRN")
	if err != nil {
		return models.GRNResult{}, err
	}
	defer unlock()
	grn, err := m.grn("ConvertGRN", grnId)
	if err != nil {
		return models.GRNResult{}, err
	}
	if err := grn.Convert(m.now()); err != nil {
		return models.GRNResult{}, conflict("ConvertGRN", err)
	}
	m.orders[grn.OrderId] = lifecycle.ApplyConversion(m.orders[grn.OrderId], grn.Lines)
	m.postings++
	return models.GRNResult{ID: grn.ID, GRNNumber: grn.GRNNumber, OrderId: grn.OrderId, Status: grn.Status}, nil
}

func (m *Memory) CancelGRN(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error) {
	unlock, err := m.begin(ctx, "CancelGRN")
	if err != nil {
		return models.GRNResult{}, err
	}
	defer unlock()
	grn, err := m.grn("CancelGRN", grnId)
	if err != nil {
		return models.GRNResult{}, err
	}
	if err := grn.Cancel(m.now()); err != nil {
		return models.GRNResult{}, conflict("CancelGRN", err)
	}
	return models.GRNResult{ID: grn.ID, GRNNumber: grn.GRNNumber, OrderId: grn.OrderId, Status: grn.Status}, nil
}

func (m *Memory) SubmitReturn(ctx context.Context, session models.Session, draft models.ReturnDraft, idempotencyKey string) (models.ReturnResult, error) {
	unlock, err := m.begin(ctx, "SubmitReturn")
	if err != nil {
		return models.ReturnResult{}, err
	}
	defer unlock()
	if prior, ok := m.idempotency[idempotencyKey].(models.ReturnResult); ok {
		return prior, nil
	}

	ret, err := lifecycle.NewReturn(draft)
	if err != nil {
		return models.ReturnResult{}, rejected("SubmitReturn", err.Error())
	}
	id := m.id()
	prefix := "PR"
	if draft.Kind == models.ReturnKindSales {
		prefix = "SR"
	}
	result := models.ReturnResult{ID: id, ReturnNumber: fmt.Sprintf("%s-%d", prefix, id), Status: models.ReturnStatusDraft}
	ret.Submitted(result)
	m.returns[id] = ret
	m.remember(idempotencyKey, result)
	return result, nil
}

func (m *Memory) IssueReturn(ctx context.Context, session models.Session, returnId int) (models.IssueResult, error) {
	unlock, err := m.begin(ctx, "IssueReturn")
	if err != nil {
		return models.IssueResult{}, err
	}
	defer unlock()
	ret, ok := m.returns[returnId]
	if !ok {
		return models.IssueResult{}, &backend.BackendError{Op: "IssueReturn", Status: http.StatusNotFound, Message: "return not found"}
	}
	prefix := "DN"
	if ret.Kind == models.ReturnKindSales {
		prefix = "CN"
	}
	note, err := ret.Issue(fmt.Sprintf("%s-%d", prefix, returnId), m.now())
	if err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			return models.IssueResult{}, conflict("IssueReturn", err)
		}
		return models.IssueResult{}, rejected("IssueReturn", err.Error())
	}
	return models.IssueResult{NoteNumber: note.NoteNumber, IssuedAt: note.IssuedAt}, nil
}

// begin counts the call, waits on Hold and takes the lock. The returned func releases it.
func (m *Memory) begin(ctx context.Context, op string) (func(), error) {
	m.mu.Lock()
	m.calls[op]++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &backend.BackendError{Op: op, Message: ctx.Err().Error(), Err: ctx.Err()}
		}
	}
	m.mu.Lock()
	if m.failWrites != nil {
		err := m.failWrites
		m.mu.Unlock()
		return nil, &backend.BackendError{Op: op, Status: http.StatusServiceUnavailable, Message: err.Error(), Err: err}
	}
	return m.mu.Unlock, nil
}

func (m *Memory) grn(op string, id int) (*lifecycle.GRN, error) {
	grn, ok := m.grns[id]
	if !ok {
		return nil, &backend.BackendError{Op: op, Status: http.StatusNotFound, Message: fmt.Sprintf("grn %d not found", id)}
	}
	return grn, nil
}

func (m *Memory) id() int {
	m.nextId++
	return m.nextId
}

func (m *Memory) remember(key string, result any) {
	if key != "" {
		m.idempotency[key] = result
	}
}

func rejected(op, message string) error {
	return &backend.BackendError{Op: op, Status: http.StatusUnprocessableEntity, Message: message}
}

func conflict(op string, err error) error {
	return &backend.BackendError{Op: op, Status: http.StatusConflict, Message: err.Error(), Err: err}
}
