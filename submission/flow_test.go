package submission

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/books_reconcile/allocation"
	"github.com/mmdatafocus/books_reconcile/backend"
	"github.com/mmdatafocus/books_reconcile/backend/backendtest"
	"github.com/mmdatafocus/books_reconcile/draftstore"
	"github.com/mmdatafocus/books_reconcile/fulfillment"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var session = models.Session{BusinessId: "biz-1", Token: "t", UserId: 1}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testDeps(m *backendtest.Memory) Deps {
	n := 0
	return Deps{
		Backend: m,
		Logger:  quietLogger(),
		NewKey: func() string {
			n++
			return "key-" + strconv.Itoa(n)
		},
	}
}

func amount(s string) money.Money {
	m, _ := money.Parse(s)
	return m
}

func seedBills(m *backendtest.Memory) {
	m.SeedDocuments(models.QueryFor(models.VoucherTypePayment, 4),
		models.OutstandingDocument{ID: 1, DocumentNumber: "BL-1", TotalAmount: amount("2000"), PaidAmount: amount("500"), OutstandingAmount: amount("1500")},
		models.OutstandingDocument{ID: 2, DocumentNumber: "BL-2", TotalAmount: amount("450.50"), OutstandingAmount: amount("450.50")},
	)
}

func header() models.VoucherHeader {
	return models.VoucherHeader{
		Type:      models.VoucherTypePayment,
		PartyId:   4,
		AccountId: 10,
		Date:      time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func openWithBill(t *testing.T, f *VoucherFlow, m *backendtest.Memory) VoucherState {
	t.Helper()
	docs, _ := m.FetchOutstanding(context.Background(), session, models.QueryFor(models.VoucherTypePayment, 4))
	state, err := f.Open(context.Background(), session, header(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	state, err = f.Apply(context.Background(), models.VoucherTypePayment, state.Key, allocation.SelectDocument{Document: docs[0]})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return state
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestVoucherSubmit_Success(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()

	state := openWithBill(t, f, m)
	if state.Ledger.Total().String() != "1500.00" {
		t.Fatalf("expected default full allocation, got %s", state.Ledger.Total())
	}
	result, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.ID == 0 || result.VoucherNumber == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := f.Get(ctx, models.VoucherTypePayment, state.Key); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected draft to be cleared, got %v", err)
	}

	// the party snapshot was invalidated, so a new draft sees BL-1 settled
	next, err := f.Open(ctx, session, header(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(next.Documents) != 1 || next.Documents[0].ID != 2 {
		t.Fatalf("expected only BL-2 to remain outstanding, got %+v", next.Documents)
	}
}

func TestVoucherSubmit_ValidatesBeforePosting(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()

	empty, err := f.Open(ctx, session, header(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := f.Submit(ctx, session, models.VoucherTypePayment, empty.Key); !errors.Is(err, models.ErrNoDocumentSelected) {
		t.Fatalf("expected ErrNoDocumentSelected, got %v", err)
	}

	noAccount := header()
	noAccount.AccountId = 0
	state := openWithBill(t, f, m)
	state, err = f.UpdateHeader(ctx, models.VoucherTypePayment, state.Key, noAccount)
	if err != nil {
		t.Fatalf("UpdateHeader: %v", err)
	}
	_, err = f.Submit(ctx, session, models.VoucherTypePayment, state.Key)
	var fe *models.FieldError
	if !errors.As(err, &fe) || fe.Field != "account_id" {
		t.Fatalf("expected account_id field error, got %v", err)
	}

	if got := m.Calls("SubmitVoucher"); got != 0 {
		t.Fatalf("expected no posting, got %d", got)
	}
}

func TestVoucherSubmit_StaleOutstanding(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()

	state := openWithBill(t, f, m)

	// another user settles 1000.00 of BL-1 meanwhile
	other := models.VoucherDraft{
		VoucherHeader: header(),
		Allocations:   []models.Allocation{{DocumentId: 1, Amount: amount("1000")}},
		Total:         amount("1000"),
	}
	if _, err := m.SubmitVoucher(ctx, session, other, "other"); err != nil {
		t.Fatalf("SubmitVoucher: %v", err)
	}

	_, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key)
	if !errors.Is(err, models.ErrAmountExceedsOutstanding) {
		t.Fatalf("expected ErrAmountExceedsOutstanding, got %v", err)
	}
	if got := m.Calls("SubmitVoucher"); got != 1 {
		t.Fatalf("expected only the other posting, got %d", got)
	}

	refreshed, err := f.Refresh(ctx, session, models.VoucherTypePayment, state.Key)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	refreshed, err = f.Apply(ctx, models.VoucherTypePayment, state.Key, allocation.EditAmount{DocumentId: 1, Value: "9999"}, allocation.CommitAmount{DocumentId: 1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if refreshed.Ledger.Total().String() != "500.00" {
		t.Fatalf("expected clamp to 500.00, got %s", refreshed.Ledger.Total())
	}
	if _, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key); err != nil {
		t.Fatalf("Submit after refresh: %v", err)
	}
}

func TestVoucherSubmit_BackendFailureKeepsDraft(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()

	state := openWithBill(t, f, m)
	m.FailWrites(errors.New("database is locked"))

	_, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key)
	var be *backend.BackendError
	if !errors.As(err, &be) || be.Message != "database is locked" {
		t.Fatalf("expected backend error with message, got %v", err)
	}
	if got := m.Calls("SubmitVoucher"); got != 1 {
		t.Fatalf("expected exactly one attempt, got %d", got)
	}
	kept, err := f.Get(ctx, models.VoucherTypePayment, state.Key)
	if err != nil || kept.Ledger.Total() != state.Ledger.Total() {
		t.Fatalf("expected draft to be kept, got %v", err)
	}

	m.FailWrites(nil)
	if _, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key); err != nil {
		t.Fatalf("manual retry: %v", err)
	}
}

func TestVoucherSubmit_OneInFlight(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()
	state := openWithBill(t, f, m)

	release := m.Hold()
	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key)
		done <- err
	}()
	waitFor(t, func() bool { return m.Calls("SubmitVoucher") == 1 })

	if _, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("expected ErrSubmissionInFlight, got %v", err)
	}
	release()
	if err := <-done; err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if got := m.Calls("SubmitVoucher"); got != 1 {
		t.Fatalf("expected one posting, got %d", got)
	}
}

func TestVoucherSubmit_ResultAfterDiscardIsIgnored(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()
	state := openWithBill(t, f, m)

	release := m.Hold()
	type outcome struct {
		result models.VoucherResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key)
		done <- outcome{result, err}
	}()
	waitFor(t, func() bool { return m.Calls("SubmitVoucher") == 1 })

	if err := f.Discard(ctx, models.VoucherTypePayment, state.Key); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	release()
	got := <-done
	if !errors.Is(got.err, ErrDraftDiscarded) {
		t.Fatalf("expected ErrDraftDiscarded, got %v", got.err)
	}
	if got.result.ID == 0 {
		t.Fatal("expected the posting result to be reported")
	}

	fetches := m.Calls("FetchOutstanding")
	docs, err := f.deps.Snapshots.Outstanding(ctx, session, models.QueryFor(models.VoucherTypePayment, 4))
	if err != nil {
		t.Fatalf("Outstanding: %v", err)
	}
	if m.Calls("FetchOutstanding") != fetches+1 {
		t.Fatal("expected the snapshot to be invalidated")
	}
	if len(docs) != 1 {
		t.Fatalf("expected BL-1 settled, got %+v", docs)
	}
}

// closingStore discards the draft right after Submit has loaded it, as a concurrent
// Discard request would.
type closingStore struct {
	draftstore.Store
	armed bool
	once  sync.Once
	close func()
}

func (s *closingStore) Load(ctx context.Context, scope models.DraftScope, key string, dest any) (bool, error) {
	ok, err := s.Store.Load(ctx, scope, key, dest)
	if ok && s.armed {
		s.once.Do(s.close)
	}
	return ok, err
}

func TestVoucherSubmit_DiscardDuringLoadIsStale(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	store := &closingStore{Store: draftstore.NewMemoryStore(0)}
	deps := testDeps(m)
	deps.Drafts = store
	f := NewVoucherFlow(deps)
	ctx := context.Background()
	state := openWithBill(t, f, m)

	store.close = func() {
		if err := f.Discard(ctx, models.VoucherTypePayment, state.Key); err != nil {
			t.Errorf("Discard: %v", err)
		}
	}
	store.armed = true
	result, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key)
	if !errors.Is(err, ErrDraftDiscarded) {
		t.Fatalf("expected ErrDraftDiscarded, got %v", err)
	}
	if result.ID == 0 || m.Postings() != 1 {
		t.Fatalf("expected the posting to be reported, got %+v", result)
	}
}

func TestVoucherSubmit_MissingDraftLeavesNoGeneration(t *testing.T) {
	m := backendtest.New()
	f := NewVoucherFlow(testDeps(m))
	if _, err := f.Submit(context.Background(), session, models.VoucherTypePayment, "gone"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
	f.deps.Registry.mu.Lock()
	_, left := f.deps.Registry.open["gone"]
	f.deps.Registry.mu.Unlock()
	if left {
		t.Fatal("expected no generation left behind for a missing draft")
	}
}

func TestVoucherOpen_ReadsPartyDocumentsFresh(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()

	first, err := f.Open(ctx, session, header(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(first.Documents) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(first.Documents))
	}
	if err := f.Discard(ctx, models.VoucherTypePayment, first.Key); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	// BL-1 is settled elsewhere between the two drafts
	other := models.VoucherDraft{
		VoucherHeader: header(),
		Allocations:   []models.Allocation{{DocumentId: 1, Amount: amount("1500")}},
		Total:         amount("1500"),
	}
	if _, err := m.SubmitVoucher(ctx, session, other, "other"); err != nil {
		t.Fatalf("SubmitVoucher: %v", err)
	}
	second, err := f.Open(ctx, session, header(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(second.Documents) != 1 || second.Documents[0].ID != 2 {
		t.Fatalf("expected only BL-2 after reopening, got %+v", second.Documents)
	}
}

func TestVoucherEditMode(t *testing.T) {
	m := backendtest.New()
	seedBills(m)
	f := NewVoucherFlow(testDeps(m))
	ctx := context.Background()

	first := openWithBill(t, f, m)
	posted, err := f.Submit(ctx, session, models.VoucherTypePayment, first.Key)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	edit := header()
	edit.VoucherId = posted.ID
	prior := []models.Allocation{{DocumentId: 1, Amount: amount("1500")}}
	state, err := f.Open(ctx, session, edit, prior)
	if err != nil {
		t.Fatalf("Open edit: %v", err)
	}
	state, err = f.Apply(ctx, models.VoucherTypePayment, state.Key, allocation.EditAmount{DocumentId: 1, Value: "1200"}, allocation.CommitAmount{DocumentId: 1})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := f.Submit(ctx, session, models.VoucherTypePayment, state.Key); err != nil {
		t.Fatalf("Submit edit: %v", err)
	}
	docs, _ := m.FetchOutstanding(ctx, session, models.QueryFor(models.VoucherTypePayment, 4))
	for _, d := range docs {
		if d.ID == 1 && d.OutstandingAmount.String() != "300.00" {
			t.Fatalf("expected 300.00 outstanding after edit, got %s", d.OutstandingAmount)
		}
	}
}

func seedOrder(m *backendtest.Memory) {
	m.SeedOrder(5, models.OrderLine{
		ID: 1, ItemName: "Rice", OrderedQty: decimal.NewFromInt(100), PreviouslyReceivedQty: decimal.NewFromInt(40), UnitRate: amount("10"),
	})
}

func openGRN(t *testing.T, f *GRNFlow, qty int64) GRNState {
	t.Helper()
	state, err := f.Open(context.Background(), session, 5, time.Time{}, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	state, err = f.Apply(context.Background(), state.Key, fulfillment.SetReceived{LineId: 1, Qty: decimal.NewFromInt(qty)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	return state
}

func pending(t *testing.T, f *GRNFlow) decimal.Decimal {
	t.Helper()
	state, err := f.Open(context.Background(), session, 5, time.Time{}, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	line, _ := state.Tracker.Line(1)
	return line.PendingQty
}

func TestGRNOpen_ReadsOrderFresh(t *testing.T) {
	m := backendtest.New()
	seedOrder(m)
	f := NewGRNFlow(testDeps(m))

	if got := pending(t, f); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected pending 60, got %s", got)
	}
	// received against the order by another process
	m.SeedOrder(5, models.OrderLine{
		ID: 1, ItemName: "Rice", OrderedQty: decimal.NewFromInt(100), PreviouslyReceivedQty: decimal.NewFromInt(70), UnitRate: amount("10"),
	})
	if got := pending(t, f); !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected a new draft to see pending 30, got %s", got)
	}
}

func TestGRNConvertTwice(t *testing.T) {
	m := backendtest.New()
	seedOrder(m)
	f := NewGRNFlow(testDeps(m))
	ctx := context.Background()

	if got := pending(t, f); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected pending 60, got %s", got)
	}
	state := openGRN(t, f, 25)
	grn, err := f.Submit(ctx, session, state.Key)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if grn.Status != models.GRNStatusReceived {
		t.Fatalf("expected RECEIVED, got %s", grn.Status)
	}

	converted, err := f.Convert(ctx, session, grn.ID)
	if err != nil || converted.Status != models.GRNStatusConverted {
		t.Fatalf("Convert: %+v %v", converted, err)
	}
	_, err = f.Convert(ctx, session, grn.ID)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.Calls("ConvertGRN") != 1 || m.Postings() != 1 {
		t.Fatalf("expected one conversion, got calls=%d postings=%d", m.Calls("ConvertGRN"), m.Postings())
	}
	if got := pending(t, f); !got.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected pending 35 after conversion, got %s", got)
	}
}

func TestGRNCancel(t *testing.T) {
	m := backendtest.New()
	seedOrder(m)
	f := NewGRNFlow(testDeps(m))
	ctx := context.Background()

	grn, err := f.Submit(ctx, session, openGRN(t, f, 25).Key)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.Cancel(ctx, session, grn.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := f.Convert(ctx, session, grn.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if m.Calls("ConvertGRN") != 0 {
		t.Fatal("expected no backend call for a known terminal note")
	}
	if got := pending(t, f); !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected pending 60 after cancel, got %s", got)
	}
}

func TestGRNConvertUnknownNoteUsesBackend(t *testing.T) {
	m := backendtest.New()
	seedOrder(m)
	submitter := NewGRNFlow(testDeps(m))
	grn, err := submitter.Submit(context.Background(), session, openGRN(t, submitter, 10).Key)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	other := NewGRNFlow(testDeps(m))
	if _, err := other.Convert(context.Background(), session, grn.ID); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if _, err := other.Convert(context.Background(), session, grn.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, err := submitter.Convert(context.Background(), session, grn.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected backend conflict to surface as ErrInvalidTransition, got %v", err)
	}
}

func TestGRNSubmit_RechecksPendingAtSubmit(t *testing.T) {
	m := backendtest.New()
	seedOrder(m)
	f := NewGRNFlow(testDeps(m))
	ctx := context.Background()

	first := openGRN(t, f, 60)
	second := openGRN(t, f, 60)

	grn, err := f.Submit(ctx, session, first.Key)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := f.Convert(ctx, session, grn.ID); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	_, err = f.Submit(ctx, session, second.Key)
	if !errors.Is(err, models.ErrQuantityExceedsPending) {
		t.Fatalf("expected ErrQuantityExceedsPending, got %v", err)
	}
	if got := m.Calls("SubmitGRN"); got != 1 {
		t.Fatalf("expected the second note not to be posted, got %d", got)
	}
}

func TestGRNSubmit_NothingReceived(t *testing.T) {
	m := backendtest.New()
	seedOrder(m)
	f := NewGRNFlow(testDeps(m))
	state := openGRN(t, f, 0)
	if _, err := f.Submit(context.Background(), session, state.Key); !errors.Is(err, models.ErrNoLineSelected) {
		t.Fatalf("expected ErrNoLineSelected, got %v", err)
	}
}

func TestReturnIssue(t *testing.T) {
	m := backendtest.New()
	f := NewReturnFlow(testDeps(m))
	ctx := context.Background()

	draft := models.ReturnDraft{
		Kind:             models.ReturnKindPurchase,
		PartyId:          4,
		SourceDocumentId: 1,
		Date:             time.Now(),
		Lines: []models.ReturnLine{{
			SourceLineId: 1, InvoicedQty: decimal.NewFromInt(10), PreviouslyReturnedQty: decimal.NewFromInt(8),
			Qty: decimal.NewFromInt(3), UnitRate: amount("10"),
		}},
	}
	if _, err := f.Submit(ctx, session, "r1", draft); !errors.Is(err, models.ErrQuantityExceedsReturnable) {
		t.Fatalf("expected ErrQuantityExceedsReturnable, got %v", err)
	}
	if m.Calls("SubmitReturn") != 0 {
		t.Fatal("expected no posting for an invalid return")
	}

	draft.Lines[0].Qty = decimal.NewFromInt(2)
	result, err := f.Submit(ctx, session, "r1", draft)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	note, err := f.Issue(ctx, session, result.ID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if note.Kind != models.NoteKindDebit || note.Total.String() != "20.00" {
		t.Fatalf("unexpected note %+v", note)
	}
	again, err := f.Issue(ctx, session, result.ID)
	if !errors.Is(err, models.ErrInvalidTransition) || again.NoteNumber != note.NoteNumber {
		t.Fatalf("expected ErrInvalidTransition with the same note, got %+v %v", again, err)
	}
	if m.Calls("IssueReturn") != 1 {
		t.Fatalf("expected one issue call, got %d", m.Calls("IssueReturn"))
	}
}
