package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/books_reconcile/appctx"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var testSession = models.Session{BusinessId: "biz-1", Token: "secret", UserId: 3}

type fakeBackend struct {
	server        *httptest.Server
	fetches       atomic.Int32
	voucherPosts  atomic.Int32
	lastHeaders   http.Header
	outstandingFn func(c *gin.Context)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fakeBackend{}
	r := gin.New()
	r.GET("/outstanding-documents", func(c *gin.Context) {
		f.fetches.Add(1)
		f.lastHeaders = c.Request.Header.Clone()
		if f.outstandingFn != nil {
			f.outstandingFn(c)
			return
		}
		if c.Query("party_id") != "4" || c.Query("party_type") != "supplier" || c.Query("document_type") != "bill" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad query"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": []gin.H{
			{"id": 1, "document_number": "BL-1", "total_amount": "2000.00", "paid_amount": "500.00"},
			{"id": 2, "document_number": "BL-2", "total_amount": "300.00", "paid_amount": "300.00"},
		}})
	})
	r.GET("/orders/:id/lines", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{{"id": 1, "item_name": "Rice", "ordered_qty": 100, "previously_received_qty": 40, "unit_rate": "10"}})
	})
	r.POST("/vouchers/:type", func(c *gin.Context) {
		f.voucherPosts.Add(1)
		f.lastHeaders = c.Request.Header.Clone()
		var draft models.VoucherDraft
		if err := c.ShouldBindJSON(&draft); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if draft.Total.String() != "1500.00" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "the amount entered is more than the balance"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": 77, "voucher_number": "PV-77"}})
	})
	r.POST("/grns/:id/convert", func(c *gin.Context) {
		if c.Param("id") == "9" {
			c.JSON(http.StatusConflict, gin.H{"error": "grn already converted"})
			return
		}
		c.JSON(http.StatusOK, gin.H{})
	})
	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func newTestClient(t *testing.T, f *fakeBackend, breaker *gobreaker.CircuitBreaker) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	c, err := NewClient(Options{BaseURL: f.server.URL + "/", Timeout: 2 * time.Second, Logger: logger, ReadBreaker: breaker})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestClient_FetchOutstanding(t *testing.T) {
	f := newFakeBackend(t)
	c := newTestClient(t, f, nil)

	ctx := appctx.WithCorrelationId(context.Background(), "corr-1")
	docs, err := c.FetchOutstanding(ctx, testSession, models.QueryFor(models.VoucherTypePayment, 4))
	if err != nil {
		t.Fatalf("FetchOutstanding: %v", err)
	}
	if len(docs) != 1 || docs[0].OutstandingAmount.String() != "1500.00" {
		t.Fatalf("expected only BL-1 with 1500.00 outstanding, got %+v", docs)
	}
	if f.lastHeaders.Get("token") != "secret" || f.lastHeaders.Get("x-business-id") != "biz-1" {
		t.Fatalf("session headers missing: %v", f.lastHeaders)
	}
	if f.lastHeaders.Get("x-correlation-id") != "corr-1" {
		t.Fatalf("expected correlation id header, got %q", f.lastHeaders.Get("x-correlation-id"))
	}
}

func TestClient_FetchPendingOrderLines(t *testing.T) {
	f := newFakeBackend(t)
	c := newTestClient(t, f, nil)
	lines, err := c.FetchPendingOrderLines(context.Background(), testSession, 5)
	if err != nil {
		t.Fatalf("FetchPendingOrderLines: %v", err)
	}
	if len(lines) != 1 || lines[0].PendingQty.String() != "60" {
		t.Fatalf("unexpected lines %+v", lines)
	}
}

func voucherDraft(total string) models.VoucherDraft {
	amount, _ := money.Parse(total)
	return models.VoucherDraft{
		VoucherHeader: models.VoucherHeader{Type: models.VoucherTypePayment, PartyId: 4, AccountId: 2, Date: time.Now()},
		Allocations:   []models.Allocation{{DocumentId: 1, Amount: amount}},
		Total:         amount,
	}
}

func TestClient_SubmitVoucher(t *testing.T) {
	f := newFakeBackend(t)
	c := newTestClient(t, f, nil)

	result, err := c.SubmitVoucher(context.Background(), testSession, voucherDraft("1500"), "key-1")
	if err != nil {
		t.Fatalf("SubmitVoucher: %v", err)
	}
	if result.ID != 77 || result.VoucherNumber != "PV-77" {
		t.Fatalf("unexpected result %+v", result)
	}
	if f.lastHeaders.Get("Idempotency-Key") != "key-1" {
		t.Fatalf("expected idempotency key header, got %q", f.lastHeaders.Get("Idempotency-Key"))
	}
}

func TestClient_SubmitVoucherRejected(t *testing.T) {
	f := newFakeBackend(t)
	c := newTestClient(t, f, nil)

	_, err := c.SubmitVoucher(context.Background(), testSession, voucherDraft("2000"), "key-2")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if be.Status != http.StatusUnprocessableEntity || be.Message != "the amount entered is more than the balance" {
		t.Fatalf("unexpected backend error %+v", be)
	}
	if f.voucherPosts.Load() != 1 {
		t.Fatalf("expected exactly one post, got %d", f.voucherPosts.Load())
	}
}

func TestClient_ConvertConflictIsInvalidTransition(t *testing.T) {
	f := newFakeBackend(t)
	c := newTestClient(t, f, nil)

	result, err := c.ConvertGRN(context.Background(), testSession, 3)
	if err != nil {
		t.Fatalf("ConvertGRN: %v", err)
	}
	if result.ID != 3 || result.Status != models.GRNStatusConverted {
		t.Fatalf("unexpected result %+v", result)
	}
	_, err = c.ConvertGRN(context.Background(), testSession, 9)
	if !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestClient_ReadBreakerOpensOnServerErrors(t *testing.T) {
	f := newFakeBackend(t)
	f.outstandingFn = func(c *gin.Context) {
		c.String(http.StatusBadGateway, "upstream down")
	}
	c := newTestClient(t, f, NewReadBreaker("test", nil))

	query := models.QueryFor(models.VoucherTypePayment, 4)
	for i := 0; i < breakerConsecutiveFailures; i++ {
		_, err := c.FetchOutstanding(context.Background(), testSession, query)
		var be *BackendError
		if !errors.As(err, &be) || be.Message != "upstream down" {
			t.Fatalf("attempt %d: expected upstream error, got %v", i, err)
		}
	}
	_, err := c.FetchOutstanding(context.Background(), testSession, query)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if got := f.fetches.Load(); got != breakerConsecutiveFailures {
		t.Fatalf("expected %d fetches to reach the backend, got %d", breakerConsecutiveFailures, got)
	}
}

func TestClient_ReadBreakerIgnoresClientErrors(t *testing.T) {
	f := newFakeBackend(t)
	f.outstandingFn = func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad query"})
	}
	c := newTestClient(t, f, NewReadBreaker("test", nil))

	query := models.QueryFor(models.VoucherTypePayment, 4)
	for i := 0; i < breakerConsecutiveFailures+2; i++ {
		_, err := c.FetchOutstanding(context.Background(), testSession, query)
		if errors.Is(err, ErrUnavailable) {
			t.Fatalf("attempt %d: breaker opened on a client error", i)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	cases := map[string]string{
		`{"error": "a"}`:                 "a",
		`{"message": "b"}`:               "b",
		`{"errors": [{"message": "c"}]}`: "c",
		`plain text`:                     "plain text",
		``:                               "500 Internal Server Error",
	}
	for body, expected := range cases {
		if got := errorMessage([]byte(body), "500 Internal Server Error"); got != expected {
			t.Fatalf("errorMessage(%q) = %q, expected %q", body, got, expected)
		}
	}
}
