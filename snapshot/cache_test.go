package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/books_reconcile/backend/backendtest"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/mmdatafocus/books_reconcile/money"
	"github.com/shopspring/decimal"
)

var (
	alice = models.Session{BusinessId: "biz-1", Token: "alice"}
	bob   = models.Session{BusinessId: "biz-1", Token: "bob"}
	query = models.QueryFor(models.VoucherTypePayment, 4)
)

func seeded() *backendtest.Memory {
	m := backendtest.New()
	m.SeedDocuments(query, models.OutstandingDocument{
		ID: 1, DocumentNumber: "BL-1", TotalAmount: money.FromMinor(1000), OutstandingAmount: money.FromMinor(1000),
	})
	m.SeedOrder(5, models.OrderLine{ID: 1, OrderedQty: decimal.NewFromInt(10)})
	return m
}

func TestOutstandingIsCachedUntilInvalidated(t *testing.T) {
	m := seeded()
	c := New(m)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		docs, err := c.Outstanding(ctx, alice, query)
		if err != nil || len(docs) != 1 {
			t.Fatalf("Outstanding: %v %+v", err, docs)
		}
	}
	if got := m.Calls("FetchOutstanding"); got != 1 {
		t.Fatalf("expected one fetch, got %d", got)
	}

	if _, err := c.Outstanding(ctx, bob, query); err != nil {
		t.Fatalf("Outstanding: %v", err)
	}
	c.InvalidateOutstanding(ctx, "biz-1", query)
	c.Outstanding(ctx, alice, query)
	c.Outstanding(ctx, bob, query)
	if got := m.Calls("FetchOutstanding"); got != 4 {
		t.Fatalf("expected both sessions to refetch after invalidation, got %d fetches", got)
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	m := seeded()
	c := New(m)
	ctx := context.Background()

	c.Outstanding(ctx, alice, query)
	c.RefreshOutstanding(ctx, alice, query)
	if got := m.Calls("FetchOutstanding"); got != 2 {
		t.Fatalf("expected refresh to fetch, got %d", got)
	}
	c.Outstanding(ctx, alice, query)
	if got := m.Calls("FetchOutstanding"); got != 2 {
		t.Fatalf("expected refreshed value to be cached, got %d", got)
	}
}

func TestOrderLinesErrorsAreNotCached(t *testing.T) {
	m := seeded()
	c := New(m)
	ctx := context.Background()

	if _, err := c.OrderLines(ctx, alice, 99); err == nil {
		t.Fatal("expected missing order to fail")
	}
	m.SeedOrder(99, models.OrderLine{ID: 1, OrderedQty: decimal.NewFromInt(3)})
	lines, err := c.OrderLines(ctx, alice, 99)
	if err != nil || len(lines) != 1 {
		t.Fatalf("expected retry to succeed, got %v %+v", err, lines)
	}

	lines[0].ItemName = "changed"
	again, _ := c.OrderLines(ctx, alice, 99)
	if again[0].ItemName == "changed" {
		t.Fatal("cached snapshot must not be shared with callers")
	}

	c.InvalidateOrder(ctx, "biz-1", 99)
	c.OrderLines(ctx, alice, 99)
	if got := m.Calls("FetchPendingOrderLines"); got != 3 {
		t.Fatalf("expected 3 fetches, got %d", got)
	}
}

func TestSnapshotsExpire(t *testing.T) {
	m := seeded()
	c := New(m, WithTTL(20*time.Millisecond))
	ctx := context.Background()

	c.Outstanding(ctx, alice, query)
	c.Outstanding(ctx, alice, query)
	if got := m.Calls("FetchOutstanding"); got != 1 {
		t.Fatalf("expected one fetch inside the ttl, got %d", got)
	}
	time.Sleep(50 * time.Millisecond)
	c.Outstanding(ctx, alice, query)
	if got := m.Calls("FetchOutstanding"); got != 2 {
		t.Fatalf("expected an expired snapshot to be refetched, got %d", got)
	}
}

func TestSnapshotsAreBounded(t *testing.T) {
	m := seeded()
	c := New(m, WithSize(2))
	ctx := context.Background()

	for i := range 5 {
		c.Outstanding(ctx, models.Session{BusinessId: "biz-1", Token: string(rune('a' + i))}, query)
	}
	c.mu.Lock()
	tracked := len(c.partyKeys[partyScope{BusinessId: "biz-1", Query: query}])
	c.mu.Unlock()
	if tracked != 2 {
		t.Fatalf("expected evicted sessions to be untracked, %d still tracked", tracked)
	}
}

func TestRefreshedSnapshotIsInvalidated(t *testing.T) {
	m := seeded()
	c := New(m)
	ctx := context.Background()

	c.RefreshOutstanding(ctx, alice, query)
	c.InvalidateOutstanding(ctx, "biz-1", query)
	c.Outstanding(ctx, alice, query)
	if got := m.Calls("FetchOutstanding"); got != 2 {
		t.Fatalf("expected the refreshed snapshot to be dropped, got %d fetches", got)
	}
}
