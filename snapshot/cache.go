// Package snapshot caches outstanding documents and order lines per party and per order.
//
// Snapshots are read-mostly. They are dropped when a submission changes the party or order
// they describe, and expire after a TTL. Opening a draft and the submit-time check both read
// past the cache.
package snapshot

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/books_reconcile/backend"
	"github.com/mmdatafocus/books_reconcile/models"
)

type documentKey struct {
	Session models.Session
	Query   models.OutstandingQuery
}

type orderKey struct {
	Session models.Session
	OrderId int
}

type partyScope struct {
	BusinessId string
	Query      models.OutstandingQuery
}

type orderScope struct {
	BusinessId string
	OrderId    int
}

type Cache struct {
	backend   backend.Backend
	documents *dataloader.Loader[documentKey, []models.OutstandingDocument]
	orders    *dataloader.Loader[orderKey, []models.OrderLine]

	// every session that has loaded a scope, so invalidation reaches all of them
	mu        sync.Mutex
	partyKeys map[partyScope]map[documentKey]struct{}
	orderKeys map[orderScope]map[orderKey]struct{}
}

const (
	defaultTTL  = 5 * time.Minute
	defaultSize = 1024
)

type options struct {
	ttl  time.Duration
	size int
}

type Option func(*options)

func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithSize bounds the number of snapshots held per kind.
func WithSize(size int) Option {
	return func(o *options) { o.size = size }
}

func New(b backend.Backend, opts ...Option) *Cache {
	o := options{ttl: defaultTTL, size: defaultSize}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache{
		backend:   b,
		partyKeys: map[partyScope]map[documentKey]struct{}{},
		orderKeys: map[orderScope]map[orderKey]struct{}{},
	}
	c.documents = dataloader.NewBatchedLoader(c.fetchDocuments,
		dataloader.WithWait[documentKey, []models.OutstandingDocument](time.Millisecond),
		dataloader.WithCache[documentKey, []models.OutstandingDocument](newLRUCache[documentKey, []models.OutstandingDocument](o.size, o.ttl, c.untrackParty)),
	)
	c.orders = dataloader.NewBatchedLoader(c.fetchOrders,
		dataloader.WithWait[orderKey, []models.OrderLine](time.Millisecond),
		dataloader.WithCache[orderKey, []models.OrderLine](newLRUCache[orderKey, []models.OrderLine](o.size, o.ttl, c.untrackOrder)),
	)
	return c
}

func (c *Cache) fetchDocuments(ctx context.Context, keys []documentKey) []*dataloader.Result[[]models.OutstandingDocument] {
	results := make([]*dataloader.Result[[]models.OutstandingDocument], 0, len(keys))
	for _, key := range keys {
		docs, err := c.backend.FetchOutstanding(ctx, key.Session, key.Query)
		results = append(results, &dataloader.Result[[]models.OutstandingDocument]{Data: docs, Error: err})
	}
	return results
}

func (c *Cache) fetchOrders(ctx context.Context, keys []orderKey) []*dataloader.Result[[]models.OrderLine] {
	results := make([]*dataloader.Result[[]models.OrderLine], 0, len(keys))
	for _, key := range keys {
		lines, err := c.backend.FetchPendingOrderLines(ctx, key.Session, key.OrderId)
		results = append(results, &dataloader.Result[[]models.OrderLine]{Data: lines, Error: err})
	}
	return results
}

// Outstanding returns the cached documents of a party, fetching on first use.
// Failed fetches are not cached.
func (c *Cache) Outstanding(ctx context.Context, session models.Session, query models.OutstandingQuery) ([]models.OutstandingDocument, error) {
	key := c.trackParty(session, query)
	docs, err := c.documents.Load(ctx, key)()
	if err != nil {
		c.documents.Clear(ctx, key)
		return nil, err
	}
	return slices.Clone(docs), nil
}

// RefreshOutstanding reads past the cache and stores the fresh result.
func (c *Cache) RefreshOutstanding(ctx context.Context, session models.Session, query models.OutstandingQuery) ([]models.OutstandingDocument, error) {
	docs, err := c.backend.FetchOutstanding(ctx, session, query)
	if err != nil {
		return nil, err
	}
	key := documentKey{Session: session, Query: query}
	// clearing untracks the key, so track it again once primed
	c.documents.Clear(ctx, key).Prime(ctx, key, slices.Clone(docs))
	c.trackParty(session, query)
	return docs, nil
}

func (c *Cache) OrderLines(ctx context.Context, session models.Session, orderId int) ([]models.OrderLine, error) {
	key := c.trackOrder(session, orderId)
	lines, err := c.orders.Load(ctx, key)()
	if err != nil {
		c.orders.Clear(ctx, key)
		return nil, err
	}
	return slices.Clone(lines), nil
}

func (c *Cache) RefreshOrderLines(ctx context.Context, session models.Session, orderId int) ([]models.OrderLine, error) {
	lines, err := c.backend.FetchPendingOrderLines(ctx, session, orderId)
	if err != nil {
		return nil, err
	}
	key := orderKey{Session: session, OrderId: orderId}
	c.orders.Clear(ctx, key).Prime(ctx, key, slices.Clone(lines))
	c.trackOrder(session, orderId)
	return lines, nil
}

// InvalidateOutstanding drops the party's documents for every session of the business.
func (c *Cache) InvalidateOutstanding(ctx context.Context, businessId string, query models.OutstandingQuery) {
	scope := partyScope{BusinessId: businessId, Query: query}
	c.mu.Lock()
	keys := c.partyKeys[scope]
	delete(c.partyKeys, scope)
	c.mu.Unlock()
	for key := range keys {
		c.documents.Clear(ctx, key)
	}
}

func (c *Cache) InvalidateOrder(ctx context.Context, businessId string, orderId int) {
	scope := orderScope{BusinessId: businessId, OrderId: orderId}
	c.mu.Lock()
	keys := c.orderKeys[scope]
	delete(c.orderKeys, scope)
	c.mu.Unlock()
	for key := range keys {
		c.orders.Clear(ctx, key)
	}
}

func (c *Cache) trackParty(session models.Session, query models.OutstandingQuery) documentKey {
	key := documentKey{Session: session, Query: query}
	scope := partyScope{BusinessId: session.BusinessId, Query: query}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.partyKeys[scope] == nil {
		c.partyKeys[scope] = map[documentKey]struct{}{}
	}
	c.partyKeys[scope][key] = struct{}{}
	return key
}

func (c *Cache) trackOrder(session models.Session, orderId int) orderKey {
	key := orderKey{Session: session, OrderId: orderId}
	scope := orderScope{BusinessId: session.BusinessId, OrderId: orderId}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orderKeys[scope] == nil {
		c.orderKeys[scope] = map[orderKey]struct{}{}
	}
	c.orderKeys[scope][key] = struct{}{}
	return key
}

func (c *Cache) untrackParty(key documentKey) {
	scope := partyScope{BusinessId: key.Session.BusinessId, Query: key.Query}
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys := c.partyKeys[scope]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.partyKeys, scope)
		}
	}
}

func (c *Cache) untrackOrder(key orderKey) {
	scope := orderScope{BusinessId: key.Session.BusinessId, OrderId: key.OrderId}
	c.mu.Lock()
	defer c.mu.Unlock()
	if keys := c.orderKeys[scope]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.orderKeys, scope)
		}
	}
}
