package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/mmdatafocus/books_reconcile/fulfillment"
	"github.com/mmdatafocus/books_reconcile/lifecycle"
	"github.com/mmdatafocus/books_reconcile/models"
)

type GRNState struct {
	Key            string              `json:"key"`
	IdempotencyKey string              `json:"idempotency_key"`
	Date           time.Time           `json:"date"`
	Notes          string              `json:"notes"`
	Tracker        fulfillment.Tracker `json:"tracker"`
	OpenedAt       time.Time           `json:"opened_at"`
}

func (s GRNState) Draft() models.GRNDraft {
	return s.Tracker.Draft(s.Date, s.Notes)
}

// GRNFlow submits goods received notes and moves them through convert and cancel.
type GRNFlow struct {
	deps Deps

	// notes submitted or transitioned through this flow, checked before any backend call
	mu   sync.Mutex
	grns map[int]*lifecycle.GRN
}

func NewGRNFlow(deps Deps) *GRNFlow {
	return &GRNFlow{deps: deps.withDefaults(), grns: map[int]*lifecycle.GRN{}}
}

func (f *GRNFlow) Open(ctx context.Context, session models.Session, orderId int, date time.Time, notes string) (GRNState, error) {
	if orderId <= 0 {
		return GRNState{}, models.NewFieldError("order_id", 0, errors.New("select an order"))
	}
	lines, err := f.deps.Snapshots.RefreshOrderLines(ctx, session, orderId)
	if err != nil {
		config.LogError(f.deps.Logger, "GRNFlow", "Open", "Error fetching order lines", orderId, err)
		return GRNState{}, err
	}
	tracker, err := fulfillment.ForOrder(orderId, lines)
	if err != nil {
		return GRNState{}, err
	}
	if date.IsZero() {
		date = f.deps.Now()
	}
	state := GRNState{
		Key:            f.deps.NewKey(),
		IdempotencyKey: f.deps.NewKey(),
		Date:           date,
		Notes:          notes,
		Tracker:        tracker,
		OpenedAt:       f.deps.Now(),
	}
	f.deps.Registry.Open(state.Key)
	if err := f.save(ctx, state); err != nil {
		return GRNState{}, err
	}
	return state, nil
}

// OrderLines lists the order's lines for browsing, from the snapshot cache.
func (f *GRNFlow) OrderLines(ctx context.Context, session models.Session, orderId int) ([]models.OrderLine, error) {
	if orderId <= 0 {
		return nil, models.NewFieldError("order_id", 0, errors.New("select an order"))
	}
	return f.deps.Snapshots.OrderLines(ctx, session, orderId)
}

func (f *GRNFlow) Get(ctx context.Context, key string) (GRNState, error) {
	var state GRNState
	ok, err := f.deps.Drafts.Load(ctx, models.DraftScopeGRN, key, &state)
	if err != nil {
		return GRNState{}, err
	}
	if !ok {
		return GRNState{}, fmt.Errorf("%w: %s", ErrDraftNotFound, key)
	}
	return state, nil
}

func (f *GRNFlow) Apply(ctx context.Context, key string, events ...fulfillment.Event) (GRNState, error) {
	state, err := f.Get(ctx, key)
	if err != nil {
		return GRNState{}, err
	}
	tracker, err := fulfillment.Replay(state.Tracker, events...)
	if err != nil {
		return state, err
	}
	state.Tracker = tracker
	state.IdempotencyKey = f.deps.NewKey()
	if err := f.save(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

func (f *GRNFlow) Discard(ctx context.Context, key string) error {
	f.deps.Registry.Discard(key)
	return f.deps.Drafts.Clear(ctx, models.DraftScopeGRN, key)
}

// Submit re-checks received quantities against the order as it is now, then posts the note once.
func (f *GRNFlow) Submit(ctx context.Context, session models.Session, key string) (models.GRNResult, error) {
	gen := f.deps.Registry.Ensure(key)
	state, err := f.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			f.deps.Registry.Forget(key, gen)
		}
		return models.GRNResult{}, err
	}

	release, err := f.deps.Guard.Acquire(ctx, string(models.DraftScopeGRN)+":"+key)
	if err != nil {
		return models.GRNResult{}, err
	}
	defer release()

	if err := state.Tracker.Validate(); err != nil {
		return models.GRNResult{}, err
	}
	orderId := state.Tracker.OrderId()
	fresh, err := f.deps.Snapshots.RefreshOrderLines(ctx, session, orderId)
	if err != nil {
		config.LogError(f.deps.Logger, "GRNFlow", "Submit", "Error refreshing order lines", orderId, err)
		return models.GRNResult{}, err
	}
	if err := state.Tracker.ValidateAgainst(fresh); err != nil {
		return models.GRNResult{}, err
	}
	draft := state.Draft()
	if err := checkStruct(f.deps.Validator, draft); err != nil {
		return models.GRNResult{}, err
	}

	result, err := f.deps.Backend.SubmitGRN(ctx, session, draft, state.IdempotencyKey)
	if err != nil {
		config.LogError(f.deps.Logger, "GRNFlow", "Submit", "Backend rejected grn", draft, err)
		return models.GRNResult{}, err
	}
	if result.OrderId == 0 {
		result.OrderId = orderId
	}
	f.remember(lifecycle.NewGRN(result.ID, result.GRNNumber, draft))
	f.deps.Snapshots.InvalidateOrder(ctx, session.BusinessId, orderId)

	err = f.deps.settle(ctx, string(models.DraftScopeGRN), key, gen, func(ctx context.Context) error {
		return f.deps.Drafts.Clear(ctx, models.DraftScopeGRN, key)
	})
	return result, err
}

// Convert posts the note to inventory. Converting twice fails with models.ErrInvalidTransition
// and makes no backend call when this flow already knows the note's status.
func (f *GRNFlow) Convert(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error) {
	return f.transition(ctx, session, grnId, models.GRNStatusConverted)
}

// Cancel voids a RECEIVED note. The order's received quantities are untouched.
func (f *GRNFlow) Cancel(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error) {
	return f.transition(ctx, session, grnId, models.GRNStatusCancelled)
}

func (f *GRNFlow) transition(ctx context.Context, session models.Session, grnId int, target models.GRNStatus) (models.GRNResult, error) {
	release, err := f.deps.Guard.Acquire(ctx, fmt.Sprintf("grn:%d", grnId))
	if err != nil {
		return models.GRNResult{}, err
	}
	defer release()

	if known, ok := f.known(grnId); ok {
		if err := lifecycle.CheckGRNTransition(known.Status, target); err != nil {
			return models.GRNResult{ID: known.ID, GRNNumber: known.GRNNumber, OrderId: known.OrderId, Status: known.Status}, err
		}
	}

	var result models.GRNResult
	if target == models.GRNStatusConverted {
		result, err = f.deps.Backend.ConvertGRN(ctx, session, grnId)
	} else {
		result, err = f.deps.Backend.CancelGRN(ctx, session, grnId)
	}
	if err != nil {
		if !errors.Is(err, models.ErrInvalidTransition) {
			config.LogError(f.deps.Logger, "GRNFlow", "transition", "Backend rejected "+string(target), grnId, err)
		}
		return result, err
	}

	now := f.deps.Now()
	f.mu.Lock()
	grn, ok := f.grns[grnId]
	if !ok {
		grn = &lifecycle.GRN{ID: grnId, GRNNumber: result.GRNNumber, OrderId: result.OrderId, Status: models.GRNStatusReceived}
		f.grns[grnId] = grn
	}
	if target == models.GRNStatusConverted {
		_ = grn.Convert(now)
	} else {
		_ = grn.Cancel(now)
	}
	if result.OrderId == 0 {
		result.OrderId = grn.OrderId
	}
	f.mu.Unlock()

	if target == models.GRNStatusConverted && result.OrderId > 0 {
		f.deps.Snapshots.InvalidateOrder(ctx, session.BusinessId, result.OrderId)
	}
	return result, nil
}

func (f *GRNFlow) remember(grn *lifecycle.GRN) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grns[grn.ID] = grn
}

func (f *GRNFlow) known(grnId int) (lifecycle.GRN, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	grn, ok := f.grns[grnId]
	if !ok {
		return lifecycle.GRN{}, false
	}
	return *grn, true
}

func (f *GRNFlow) save(ctx context.Context, state GRNState) error {
	if err := f.deps.Drafts.Save(ctx, models.DraftScopeGRN, state.Key, state); err != nil {
		config.LogError(f.deps.Logger, "GRNFlow", "save", "Error saving draft", state.Key, err)
		return err
	}
	return nil
}
