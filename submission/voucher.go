package submission

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/mmdatafocus/books_reconcile/allocation"
	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/mmdatafocus/books_reconcile/models"
)

// VoucherState is a payment or receipt voucher draft as persisted between requests.
type VoucherState struct {
	Key            string                       `json:"key"`
	IdempotencyKey string                       `json:"idempotency_key"`
	Header         models.VoucherHeader         `json:"header"`
	Ledger         allocation.Ledger            `json:"ledger"`
	Documents      []models.OutstandingDocument `json:"documents"`
	OpenedAt       time.Time                    `json:"opened_at"`
}

// Draft assembles the posting. Total is always the ledger total.
func (s VoucherState) Draft() models.VoucherDraft {
	return models.VoucherDraft{
		VoucherHeader: s.Header,
		Allocations:   s.Ledger.Allocations(),
		Total:         s.Ledger.Total(),
	}
}

func (s VoucherState) query() models.OutstandingQuery {
	return models.QueryFor(s.Header.Type, s.Header.PartyId)
}

type VoucherFlow struct {
	deps Deps
}

func NewVoucherFlow(deps Deps) *VoucherFlow {
	return &VoucherFlow{deps: deps.withDefaults()}
}

// Open starts a draft over the party's outstanding documents, read fresh from the backend. prior
// holds the allocations of the voucher being edited, and is empty for a new voucher.
func (f *VoucherFlow) Open(ctx context.Context, session models.Session, header models.VoucherHeader, prior []models.Allocation) (VoucherState, error) {
	if !header.Type.IsValid() {
		return VoucherState{}, models.NewFieldError("type", 0, fmt.Errorf("invalid voucher type %q", header.Type))
	}
	if header.PartyId <= 0 {
		return VoucherState{}, models.NewFieldError("party_id", 0, errors.New("select a party"))
	}
	query := models.QueryFor(header.Type, header.PartyId)
	docs, err := f.deps.Snapshots.RefreshOutstanding(ctx, session, query)
	if err != nil {
		config.LogError(f.deps.Logger, "VoucherFlow", "Open", "Error fetching outstanding documents", query, err)
		return VoucherState{}, err
	}

	ledger := allocation.New()
	for _, a := range prior {
		doc, ok := findDocument(docs, a.DocumentId)
		if !ok {
			// fully settled by this voucher, nothing left outstanding
			doc = models.OutstandingDocument{
				ID:             a.DocumentId,
				DocumentNumber: strconv.Itoa(a.DocumentId),
				TotalAmount:    a.Amount,
				PaidAmount:     a.Amount,
				Status:         models.SettlementStatusPaid,
			}
		}
		if ledger, err = ledger.Restore(doc, a.Amount); err != nil {
			return VoucherState{}, err
		}
	}

	state := VoucherState{
		Key:            f.deps.NewKey(),
		IdempotencyKey: f.deps.NewKey(),
		Header:         header,
		Ledger:         ledger,
		Documents:      docs,
		OpenedAt:       f.deps.Now(),
	}
	f.deps.Registry.Open(state.Key)
	if err := f.save(ctx, state); err != nil {
		return VoucherState{}, err
	}
	return state, nil
}

// Outstanding lists the party's documents for browsing, from the snapshot cache. Drafts never
// start from this list.
func (f *VoucherFlow) Outstanding(ctx context.Context, session models.Session, voucherType models.VoucherType, partyId int) ([]models.OutstandingDocument, error) {
	if !voucherType.IsValid() {
		return nil, models.NewFieldError("type", 0, fmt.Errorf("invalid voucher type %q", voucherType))
	}
	if partyId <= 0 {
		return nil, models.NewFieldError("party_id", 0, errors.New("select a party"))
	}
	return f.deps.Snapshots.Outstanding(ctx, session, models.QueryFor(voucherType, partyId))
}

func (f *VoucherFlow) Get(ctx context.Context, voucherType models.VoucherType, key string) (VoucherState, error) {
	var state VoucherState
	ok, err := f.deps.Drafts.Load(ctx, voucherType.Scope(), key, &state)
	if err != nil {
		return VoucherState{}, err
	}
	if !ok {
		return VoucherState{}, fmt.Errorf("%w: %s", ErrDraftNotFound, key)
	}
	return state, nil
}

// Apply folds events into the draft. A failing event leaves the stored draft untouched.
func (f *VoucherFlow) Apply(ctx context.Context, voucherType models.VoucherType, key string, events ...allocation.Event) (VoucherState, error) {
	state, err := f.Get(ctx, voucherType, key)
	if err != nil {
		return VoucherState{}, err
	}
	ledger, err := allocation.Replay(state.Ledger, events...)
	if err != nil {
		return state, err
	}
	state.Ledger = ledger
	state.IdempotencyKey = f.deps.NewKey()
	if err := f.save(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

// UpdateHeader replaces everything but the party, which fixes the documents the draft is over.
func (f *VoucherFlow) UpdateHeader(ctx context.Context, voucherType models.VoucherType, key string, header models.VoucherHeader) (VoucherState, error) {
	state, err := f.Get(ctx, voucherType, key)
	if err != nil {
		return VoucherState{}, err
	}
	if header.PartyId != state.Header.PartyId || header.Type != state.Header.Type {
		return state, models.NewFieldError("party_id", 0, errors.New("open a new draft to change the party"))
	}
	state.Header = header
	state.IdempotencyKey = f.deps.NewKey()
	if err := f.save(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

// Refresh re-reads the party's documents past the cache and rebases the draft on them.
func (f *VoucherFlow) Refresh(ctx context.Context, session models.Session, voucherType models.VoucherType, key string) (VoucherState, error) {
	state, err := f.Get(ctx, voucherType, key)
	if err != nil {
		return VoucherState{}, err
	}
	docs, err := f.deps.Snapshots.RefreshOutstanding(ctx, session, state.query())
	if err != nil {
		return state, err
	}
	state.Ledger = state.Ledger.Refresh(docs)
	state.Documents = docs
	if err := f.save(ctx, state); err != nil {
		return state, err
	}
	return state, nil
}

// Discard closes the draft. A submission still in flight for it will report ErrDraftDiscarded.
func (f *VoucherFlow) Discard(ctx context.Context, voucherType models.VoucherType, key string) error {
	f.deps.Registry.Discard(key)
	return f.deps.Drafts.Clear(ctx, voucherType.Scope(), key)
}

// Submit posts the draft once. Validation failures come back as *models.FieldError before any
// posting is attempted, and backend rejections as *backend.BackendError with the draft kept.
func (f *VoucherFlow) Submit(ctx context.Context, session models.Session, voucherType models.VoucherType, key string) (models.VoucherResult, error) {
	// taken before the load so a Discard racing with it is seen at settle
	gen := f.deps.Registry.Ensure(key)
	state, err := f.Get(ctx, voucherType, key)
	if err != nil {
		if errors.Is(err, ErrDraftNotFound) {
			f.deps.Registry.Forget(key, gen)
		}
		return models.VoucherResult{}, err
	}

	release, err := f.deps.Guard.Acquire(ctx, string(voucherType.Scope())+":"+key)
	if err != nil {
		return models.VoucherResult{}, err
	}
	defer release()

	if err := checkStruct(f.deps.Validator, state.Header); err != nil {
		return models.VoucherResult{}, err
	}
	if err := state.Ledger.Validate(); err != nil {
		return models.VoucherResult{}, err
	}
	query := state.query()
	fresh, err := f.deps.Snapshots.RefreshOutstanding(ctx, session, query)
	if err != nil {
		config.LogError(f.deps.Logger, "VoucherFlow", "Submit", "Error refreshing outstanding documents", query, err)
		return models.VoucherResult{}, err
	}
	if err := state.Ledger.ValidateAgainst(fresh); err != nil {
		return models.VoucherResult{}, err
	}
	draft := state.Draft()
	if err := checkStruct(f.deps.Validator, draft); err != nil {
		return models.VoucherResult{}, err
	}

	result, err := f.deps.Backend.SubmitVoucher(ctx, session, draft, state.IdempotencyKey)
	if err != nil {
		config.LogError(f.deps.Logger, "VoucherFlow", "Submit", "Backend rejected voucher", draft, err)
		return models.VoucherResult{}, err
	}

	f.deps.Snapshots.InvalidateOutstanding(ctx, session.BusinessId, query)
	err = f.deps.settle(ctx, string(voucherType.Scope()), key, gen, func(ctx context.Context) error {
		return f.deps.Drafts.Clear(ctx, voucherType.Scope(), key)
	})
	return result, err
}

func (f *VoucherFlow) save(ctx context.Context, state VoucherState) error {
	if err := f.deps.Drafts.Save(ctx, state.Header.Type.Scope(), state.Key, state); err != nil {
		config.LogError(f.deps.Logger, "VoucherFlow", "save", "Error saving draft", state.Key, err)
		return err
	}
	return nil
}

func findDocument(docs []models.OutstandingDocument, id int) (models.OutstandingDocument, bool) {
	i := slices.IndexFunc(docs, func(d models.OutstandingDocument) bool { return d.ID == id })
	if i < 0 {
		return models.OutstandingDocument{}, false
	}
	return docs[i], true
}
