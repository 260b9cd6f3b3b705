package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/mmdatafocus/books_reconcile/lifecycle"
	"github.com/mmdatafocus/books_reconcile/models"
)

// ReturnFlow submits purchase and sales returns and issues their notes.
type ReturnFlow struct {
	deps Deps

	mu      sync.Mutex
	returns map[int]*lifecycle.Return
}

func NewReturnFlow(deps Deps) *ReturnFlow {
	return &ReturnFlow{deps: deps.withDefaults(), returns: map[int]*lifecycle.Return{}}
}

// Submit posts a return once. key identifies the draft for the in-flight guard and doubles as the
// idempotency key.
func (f *ReturnFlow) Submit(ctx context.Context, session models.Session, key string, draft models.ReturnDraft) (models.ReturnResult, error) {
	if key == "" {
		key = f.deps.NewKey()
	}
	release, err := f.deps.Guard.Acquire(ctx, string(draft.Kind.Scope())+":"+key)
	if err != nil {
		return models.ReturnResult{}, err
	}
	defer release()

	if err := checkStruct(f.deps.Validator, draft); err != nil {
		return models.ReturnResult{}, err
	}
	ret, err := lifecycle.NewReturn(draft)
	if err != nil {
		return models.ReturnResult{}, err
	}
	result, err := f.deps.Backend.SubmitReturn(ctx, session, draft, key)
	if err != nil {
		config.LogError(f.deps.Logger, "ReturnFlow", "Submit", "Backend rejected return", draft, err)
		return models.ReturnResult{}, err
	}
	ret.Submitted(result)

	f.mu.Lock()
	f.returns[result.ID] = ret
	f.mu.Unlock()
	return result, nil
}

// Issue generates the debit or credit note. A second issue fails with models.ErrInvalidTransition
// and returns the note issued the first time.
func (f *ReturnFlow) Issue(ctx context.Context, session models.Session, returnId int) (models.Note, error) {
	release, err := f.deps.Guard.Acquire(ctx, fmt.Sprintf("return:%d", returnId))
	if err != nil {
		return models.Note{}, err
	}
	defer release()

	f.mu.Lock()
	ret, known := f.returns[returnId]
	f.mu.Unlock()
	if known && ret.Status == models.ReturnStatusIssued {
		note, _ := ret.Note()
		return note, fmt.Errorf("%w: return %s is already issued", models.ErrInvalidTransition, ret.ReturnNumber)
	}

	issued, err := f.deps.Backend.IssueReturn(ctx, session, returnId)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidTransition) {
			config.LogError(f.deps.Logger, "ReturnFlow", "Issue", "Backend rejected issue", returnId, err)
		}
		return models.Note{}, err
	}
	if !known {
		return models.Note{NoteNumber: issued.NoteNumber, IssuedAt: issued.IssuedAt}, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return ret.Issue(issued.NoteNumber, issued.IssuedAt)
}
