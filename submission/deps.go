// Package submission turns validated drafts into backend postings.
//
// Every Submit checks the draft locally, re-checks it against a snapshot read past the cache, and
// posts it once. A failed posting leaves the draft in place. A successful one clears the draft and
// drops the snapshot it changed.
package submission

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mmdatafocus/books_reconcile/backend"
	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/mmdatafocus/books_reconcile/draftstore"
	"github.com/mmdatafocus/books_reconcile/snapshot"
	"github.com/sirupsen/logrus"
)

// Deps is shared by all flows. Zero fields get in-process defaults.
type Deps struct {
	Backend   backend.Backend
	Snapshots *snapshot.Cache
	Drafts    draftstore.Store
	Guard     Guard
	Registry  *Registry
	Validator *validator.Validate
	Logger    *logrus.Logger
	Now       func() time.Time
	NewKey    func() string
}

func (d Deps) withDefaults() Deps {
	if d.Snapshots == nil {
		d.Snapshots = snapshot.New(d.Backend)
	}
	if d.Drafts == nil {
		d.Drafts = draftstore.NewMemoryStore(0)
	}
	if d.Guard == nil {
		d.Guard = NewLocalGuard()
	}
	if d.Registry == nil {
		d.Registry = NewRegistry()
	}
	if d.Validator == nil {
		d.Validator = NewValidator()
	}
	if d.Logger == nil {
		d.Logger = config.GetLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewKey == nil {
		d.NewKey = func() string { return uuid.NewString() }
	}
	return d
}

// settle finishes a successful posting. The draft is cleared only while its generation is still
// open, otherwise the caller gets ErrDraftDiscarded.
func (d Deps) settle(ctx context.Context, scope, key string, gen uint64, clear func(context.Context) error) error {
	if !d.Registry.IsCurrent(key, gen) {
		return ErrDraftDiscarded
	}
	d.Registry.Discard(key)
	if err := clear(ctx); err != nil {
		config.LogError(d.Logger, "Submission", "settle", "Error clearing submitted draft", scope+":"+key, err)
	}
	return nil
}
