// Package draftstore persists in-progress drafts between requests, scoped per document kind.
package draftstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/books_reconcile/models"
)

// Store saves drafts as JSON. Load reports false for a missing or expired draft.
type Store interface {
	Save(ctx context.Context, scope models.DraftScope, key string, draft any) error
	Load(ctx context.Context, scope models.DraftScope, key string, dest any) (bool, error)
	Clear(ctx context.Context, scope models.DraftScope, key string) error
}

var ErrInvalidKey = errors.New("invalid draft key")

func storageKey(scope models.DraftScope, key string) (string, error) {
	if scope == "" || key == "" {
		return "", fmt.Errorf("%w: scope %q key %q", ErrInvalidKey, scope, key)
	}
	return fmt.Sprintf("draft:%s:%s", scope, key), nil
}
