// Package index answers "is this person inside right now?" from the ledger.
//
// Both ledgers keep the answer cheap: the memory store maintains a
// document->open visit map and Postgres serves it from the partial unique
// index on open visits. Callers that act on the answer must read it inside
// the same per-document transaction as their write.
package index

import (
	"context"
	"errors"
	"strings"

	"gatehouse/internal/visits/models"
	"gatehouse/pkg/platform/sentinel"
)

// Ledger is the read the index needs from the visit store.
type Ledger interface {
	FindActiveByDocument(ctx context.Context, documentID string) (*models.Visit, error)
}

type Index struct {
	ledger Ledger
}

func New(ledger Ledger) *Index {
	return &Index{ledger: ledger}
}

// GetActiveVisit returns the open visit for the document or
// sentinel.ErrNotFound.
func (i *Index) GetActiveVisit(ctx context.Context, documentID string) (*models.Visit, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, sentinel.ErrNotFound
	}
	return i.ledger.FindActiveByDocument(ctx, documentID)
}

func (i *Index) HasActiveVisit(ctx context.Context, documentID string) (bool, error) {
	_, err := i.GetActiveVisit(ctx, documentID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
