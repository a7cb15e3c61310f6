package domain

import "context"

// PositionStore persists position records. Implementations serialise every
// mutation; reads see either the state before or after a mutation, never a
// partial document.
type PositionStore interface {
	LoadAll(ctx context.Context) ([]PositionRecord, error)
	Add(ctx context.Context, rec PositionRecord) error
	Get(ctx context.Context, id string) (PositionRecord, error)
	GetByMarket(ctx context.Context, marketID string) ([]PositionRecord, error)
	GetOpen(ctx context.Context) ([]PositionRecord, error)
	UpdateStatus(ctx context.Context, id string, status PositionStatus) error
	UpdateNotes(ctx context.Context, id string, notes string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
