package medication

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, m *CatalogItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*CatalogItem, error)
	Update(ctx context.Context, m *CatalogItem) error
	// SearchPrefix matches active items whose name or generic name starts
	// with prefix, case-insensitively.
	SearchPrefix(ctx context.Context, prefix string, limit int) ([]*CatalogItem, error)
}
