package medication

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medmitra/medmitra/internal/platform/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Search returns up to MaxSearchResults active items for autocomplete.
func (s *Service) Search(ctx context.Context, q string) ([]*CatalogItem, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*CatalogItem{}, nil
	}
	items, err := s.repo.SearchPrefix(ctx, q, MaxSearchResults)
	if items == nil && err == nil {
		items = []*CatalogItem{}
	}
	return items, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	return s.repo.GetByID(ctx, id)
}

// Active returns the item only when it may still be prescribed.
func (s *Service) Active(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, apperr.Invalid("medication %s is no longer in the catalog", m.Name)
	}
	return m, nil
}

func check(m *CatalogItem) error {
	if m.Name == "" {
		return apperr.Invalid("name is required")
	}
	if !validForms[m.Form] {
		return apperr.Invalid("unknown form %q", m.Form)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, req ItemRequest) (*CatalogItem, error) {
	m := &CatalogItem{Active: true}
	req.apply(m)
	if err := check(m); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req ItemRequest) (*CatalogItem, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(m)
	if err := check(m); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Deactivate hides an item from autocomplete. Past prescriptions keep their
// copy of the name.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !m.Active {
		return nil
	}
	m.Active = false
	return s.repo.Update(ctx, m)
}
