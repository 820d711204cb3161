package medication

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dosage forms accepted in the catalog.
var validForms = map[string]bool{
	"tablet": true, "capsule": true, "syrup": true, "injection": true,
	"drops": true, "ointment": true, "inhaler": true, "other": true,
}

// MaxSearchResults caps autocomplete responses.
const MaxSearchResults = 20

// CatalogItem is a hospital formulary entry used for prescription autocomplete.
type CatalogItem struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	GenericName *string   `json:"generic_name,omitempty"`
	Form        string    `json:"form"`
	Strength    *string   `json:"strength,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Label is the text a prescription line shows, e.g. "Dolo 650 mg tablet".
func (m *CatalogItem) Label() string {
	parts := []string{m.Name}
	if m.Strength != nil && *m.Strength != "" {
		parts = append(parts, *m.Strength)
	}
	parts = append(parts, m.Form)
	return strings.Join(parts, " ")
}

type ItemRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	GenericName *string `json:"generic_name" validate:"omitempty,max=200"`
	Form        string  `json:"form" validate:"required,oneof=tablet capsule syrup injection drops ointment inhaler other"`
	Strength    *string `json:"strength" validate:"omitempty,max=50"`
}

func (r ItemRequest) apply(m *CatalogItem) {
	m.Name = strings.TrimSpace(r.Name)
	m.GenericName = trimmed(r.GenericName)
	m.Form = r.Form
	m.Strength = trimmed(r.Strength)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
