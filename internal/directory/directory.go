// Package directory resolves display names and contact addresses of the
// people and vendors a work order notifies.
package directory

import (
	"context"
	"errors"
	"sync"

	"github.com/spec-kit/workorder-service/internal/domain"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// Entry is what the directory knows about one id.
type Entry struct {
	DisplayName string  `json:"display_name"`
	Contact     *string `json:"contact,omitempty"`
}

// Directory is the lookup surface consumed by notifications.
type Directory interface {
	ResolveDisplayName(ctx context.Context, kind domain.RecipientType, id string) (string, error)
	ResolveContact(ctx context.Context, kind domain.RecipientType, id string) (*string, error)
}

// Lookup is a backing source of entries. Missing ids yield a NOT_FOUND error.
type Lookup interface {
	Lookup(ctx context.Context, kind domain.RecipientType, id string) (Entry, error)
}

type resolver struct {
	lookup Lookup
}

// New adapts a Lookup to a Directory. Unknown ids resolve to their own id as
// display name and to no contact.
func New(lookup Lookup) Directory {
	return &resolver{lookup: lookup}
}

func (r *resolver) ResolveDisplayName(ctx context.Context, kind domain.RecipientType, id string) (string, error) {
	entry, err := r.lookup.Lookup(ctx, kind, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	if entry.DisplayName == "" {
		return id, nil
	}
	return entry.DisplayName, nil
}

func (r *resolver) ResolveContact(ctx context.Context, kind domain.RecipientType, id string) (*string, error) {
	entry, err := r.lookup.Lookup(ctx, kind, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry.Contact, nil
}

// Static is an in-process Lookup, used when no directory tables are wired
// and in tests.
type Static struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewStatic returns an empty static directory.
func NewStatic() *Static {
	return &Static{entries: make(map[string]Entry)}
}

// Put registers or replaces an entry.
func (s *Static) Put(kind domain.RecipientType, id string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(kind, id)] = entry
}

func (s *Static) Lookup(ctx context.Context, kind domain.RecipientType, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key(kind, id)]
	if !ok {
		return Entry{}, apperrors.NewNotFound(string(kind), map[string]any{"id": id})
	}
	return entry, nil
}

func key(kind domain.RecipientType, id string) string {
	return string(kind) + ":" + id
}
