package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/workorder-service/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestResolver_KnownEntry(t *testing.T) {
	ctx := context.Background()
	static := NewStatic()
	static.Put(domain.RecipientTypeVendor, "vendor-1", Entry{DisplayName: "Acme Plumbing", Contact: strPtr("ops@acme.test")})
	dir := New(static)

	name, err := dir.ResolveDisplayName(ctx, domain.RecipientTypeVendor, "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Plumbing", name)

	contact, err := dir.ResolveContact(ctx, domain.RecipientTypeVendor, "vendor-1")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "ops@acme.test", *contact)
}

func TestResolver_UnknownEntryFallsBack(t *testing.T) {
	ctx := context.Background()
	dir := New(NewStatic())

	name, err := dir.ResolveDisplayName(ctx, domain.RecipientTypeStaff, "staff-9")
	require.NoError(t, err)
	assert.Equal(t, "staff-9", name)

	contact, err := dir.ResolveContact(ctx, domain.RecipientTypeStaff, "staff-9")
	require.NoError(t, err)
	assert.Nil(t, contact)
}

func TestStatic_KindsAreSeparate(t *testing.T) {
	ctx := context.Background()
	static := NewStatic()
	static.Put(domain.RecipientTypeStaff, "x", Entry{DisplayName: "Staff X"})

	_, err := static.Lookup(ctx, domain.RecipientTypeVendor, "x")
	assert.Error(t, err)

	entry, err := static.Lookup(ctx, domain.RecipientTypeStaff, "x")
	require.NoError(t, err)
	assert.Equal(t, "Staff X", entry.DisplayName)
}
