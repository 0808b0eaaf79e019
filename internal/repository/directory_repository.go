package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/spec-kit/workorder-service/internal/directory"
	"github.com/spec-kit/workorder-service/internal/domain"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

type directoryRepository struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewDirectoryRepository reads names and contacts from the staff_members,
// vendors and users tables.
func NewDirectoryRepository(pool *pgxpool.Pool, tracer trace.Tracer) directory.Lookup {
	return &directoryRepository{pool: pool, tracer: tracer}
}

func (r *directoryRepository) Lookup(ctx context.Context, kind domain.RecipientType, id string) (directory.Entry, error) {
	query, err := directoryQuery(kind)
	if err != nil {
		return directory.Entry{}, err
	}

	var entry directory.Entry
	err = ExecuteAndTrace(ctx, r.tracer, "repository.directory.lookup", []attribute.KeyValue{
		attribute.String("directory.kind", string(kind)),
	}, func(ctx context.Context) error {
		err := r.pool.QueryRow(ctx, query, id).Scan(&entry.DisplayName, &entry.Contact)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound(string(kind), map[string]any{"id": id})
		}
		return err
	})
	return entry, err
}

// directoryQuery selects (display name, contact) for a recipient kind.
func directoryQuery(kind domain.RecipientType) (string, error) {
	switch kind {
	case domain.RecipientTypeStaff:
		return `SELECT name, email FROM staff_members WHERE id=$1 AND active_flag`, nil
	case domain.RecipientTypeVendor:
		return `SELECT company_name, contact_email FROM vendors WHERE id=$1 AND active_flag`, nil
	case domain.RecipientTypeUser:
		return `SELECT name, email FROM users WHERE id=$1`, nil
	}
	return "", fmt.Errorf("unknown recipient type %q", kind)
}
