// Package memory is an in-process work order store with the same
// versioning and atomicity guarantees as the SQL stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spec-kit/workorder-service/internal/domain"
	"github.com/spec-kit/workorder-service/internal/repository"
	apperrors "github.com/spec-kit/workorder-service/pkg/errorutil"
)

// Store keeps deep copies; callers never share memory with it.
type Store struct {
	mu          sync.RWMutex
	workOrders  map[string]*domain.WorkOrder
	byNumber    map[string]string
	assignments map[string][]domain.AssignmentRecord
	progress    map[string][]domain.ProgressUpdate
	sequences   map[int]int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		workOrders:  make(map[string]*domain.WorkOrder),
		byNumber:    make(map[string]string),
		assignments: make(map[string][]domain.AssignmentRecord),
		progress:    make(map[string][]domain.ProgressUpdate),
		sequences:   make(map[int]int64),
	}
}

func (s *Store) Create(ctx context.Context, wo *domain.WorkOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byNumber[wo.Number]; taken {
		return apperrors.NewDuplicateNumber(wo.Number, nil)
	}
	if _, taken := s.workOrders[wo.ID]; taken {
		return fmt.Errorf("work order %s already exists", wo.ID)
	}
	s.workOrders[wo.ID] = wo.Clone()
	s.byNumber[wo.Number] = wo.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.WorkOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	wo, ok := s.workOrders[id]
	if !ok {
		return nil, apperrors.NewNotFound("work order", map[string]any{"key": id})
	}
	return wo.Clone(), nil
}

func (s *Store) GetByNumber(ctx context.Context, number string) (*domain.WorkOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	id, ok := s.byNumber[number]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NewNotFound("work order", map[string]any{"key": number})
	}
	return s.GetByID(ctx, id)
}

func (s *Store) ListWithFilter(ctx context.Context, filter repository.WorkOrderFilter) ([]domain.WorkOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter = filter.Normalize()
	s.mu.RLock()
	matched := make([]*domain.WorkOrder, 0, len(s.workOrders))
	for _, wo := range s.workOrders {
		if filter.Matches(wo) {
			matched = append(matched, wo.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Offset >= len(matched) {
		return nil, nil
	}
	end := min(filter.Offset+filter.Limit, len(matched))
	result := make([]domain.WorkOrder, 0, end-filter.Offset)
	for _, wo := range matched[filter.Offset:end] {
		result = append(result, *wo)
	}
	return result, nil
}

func (s *Store) Apply(ctx context.Context, m repository.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wo := m.WorkOrder
	if wo == nil {
		return fmt.Errorf("mutation without work order")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.workOrders[wo.ID]
	if !ok {
		return apperrors.NewNotFound("work order", map[string]any{"id": wo.ID})
	}
	if stored.Version != wo.Version {
		return apperrors.NewConcurrentModification(wo.ID, wo.Version)
	}

	next := wo.Clone()
	// Identity and creation fields are immutable after Create.
	next.Number, next.NumberYear, next.NumberSeq = stored.Number, stored.NumberYear, stored.NumberSeq
	next.RequestedBy, next.CreatedAt, next.Attachments = stored.RequestedBy, stored.CreatedAt, stored.Attachments
	next.Version = stored.Version + 1
	s.workOrders[wo.ID] = next

	if m.Assignment != nil {
		s.assignments[wo.ID] = append(s.assignments[wo.ID], *m.Assignment)
	}
	if m.Progress != nil {
		s.progress[wo.ID] = append(s.progress[wo.ID], m.Progress.Clone())
	}
	wo.Version = next.Version
	return nil
}

func (s *Store) ListAssignments(ctx context.Context, workOrderID string) ([]domain.AssignmentRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.assignments[workOrderID]
	out := make([]domain.AssignmentRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AssignedAt.Before(out[j].AssignedAt) })
	return out, nil
}

func (s *Store) ListProgress(ctx context.Context, workOrderID string) ([]domain.ProgressUpdate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	updates := s.progress[workOrderID]
	out := make([]domain.ProgressUpdate, 0, len(updates))
	for _, u := range updates {
		out = append(out, u.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) NextSequence(ctx context.Context, year int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, seen := s.sequences[year]
	if !seen {
		last = s.maxSequenceLocked(year)
	}
	last++
	s.sequences[year] = last
	return last, nil
}

func (s *Store) MaxSequence(ctx context.Context, year int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSequenceLocked(year), nil
}

func (s *Store) maxSequenceLocked(year int) int64 {
	var max int64
	for _, wo := range s.workOrders {
		if wo.NumberYear == year && wo.NumberSeq > max {
			max = wo.NumberSeq
		}
	}
	return max
}

var (
	_ repository.WorkOrderRepository = (*Store)(nil)
	_ repository.SequenceRepository  = (*Store)(nil)
)
