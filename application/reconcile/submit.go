package reconcile

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/utils"
)

// MutationKind is the remote operation behind a submit.
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is a user action submitted from a screen.
type Mutation struct {
	Kind MutationKind `json:"kind" validate:"required,oneof=insert update delete"`
	// Record is the new row for inserts
	Record entities.Record `json:"record"`
	// ID targets updates and deletes
	ID    string         `json:"id" validate:"required_unless=Kind insert"`
	Patch map[string]any `json:"patch" validate:"required_if=Kind update"`
}

// Validate checks the mutation shape.
func (m Mutation) Validate() error {
	if err := utils.ValidateStruct(m); err != nil {
		return errors.NewValidationError(err.Error())
	}
	return nil
}

// Submit applies the mutation optimistically, dispatches it to the remote store and
// confirms or rolls back on completion. The returned record is the authoritative row for
// inserts and the patched row for updates. Remote failures come back as a MutationError
// after the local rollback.
func (s *ListStore) Submit(ctx context.Context, m Mutation) (entities.Record, error) {
	if err := m.Validate(); err != nil {
		return entities.Record{}, err
	}
	if s.client == nil {
		return entities.Record{}, errors.NewUnavailableError("remote client for " + s.name)
	}

	switch m.Kind {
	case MutationInsert:
		return s.submitInsert(ctx, m.Record)
	case MutationUpdate:
		return s.submitUpdate(ctx, m.ID, m.Patch)
	default:
		return entities.Record{}, s.submitDelete(ctx, m.ID)
	}
}

func (s *ListStore) submitInsert(ctx context.Context, rec entities.Record) (entities.Record, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return entities.Record{}, ErrClosed
	}

	opt := s.ApplyOptimistic(rec)

	// the server assigns id and created_at
	payload := entities.NewRecord("", time.Time{}, rec.Fields)

	ctx, cancel := s.operationContext(ctx)
	defer cancel()

	saved, err := s.client.Insert(ctx, s.query.Table, payload)
	if err != nil {
		s.ConfirmOptimistic(opt.Handle, nil)
		s.logger.Warn("insert failed, rolled back", zap.String("handle", opt.Handle.String()), zap.Error(err))
		return entities.Record{}, errors.NewMutationError("insert", s.query.Table, s.timeoutCause(ctx, err))
	}

	if s.confirm != nil {
		saved = s.confirm(ctx, saved)
	}
	s.ConfirmOptimistic(opt.Handle, &saved)
	return saved, nil
}

func (s *ListStore) submitUpdate(ctx context.Context, id string, patch map[string]any) (entities.Record, error) {
	h, err := s.ApplyOptimisticUpdate(id, patch)
	if err != nil {
		return entities.Record{}, err
	}

	ctx, cancel := s.operationContext(ctx)
	defer cancel()

	if err := s.client.Update(ctx, s.query.Table, []ports.Filter{ports.Eq(entities.ColumnID, id)}, patch); err != nil {
		s.RollbackOptimistic(h)
		s.logger.Warn("update failed, rolled back", zap.String("id", id), zap.Error(err))
		return entities.Record{}, errors.NewMutationError("update", s.query.Table, s.timeoutCause(ctx, err))
	}

	s.CommitOptimistic(h)
	entry, _ := s.Snapshot().Get(id)
	return entry.Record, nil
}

func (s *ListStore) submitDelete(ctx context.Context, id string) error {
	h, err := s.ApplyOptimisticDelete(id)
	if err != nil {
		return err
	}

	ctx, cancel := s.operationContext(ctx)
	defer cancel()

	if err := s.client.Delete(ctx, s.query.Table, []ports.Filter{ports.Eq(entities.ColumnID, id)}); err != nil {
		s.RollbackOptimistic(h)
		s.logger.Warn("delete failed, rolled back", zap.String("id", id), zap.Error(err))
		return errors.NewMutationError("delete", s.query.Table, s.timeoutCause(ctx, err))
	}

	s.CommitOptimistic(h)
	return nil
}

func (s *ListStore) operationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *ListStore) timeoutCause(ctx context.Context, err error) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeoutError(s.query.Table).WithCause(err)
	}
	return err
}
