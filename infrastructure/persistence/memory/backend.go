// Package memory provides an in-process remote store and change feed, used for the offline
// demo and for tests that need real delivery instead of mocks.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

// Backend holds tables in memory and pushes a change event for every mutation.
// It implements ports.RemoteCollectionClient and ports.ChangeFeed.
type Backend struct {
	mu     sync.RWMutex
	tables map[string][]entities.Record
	nextID int64
	now    func() time.Time
	fail   map[string]error

	subMu sync.Mutex
	subs  map[string]*subscription

	// held events wait for Release, like a feed that lags behind the write path
	holding bool
	held    []events.ChangeEvent
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		tables: make(map[string][]entities.Record),
		now:    time.Now,
		fail:   make(map[string]error),
		subs:   make(map[string]*subscription),
	}
}

// WithClock replaces the clock used to stamp created_at.
func (b *Backend) WithClock(now func() time.Time) *Backend {
	b.now = now
	return b
}

// Seed stores rows as they are, without emitting events.
func (b *Backend) Seed(table string, recs ...entities.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range recs {
		b.tables[table] = append(b.tables[table], r.Clone())
		if n, err := strconv.ParseInt(r.ID, 10, 64); err == nil && n > b.nextID {
			b.nextID = n
		}
	}
}

// FailNext makes the next call of operation ("fetch", "insert", "update", "delete") fail.
func (b *Backend) FailNext(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[operation] = err
}

func (b *Backend) takeFailure(operation string) error {
	err, ok := b.fail[operation]
	if ok {
		delete(b.fail, operation)
	}
	return err
}

// Rows returns a copy of a table in storage order.
func (b *Backend) Rows(table string) []entities.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]entities.Record, len(b.tables[table]))
	for i, r := range b.tables[table] {
		out[i] = r.Clone()
	}
	return out
}

// Fetch filters, orders and limits a table.
func (b *Backend) Fetch(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if err := b.takeFailure("fetch"); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	var out []entities.Record
	for _, r := range b.tables[q.Table] {
		if q.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	b.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		less := compareColumn(out[i], out[j], q.Order.Column)
		if q.Order.Ascending {
			return less < 0
		}
		return less > 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func compareColumn(a, b entities.Record, column string) int {
	if column == entities.ColumnCreatedAt {
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	x, y := a.String(column), b.String(column)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Insert stores a row, assigning id and created_at when absent.
func (b *Backend) Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error) {
	if err := ctx.Err(); err != nil {
		return entities.Record{}, err
	}

	b.mu.Lock()
	if err := b.takeFailure("insert"); err != nil {
		b.mu.Unlock()
		return entities.Record{}, err
	}
	saved := rec.Clone()
	if saved.ID == "" {
		b.nextID++
		saved.ID = strconv.FormatInt(b.nextID, 10)
	}
	for _, r := range b.tables[table] {
		if r.ID == saved.ID {
			b.mu.Unlock()
			return entities.Record{}, errors.NewValidationError(fmt.Sprintf("duplicate key %s in %s", saved.ID, table))
		}
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = b.now()
	}
	b.tables[table] = append(b.tables[table], saved.Clone())
	b.mu.Unlock()

	b.publish(events.NewInserted(table, saved.Clone()))
	return saved, nil
}

// Update patches every matching row. Matching nothing is a NotFoundError.
func (b *Backend) Update(ctx context.Context, table string, filters []ports.Filter, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if err := b.takeFailure("update"); err != nil {
		b.mu.Unlock()
		return err
	}
	var changed []entities.Record
	rows := b.tables[table]
	for i, r := range rows {
		if ports.MatchAll(filters, r) {
			rows[i] = r.WithPatch(patch)
			changed = append(changed, rows[i].Clone())
		}
	}
	b.mu.Unlock()

	if len(changed) == 0 {
		return errors.NewNotFoundError(table + " row")
	}

	for _, r := range changed {
		b.publish(events.NewUpdated(table, r))
	}
	return nil
}

// Delete removes every matching row.
func (b *Backend) Delete(ctx context.Context, table string, filters []ports.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if err := b.takeFailure("delete"); err != nil {
		b.mu.Unlock()
		return err
	}
	var (
		kept    []entities.Record
		removed []entities.Record
	)
	for _, r := range b.tables[table] {
		if ports.MatchAll(filters, r) {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	b.tables[table] = kept
	b.mu.Unlock()

	for _, r := range removed {
		b.publish(events.NewDeletedRecord(table, r))
	}
	return nil
}

// subscription delivers events synchronously from the mutating goroutine.
type subscription struct {
	id      string
	table   string
	filter  ports.EventFilter
	onEvent func(events.ChangeEvent)
	done    chan struct{}

	mu     sync.Mutex
	active bool
	err    error
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) accepts(ev events.ChangeEvent) bool {
	if ev.Table != s.table {
		return false
	}
	if s.filter.Event != "" && s.filter.Event != events.AnyChange && s.filter.Event != ev.Kind {
		return false
	}
	return s.filter.Filter == nil || s.filter.Filter.Matches(ev.Record)
}

func (s *subscription) deliver(ev events.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.onEvent(ev)
	}
}

func (s *subscription) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.active = false
	s.err = err
	close(s.done)
}

// Subscribe registers onEvent for changes on table.
func (b *Backend) Subscribe(ctx context.Context, table string, filter ports.EventFilter, onEvent func(events.ChangeEvent)) (ports.SubscriptionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if filter.Filter != nil {
		if err := filter.Filter.Validate(); err != nil {
			return nil, err
		}
	}
	sub := &subscription{
		id:      uuid.New().String(),
		table:   table,
		filter:  filter,
		onEvent: onEvent,
		done:    make(chan struct{}),
		active:  true,
	}

	b.subMu.Lock()
	b.subs[sub.id] = sub
	b.subMu.Unlock()
	return sub, nil
}

// Unsubscribe releases a subscription; once it returns no more events are delivered.
func (b *Backend) Unsubscribe(handle ports.SubscriptionHandle) error {
	if handle == nil {
		return nil
	}
	b.subMu.Lock()
	sub, ok := b.subs[handle.ID()]
	delete(b.subs, handle.ID())
	b.subMu.Unlock()
	if !ok {
		return errors.NewNotFoundError("subscription " + handle.ID())
	}
	sub.end(nil)
	return nil
}

// Drop ends every subscription on table with a SubscriptionError, as a lost socket would.
func (b *Backend) Drop(table string, cause error) {
	b.subMu.Lock()
	var dropped []*subscription
	for id, sub := range b.subs {
		if sub.table == table {
			dropped = append(dropped, sub)
			delete(b.subs, id)
		}
	}
	b.subMu.Unlock()

	for _, sub := range dropped {
		sub.end(errors.NewSubscriptionError(table, cause))
	}
}

// Subscribers counts live subscriptions on table.
func (b *Backend) Subscribers(table string) int {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	n := 0
	for _, sub := range b.subs {
		if sub.table == table {
			n++
		}
	}
	return n
}

// Hold queues change events instead of delivering them until Release is called.
func (b *Backend) Hold() {
	b.subMu.Lock()
	b.holding = true
	b.subMu.Unlock()
}

// Release delivers the queued events in order and resumes immediate delivery.
func (b *Backend) Release() {
	b.subMu.Lock()
	queued := b.held
	b.held = nil
	b.holding = false
	b.subMu.Unlock()

	for _, ev := range queued {
		b.publish(ev)
	}
}

func (b *Backend) publish(ev events.ChangeEvent) {
	b.subMu.Lock()
	if b.holding {
		b.held = append(b.held, ev)
		b.subMu.Unlock()
		return
	}
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.accepts(ev) {
			targets = append(targets, sub)
		}
	}
	b.subMu.Unlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}
