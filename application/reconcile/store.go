package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/valueobjects"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/observability"
)

var (
	// ErrClosed is returned by operations started after Close.
	ErrClosed = stderrors.New("store is closed")

	// ErrPendingMutation is returned when a record already has an unresolved optimistic
	// update or delete.
	ErrPendingMutation = errors.NewValidationError("record has a pending optimistic mutation")
)

// LoadFunc performs the bulk read of a store. The default is the remote client's Fetch;
// views that enrich rows plug in a fetch-then-join here.
type LoadFunc func(ctx context.Context, q ports.Query) ([]entities.Record, error)

// Config describes one store. The query is fixed for the store's lifetime.
type Config struct {
	Name  string
	Query ports.Query
	Mode  MergeMode

	// Relevant filters feed events; nil means events must satisfy the query's filters
	Relevant RelevanceFunc

	// Matcher pairs inbound inserts with pending optimistic inserts; nil disables it
	Matcher OptimisticMatcher

	Load LoadFunc

	// Transform rewrites feed events before they are ingested, e.g. to join author profiles;
	// it runs on the feed goroutine outside the store lock
	Transform func(events.ChangeEvent) events.ChangeEvent

	// ConfirmTransform rewrites the row returned by a submitted insert before it replaces the
	// provisional entry, so the confirmed entry carries the same joined fields as feed events
	ConfirmTransform func(context.Context, entities.Record) entities.Record

	// OperationTimeout bounds each fetch and mutation; zero leaves them open
	OperationTimeout time.Duration

	// RefreshInterval is the minimum spacing of coarse refreshes; zero disables throttling
	RefreshInterval time.Duration

	Metrics *observability.Collector
	Now     func() time.Time
}

// OptimisticRecord is a provisional entry created by ApplyOptimistic.
type OptimisticRecord struct {
	Handle valueobjects.Handle
	Record entities.Record
}

type pendingKind int

const (
	pendingInsert pendingKind = iota
	pendingUpdate
	pendingDelete
)

func (k pendingKind) String() string {
	switch k {
	case pendingUpdate:
		return "update"
	case pendingDelete:
		return "delete"
	default:
		return "insert"
	}
}

// pendingOp is an unresolved optimistic mutation.
type pendingOp struct {
	kind pendingKind
	seq  uint64
	id   string

	// insert: the provisional record
	record entities.Record
	// update: the patch, reapplied over fresh rows
	patch map[string]any
	// update, delete: the authoritative entry before the mutation; nil once the row is gone
	prior      *entities.Record
	priorIndex int
}

// maxEarlyEvents caps the events buffered between Attach and the first fetch.
const maxEarlyEvents = 256

// ListStore keeps a de-duplicated, ordered view of a remote record set, blending bulk
// fetches, change feed events and local optimistic mutations. Safe for concurrent use;
// all operations are serialized.
type ListStore struct {
	name      string
	client    ports.RemoteCollectionClient
	query     ports.Query
	load      LoadFunc
	relevant  RelevanceFunc
	matcher   OptimisticMatcher
	transform func(events.ChangeEvent) events.ChangeEvent
	confirm   func(context.Context, entities.Record) entities.Record
	mode      MergeMode
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
	metrics   *observability.Collector
	now       func() time.Time

	mu         sync.Mutex
	phase      Phase
	lastErr    error
	list       orderedList
	pending    map[string]*pendingOp
	seq        uint64
	tombstones map[string]struct{}
	closed     bool

	// fetch bookkeeping
	fetchGen   uint64
	appliedGen uint64
	inflight   int
	journal    []events.ChangeEvent

	// coarse refresh loop
	bgRunning  bool
	bgQueued   bool
	coarseLate bool
	baseCtx    context.Context
	cancel     context.CancelFunc

	feed ports.ChangeFeed
	sub  ports.SubscriptionHandle

	listeners  map[uint64]func(ListState)
	listenerID uint64
	version    uint64

	notifyMu sync.Mutex
	notified uint64
}

// NewStore creates a store in the Uninitialized phase.
func NewStore(client ports.RemoteCollectionClient, cfg Config, logger *zap.Logger) (*ListStore, error) {
	if client == nil && cfg.Load == nil {
		return nil, errors.NewValidationError("store needs a remote client or a load function")
	}
	if err := cfg.Query.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	name := cfg.Name
	if name == "" {
		name = cfg.Query.Table
	}
	dir := valueobjects.Descending
	if cfg.Query.Order.Ascending {
		dir = valueobjects.Ascending
	}

	s := &ListStore{
		name:       name,
		client:     client,
		query:      cfg.Query,
		load:       cfg.Load,
		relevant:   cfg.Relevant,
		matcher:    cfg.Matcher,
		transform:  cfg.Transform,
		confirm:    cfg.ConfirmTransform,
		mode:       cfg.Mode,
		timeout:    cfg.OperationTimeout,
		logger:     logger.With(zap.String("view", name)),
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		phase:      PhaseUninitialized,
		list:       newOrderedList(dir),
		pending:    make(map[string]*pendingOp),
		tombstones: make(map[string]struct{}),
		listeners:  make(map[uint64]func(ListState)),
	}
	if s.load == nil {
		s.load = client.Fetch
	}
	if s.relevant == nil {
		s.relevant = MatchingQuery(cfg.Query)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.RefreshInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.RefreshInterval), 1)
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// Name returns the view name used in logs and metrics.
func (s *ListStore) Name() string { return s.name }

// Query returns the fixed query of the store.
func (s *ListStore) Query() ports.Query { return s.query }

// Mode returns the merge mode.
func (s *ListStore) Mode() MergeMode { return s.mode }

// Snapshot returns the current list.
func (s *ListStore) Snapshot() ListState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.snapshot()
}

// Status returns the phase and the last fetch error.
func (s *ListStore) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *ListStore) statusLocked() Status {
	return Status{
		Phase:      s.phase,
		Refreshing: s.phase == PhaseReady && s.inflight > 0,
		Err:        s.lastErr,
	}
}

// OnChange registers fn to receive a snapshot after every visible change. The returned
// function unregisters it. fn runs outside the store lock but must not call mutating
// store methods.
func (s *ListStore) OnChange(fn func(ListState)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	s.listenerID++
	id := s.listenerID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Initialize performs the first bulk fetch. On failure the store enters the Error phase with
// an empty list and the FetchError is returned. Calling it again from Error is the retry.
func (s *ListStore) Initialize(ctx context.Context) (ListState, error) {
	return s.fetch(ctx, "initialize")
}

// Refresh re-runs the bulk fetch and replaces the list wholesale. A failed refresh of a
// loaded list keeps the prior content and reports the error through Status.
func (s *ListStore) Refresh(ctx context.Context) (ListState, error) {
	return s.fetch(ctx, "refresh")
}

func (s *ListStore) fetch(ctx context.Context, op string) (ListState, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ListState{}, ErrClosed
	}
	s.fetchGen++
	gen := s.fetchGen
	s.inflight++
	wasReady := s.phase == PhaseReady
	if !wasReady {
		s.phase = PhaseLoading
	}
	s.version++
	s.mu.Unlock()
	s.notify()

	s.logger.Debug("fetch started", zap.String("operation", op), zap.Uint64("generation", gen))

	recs, err := s.runLoad(ctx)
	s.metrics.RecordFetch(s.name, err)

	var (
		snap    ListState
		outErr  error
		applied bool
	)
	s.mutate(func() bool {
		s.inflight--
		if s.closed {
			return false
		}
		defer func() {
			if s.inflight == 0 {
				s.journal = nil
			}
		}()

		if gen <= s.appliedGen {
			// a newer fetch already landed
			snap = s.list.snapshot()
			return false
		}

		if err != nil {
			fetchErr := errors.NewFetchError(s.query.Table, err)
			s.lastErr = fetchErr
			outErr = fetchErr
			if s.phase == PhaseReady {
				s.logger.Warn("refresh failed, keeping prior list", zap.Error(err))
			} else if s.inflight == 0 {
				s.appliedGen = gen
				s.phase = PhaseError
				s.list.reset(s.pendingInsertEntries())
				s.logger.Warn("initial fetch failed", zap.Error(err))
			}
			snap = s.list.snapshot()
			return true
		}

		s.appliedGen = gen
		s.rebuild(recs)
		s.phase = PhaseReady
		s.lastErr = nil
		applied = true
		snap = s.list.snapshot()
		return true
	})

	if applied {
		s.logger.Info("list loaded",
			zap.String("operation", op),
			zap.Int("entries", snap.Len()),
		)
		s.maybeScheduleLateCoarse()
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		// the owner went away while we were waiting; nothing to report
		return ListState{}, nil
	}
	return snap, outErr
}

func (s *ListStore) runLoad(ctx context.Context) ([]entities.Record, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	recs, err := s.load(ctx, s.query)
	if err != nil && stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errors.NewTimeoutError("fetch " + s.query.Table).WithCause(err)
	}
	return recs, err
}

// rebuild replaces the list with fetched rows, re-applies pending optimistic mutations and
// replays the events that arrived while the fetch was in flight.
func (s *ListStore) rebuild(recs []entities.Record) {
	s.list.reset(sortRecords(s.list.dir, recs))

	for _, op := range s.pendingInOrder() {
		switch op.kind {
		case pendingInsert:
			s.list.insert(Entry{Record: op.record.Clone(), Pending: true, Handle: op.id})
		case pendingUpdate:
			base, ok := s.list.get(op.id)
			if !ok {
				op.prior = nil
				continue
			}
			prior := base.Record.Clone()
			op.prior = &prior
			s.list.replace(op.id, Entry{Record: prior.WithPatch(op.patch), Pending: true, Handle: s.handleOf(op)})
		case pendingDelete:
			removed, idx, ok := s.list.remove(op.id)
			if !ok {
				op.prior = nil
				continue
			}
			op.prior = &removed.Record
			op.priorIndex = idx
		}
	}

	for _, ev := range s.journal {
		s.applyEvent(ev)
	}
}

func (s *ListStore) pendingInsertEntries() []Entry {
	var out []Entry
	for _, op := range s.pendingInOrder() {
		if op.kind == pendingInsert {
			out = append(out, Entry{Record: op.record.Clone(), Pending: true, Handle: op.id})
		}
	}
	return sortEntries(s.list.dir, out)
}

// ApplyOptimistic inserts a provisional record at the position dictated by its creation
// time and returns the handle that later confirms or rolls it back. A zero CreatedAt is
// stamped with the current time; any id on the input is replaced by the provisional one.
func (s *ListStore) ApplyOptimistic(rec entities.Record) OptimisticRecord {
	h := valueobjects.NewHandle()
	rec = rec.Clone()
	rec.ID = h.String()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	out := OptimisticRecord{Handle: h, Record: rec}

	s.mutate(func() bool {
		if s.closed {
			return false
		}
		s.seq++
		s.pending[h.String()] = &pendingOp{kind: pendingInsert, seq: s.seq, id: h.String(), record: rec.Clone()}
		s.list.insert(Entry{Record: rec.Clone(), Pending: true, Handle: h.String()})
		return true
	})
	s.metrics.RecordOptimistic(s.name, "applied")
	return out
}

// ApplyOptimisticUpdate patches a displayed record immediately.
func (s *ListStore) ApplyOptimisticUpdate(id string, patch map[string]any) (valueobjects.Handle, error) {
	return s.applyExisting(id, pendingUpdate, patch)
}

// ApplyOptimisticDelete hides a displayed record immediately.
func (s *ListStore) ApplyOptimisticDelete(id string) (valueobjects.Handle, error) {
	return s.applyExisting(id, pendingDelete, nil)
}

func (s *ListStore) applyExisting(id string, kind pendingKind, patch map[string]any) (valueobjects.Handle, error) {
	var (
		h   valueobjects.Handle
		err error
	)
	s.mutate(func() bool {
		if s.closed {
			err = ErrClosed
			return false
		}
		if valueobjects.IsProvisionalID(id) {
			err = errors.NewValidationError(fmt.Sprintf("record %s is not confirmed yet", id))
			return false
		}
		entry, ok := s.list.get(id)
		if !ok {
			err = errors.NewNotFoundError(fmt.Sprintf("%s record %s", s.query.Table, id))
			return false
		}
		if s.pendingFor(id) != nil {
			err = ErrPendingMutation
			return false
		}

		h = valueobjects.NewHandle()
		prior := entry.Record.Clone()
		s.seq++
		op := &pendingOp{kind: kind, seq: s.seq, id: id, prior: &prior}

		if kind == pendingUpdate {
			op.patch = clonePatch(patch)
			s.list.replace(id, Entry{Record: prior.WithPatch(patch), Pending: true, Handle: h.String()})
		} else {
			_, idx, _ := s.list.remove(id)
			op.priorIndex = idx
		}
		s.pending[h.String()] = op
		return true
	})
	if err == nil {
		s.metrics.RecordOptimistic(s.name, "applied")
	}
	return h, err
}

// ConfirmOptimistic resolves a handle. With an authoritative record the provisional entry is
// replaced by it; with nil the optimistic mutation is rolled back. Unknown or already
// resolved handles are a no-op. Returns whether the list changed.
func (s *ListStore) ConfirmOptimistic(h valueobjects.Handle, authoritative *entities.Record) bool {
	if authoritative == nil {
		return s.resolve(h, nil, false)
	}
	return s.resolve(h, authoritative, true)
}

// CommitOptimistic resolves an update or delete handle keeping its optimistic result.
// Insert handles need the authoritative record and are left untouched.
func (s *ListStore) CommitOptimistic(h valueobjects.Handle) bool {
	return s.resolve(h, nil, true)
}

// RollbackOptimistic undoes the mutation behind a handle.
func (s *ListStore) RollbackOptimistic(h valueobjects.Handle) bool {
	return s.resolve(h, nil, false)
}

func (s *ListStore) resolve(h valueobjects.Handle, rec *entities.Record, commit bool) bool {
	outcome := ""
	changed := s.mutate(func() bool {
		if s.closed {
			return false
		}
		op, ok := s.pending[h.String()]
		if !ok {
			return false
		}
		if op.kind == pendingInsert && commit && rec == nil {
			return false
		}
		delete(s.pending, h.String())

		if commit {
			outcome = "confirmed"
		} else {
			outcome = "rolled_back"
		}

		switch op.kind {
		case pendingInsert:
			return s.resolveInsert(op, rec)
		case pendingUpdate:
			return s.resolveUpdate(op, rec, commit)
		default:
			return s.resolveDelete(op, commit)
		}
	})
	if outcome != "" {
		s.metrics.RecordOptimistic(s.name, outcome)
	}
	return changed
}

func (s *ListStore) resolveInsert(op *pendingOp, rec *entities.Record) bool {
	_, idx, removed := s.list.remove(op.id)
	if rec == nil {
		return removed
	}

	saved := rec.Clone()
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = op.record.CreatedAt
	}
	if saved.ID == "" {
		s.logger.Warn("confirmed record has no id, dropping provisional entry", zap.String("handle", op.id))
		return removed
	}
	if s.tombstoned(saved.ID) {
		return removed
	}
	if s.list.contains(saved.ID) {
		// the feed delivered the row before the insert call returned; keep any joined fields
		current, _ := s.list.get(saved.ID)
		merged := current.Record.WithPatch(saved.Fields)
		merged.CreatedAt = saved.CreatedAt
		s.list.replace(saved.ID, Entry{Record: merged})
		return true
	}
	s.list.insertNear(idx, Entry{Record: saved})
	return true
}

func (s *ListStore) resolveUpdate(op *pendingOp, rec *entities.Record, commit bool) bool {
	current, ok := s.list.get(op.id)
	if !ok {
		return false
	}
	switch {
	case rec != nil:
		saved := rec.Clone()
		if saved.CreatedAt.IsZero() {
			saved.CreatedAt = current.Record.CreatedAt
		}
		saved.ID = op.id
		s.list.replace(op.id, Entry{Record: saved})
	case commit:
		s.list.replace(op.id, Entry{Record: current.Record})
	case op.prior != nil:
		s.list.replace(op.id, Entry{Record: *op.prior})
	default:
		return false
	}
	return true
}

func (s *ListStore) resolveDelete(op *pendingOp, commit bool) bool {
	if commit {
		s.tombstones[op.id] = struct{}{}
		return false
	}
	if op.prior == nil || s.list.contains(op.id) || s.tombstoned(op.id) {
		return false
	}
	s.list.insertNear(op.priorIndex, Entry{Record: *op.prior})
	return true
}

// IngestChangeEvent applies an inbound change event when it is relevant to this view and
// returns whether the list changed. In coarse mode a relevant event schedules a refresh and
// the call returns false.
func (s *ListStore) IngestChangeEvent(ev events.ChangeEvent) bool {
	outcome := "ignored"
	changed := s.mutate(func() bool {
		if s.closed {
			return false
		}
		if ev.Table != "" && ev.Table != s.query.Table {
			return false
		}
		if s.phase == PhaseError && s.inflight == 0 {
			return false
		}
		if !s.relevant(ev) {
			outcome = "irrelevant"
			return false
		}

		if s.phase == PhaseUninitialized {
			// subscribed ahead of the first fetch; it replays these over its result
			if s.mode == CoarseRefresh || len(s.journal) >= maxEarlyEvents {
				return false
			}
			s.journal = append(s.journal, ev)
			outcome = "buffered"
			return false
		}

		if s.mode == CoarseRefresh {
			outcome = "refresh"
			s.scheduleCoarseLocked()
			return false
		}

		if s.inflight > 0 {
			s.journal = append(s.journal, ev)
		}
		if s.applyEvent(ev) {
			outcome = "applied"
			return true
		}
		return false
	})
	s.metrics.RecordEvent(s.name, string(ev.Kind), outcome)
	if outcome != "applied" {
		s.logger.Debug("change event not applied", zap.Stringer("event", ev), zap.String("outcome", outcome))
	}
	return changed
}

func (s *ListStore) applyEvent(ev events.ChangeEvent) bool {
	id := ev.RecordID()
	if id == "" {
		return false
	}
	op := s.pendingFor(id)

	switch ev.Kind {
	case events.Inserted:
		if s.tombstoned(id) || s.list.contains(id) {
			return false
		}
		if op != nil && op.kind == pendingDelete {
			rec := ev.Record.Clone()
			op.prior = &rec
			return false
		}
		if s.matcher != nil {
			if ins := s.matchPendingInsert(ev.Record); ins != nil {
				delete(s.pending, ins.id)
				s.list.replace(ins.id, Entry{Record: ev.Record.Clone()})
				return true
			}
		}
		s.list.insert(Entry{Record: ev.Record.Clone()})
		return true

	case events.Updated:
		rec := ev.Record.Clone()
		if op != nil && op.kind == pendingDelete {
			if rec.CreatedAt.IsZero() && op.prior != nil {
				rec.CreatedAt = op.prior.CreatedAt
			}
			op.prior = &rec
			return false
		}
		current, ok := s.list.get(id)
		if !ok {
			return false
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = current.Record.CreatedAt
		}
		if op != nil && op.kind == pendingUpdate {
			op.prior = &rec
			s.list.replace(id, Entry{Record: rec.WithPatch(op.patch), Pending: true, Handle: current.Handle})
			return true
		}
		s.list.replace(id, Entry{Record: rec})
		return true

	case events.Deleted:
		s.tombstones[id] = struct{}{}
		if op != nil {
			op.prior = nil
		}
		_, _, removed := s.list.remove(id)
		return removed
	}
	return false
}

func (s *ListStore) matchPendingInsert(incoming entities.Record) *pendingOp {
	var best *pendingOp
	for _, op := range s.pending {
		if op.kind != pendingInsert || !s.matcher(op.record, incoming) {
			continue
		}
		if best == nil || op.seq < best.seq {
			best = op
		}
	}
	return best
}

// pendingFor returns the unresolved update or delete targeting id.
func (s *ListStore) pendingFor(id string) *pendingOp {
	for _, op := range s.pending {
		if op.kind != pendingInsert && op.id == id {
			return op
		}
	}
	return nil
}

func (s *ListStore) handleOf(target *pendingOp) string {
	for h, op := range s.pending {
		if op == target {
			return h
		}
	}
	return ""
}

func (s *ListStore) pendingInOrder() []*pendingOp {
	ops := make([]*pendingOp, 0, len(s.pending))
	for _, op := range s.pending {
		ops = append(ops, op)
	}
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0 && ops[j].seq < ops[j-1].seq; j-- {
			ops[j], ops[j-1] = ops[j-1], ops[j]
		}
	}
	return ops
}

func (s *ListStore) tombstoned(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}

// scheduleCoarseLocked starts or queues a background refresh.
func (s *ListStore) scheduleCoarseLocked() {
	switch {
	case s.bgRunning:
		s.bgQueued = true
	case s.phase != PhaseReady:
		// the initial fetch may already be past this change
		s.coarseLate = true
	default:
		s.bgRunning = true
		go s.coarseLoop()
	}
}

func (s *ListStore) maybeScheduleLateCoarse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.coarseLate || s.closed {
		return
	}
	s.coarseLate = false
	s.scheduleCoarseLocked()
}

func (s *ListStore) coarseLoop() {
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.baseCtx); err != nil {
				s.mu.Lock()
				s.bgRunning = false
				s.mu.Unlock()
				return
			}
		}
		if _, err := s.Refresh(s.baseCtx); err != nil && !stderrors.Is(err, ErrClosed) {
			s.logger.Warn("coarse refresh failed", zap.Error(err))
		}

		s.mu.Lock()
		if s.bgQueued && !s.closed {
			s.bgQueued = false
			s.mu.Unlock()
			continue
		}
		s.bgRunning = false
		s.bgQueued = false
		s.mu.Unlock()
		return
	}
}

// Attach subscribes the store to a change feed on its table, replacing any previous
// subscription.
func (s *ListStore) Attach(ctx context.Context, feed ports.ChangeFeed, filter ports.EventFilter) error {
	if err := s.Detach(); err != nil {
		s.logger.Warn("releasing previous subscription failed", zap.Error(err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()

	sub, err := feed.Subscribe(ctx, s.query.Table, filter, func(ev events.ChangeEvent) {
		if s.transform != nil {
			ev = s.transform(ev)
		}
		s.IngestChangeEvent(ev)
	})
	if err != nil {
		return errors.NewSubscriptionError(s.query.Table, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = feed.Unsubscribe(sub)
		return ErrClosed
	}
	s.feed, s.sub = feed, sub
	s.mu.Unlock()

	s.logger.Info("subscribed to change feed", zap.String("subscription", sub.ID()))
	return nil
}

// Detach releases the feed subscription. No events are ingested after it returns.
func (s *ListStore) Detach() error {
	s.mu.Lock()
	feed, sub := s.feed, s.sub
	s.feed, s.sub = nil, nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := feed.Unsubscribe(sub); err != nil {
		return errors.NewSubscriptionError(s.query.Table, err)
	}
	return nil
}

// SubscriptionErr returns the reason an attached subscription ended, or nil while it is
// live or when nothing is attached.
func (s *ListStore) SubscriptionErr() error {
	s.mu.Lock()
	sub := s.sub
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	select {
	case <-sub.Done():
		if err := sub.Err(); err != nil {
			return err
		}
		return errors.NewSubscriptionError(s.query.Table, stderrors.New("subscription ended"))
	default:
		return nil
	}
}

// Attached reports whether a subscription is held, live or not.
func (s *ListStore) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

// Close tears the store down: the feed subscription is released before Close returns,
// listeners are dropped and in-flight fetches and mutations become no-ops.
func (s *ListStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.listeners = nil
	s.pending = make(map[string]*pendingOp)
	s.mu.Unlock()

	s.cancel()
	err := s.Detach()
	s.logger.Debug("store closed")
	return err
}

// mutate runs fn under the lock and notifies listeners when it reports a change.
func (s *ListStore) mutate(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	if changed {
		s.version++
		s.metrics.SetListSize(s.name, s.list.len())
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// notify delivers the latest snapshot. Older versions are skipped so a slow caller can
// never overwrite a newer snapshot with a stale one.
func (s *ListStore) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed || s.version <= s.notified || len(s.listeners) == 0 {
		s.notified = s.version
		s.mu.Unlock()
		return
	}
	s.notified = s.version
	snap := s.list.snapshot()
	fns := make([]func(ListState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func clonePatch(patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func sortEntries(dir valueobjects.OrderDirection, entries []Entry) []Entry {
	l := newOrderedList(dir)
	for _, e := range entries {
		l.insert(e)
	}
	return l.entries
}
