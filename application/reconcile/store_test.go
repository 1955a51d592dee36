package reconcile

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/valueobjects"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/tests/mocks"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func message(id string, minute int, from, to, body string) entities.Record {
	return entities.NewRecord(id, at(minute), map[string]any{
		"sender_id":   from,
		"receiver_id": to,
		"body":        body,
	})
}

func item(id string, minute int) entities.Record {
	return entities.NewRecord(id, at(minute), map[string]any{"title": "item " + id, "seller_id": "s1"})
}

func chatConfig() Config {
	return Config{
		Name: "chat",
		Query: ports.Query{
			Table: "messages",
			AnyOf: [][]ports.Filter{
				{ports.Eq("sender_id", "u1"), ports.Eq("receiver_id", "u2")},
				{ports.Eq("sender_id", "u2"), ports.Eq("receiver_id", "u1")},
			},
			Order: ports.Order{Column: "created_at", Ascending: true},
		},
		Relevant: DirectMessage("sender_id", "receiver_id", "u1", "u2"),
	}
}

func feedConfig() Config {
	return Config{
		Name:     "feed",
		Query:    ports.Query{Table: "items", Order: ports.Order{Column: "created_at"}},
		Relevant: Broadcast(),
	}
}

func newTestStore(t *testing.T, client *mocks.RemoteClient, cfg Config) *ListStore {
	t.Helper()
	s, err := NewStore(client, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// readyChat returns a chat store loaded with [A@10:00, B@10:01].
func readyChat(t *testing.T, client *mocks.RemoteClient) *ListStore {
	t.Helper()
	a := message("A", 0, "u1", "u2", "hi")
	b := message("B", 1, "u2", "u1", "hey")
	client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{a, b}, nil).Once()

	s := newTestStore(t, client, chatConfig())
	_, err := s.Initialize(context.Background())
	require.NoError(t, err)
	return s
}

func assertOrdered(t *testing.T, state ListState) {
	t.Helper()
	for i := 1; i < len(state.Entries); i++ {
		prev, cur := state.Entries[i-1].Record.CreatedAt, state.Entries[i].Record.CreatedAt
		assert.True(t, state.Direction.InOrder(prev, cur),
			"entry %d (%s) out of order after %s", i, cur, prev)
	}
}

func TestNewStore(t *testing.T) {
	t.Run("rejects invalid query", func(t *testing.T) {
		_, err := NewStore(&mocks.RemoteClient{}, Config{Query: ports.Query{Table: "items"}}, zap.NewNop())
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("requires a source", func(t *testing.T) {
		_, err := NewStore(nil, feedConfig(), zap.NewNop())
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("starts uninitialized", func(t *testing.T) {
		s := newTestStore(t, &mocks.RemoteClient{}, feedConfig())
		assert.Equal(t, PhaseUninitialized, s.Status().Phase)
		assert.Equal(t, 0, s.Snapshot().Len())
		assert.Equal(t, "feed", s.Name())
	})
}

func TestInitialize(t *testing.T) {
	t.Run("loads ordered list", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).
			Return([]entities.Record{item("a", 0), item("c", 2), item("b", 1)}, nil).Once()
		s := newTestStore(t, client, feedConfig())

		state, err := s.Initialize(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, state.IDs())
		assert.Equal(t, PhaseReady, s.Status().Phase)
		assertOrdered(t, state)
		client.AssertExpectations(t)
	})

	t.Run("fetch failure leaves an empty list in error", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).Return(nil, stderrors.New("connection refused")).Once()
		s := newTestStore(t, client, chatConfig())

		state, err := s.Initialize(context.Background())

		require.Error(t, err)
		assert.True(t, errors.IsFetch(err))
		assert.Equal(t, 0, state.Len())
		status := s.Status()
		assert.Equal(t, PhaseError, status.Phase)
		assert.Contains(t, status.Message(), "connection refused")
	})

	t.Run("retry from error reaches ready", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).Return(nil, stderrors.New("offline")).Once()
		client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{item("a", 0)}, nil).Once()
		s := newTestStore(t, client, feedConfig())

		_, err := s.Initialize(context.Background())
		require.Error(t, err)
		state, err := s.Initialize(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, state.IDs())
		assert.Equal(t, PhaseReady, s.Status().Phase)
		assert.Nil(t, s.Status().Err)
	})

	t.Run("timeout surfaces as fetch error", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded).Once()
		cfg := feedConfig()
		cfg.OperationTimeout = 20 * time.Millisecond
		s := newTestStore(t, client, cfg)

		_, err := s.Initialize(context.Background())

		assert.True(t, errors.IsFetch(err))
		assert.True(t, errors.IsTimeout(err))
	})

	t.Run("events before initialize are replayed over the first fetch", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).
			Return([]entities.Record{item("a", 0), item("b", 1)}, nil).Once()
		s := newTestStore(t, client, feedConfig())

		assert.False(t, s.IngestChangeEvent(events.NewInserted("items", item("c", 2))))
		assert.False(t, s.IngestChangeEvent(events.NewDeleted("items", "a")))
		assert.Equal(t, 0, s.Snapshot().Len())
		assert.Equal(t, PhaseUninitialized, s.Status().Phase)

		state, err := s.Initialize(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, state.IDs())
	})

	t.Run("early events are dropped when the first fetch fails", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).Return(nil, stderrors.New("offline")).Once()
		client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{item("a", 0)}, nil).Once()
		s := newTestStore(t, client, feedConfig())

		s.IngestChangeEvent(events.NewInserted("items", item("c", 2)))
		_, err := s.Initialize(context.Background())
		require.Error(t, err)

		state, err := s.Initialize(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, state.IDs())
	})
}

func TestRefresh(t *testing.T) {
	t.Run("replaces list wholesale", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		client.On("Fetch", mock.Anything, mock.Anything).
			Return([]entities.Record{message("B", 1, "u2", "u1", "hey"), message("C", 2, "u1", "u2", "new")}, nil).Once()

		state, err := s.Refresh(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"B", "C"}, state.IDs())
	})

	t.Run("failure keeps prior list", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		client.On("Fetch", mock.Anything, mock.Anything).Return(nil, stderrors.New("timeout")).Once()

		_, err := s.Refresh(context.Background())

		assert.True(t, errors.IsFetch(err))
		status := s.Status()
		assert.Equal(t, PhaseReady, status.Phase)
		assert.Error(t, status.Err)
		assert.Equal(t, []string{"A", "B"}, s.Snapshot().IDs())
	})

	t.Run("refresh before initialize loads", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{item("a", 0)}, nil).Once()
		s := newTestStore(t, client, feedConfig())

		state, err := s.Refresh(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, state.Len())
		assert.Equal(t, PhaseReady, s.Status().Phase)
	})

	t.Run("pending optimistic insert survives", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		opt := s.ApplyOptimistic(message("", 5, "u1", "u2", "pending"))
		client.On("Fetch", mock.Anything, mock.Anything).
			Return([]entities.Record{message("A", 0, "u1", "u2", "hi")}, nil).Once()

		state, err := s.Refresh(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"A", opt.Record.ID}, state.IDs())
		entry, _ := state.Get(opt.Record.ID)
		assert.True(t, entry.Pending)
	})

	t.Run("pending optimistic delete stays hidden", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		_, err := s.ApplyOptimisticDelete("A")
		require.NoError(t, err)
		client.On("Fetch", mock.Anything, mock.Anything).
			Return([]entities.Record{message("A", 0, "u1", "u2", "hi"), message("B", 1, "u2", "u1", "hey")}, nil).Once()

		state, err := s.Refresh(context.Background())

		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, state.IDs())
	})
}

func TestEventsDuringFetch(t *testing.T) {
	client := &mocks.RemoteClient{}
	s := newTestStore(t, client, chatConfig())
	client.On("Fetch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			// both land after the server read the rows
			s.IngestChangeEvent(events.NewInserted("messages", message("C", 2, "u1", "u2", "late")))
			s.IngestChangeEvent(events.NewDeleted("messages", "A"))
		}).
		Return([]entities.Record{message("A", 0, "u1", "u2", "hi"), message("B", 1, "u2", "u1", "hey")}, nil).Once()

	state, err := s.Initialize(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, state.IDs())
}

func TestIngestChangeEvent(t *testing.T) {
	t.Run("duplicate insert is idempotent", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})

		changed := s.IngestChangeEvent(events.NewInserted("messages", message("A", 0, "u1", "u2", "hi")))

		assert.False(t, changed)
		assert.Equal(t, []string{"A", "B"}, s.Snapshot().IDs())
	})

	t.Run("repeated delivery of a new record yields one entry", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		ev := events.NewInserted("messages", message("C", 2, "u1", "u2", "again"))

		assert.True(t, s.IngestChangeEvent(ev))
		assert.False(t, s.IngestChangeEvent(ev))
		assert.False(t, s.IngestChangeEvent(ev))

		assert.Equal(t, []string{"A", "B", "C"}, s.Snapshot().IDs())
	})

	t.Run("insert lands at its ordered position", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})

		s.IngestChangeEvent(events.NewInserted("messages", entities.NewRecord("M", base.Add(30*time.Second),
			map[string]any{"sender_id": "u2", "receiver_id": "u1"})))

		assert.Equal(t, []string{"A", "M", "B"}, s.Snapshot().IDs())
	})

	t.Run("delete of absent id is a no-op", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		before := s.Snapshot()

		changed := s.IngestChangeEvent(events.NewDeleted("messages", "99"))

		assert.False(t, changed)
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("delete removes by id", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		assert.True(t, s.IngestChangeEvent(events.NewDeleted("messages", "A")))
		assert.Equal(t, []string{"B"}, s.Snapshot().IDs())
	})

	t.Run("deleted ids are not resurrected", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		s.IngestChangeEvent(events.NewDeleted("messages", "A"))

		changed := s.IngestChangeEvent(events.NewInserted("messages", message("A", 0, "u1", "u2", "hi")))

		assert.False(t, changed)
		assert.Equal(t, []string{"B"}, s.Snapshot().IDs())
	})

	t.Run("update replaces present record", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		updated := message("B", 1, "u2", "u1", "edited")

		assert.True(t, s.IngestChangeEvent(events.NewUpdated("messages", updated)))

		entry, ok := s.Snapshot().Get("B")
		require.True(t, ok)
		assert.Equal(t, "edited", entry.Record.String("body"))
		assert.Equal(t, []string{"A", "B"}, s.Snapshot().IDs())
	})

	t.Run("update of absent record is ignored", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		assert.False(t, s.IngestChangeEvent(events.NewUpdated("messages", message("Z", 3, "u1", "u2", "x"))))
		assert.Equal(t, 2, s.Snapshot().Len())
	})

	t.Run("direct message with a third party is irrelevant", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		before := s.Snapshot()

		changed := s.IngestChangeEvent(events.NewInserted("messages", message("X", 2, "u1", "u3", "other chat")))

		assert.False(t, changed)
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("other tables are ignored", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		assert.False(t, s.IngestChangeEvent(events.NewInserted("items", message("X", 2, "u1", "u2", "x"))))
	})
}

func TestChatSendScenario(t *testing.T) {
	s := readyChat(t, &mocks.RemoteClient{})

	opt := s.ApplyOptimistic(message("", 5, "u1", "u2", "Hello"))

	state := s.Snapshot()
	require.Equal(t, 3, state.Len())
	assert.Equal(t, []string{"A", "B", opt.Record.ID}, state.IDs())
	assert.True(t, state.Entries[2].Pending)
	assert.True(t, valueobjects.IsProvisionalID(opt.Record.ID))

	saved := message("42", 5, "u1", "u2", "Hello")
	assert.True(t, s.ConfirmOptimistic(opt.Handle, &saved))

	state = s.Snapshot()
	assert.Equal(t, []string{"A", "B", "42"}, state.IDs())
	assert.False(t, state.Entries[2].Pending)
	assert.False(t, state.Contains(opt.Record.ID))
}

func TestOptimisticInsert(t *testing.T) {
	t.Run("rollback is exact", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		before := s.Snapshot()

		opt := s.ApplyOptimistic(message("", 0, "u1", "u2", "tie"))
		changed := s.ConfirmOptimistic(opt.Handle, nil)

		assert.True(t, changed)
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("confirm is idempotent", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		opt := s.ApplyOptimistic(message("", 5, "u1", "u2", "Hello"))
		saved := message("42", 5, "u1", "u2", "Hello")

		require.True(t, s.ConfirmOptimistic(opt.Handle, &saved))
		after := s.Snapshot()

		assert.False(t, s.ConfirmOptimistic(opt.Handle, &saved))
		assert.False(t, s.ConfirmOptimistic(opt.Handle, nil))
		assert.Equal(t, after, s.Snapshot())
	})

	t.Run("confirmed record takes its ordered position", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).
			Return([]entities.Record{item("a", 0), item("b", 1), item("c", 2)}, nil).Once()
		s := newTestStore(t, client, feedConfig())
		_, err := s.Initialize(context.Background())
		require.NoError(t, err)

		opt := s.ApplyOptimistic(item("", 3))
		assert.Equal(t, opt.Record.ID, s.Snapshot().IDs()[0])

		// server clock says it is older than everything displayed
		saved := item("d", -1)
		s.ConfirmOptimistic(opt.Handle, &saved)

		state := s.Snapshot()
		assert.Equal(t, []string{"c", "b", "a", "d"}, state.IDs())
		assert.False(t, state.Contains(opt.Record.ID))
		assertOrdered(t, state)
	})

	t.Run("feed echo before confirm leaves one entry", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		opt := s.ApplyOptimistic(message("", 5, "u1", "u2", "Hello"))
		saved := message("42", 5, "u1", "u2", "Hello")

		s.IngestChangeEvent(events.NewInserted("messages", saved))
		s.ConfirmOptimistic(opt.Handle, &saved)

		assert.Equal(t, []string{"A", "B", "42"}, s.Snapshot().IDs())
	})

	t.Run("zero created_at is stamped", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{}, nil).Once()
		cfg := feedConfig()
		cfg.Now = func() time.Time { return at(9) }
		s := newTestStore(t, client, cfg)
		_, err := s.Initialize(context.Background())
		require.NoError(t, err)

		opt := s.ApplyOptimistic(entities.NewRecord("ignored", time.Time{}, map[string]any{"title": "x"}))

		assert.Equal(t, at(9), opt.Record.CreatedAt)
		assert.NotEqual(t, "ignored", opt.Record.ID)
	})

	t.Run("business key matcher pairs the feed echo", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		cfg := chatConfig()
		cfg.Matcher = BusinessKeyMatcher(5*time.Second, "sender_id", "receiver_id", "body")
		client.On("Fetch", mock.Anything, mock.Anything).
			Return([]entities.Record{message("A", 0, "u1", "u2", "hi")}, nil).Once()
		s := newTestStore(t, client, cfg)
		_, err := s.Initialize(context.Background())
		require.NoError(t, err)

		opt := s.ApplyOptimistic(message("", 5, "u1", "u2", "Hello"))
		echo := entities.NewRecord("42", at(5).Add(time.Second),
			map[string]any{"sender_id": "u1", "receiver_id": "u2", "body": "Hello"})

		assert.True(t, s.IngestChangeEvent(events.NewInserted("messages", echo)))
		assert.Equal(t, []string{"A", "42"}, s.Snapshot().IDs())

		assert.False(t, s.ConfirmOptimistic(opt.Handle, &echo))
		assert.Equal(t, []string{"A", "42"}, s.Snapshot().IDs())
	})
}

func TestOptimisticUpdateAndDelete(t *testing.T) {
	t.Run("update rollback restores prior", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		before := s.Snapshot()

		h, err := s.ApplyOptimisticUpdate("B", map[string]any{"body": "edited"})
		require.NoError(t, err)
		entry, _ := s.Snapshot().Get("B")
		assert.Equal(t, "edited", entry.Record.String("body"))
		assert.True(t, entry.Pending)

		assert.True(t, s.RollbackOptimistic(h))
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("update commit keeps patch", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		h, err := s.ApplyOptimisticUpdate("B", map[string]any{"body": "edited"})
		require.NoError(t, err)

		s.CommitOptimistic(h)

		entry, _ := s.Snapshot().Get("B")
		assert.Equal(t, "edited", entry.Record.String("body"))
		assert.False(t, entry.Pending)
		assert.False(t, s.RollbackOptimistic(h))
	})

	t.Run("second mutation on the same record is rejected", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		_, err := s.ApplyOptimisticUpdate("B", map[string]any{"body": "edited"})
		require.NoError(t, err)

		_, err = s.ApplyOptimisticDelete("B")
		assert.ErrorIs(t, err, ErrPendingMutation)
	})

	t.Run("unknown id", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		_, err := s.ApplyOptimisticUpdate("nope", map[string]any{"body": "x"})
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("delete rollback restores position", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{
			message("A", 0, "u1", "u2", "a"),
			message("B", 0, "u2", "u1", "b"),
			message("C", 0, "u1", "u2", "c"),
		}, nil).Once()
		s := newTestStore(t, client, chatConfig())
		_, err := s.Initialize(context.Background())
		require.NoError(t, err)
		before := s.Snapshot()

		h, err := s.ApplyOptimisticDelete("B")
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "C"}, s.Snapshot().IDs())

		assert.True(t, s.ConfirmOptimistic(h, nil))
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("delete rollback after remote delete event does not resurrect", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		h, err := s.ApplyOptimisticDelete("A")
		require.NoError(t, err)

		s.IngestChangeEvent(events.NewDeleted("messages", "A"))
		s.RollbackOptimistic(h)

		assert.Equal(t, []string{"B"}, s.Snapshot().IDs())
	})

	t.Run("update event on pending update becomes the rollback target", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		h, err := s.ApplyOptimisticUpdate("B", map[string]any{"liked": true})
		require.NoError(t, err)

		s.IngestChangeEvent(events.NewUpdated("messages", message("B", 1, "u2", "u1", "edited elsewhere")))
		entry, _ := s.Snapshot().Get("B")
		assert.Equal(t, "edited elsewhere", entry.Record.String("body"))
		assert.Equal(t, true, entry.Record.Field("liked"))

		s.RollbackOptimistic(h)
		entry, _ = s.Snapshot().Get("B")
		assert.Equal(t, "edited elsewhere", entry.Record.String("body"))
		assert.False(t, entry.Record.HasField("liked"))
	})
}

func TestSubmit(t *testing.T) {
	t.Run("insert shows optimistic entry then the saved one", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		saved := message("42", 5, "u1", "u2", "Hello")

		client.On("Insert", mock.Anything, "messages", mock.MatchedBy(func(r entities.Record) bool {
			return r.ID == "" && r.CreatedAt.IsZero() && r.String("body") == "Hello"
		})).
			Run(func(mock.Arguments) {
				state := s.Snapshot()
				assert.Equal(t, 3, state.Len())
				assert.True(t, state.Entries[2].Pending)
			}).
			Return(saved, nil).Once()

		got, err := s.Submit(context.Background(), Mutation{
			Kind:   MutationInsert,
			Record: message("", 5, "u1", "u2", "Hello"),
		})

		require.NoError(t, err)
		assert.Equal(t, "42", got.ID)
		assert.Equal(t, []string{"A", "B", "42"}, s.Snapshot().IDs())
		client.AssertExpectations(t)
	})

	t.Run("insert confirm runs the confirm transform before a lagging echo", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		a := message("A", 0, "u1", "u2", "hi")
		client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{a}, nil).Once()
		cfg := chatConfig()
		cfg.ConfirmTransform = func(_ context.Context, rec entities.Record) entities.Record {
			return rec.WithPatch(map[string]any{"author": map[string]any{"username": "ana"}})
		}
		s := newTestStore(t, client, cfg)
		_, err := s.Initialize(context.Background())
		require.NoError(t, err)

		client.On("Insert", mock.Anything, "messages", mock.Anything).
			Return(message("42", 5, "u1", "u2", "Hello"), nil).Once()

		got, err := s.Submit(context.Background(), Mutation{Kind: MutationInsert, Record: message("", 5, "u1", "u2", "Hello")})
		require.NoError(t, err)
		assert.NotNil(t, got.Field("author"))

		echo := message("42", 5, "u1", "u2", "Hello").WithPatch(map[string]any{"author": map[string]any{"username": "ana"}})
		assert.False(t, s.IngestChangeEvent(events.NewInserted("messages", echo)))

		entry, ok := s.Snapshot().Get("42")
		require.True(t, ok)
		assert.NotNil(t, entry.Record.Field("author"))
		assert.Equal(t, []string{"A", "42"}, s.Snapshot().IDs())
	})

	t.Run("insert failure rolls back", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		before := s.Snapshot()
		client.On("Insert", mock.Anything, "messages", mock.Anything).
			Return(entities.Record{}, stderrors.New("permission denied")).Once()

		_, err := s.Submit(context.Background(), Mutation{Kind: MutationInsert, Record: message("", 5, "u1", "u2", "x")})

		assert.True(t, errors.IsMutation(err))
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("update sends patch by id", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		patch := map[string]any{"body": "edited"}
		client.On("Update", mock.Anything, "messages", []ports.Filter{ports.Eq("id", "B")}, patch).Return(nil).Once()

		got, err := s.Submit(context.Background(), Mutation{Kind: MutationUpdate, ID: "B", Patch: patch})

		require.NoError(t, err)
		assert.Equal(t, "edited", got.String("body"))
		entry, _ := s.Snapshot().Get("B")
		assert.False(t, entry.Pending)
	})

	t.Run("delete failure restores the record", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		client.On("Delete", mock.Anything, "messages", mock.Anything).Return(stderrors.New("rls")).Once()

		err := func() error {
			_, err := s.Submit(context.Background(), Mutation{Kind: MutationDelete, ID: "A"})
			return err
		}()

		assert.True(t, errors.IsMutation(err))
		assert.Equal(t, []string{"A", "B"}, s.Snapshot().IDs())
	})

	t.Run("invalid mutation", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		_, err := s.Submit(context.Background(), Mutation{Kind: MutationDelete})
		assert.True(t, errors.IsValidation(err))
	})
}

func TestCoarseRefresh(t *testing.T) {
	client := &mocks.RemoteClient{}
	client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{item("a", 0)}, nil).Once()
	client.On("Fetch", mock.Anything, mock.Anything).Return([]entities.Record{item("a", 0), item("b", 1)}, nil)
	cfg := feedConfig()
	cfg.Mode = CoarseRefresh
	s := newTestStore(t, client, cfg)
	_, err := s.Initialize(context.Background())
	require.NoError(t, err)

	// payload is ignored in coarse mode
	changed := s.IngestChangeEvent(events.NewUpdated("items", entities.Record{ID: "b"}))

	assert.False(t, changed)
	assert.Eventually(t, func() bool {
		return len(s.Snapshot().IDs()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b", "a"}, s.Snapshot().IDs())
}

func TestAttachAndClose(t *testing.T) {
	t.Run("feed events reach the list", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := readyChat(t, client)
		feed := &mocks.ChangeFeed{}
		sub := mocks.NewSubscription("sub-1")
		filter := ports.EventFilter{Event: events.AnyChange}
		feed.On("Subscribe", mock.Anything, "messages", filter, mock.Anything).Return(sub, nil).Once()
		feed.On("Unsubscribe", sub).Return(nil).Once()

		require.NoError(t, s.Attach(context.Background(), feed, filter))
		feed.Push(events.NewInserted("messages", message("C", 2, "u2", "u1", "pushed")))

		assert.Equal(t, []string{"A", "B", "C"}, s.Snapshot().IDs())
		assert.True(t, s.Attached())

		require.NoError(t, s.Close())
		feed.AssertCalled(t, "Unsubscribe", sub)
		feed.Push(events.NewInserted("messages", message("D", 3, "u2", "u1", "late")))
		assert.False(t, s.IngestChangeEvent(events.NewInserted("messages", message("D", 3, "u2", "u1", "late"))))
	})

	t.Run("subscribe failure is a subscription error", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		feed := &mocks.ChangeFeed{}
		feed.On("Subscribe", mock.Anything, "messages", mock.Anything, mock.Anything).
			Return(nil, stderrors.New("socket closed")).Once()

		err := s.Attach(context.Background(), feed, ports.EventFilter{})

		assert.True(t, errors.IsSubscription(err))
		assert.False(t, s.Attached())
	})

	t.Run("dropped subscription is reported", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		feed := &mocks.ChangeFeed{}
		sub := mocks.NewSubscription("sub-2")
		feed.On("Subscribe", mock.Anything, "messages", mock.Anything, mock.Anything).Return(sub, nil).Once()
		feed.On("Unsubscribe", sub).Return(nil)
		require.NoError(t, s.Attach(context.Background(), feed, ports.EventFilter{}))
		assert.NoError(t, s.SubscriptionErr())

		sub.Drop(errors.NewSubscriptionError("messages", stderrors.New("phx_error")))

		assert.True(t, errors.IsSubscription(s.SubscriptionErr()))
	})

	t.Run("fetch completing after close is ignored", func(t *testing.T) {
		client := &mocks.RemoteClient{}
		s := newTestStore(t, client, feedConfig())
		client.On("Fetch", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { _ = s.Close() }).
			Return([]entities.Record{item("a", 0)}, nil).Once()

		state, err := s.Initialize(context.Background())

		assert.NoError(t, err)
		assert.Equal(t, 0, state.Len())
		_, err = s.Initialize(context.Background())
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("confirm after close is a no-op", func(t *testing.T) {
		s := readyChat(t, &mocks.RemoteClient{})
		opt := s.ApplyOptimistic(message("", 5, "u1", "u2", "bye"))
		require.NoError(t, s.Close())

		saved := message("42", 5, "u1", "u2", "bye")
		assert.False(t, s.ConfirmOptimistic(opt.Handle, &saved))
	})
}

func TestOnChange(t *testing.T) {
	s := readyChat(t, &mocks.RemoteClient{})
	var (
		mu    sync.Mutex
		sizes []int
	)
	stop := s.OnChange(func(state ListState) {
		mu.Lock()
		sizes = append(sizes, state.Len())
		mu.Unlock()
	})

	s.IngestChangeEvent(events.NewInserted("messages", message("C", 2, "u1", "u2", "one")))
	s.IngestChangeEvent(events.NewInserted("messages", message("C", 2, "u1", "u2", "one")))
	s.IngestChangeEvent(events.NewDeleted("messages", "A"))
	stop()
	s.IngestChangeEvent(events.NewDeleted("messages", "B"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{3, 2}, sizes)
}
