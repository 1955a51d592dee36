package queries

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/tests/mocks"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func listing(id, seller string) entities.Record {
	return entities.NewRecord(id, t0, map[string]any{"title": "listing " + id, "seller_id": seller})
}

func profile(id, name string) entities.Record {
	return entities.NewRecord(id, t0, map[string]any{"full_name": name})
}

var sellerJoin = Join{ForeignKey: "seller_id", Table: "profiles", As: "seller"}

func isProfileLookup(keys ...string) interface{} {
	return mock.MatchedBy(func(q ports.Query) bool {
		if q.Table != "profiles" || len(q.Filters) != 1 {
			return false
		}
		return assert.ObjectsAreEqual(keys, q.Filters[0].Values)
	})
}

func TestJoinRecords(t *testing.T) {
	primary := []entities.Record{listing("1", "s1"), listing("2", "s2"), listing("3", "s1")}
	foreign := []entities.Record{profile("s1", "Ana"), profile("s3", "Ben")}

	out := JoinRecords(primary, foreign, "seller_id", "id", "seller")

	require.Len(t, out, 3)
	seller, ok := out[0].Field("seller").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ana", seller["full_name"])
	assert.Nil(t, out[1].Field("seller"))
	assert.True(t, out[1].HasField("seller"))
	assert.Equal(t, out[0].Field("seller"), out[2].Field("seller"))
	assert.False(t, primary[0].HasField("seller"))
}

func TestJoiner_Load(t *testing.T) {
	client := &mocks.RemoteClient{}
	q := ports.Query{Table: "items", Order: ports.Order{Column: "created_at"}}
	client.On("Fetch", mock.Anything, q).
		Return([]entities.Record{listing("1", "s1"), listing("2", "s2"), listing("3", "s1")}, nil).Once()
	client.On("Fetch", mock.Anything, isProfileLookup("s1", "s2")).
		Return([]entities.Record{profile("s1", "Ana"), profile("s2", "Ben")}, nil).Once()
	cache := NewLookupCache(time.Minute)
	j := NewJoiner(client, cache, zap.NewNop(), sellerJoin)

	recs, err := j.Load(context.Background(), q)

	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "Ben", recs[1].Field("seller").(map[string]any)["full_name"])
	assert.Equal(t, 2, cache.Len())
	client.AssertExpectations(t)
}

func TestJoiner_UsesCache(t *testing.T) {
	client := &mocks.RemoteClient{}
	cache := NewLookupCache(time.Minute)
	cache.Set("profiles", "s1", profile("s1", "Ana"))
	client.On("Fetch", mock.Anything, isProfileLookup("s2")).
		Return([]entities.Record{profile("s2", "Ben")}, nil).Once()
	j := NewJoiner(client, cache, zap.NewNop(), sellerJoin)

	a, err := j.Enrich(context.Background(), listing("1", "s1"))
	require.NoError(t, err)
	b, err := j.Enrich(context.Background(), listing("2", "s2"))
	require.NoError(t, err)

	assert.Equal(t, "Ana", a.Field("seller").(map[string]any)["full_name"])
	assert.Equal(t, "Ben", b.Field("seller").(map[string]any)["full_name"])
	client.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestJoiner_LookupFailure(t *testing.T) {
	client := &mocks.RemoteClient{}
	q := ports.Query{Table: "items", Order: ports.Order{Column: "created_at"}}
	client.On("Fetch", mock.Anything, q).Return([]entities.Record{listing("1", "s1")}, nil).Once()
	client.On("Fetch", mock.Anything, isProfileLookup("s1")).Return(nil, stderrors.New("rls")).Once()
	j := NewJoiner(client, nil, zap.NewNop(), sellerJoin)

	_, err := j.Load(context.Background(), q)

	assert.True(t, errors.IsFetch(err))
}

func TestJoiner_EventTransform(t *testing.T) {
	client := &mocks.RemoteClient{}
	client.On("Fetch", mock.Anything, isProfileLookup("s1")).Return(nil, stderrors.New("offline")).Once()
	client.On("Fetch", mock.Anything, isProfileLookup("s1")).Return([]entities.Record{profile("s1", "Ana")}, nil).Once()
	transform := NewJoiner(client, nil, zap.NewNop(), sellerJoin).EventTransform(context.Background())

	raw := transform(events.NewInserted("items", listing("1", "s1")))
	assert.False(t, raw.Record.HasField("seller"))

	joined := transform(events.NewInserted("items", listing("1", "s1")))
	assert.True(t, joined.Record.HasField("seller"))

	del := transform(events.NewDeleted("items", "1"))
	assert.False(t, del.Record.HasField("seller"))
}

func TestLookupCache(t *testing.T) {
	now := t0
	cache := NewLookupCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.Set("profiles", "s1", profile("s1", "Ana"))
	_, ok := cache.Get("profiles", "s1")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.Get("profiles", "s1")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Purge())
	assert.Equal(t, 0, cache.Len())

	cache.Set("profiles", "s2", profile("s2", "Ben"))
	cache.Invalidate("profiles", "s2")
	_, ok = cache.Get("profiles", "s2")
	assert.False(t, ok)

	var none *LookupCache
	none.Set("profiles", "s1", profile("s1", "Ana"))
	_, ok = none.Get("profiles", "s1")
	assert.False(t, ok)
}
