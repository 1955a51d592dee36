// Package queries holds read-side helpers shared by views: fetch-then-join enrichment and the
// lookup cache behind it.
package queries

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/events"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

// Join attaches rows of a lookup table to primary rows, e.g. the seller profile of an item.
type Join struct {
	// ForeignKey is the column of the primary row holding the lookup key (seller_id)
	ForeignKey string
	// Table is the lookup table (profiles)
	Table string
	// KeyColumn is the lookup table column matched against ForeignKey, "id" when empty
	KeyColumn string
	// As is the field the joined row is stored under (seller)
	As      string
	Columns string
}

func (j Join) keyColumn() string {
	if j.KeyColumn == "" {
		return entities.ColumnID
	}
	return j.KeyColumn
}

// JoinRecords attaches foreign rows to primary rows in O(n+m): the foreign list is indexed by
// keyColumn once, then each primary row looks up its foreignKey. Rows without a match get a
// nil value under as. The primary slice is not modified.
func JoinRecords(primary, foreign []entities.Record, foreignKey, keyColumn, as string) []entities.Record {
	index := make(map[string]entities.Record, len(foreign))
	for _, f := range foreign {
		k := f.String(keyColumn)
		if _, dup := index[k]; !dup {
			index[k] = f
		}
	}

	out := make([]entities.Record, len(primary))
	for i, p := range primary {
		if f, ok := index[p.String(foreignKey)]; ok {
			out[i] = p.With(as, f.Row())
		} else {
			out[i] = p.With(as, nil)
		}
	}
	return out
}

// Joiner runs fetch-then-join loads against a remote client.
type Joiner struct {
	client ports.RemoteCollectionClient
	cache  *LookupCache
	joins  []Join
	logger *zap.Logger
}

// NewJoiner creates a joiner. cache may be nil.
func NewJoiner(client ports.RemoteCollectionClient, cache *LookupCache, logger *zap.Logger, joins ...Join) *Joiner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Joiner{client: client, cache: cache, joins: joins, logger: logger}
}

// Load fetches the primary rows and then every join's lookup rows with a single "in" query
// per join. Its signature matches reconcile.LoadFunc.
func (j *Joiner) Load(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	primary, err := j.client.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, join := range j.joins {
		foreign, err := j.lookup(ctx, join, distinctKeys(primary, join.ForeignKey))
		if err != nil {
			return nil, errors.NewFetchError(join.Table, err).
				WithDetails(map[string]interface{}{"join": join.As})
		}
		primary = JoinRecords(primary, foreign, join.ForeignKey, join.keyColumn(), join.As)
	}
	return primary, nil
}

// Enrich joins a single record, typically the payload of a change event.
func (j *Joiner) Enrich(ctx context.Context, rec entities.Record) (entities.Record, error) {
	out, err := j.enrichAll(ctx, []entities.Record{rec})
	if err != nil {
		return rec, err
	}
	return out[0], nil
}

func (j *Joiner) enrichAll(ctx context.Context, recs []entities.Record) ([]entities.Record, error) {
	for _, join := range j.joins {
		foreign, err := j.lookup(ctx, join, distinctKeys(recs, join.ForeignKey))
		if err != nil {
			return nil, err
		}
		recs = JoinRecords(recs, foreign, join.ForeignKey, join.keyColumn(), join.As)
	}
	return recs, nil
}

// EventTransform returns a function that enriches Inserted and Updated events before they
// reach a store. Lookup failures are logged and the raw event passes through.
func (j *Joiner) EventTransform(ctx context.Context) func(events.ChangeEvent) events.ChangeEvent {
	return func(ev events.ChangeEvent) events.ChangeEvent {
		if ev.Kind == events.Deleted {
			return ev
		}
		rec, err := j.Enrich(ctx, ev.Record)
		if err != nil {
			j.logger.Warn("enriching change event failed", zap.Stringer("event", ev), zap.Error(err))
			return ev
		}
		ev.Record = rec
		return ev
	}
}

// ConfirmTransform enriches the row returned by a submitted insert. Lookup failures are
// logged and the raw row is kept.
func (j *Joiner) ConfirmTransform(ctx context.Context, rec entities.Record) entities.Record {
	enriched, err := j.Enrich(ctx, rec)
	if err != nil {
		j.logger.Warn("enriching confirmed row failed", zap.String("id", rec.ID), zap.Error(err))
		return rec
	}
	return enriched
}

func (j *Joiner) lookup(ctx context.Context, join Join, keys []string) ([]entities.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var (
		found   []entities.Record
		missing []string
	)
	for _, k := range keys {
		if rec, ok := j.cache.Get(join.Table, k); ok {
			found = append(found, rec)
			continue
		}
		missing = append(missing, k)
	}
	if len(missing) == 0 {
		return found, nil
	}

	fetched, err := j.client.Fetch(ctx, ports.Query{
		Table:   join.Table,
		Columns: join.Columns,
		Filters: []ports.Filter{ports.In(join.keyColumn(), missing...)},
		Order:   ports.Order{Column: join.keyColumn(), Ascending: true},
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %d keys: %w", len(missing), err)
	}
	for _, rec := range fetched {
		j.cache.Set(join.Table, rec.String(join.keyColumn()), rec)
	}
	return append(found, fetched...), nil
}

func distinctKeys(recs []entities.Record, column string) []string {
	seen := make(map[string]struct{}, len(recs))
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		k := r.String(column)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
