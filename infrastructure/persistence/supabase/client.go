// Package supabase adapts the Supabase PostgREST and Auth APIs to the application ports.
package supabase

import (
	"context"
	"fmt"
	"strings"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

const service = "postgrest"

// Options configures the Supabase client.
type Options struct {
	URL     string
	AnonKey string
	// AccessToken is the signed-in user's JWT; row level security evaluates against it
	AccessToken string
	Schema      string
}

// NewSupabaseClient builds a supabase-go client whose REST calls carry the user session.
func NewSupabaseClient(opts Options) (*supa.Client, error) {
	schema := opts.Schema
	if schema == "" {
		schema = "public"
	}
	clientOpts := &supa.ClientOptions{Schema: schema}
	if opts.AccessToken != "" {
		clientOpts.Headers = map[string]string{"Authorization": "Bearer " + opts.AccessToken}
	}
	client, err := supa.NewClient(strings.TrimRight(opts.URL, "/"), opts.AnonKey, clientOpts)
	if err != nil {
		return nil, errors.NewExternalError("supabase", err)
	}
	return client, nil
}

// RemoteClient implements ports.RemoteCollectionClient on PostgREST.
type RemoteClient struct {
	client *supa.Client
	logger *zap.Logger
}

// NewRemoteClient wraps a supabase-go client.
func NewRemoteClient(client *supa.Client, logger *zap.Logger) *RemoteClient {
	return &RemoteClient{client: client, logger: logger}
}

// Fetch runs a select with the query's filters, or= disjunction, order and limit.
// postgrest-go does not take a context; ctx is checked before the call.
func (c *RemoteClient) Fetch(ctx context.Context, q ports.Query) ([]entities.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	fb := c.client.From(q.Table).Select(q.SelectColumns(), "", false)
	fb, err := applyFilters(fb, q.Filters)
	if err != nil {
		return nil, err
	}
	if anyOf := q.RenderAnyOf(); anyOf != "" {
		fb = fb.Or(anyOf, "")
	}
	fb = fb.Order(q.Order.Column, &postgrest.OrderOpts{Ascending: q.Order.Ascending})
	if q.Limit > 0 {
		fb = fb.Limit(q.Limit, "")
	}

	data, _, err := fb.Execute()
	if err != nil {
		return nil, errors.NewExternalError(service, err)
	}
	recs, err := entities.DecodeRows(data)
	if err != nil {
		return nil, errors.NewExternalError(service, fmt.Errorf("decode %s rows: %w", q.Table, err))
	}
	return recs, nil
}

// Insert writes the row and returns the representation the server stored, with its
// assigned id and created_at.
func (c *RemoteClient) Insert(ctx context.Context, table string, rec entities.Record) (entities.Record, error) {
	if err := ctx.Err(); err != nil {
		return entities.Record{}, err
	}

	data, _, err := c.client.From(table).
		Insert(rec.Row(), false, "", "representation", "").
		Execute()
	if err != nil {
		return entities.Record{}, errors.NewExternalError(service, err)
	}
	recs, err := entities.DecodeRows(data)
	if err != nil {
		return entities.Record{}, errors.NewExternalError(service, fmt.Errorf("decode inserted %s row: %w", table, err))
	}
	if len(recs) == 0 {
		return entities.Record{}, errors.NewExternalError(service, fmt.Errorf("insert into %s returned no row", table))
	}
	return recs[0], nil
}

// Update patches every row matching filters. An unfiltered update is refused. Row level
// security filters silently, so an update that touched no row is a NotFoundError.
func (c *RemoteClient) Update(ctx context.Context, table string, filters []ports.Filter, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(filters) == 0 {
		return errors.NewValidationError(fmt.Sprintf("update on %s needs at least one filter", table))
	}

	fb, err := applyFilters(c.client.From(table).Update(patch, "representation", ""), filters)
	if err != nil {
		return err
	}
	data, _, err := fb.Execute()
	if err != nil {
		return errors.NewExternalError(service, err)
	}
	recs, err := entities.DecodeRows(data)
	if err != nil {
		return errors.NewExternalError(service, fmt.Errorf("decode updated %s rows: %w", table, err))
	}
	if len(recs) == 0 {
		c.logger.Warn("update matched no rows", zap.String("table", table))
		return errors.NewNotFoundError(table + " row")
	}
	return nil
}

// Delete removes every row matching filters. An unfiltered delete is refused.
func (c *RemoteClient) Delete(ctx context.Context, table string, filters []ports.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(filters) == 0 {
		return errors.NewValidationError(fmt.Sprintf("delete on %s needs at least one filter", table))
	}

	fb, err := applyFilters(c.client.From(table).Delete("minimal", ""), filters)
	if err != nil {
		return err
	}
	if _, _, err := fb.Execute(); err != nil {
		return errors.NewExternalError(service, err)
	}
	return nil
}

func applyFilters(fb *postgrest.FilterBuilder, filters []ports.Filter) (*postgrest.FilterBuilder, error) {
	for _, f := range filters {
		switch f.Op {
		case ports.OpEq:
			fb = fb.Eq(f.Column, f.Value)
		case ports.OpNeq:
			fb = fb.Neq(f.Column, f.Value)
		case ports.OpGt:
			fb = fb.Gt(f.Column, f.Value)
		case ports.OpGte:
			fb = fb.Gte(f.Column, f.Value)
		case ports.OpLt:
			fb = fb.Lt(f.Column, f.Value)
		case ports.OpLte:
			fb = fb.Lte(f.Column, f.Value)
		case ports.OpIn:
			fb = fb.In(f.Column, f.Values)
		case ports.OpIs:
			fb = fb.Is(f.Column, f.Value)
		default:
			return nil, errors.NewValidationError(fmt.Sprintf("unsupported filter operator %q on %s", f.Op, f.Column))
		}
	}
	return fb, nil
}
