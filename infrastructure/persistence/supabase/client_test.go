package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Header http.Header
	Body   string
}

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seen = append(seen, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.Query(),
			Header: r.Header.Clone(),
			Body:   string(raw),
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(t *testing.T, url string) *RemoteClient {
	t.Helper()
	sb, err := NewSupabaseClient(Options{URL: url, AnonKey: "anon-key"})
	require.NoError(t, err)
	return NewRemoteClient(sb, zap.NewNop())
}

func TestRemoteClient_Fetch(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[
		{"id": 2, "created_at": "2026-01-02T10:00:00+00:00", "title": "desk", "seller_id": "s1"},
		{"id": 1, "created_at": "2026-01-01T10:00:00+00:00", "title": "lamp", "seller_id": "s1"}
	]`)
	client := newTestClient(t, srv.URL)

	recs, err := client.Fetch(context.Background(), ports.Query{
		Table:   "items",
		Filters: []ports.Filter{ports.Eq("seller_id", "s1")},
		Order:   ports.Order{Column: "created_at"},
		Limit:   20,
	})

	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "2", recs[0].ID)
	assert.Equal(t, "desk", recs[0].String("title"))

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/rest/v1/items", req.Path)
	assert.Equal(t, "anon-key", req.Header.Get("apikey"))
	assert.Equal(t, []string{"eq.s1"}, req.Query["seller_id"])
	assert.Equal(t, "20", req.Query["limit"][0])
	assert.True(t, strings.HasPrefix(req.Query["order"][0], "created_at.desc"))
}

func TestRemoteClient_FetchAnyOf(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[]`)
	client := newTestClient(t, srv.URL)

	q := ports.Query{
		Table: "messages",
		AnyOf: [][]ports.Filter{
			{ports.Eq("sender_id", "u1"), ports.Eq("receiver_id", "u2")},
			{ports.Eq("sender_id", "u2"), ports.Eq("receiver_id", "u1")},
		},
		Order: ports.Order{Column: "created_at", Ascending: true},
	}
	recs, err := client.Fetch(context.Background(), q)

	require.NoError(t, err)
	assert.Empty(t, recs)
	req := (*seen)[0]
	assert.Equal(t, "/rest/v1/messages", req.Path)
	require.NotEmpty(t, req.Query["or"])
	assert.Contains(t, req.Query["or"][0], "sender_id.eq.u1")
	assert.True(t, strings.HasPrefix(req.Query["order"][0], "created_at.asc"))
	assert.Empty(t, req.Query["limit"])
}

func TestRemoteClient_FetchRejectsInvalidQuery(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[]`)
	client := newTestClient(t, srv.URL)

	_, err := client.Fetch(context.Background(), ports.Query{Order: ports.Order{Column: "created_at"}})

	assert.True(t, errors.IsValidation(err))
	assert.Empty(t, *seen)
}

func TestRemoteClient_FetchServerError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusForbidden, `{"code":"42501","message":"permission denied for table items"}`)
	client := newTestClient(t, srv.URL)

	_, err := client.Fetch(context.Background(), ports.Query{Table: "items", Order: ports.Order{Column: "created_at"}})

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
}

func TestRemoteClient_FetchCanceled(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[]`)
	client := newTestClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, ports.Query{Table: "items", Order: ports.Order{Column: "created_at"}})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *seen)
}

func TestRemoteClient_Insert(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusCreated, `[{"id": 41, "created_at": "2026-03-01T08:30:00+00:00", "content": "hi", "sender_id": "u1"}]`)
	client := newTestClient(t, srv.URL)

	saved, err := client.Insert(context.Background(), "messages",
		entities.NewRecord("", time.Time{}, map[string]any{"content": "hi", "sender_id": "u1"}))

	require.NoError(t, err)
	assert.Equal(t, "41", saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	req := (*seen)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/rest/v1/messages", req.Path)
	assert.Contains(t, req.Header.Get("Prefer"), "return=representation")
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	assert.Equal(t, "hi", body["content"])
	assert.NotContains(t, body, "id")
}

func TestRemoteClient_InsertEmptyRepresentation(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusCreated, `[]`)
	client := newTestClient(t, srv.URL)

	_, err := client.Insert(context.Background(), "messages", entities.NewRecord("", time.Time{}, map[string]any{"content": "hi"}))

	assert.True(t, errors.IsType(err, errors.ErrorTypeExternal))
}

func TestRemoteClient_UpdateAndDelete(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[{"id": 7, "created_at": "2026-01-01T10:00:00+00:00", "status": "sold"}]`)
	client := newTestClient(t, srv.URL)

	err := client.Update(context.Background(), "items", []ports.Filter{ports.Eq("id", "7")}, map[string]any{"status": "sold"})
	require.NoError(t, err)
	err = client.Delete(context.Background(), "items", []ports.Filter{ports.In("id", "7", "8")})
	require.NoError(t, err)

	require.Len(t, *seen, 2)
	assert.Equal(t, http.MethodPatch, (*seen)[0].Method)
	assert.Equal(t, []string{"eq.7"}, (*seen)[0].Query["id"])
	assert.Contains(t, (*seen)[0].Body, `"status":"sold"`)
	assert.Contains(t, (*seen)[0].Header.Get("Prefer"), "return=representation")
	assert.Equal(t, http.MethodDelete, (*seen)[1].Method)
	assert.Equal(t, []string{"in.(7,8)"}, (*seen)[1].Query["id"])
}

func TestRemoteClient_UpdateMatchingNoRow(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusOK, `[]`)
	client := newTestClient(t, srv.URL)

	err := client.Update(context.Background(), "items", []ports.Filter{ports.Eq("id", "7")}, map[string]any{"status": "sold"})

	assert.True(t, errors.IsNotFound(err))
	assert.Len(t, *seen, 1)
}

func TestRemoteClient_UnfilteredMutationsRefused(t *testing.T) {
	srv, seen := newTestServer(t, http.StatusNoContent, ``)
	client := newTestClient(t, srv.URL)

	assert.True(t, errors.IsValidation(client.Update(context.Background(), "items", nil, map[string]any{"status": "sold"})))
	assert.True(t, errors.IsValidation(client.Delete(context.Background(), "items", nil)))
	assert.Empty(t, *seen)
}

func signToken(t *testing.T, secret string, claims sessionClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestIdentity_CurrentUser(t *testing.T) {
	token := signToken(t, "secret", sessionClaims{
		Email: "ana@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	tests := []struct {
		name   string
		config IdentityConfig
	}{
		{name: "unverified", config: IdentityConfig{}},
		{name: "verified with secret", config: IdentityConfig{JWTSecret: "secret"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewIdentity(nil, "Bearer "+token, tt.config, zap.NewNop())

			user, err := id.CurrentUser(context.Background())

			require.NoError(t, err)
			require.NotNil(t, user)
			assert.Equal(t, "user-1", user.ID)
			assert.Equal(t, "ana@example.com", user.Email)
		})
	}
}

func TestIdentity_SignedOut(t *testing.T) {
	id := NewIdentity(nil, "", IdentityConfig{}, zap.NewNop())

	user, err := id.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)

	id.SetSession(signToken(t, "secret", sessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-2"}}))
	user, err = id.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-2", user.ID)

	id.ClearSession()
	user, err = id.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestIdentity_RejectsBadTokens(t *testing.T) {
	expired := signToken(t, "secret", sessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})
	noSubject := signToken(t, "secret", sessionClaims{Email: "x@example.com"})
	wrongKey := signToken(t, "other", sessionClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})

	tests := []struct {
		name    string
		token   string
		config  IdentityConfig
		wantErr error
	}{
		{name: "expired unverified", token: expired, wantErr: ErrSessionExpired},
		{name: "expired verified", token: expired, config: IdentityConfig{JWTSecret: "secret"}, wantErr: ErrSessionExpired},
		{name: "no subject", token: noSubject, wantErr: ErrInvalidSession},
		{name: "wrong signature", token: wrongKey, config: IdentityConfig{JWTSecret: "secret"}},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := NewIdentity(nil, tt.token, tt.config, zap.NewNop())

			user, err := id.CurrentUser(context.Background())

			assert.Nil(t, user)
			assert.True(t, errors.IsValidation(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
