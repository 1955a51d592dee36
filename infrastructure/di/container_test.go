package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/ports"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/config"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/persistence/memory"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

func TestInitializeContainer_Offline(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"

	c, cleanup, err := InitializeContainer(context.Background(), cfg, Offline{Enabled: true})
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, c.Backend.Memory)
	assert.Equal(t, zapcore.WarnLevel, c.Level.Level())
	assert.NotNil(t, c.Metrics)

	user, err := c.Identity.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, memory.DemoUser, user.ID)

	screen, err := c.Service.OpenChat(context.Background(), memory.DemoSeller)
	require.NoError(t, err)
	assert.Equal(t, 2, screen.Snapshot().Len())
	assert.Equal(t, 1, c.Backend.Memory.Subscribers("messages"))

	rec := httptest.NewRecorder()
	c.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/views/"+screen.Name(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cleanup()
	assert.Equal(t, 0, c.Backend.Memory.Subscribers("messages"))
}

func TestInitializeContainer_RequiresSupabaseOnline(t *testing.T) {
	cfg := config.Default()

	_, _, err := InitializeContainer(context.Background(), cfg, Offline{})

	assert.Error(t, err)
}

func TestProvideRemoteClient_BreakerOpens(t *testing.T) {
	cfg := config.Default()
	cfg.CircuitBreaker.MinRequests = 1
	cfg.CircuitBreaker.FailureThreshold = 0.5
	mem := memory.NewBackend()
	client := ProvideRemoteClient(cfg, &Backend{Client: mem, Feed: mem}, nil, nil, nil)
	q := ports.Query{Table: "items", Order: ports.Order{Column: "created_at"}}

	mem.FailNext("fetch", assert.AnError)
	_, err := client.Fetch(context.Background(), q)
	require.ErrorIs(t, err, assert.AnError)

	_, err = client.Fetch(context.Background(), q)
	assert.True(t, errors.IsUnavailable(err))
}
