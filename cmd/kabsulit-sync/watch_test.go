package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/queries"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/persistence/memory"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

func TestParseView(t *testing.T) {
	tests := []struct {
		spec    string
		kind    services.ViewKind
		arg     string
		invalid bool
	}{
		{spec: "feed", kind: services.KindFeed},
		{spec: "collections", kind: services.KindCollections},
		{spec: "chat:u2", kind: services.KindChat, arg: "u2"},
		{spec: "comments:10", kind: services.KindComments, arg: "10"},
		{spec: "reactions:10", kind: services.KindReactions, arg: "10"},
		{spec: "chat", invalid: true},
		{spec: "auctions", invalid: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			kind, arg, err := parseView(tt.spec)
			if tt.invalid {
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func TestSnapshotPrinter(t *testing.T) {
	backend := memory.NewDemoBackend(time.Now())
	svc := services.NewMarketplaceService(backend, backend, memory.NewIdentity(memory.DemoUser),
		queries.NewLookupCache(time.Minute), services.ViewOptions{}, services.NewRegistry(), zap.NewNop())
	defer svc.CloseAll()

	screen, err := openView(context.Background(), svc, services.KindChat, memory.DemoSeller)
	require.NoError(t, err)

	var buf bytes.Buffer
	snapshotPrinter(&buf, screen, false)()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "chat:demo-seller ready, 2 entries")
	assert.Contains(t, lines[1], "Is the lamp still available?")

	buf.Reset()
	snapshotPrinter(&buf, screen, true)()
	assert.Contains(t, buf.String(), `"view":"chat:demo-seller"`)
}
