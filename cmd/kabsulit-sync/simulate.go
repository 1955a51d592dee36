package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/infrastructure/persistence/memory"
)

// simulate plays the other user of the offline backend: it posts a chat message to the
// signed-in user every interval until ctx is done.
func simulate(ctx context.Context, a *app, from string, interval time.Duration) {
	c := a.container
	if c.Backend.Memory == nil {
		c.Logger.Warn("--simulate needs --offline, ignoring")
		return
	}
	user, err := c.Identity.CurrentUser(ctx)
	if err != nil || user == nil {
		c.Logger.Warn("--simulate needs a signed-in user", zap.Error(err))
		return
	}
	if from == "" {
		from = memory.DemoSeller
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		rec := entities.NewRecord("", time.Time{}, map[string]any{
			"sender_id":   from,
			"receiver_id": user.ID,
			"content":     fmt.Sprintf("simulated message %d", n),
		})
		if _, err := c.Backend.Memory.Insert(ctx, services.TableMessages, rec); err != nil {
			c.Logger.Warn("simulated insert failed", zap.Error(err))
		}
	}
}
