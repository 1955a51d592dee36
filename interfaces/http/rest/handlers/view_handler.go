package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/justineapere-tech/KabSulit-main-sub000/application/reconcile"
	"github.com/justineapere-tech/KabSulit-main-sub000/application/services"
	"github.com/justineapere-tech/KabSulit-main-sub000/domain/core/entities"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/utils"
)

// ViewHandler exposes the mounted screens over HTTP
type ViewHandler struct {
	service *services.MarketplaceService
	errors  *errors.ErrorHandler
	logger  *zap.Logger
}

// NewViewHandler creates a new view handler
func NewViewHandler(service *services.MarketplaceService, errHandler *errors.ErrorHandler, logger *zap.Logger) *ViewHandler {
	return &ViewHandler{
		service: service,
		errors:  errHandler,
		logger:  logger,
	}
}

// ViewSummary is one row of the view listing
type ViewSummary struct {
	Name       string            `json:"name"`
	Kind       services.ViewKind `json:"kind"`
	Phase      reconcile.Phase   `json:"phase"`
	Refreshing bool              `json:"refreshing"`
	Error      string            `json:"error,omitempty"`
	Count      int               `json:"count"`
	Subscribed bool              `json:"subscribed"`
}

// ViewDetail is a summary plus the displayed entries
type ViewDetail struct {
	ViewSummary
	Entries []reconcile.Entry `json:"entries"`
}

// OpenViewRequest mounts a new screen
type OpenViewRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=feed chat comments reactions collections"`
	Peer   string `json:"peer" validate:"required_if=Kind chat"`
	ItemID string `json:"item_id" validate:"required_if=Kind comments,required_if=Kind reactions"`
}

// SubmitRequest is a mutation submitted through a view
type SubmitRequest struct {
	Kind   string         `json:"kind" validate:"required,oneof=insert update delete"`
	ID     string         `json:"id" validate:"required_unless=Kind insert"`
	Fields map[string]any `json:"fields" validate:"required_unless=Kind delete"`
}

func summarize(screen *services.Screen) ViewSummary {
	status := screen.Status()
	store := screen.Store()
	return ViewSummary{
		Name:       screen.Name(),
		Kind:       screen.Kind(),
		Phase:      status.Phase,
		Refreshing: status.Refreshing,
		Error:      status.Message(),
		Count:      screen.Snapshot().Len(),
		Subscribed: store.Attached() && store.SubscriptionErr() == nil,
	}
}

func detail(screen *services.Screen) ViewDetail {
	return ViewDetail{ViewSummary: summarize(screen), Entries: screen.Snapshot().Entries}
}

// ListViews handles GET /views
func (h *ViewHandler) ListViews(w http.ResponseWriter, r *http.Request) {
	screens := h.service.Registry().List()
	out := make([]ViewSummary, 0, len(screens))
	for _, s := range screens {
		out = append(out, summarize(s))
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"views": out,
		"total": len(out),
	})
}

// GetView handles GET /views/{name}
func (h *ViewHandler) GetView(w http.ResponseWriter, r *http.Request) {
	screen, err := h.service.Registry().Get(chi.URLParam(r, "name"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail(screen))
}

// OpenView handles POST /views
func (h *ViewHandler) OpenView(w http.ResponseWriter, r *http.Request) {
	var req OpenViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}

	ctx := r.Context()
	var (
		screen *services.Screen
		err    error
	)
	switch services.ViewKind(req.Kind) {
	case services.KindFeed:
		screen, err = h.service.OpenFeed(ctx)
	case services.KindChat:
		screen, err = h.service.OpenChat(ctx, req.Peer)
	case services.KindComments:
		screen, err = h.service.OpenComments(ctx, req.ItemID)
	case services.KindReactions:
		screen, err = h.service.OpenReactions(ctx, req.ItemID)
	case services.KindCollections:
		screen, err = h.service.OpenCollections(ctx)
	}
	if screen == nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err != nil {
		// mounted but degraded; the detail carries the error phase
		h.logger.Warn("view mounted with errors", zap.String("view", screen.Name()), zap.Error(err))
	}
	h.respondJSON(w, http.StatusCreated, detail(screen))
}

// CloseView handles DELETE /views/{name}
func (h *ViewHandler) CloseView(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Close(chi.URLParam(r, "name")); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /views/{name}/refresh
func (h *ViewHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	screen, err := h.service.Registry().Get(chi.URLParam(r, "name"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if _, err := screen.Refresh(r.Context()); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail(screen))
}

// Focus handles POST /views/{name}/focus
func (h *ViewHandler) Focus(w http.ResponseWriter, r *http.Request) {
	screen, err := h.service.Registry().Get(chi.URLParam(r, "name"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := screen.Focus(r.Context()); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, detail(screen))
}

// Blur handles POST /views/{name}/blur
func (h *ViewHandler) Blur(w http.ResponseWriter, r *http.Request) {
	screen, err := h.service.Registry().Get(chi.URLParam(r, "name"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if err := screen.Blur(); err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summarize(screen))
}

// Submit handles POST /views/{name}/submit
func (h *ViewHandler) Submit(w http.ResponseWriter, r *http.Request) {
	screen, err := h.service.Registry().Get(chi.URLParam(r, "name"))
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError("invalid request body: "+err.Error()))
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		h.errors.Handle(w, r, errors.NewValidationError(err.Error()))
		return
	}

	ctx := r.Context()
	var saved entities.Record
	switch reconcile.MutationKind(req.Kind) {
	case reconcile.MutationInsert:
		saved, err = screen.Send(ctx, req.Fields)
	case reconcile.MutationUpdate:
		saved, err = screen.Edit(ctx, req.ID, req.Fields)
	case reconcile.MutationDelete:
		err = screen.Remove(ctx, req.ID)
	}
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}

	if reconcile.MutationKind(req.Kind) == reconcile.MutationDelete {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"record": saved})
}

func (h *ViewHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
