package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tmengine/internal/contextutil"
	"tmengine/internal/tm"
	"tmengine/internal/tmstore"
)

// StoreService is the part of the TM manager the store handlers use.
type StoreService interface {
	TmStoreInfos() []tmstore.Info
	GetTmStoreInfo(id string) (tmstore.Info, error)
	SyncDown(ctx context.Context, storeID string, opts tm.SyncDownOptions) ([]tm.SyncDownResult, error)
	SyncUp(ctx context.Context, storeID string, opts tm.SyncUpOptions) ([]tm.SyncUpResult, error)
	Bootstrap(ctx context.Context, storeID string, opts tm.BootstrapOptions) ([]tm.BootstrapResult, error)
}

// StoreHandler lists TM stores and runs synchronization against them.
type StoreHandler struct {
	manager StoreService
}

// NewStoreHandler creates a new StoreHandler.
func NewStoreHandler(manager StoreService) *StoreHandler {
	return &StoreHandler{manager: manager}
}

// SyncResponse carries the per-pair results of a sync operation. Error is set
// when some pairs failed; Results still lists the pairs that completed.
//
// swagger:model SyncResponse
type SyncResponse[T any] struct {
	Results []T    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// List returns the configured stores in configuration order.
//
// swagger:route GET /api/stores listStores
func (h *StoreHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, nonNil(h.manager.TmStoreInfos()))
}

// Get returns one store's description.
//
// swagger:route GET /api/stores/{id} getStore
func (h *StoreHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := h.manager.GetTmStoreInfo(urlParam(r, "id"))
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to get store")
		return
	}
	writeJSON(ctx, w, http.StatusOK, info)
}

// SyncDown pulls changed jobs from the store.
//
// swagger:route POST /api/stores/{id}/syncdown syncDown
func (h *StoreHandler) SyncDown(w http.ResponseWriter, r *http.Request) {
	var opts tm.SyncDownOptions
	runSync(w, r, "sync down", &opts, func(ctx context.Context, id string) ([]tm.SyncDownResult, error) {
		return h.manager.SyncDown(ctx, id, opts)
	})
}

// SyncUp pushes local jobs to the store.
//
// swagger:route POST /api/stores/{id}/syncup syncUp
func (h *StoreHandler) SyncUp(w http.ResponseWriter, r *http.Request) {
	var opts tm.SyncUpOptions
	runSync(w, r, "sync up", &opts, func(ctx context.Context, id string) ([]tm.SyncUpResult, error) {
		return h.manager.SyncUp(ctx, id, opts)
	})
}

// Bootstrap replaces the local pairs with the store's content.
//
// swagger:route POST /api/stores/{id}/bootstrap bootstrap
func (h *StoreHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var opts tm.BootstrapOptions
	runSync(w, r, "bootstrap", &opts, func(ctx context.Context, id string) ([]tm.BootstrapResult, error) {
		return h.manager.Bootstrap(ctx, id, opts)
	})
}

// runSync decodes the optional JSON options body into opts, honours
// ?dryrun=true and writes the results. Failures of individual pairs are
// reported as 502 alongside the pairs that completed.
func runSync[T any, O any](w http.ResponseWriter, r *http.Request, op string, opts *O, run func(ctx context.Context, id string) ([]T, error)) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)
	id := urlParam(r, "id")

	if err := json.NewDecoder(r.Body).Decode(opts); err != nil && !errors.Is(err, io.EOF) {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if boolQuery(r, "dryrun") {
		setDryRun(opts)
	}

	results, err := run(ctx, id)
	if err != nil && len(results) == 0 && !isStoreFailure(err) {
		handleManagerError(w, ctx, err, "Failed to "+op)
		return
	}

	resp := SyncResponse[T]{Results: nonNil(results)}
	status := http.StatusOK
	if err != nil {
		logger.ErrorContext(ctx, op+" failed", "store", id, "error", err)
		resp.Error = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(ctx, w, status, resp)
}

// isStoreFailure reports whether err came from talking to the store rather
// than from checks made before any I/O.
func isStoreFailure(err error) bool {
	return !errors.Is(err, tm.ErrInvalidInput) &&
		!errors.Is(err, tm.ErrUnknownStore) &&
		!errors.Is(err, tm.ErrAccessDenied)
}

func setDryRun(opts any) {
	switch o := opts.(type) {
	case *tm.SyncDownOptions:
		o.DryRun = true
	case *tm.SyncUpOptions:
		o.DryRun = true
	case *tm.BootstrapOptions:
		o.DryRun = true
	}
}
