package httpstore

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"tmengine/internal/contextutil"
	"tmengine/internal/model"
	"tmengine/internal/tmstore"
)

// wireBlock is one line of a block upload stream.
type wireBlock struct {
	BlockID string            `json:"blockId"`
	Jobs    []*model.BlockJob `json:"jobs"`
}

// WriteResponse reports how many blocks an upload wrote.
type WriteResponse struct {
	Blocks int `json:"blocks"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler serves a TM store over HTTP.
type Handler struct {
	store tmstore.Store
}

// NewHandler exposes store with the routes the Client consumes:
//
//	GET /info
//	GET /pairs
//	GET /{src}/{tgt}/toc
//	GET /{src}/{tgt}/blocks/{id}
//	PUT /{src}/{tgt}/blocks   (newline-delimited wireBlock stream, one write session)
func NewHandler(store tmstore.Store) http.Handler {
	h := &Handler{store: store}
	r := chi.NewRouter()
	r.Get("/info", h.info)
	r.Get("/pairs", h.pairs)
	r.Route("/{src}/{tgt}", func(r chi.Router) {
		r.Get("/toc", h.toc)
		r.Get("/blocks/{id}", h.block)
		r.Put("/blocks", h.write)
	})
	return r
}

func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.store.Info())
}

func (h *Handler) pairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.store.AvailableLangPairs(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if pairs == nil {
		pairs = []model.LangPair{}
	}
	writeJSON(w, r, http.StatusOK, pairs)
}

func (h *Handler) toc(w http.ResponseWriter, r *http.Request) {
	src, tgt := pairParams(r)
	toc, err := h.store.TOC(r.Context(), src, tgt)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toc)
}

func (h *Handler) block(w http.ResponseWriter, r *http.Request) {
	if !h.store.Info().Access.CanRead() {
		writeError(w, r, http.StatusForbidden, errors.New("store is write-only"))
		return
	}
	src, tgt := pairParams(r)
	id := param(r, "id")
	for block, err := range h.store.Blocks(r.Context(), src, tgt, []string{id}) {
		if errors.Is(err, tmstore.ErrBlockNotFound) {
			writeError(w, r, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, r, http.StatusOK, block)
		return
	}
	writeError(w, r, http.StatusNotFound, tmstore.ErrBlockNotFound)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.store.Info().Access.CanWrite() {
		writeError(w, r, http.StatusForbidden, errors.New("store is read-only"))
		return
	}
	src, tgt := pairParams(r)

	var written int
	dec := json.NewDecoder(r.Body)
	err := h.store.Writer(ctx, src, tgt, func(write tmstore.BlockWriter) error {
		for {
			var b wireBlock
			err := dec.Decode(&b)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			jobs := make([]*model.Job, 0, len(b.Jobs))
			for _, bj := range b.Jobs {
				jobs = append(jobs, bj.Job())
			}
			if err := write(ctx, b.BlockID, tmstore.SliceJobs(jobs)); err != nil {
				return err
			}
			written++
		}
	})
	if err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "block upload failed",
			"source_lang", src, "target_lang", tgt, "written", written, "error", err)
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, r, http.StatusOK, WriteResponse{Blocks: written})
}

func pairParams(r *http.Request) (string, string) {
	return param(r, "src"), param(r, "tgt")
}

func param(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctx := r.Context()
		contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, r, status, ErrorResponse{Error: err.Error()})
}
