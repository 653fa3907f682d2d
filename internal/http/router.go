package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tmengine/internal/handlers"
	"tmengine/internal/tmstore"
	"tmengine/internal/tmstore/httpstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	TM     handlers.TMService
	Stores handlers.StoreService
	DB     handlers.Pinger

	// StoreProbes are health checks keyed by store id.
	StoreProbes map[string]handlers.Pinger
	// Served stores are exposed to other engines under /tmstore/{id}.
	Served []tmstore.Store
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	// Add chi middleware
	r.Use(middleware.RequestID)
	r.Use(LoggerMiddleware)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	// Add CORS middleware
	r.Use(CORS)

	tmHandler := handlers.NewTMHandler(deps.TM)
	storeHandler := handlers.NewStoreHandler(deps.Stores)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Stores.TmStoreInfos, deps.StoreProbes)

	// Register API routes
	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)
		r.Get("/pairs", tmHandler.Pairs)
		r.Post("/jobs", tmHandler.ProcessJob)
		r.Put("/channels/{channel}/{src}", tmHandler.SaveChannel)

		r.Route("/tm/{src}/{tgt}", func(r chi.Router) {
			r.Get("/stats", tmHandler.Stats)
			r.Get("/quality", tmHandler.Quality)
			r.Get("/status", tmHandler.Status)
			r.Get("/untranslated", tmHandler.Untranslated)
			r.Get("/search", tmHandler.Search)
			r.Get("/lookup", tmHandler.Lookup)
			r.Post("/maintenance/{op}", tmHandler.Maintenance)
		})

		r.Route("/stores", func(r chi.Router) {
			r.Get("/", storeHandler.List)
			r.Get("/{id}", storeHandler.Get)
			r.Post("/{id}/syncdown", storeHandler.SyncDown)
			r.Post("/{id}/syncup", storeHandler.SyncUp)
			r.Post("/{id}/bootstrap", storeHandler.Bootstrap)
		})
	})

	for _, store := range deps.Served {
		r.Mount("/tmstore/"+store.Info().ID, httpstore.NewHandler(store))
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("tm engine\n"))
	})

	return r
}
