// Package httpapi is the HTTP Front Door (C8): a single chi-routed listener
// exposing the public proxy/invoke surface, the admin CRUD surface, and the
// ambient health/metrics endpoints, per spec §4.7's route table.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nanoedge/nanoedgert/internal/auth"
	"github.com/nanoedge/nanoedgert/internal/dispatcher"
	"github.com/nanoedge/nanoedgert/internal/metrics"
	"github.com/nanoedge/nanoedgert/internal/servicemgr"
	"github.com/nanoedge/nanoedgert/internal/store"
	"github.com/nanoedge/nanoedgert/internal/system"
	"github.com/nanoedge/nanoedgert/pkg/logger"
)

// Handler bundles everything the route table's handlers close over.
type Handler struct {
	store      *store.Store
	services   *servicemgr.Manager
	dispatcher *dispatcher.Dispatcher
	auth       *auth.Manager
	log        *logger.Logger
	components []system.DescriptorProvider

	bootTime  time.Time
	staticDir string
}

// New builds the Handler and its chi-routed http.Handler, per spec §4.7's
// ordered route table (chi's exact-vs-wildcard matching already implements
// "first match wins" for this route set without any manual ordering code).
func New(st *store.Store, svcMgr *servicemgr.Manager, disp *dispatcher.Dispatcher, authMgr *auth.Manager, log *logger.Logger, components ...system.DescriptorProvider) (*Handler, http.Handler) {
	h := &Handler{
		store:      st,
		services:   svcMgr,
		dispatcher: disp,
		auth:       authMgr,
		log:        log,
		components: components,
		bootTime:   time.Now().UTC(),
		staticDir:  "static",
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", h.health)
	r.Get("/status", h.status)
	r.Handle("/metrics", metrics.Handler())

	r.Get("/openapi.json", h.openapiJSON)
	r.Get("/docs", h.docsUI)
	r.Get("/static/*", h.staticFile)

	r.Post("/jwt/create", h.jwtCreate)

	r.Get("/api/docs/{svc}", h.serviceDocsUI)
	r.Get("/api/docs/openapi/{svc}", h.serviceOpenAPI)

	r.HandleFunc("/api/v2/{svc}/*", h.forwardService)
	r.Post("/functions/v2/{fn}", h.invokeFunction)

	r.Route("/admin-api/v2", func(r chi.Router) {
		r.Use(h.requireAdmin)

		r.Route("/services", func(r chi.Router) {
			r.Get("/", h.adminListServices)
			r.Post("/", h.adminCreateService)
			r.Get("/{name}", h.adminGetService)
			r.Put("/{name}", h.adminUpdateService)
			r.Delete("/{name}", h.adminDeleteService)
		})

		r.Route("/functions", func(r chi.Router) {
			r.Get("/", h.adminListFunctions)
			r.Post("/", h.adminCreateFunction)
			r.Get("/{name}", h.adminGetFunction)
			r.Put("/{name}", h.adminUpdateFunction)
			r.Delete("/{name}", h.adminDeleteFunction)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.adminListTasks)
			r.Post("/", h.adminCreateTask)
			r.Get("/{id}", h.adminGetTask)
			r.Delete("/{id}", h.adminDeleteTask)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", h.adminListConfig)
			r.Get("/{key}", h.adminGetConfig)
			r.Put("/{key}", h.adminSetConfig)
		})

		r.Post("/host-frontend", h.adminHostFrontend)
	})

	return h, r
}
