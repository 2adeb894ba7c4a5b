// Package api adapts internal/router's event-dispatch table onto HTTP,
// per spec.md §6's "representative routes" and the generic dispatch
// envelope both sharing one router.Router. Grounded on the teacher's
// chi-based router.go: middleware chain, health checks, and swagger
// mounting are kept verbatim; the route table itself is rebuilt against
// the InfraWeave HTTP surface instead of auth/projects/deployments CRUD.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/infraweave-io/infraweave/internal/api/handlers"
	mw "github.com/infraweave-io/infraweave/internal/api/middleware"
	"github.com/infraweave-io/infraweave/internal/gitops"
	"github.com/infraweave-io/infraweave/internal/router"
)

// Dependencies wires the HTTP adapter to the shared router and the
// GitOps webhook handler.
type Dependencies struct {
	Router        *router.Router
	Authenticator *router.Authenticator
	GitopsHandler *gitops.Handler
	SwaggerHost   string
}

// NewRouter builds the chi mux exposing spec.md §6's HTTP surface.
func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	swaggerHost := dep.SwaggerHost
	if swaggerHost == "" {
		swaggerHost = "localhost:8080"
	}
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("http://"+swaggerHost+"/docs/doc.json"),
	))

	if dep.GitopsHandler != nil {
		r.Post("/webhooks/gitops", dep.GitopsHandler.Webhook)
	}

	rt := dep.Router
	r.Route("/api/v1", func(api chi.Router) {
		if dep.Authenticator != nil {
			api.Post("/auth/token", issueToken(dep.Authenticator))
		}
		api.Post("/dispatch", dispatchEnvelope(rt))

		api.Get("/modules", dispatch(rt, "list_modules", nil))
		api.Get("/module/{track}/{name}/{version}", dispatch(rt, "get_module_version", nil))
		api.Get("/module/{track}/{name}/{version}/download", dispatch(rt, "get_module_download_url", nil))

		api.Get("/stacks", dispatch(rt, "list_stacks", nil))
		api.Get("/stack/{track}/{name}/{version}", dispatch(rt, "get_stack_version", nil))

		api.Get("/providers", dispatch(rt, "list_providers", nil))
		api.Get("/provider/{track}/{name}/{version}", dispatch(rt, "get_provider_version", nil))

		api.Post("/claim/run", dispatch(rt, "run_claim", nil))

		api.Get("/deployment/{project}/{region}/{deployment_id}", dispatch(rt, "get_deployment", nil))
		api.Get("/deployments/{project}/{region}", dispatch(rt, "list_deployments", nil))

		api.Get("/logs/{project}/{region}/{job_id}", dispatch(rt, "read_logs", nil))
		api.Get("/job_status/{project}/{region}/{job_id}", dispatch(rt, "get_job_status", nil))

		api.Get("/meta", func(w http.ResponseWriter, r *http.Request) {
			writeResponse(w, router.Response{OK: true, Data: map[string]string{"service": "infraweave"}})
		})
	})

	return r
}
