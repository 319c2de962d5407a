package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apicontext "pubarmour/internal/api/context"
	"pubarmour/internal/api/handlers"
	"pubarmour/internal/api/middleware"
	"pubarmour/internal/engine/gatekeeper"
)

type Dependencies struct {
	Delivery  *handlers.DeliveryHandler
	Keys      *handlers.KeyHandler
	Scripts   *handlers.ScriptHandler
	Audit     *handlers.AuditHandler
	Health    *handlers.HealthHandler
	AdminAuth *middleware.AdminAuth
	Registry  *prometheus.Registry

	// DecoyPaths overrides the default trap routes; empty keeps the defaults.
	DecoyPaths []string
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.Health.Check))
	router.Handler(http.MethodGet, "/metrics",
		promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	// Decoy routes must be registered before anything else that could shadow
	// them; hitting one bans the source permanently.
	decoys := deps.DecoyPaths
	if len(decoys) == 0 {
		decoys = gatekeeper.DefaultDecoyPaths
	}
	for _, p := range decoys {
		router.GET("/"+p+"/:x", wrap(deps.Delivery.Decoy))
	}

	// Client-facing delivery surface
	router.GET("/auth/:name", wrap(deps.Delivery.Authorize))
	router.GET("/fetch/:token", wrap(deps.Delivery.Fetch))
	router.GET("/load/:name", wrap(deps.Delivery.Load))

	// Administrative surface
	adm := deps.AdminAuth

	router.POST("/api/keys/generate", chain(deps.Keys.Generate, adm.Handle))
	router.POST("/api/keys/generate-batch", chain(deps.Keys.GenerateBatch, adm.Handle))
	router.POST("/api/keys/revoke", chain(deps.Keys.Revoke, adm.Handle))
	router.POST("/api/keys/reset-hwid", chain(deps.Keys.ResetDevice, adm.Handle))
	router.DELETE("/api/keys/delete", chain(deps.Keys.Delete, adm.Handle))
	router.GET("/api/keys/list", chain(deps.Keys.List, adm.Handle))

	router.POST("/api/upload", chain(deps.Scripts.Upload, adm.Handle))
	router.GET("/api/scripts", chain(deps.Scripts.List, adm.Handle))
	router.DELETE("/api/scripts/:name", chain(deps.Scripts.Delete, adm.Handle))
	router.POST("/api/scripts/:name/content", chain(deps.Scripts.Content, adm.Handle))
	router.POST("/api/scripts/:name/reset-execs", chain(deps.Scripts.ResetExecutions, adm.Handle))
	router.POST("/api/stats", chain(deps.Scripts.Stats, adm.Handle))
	router.GET("/api/audit", chain(deps.Audit.List, adm.Handle))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apicontext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
