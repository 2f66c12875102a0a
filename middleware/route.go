package middleware

import (
	"github.com/gin-gonic/gin"
)

// Route is one row of a routing table. Guards run in order before Handler;
// the first guard that aborts ends the request.
type Route struct {
	Method  string
	Path    string
	Handler gin.HandlerFunc
	Guards  []gin.HandlerFunc
}

// Mount registers every route on r.
func Mount(r gin.IRoutes, routes ...Route) {
	for _, rt := range routes {
		chain := make([]gin.HandlerFunc, 0, len(rt.Guards)+1)
		chain = append(chain, rt.Guards...)
		r.Handle(rt.Method, rt.Path, append(chain, rt.Handler)...)
	}
}

// Guarded returns a copy of routes with guards prepended to each.
func Guarded(guards []gin.HandlerFunc, routes ...Route) []Route {
	out := make([]Route, len(routes))
	for i, rt := range routes {
		rt.Guards = append(append([]gin.HandlerFunc{}, guards...), rt.Guards...)
		out[i] = rt
	}
	return out
}
