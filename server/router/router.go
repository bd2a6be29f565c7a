// Copyright (C) 2024 The ldap-authd authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// Package router assembles the gin engine without leaking
// application-specific logic into this package.
package router

import (
	"time"

	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/stats"
	"github.com/mkapra/ldap-authd/server/util"

	"github.com/gin-gonic/gin"
)

// Router is a small builder around gin.Engine to assemble middlewares and
// routes.
type Router struct {
	Engine *gin.Engine
}

// NewRouter creates a new Router builder with a fresh gin.Engine carrying
// the recovery and instrumentation middlewares.
func NewRouter() *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), instrument())

	return &Router{Engine: engine}
}

// Build returns the underlying gin.Engine.
func (r *Router) Build() *gin.Engine {
	return r.Engine
}

// instrument counts requests and observes latencies per path.
func instrument() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		path := ctx.FullPath()

		if path == "" {
			path = ctx.Request.URL.Path
		}

		stats.HttpRequestsTotalCounter.WithLabelValues(path).Inc()

		ctx.Next()

		stats.HttpResponseTimeSecondsHist.WithLabelValues(path).Observe(time.Since(started).Seconds())

		util.DebugModule(
			definitions.DbgHTTP,
			definitions.LogKeyClientIP, ctx.ClientIP(),
			definitions.LogKeyUriPath, path,
			definitions.LogKeyMsg, "Request finished",
			"status", ctx.Writer.Status(),
		)
	}
}
