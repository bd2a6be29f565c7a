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

// Package handler contains the gin handlers of the HTTP frontend. The auth
// handler implements the nginx auth_request contract: 200 allows the
// original request through, 401 makes nginx challenge the client, any
// other status fails the request.
package handler

import (
	"net/http"
	"time"

	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/core"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/log"
	"github.com/mkapra/ldap-authd/server/stats"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log/level"
	"github.com/segmentio/ksuid"
)

// Override headers a frontend may send along with the auth subrequest.
// They follow the nginx-ldap-auth conventions.
const (
	HeaderBaseDN = "X-Ldap-BaseDN"
	HeaderFilter = "X-Ldap-Template"
	HeaderGroup  = "X-Ldap-Group"
	HeaderRealm  = "X-Ldap-Realm"
)

// AuthHandler answers nginx auth_request subrequests.
type AuthHandler struct {
	dispatcher core.Dispatcher
}

// NewAuthHandler creates the auth endpoint handler.
func NewAuthHandler(dispatcher core.Dispatcher) *AuthHandler {
	return &AuthHandler{dispatcher: dispatcher}
}

// Register mounts the handler on the configured endpoint. Both GET and
// HEAD are accepted because nginx mirrors the method of the original
// request unless proxy_method is set.
func (h *AuthHandler) Register(router gin.IRouter) {
	endpoint := config.GetFile().GetServer().GetAuthEndpoint()

	router.GET(endpoint, h.handle)
	router.HEAD(endpoint, h.handle)
}

func (h *AuthHandler) handle(ctx *gin.Context) {
	started := time.Now()
	guid := ksuid.New().String()

	username, password, ok := ctx.Request.BasicAuth()
	if !ok {
		h.challenge(ctx)

		return
	}

	request := &core.AuthRequest{
		GUID:          guid,
		Username:      username,
		Password:      password,
		ClientIP:      ctx.ClientIP(),
		BaseDN:        ctx.GetHeader(HeaderBaseDN),
		SearchFilter:  ctx.GetHeader(HeaderFilter),
		RequiredGroup: ctx.GetHeader(HeaderGroup),
	}

	result, err := h.dispatcher.Authenticate(ctx.Request.Context(), request)

	latency := time.Since(started)

	if err != nil {
		stats.AuthDecisionsCounter.WithLabelValues("error").Inc()

		level.Error(log.Logger).Log(
			definitions.LogKeyGUID, guid,
			definitions.LogKeyUsername, username,
			definitions.LogKeyClientIP, request.ClientIP,
			definitions.LogKeyLatency, latency,
			definitions.LogKeyError, err,
		)

		ctx.AbortWithStatus(http.StatusServiceUnavailable)

		return
	}

	outcome := "deny"
	if result.Granted {
		outcome = "grant"
	}

	stats.AuthDecisionsCounter.WithLabelValues(outcome).Inc()

	level.Info(log.Logger).Log(
		definitions.LogKeyGUID, guid,
		definitions.LogKeyUsername, username,
		definitions.LogKeyClientIP, request.ClientIP,
		definitions.LogKeyOutcome, outcome,
		definitions.LogKeyLatency, latency,
		"from_cache", result.FromCache,
		"reason", result.Reason,
	)

	if !result.Granted {
		h.challenge(ctx)

		return
	}

	ctx.Status(http.StatusOK)
}

// challenge sends 401 with a Basic challenge so nginx can relay it to the
// client. The realm may be overridden per request.
func (h *AuthHandler) challenge(ctx *gin.Context) {
	realm := ctx.GetHeader(HeaderRealm)
	if realm == "" {
		realm = config.GetFile().GetServer().GetBasicRealm()
	}

	ctx.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
	ctx.AbortWithStatus(http.StatusUnauthorized)
}
