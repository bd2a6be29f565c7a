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

package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/core"
	"github.com/mkapra/ldap-authd/server/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDispatcher records the last request and returns canned answers.
type stubDispatcher struct {
	lastRequest *core.AuthRequest
	result      *core.AuthResult
	err         error
}

func (s *stubDispatcher) Authenticate(_ context.Context, request *core.AuthRequest) (*core.AuthResult, error) {
	s.lastRequest = request

	if s.err != nil {
		return nil, s.err
	}

	return s.result, nil
}

func newTestRouter(t *testing.T, dispatcher core.Dispatcher) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)

	config.SetTestFile(&config.FileSettings{})

	engine := gin.New()

	NewAuthHandler(dispatcher).Register(engine)
	RegisterHealth(engine)

	return engine
}

func TestAuthWithoutCredentialsChallenges(t *testing.T) {
	engine := newTestRouter(t, &stubDispatcher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth-proxy", nil)

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="Restricted"`, w.Header().Get("WWW-Authenticate"))
}

func TestAuthGrantedReturns200(t *testing.T) {
	dispatcher := &stubDispatcher{result: &core.AuthResult{Granted: true}}
	engine := newTestRouter(t, dispatcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth-proxy", nil)
	req.SetBasicAuth("jane", "good")

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, dispatcher.lastRequest)
	assert.Equal(t, "jane", dispatcher.lastRequest.Username)
	assert.Equal(t, "good", dispatcher.lastRequest.Password)
	assert.NotEmpty(t, dispatcher.lastRequest.GUID)
}

func TestAuthDeniedReturns401WithChallenge(t *testing.T) {
	dispatcher := &stubDispatcher{result: &core.AuthResult{Granted: false, Reason: "invalid credentials"}}
	engine := newTestRouter(t, dispatcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth-proxy", nil)
	req.SetBasicAuth("jane", "bad")

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic realm=")
}

func TestAuthRealmHeaderOverride(t *testing.T) {
	engine := newTestRouter(t, &stubDispatcher{result: &core.AuthResult{}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth-proxy", nil)
	req.SetBasicAuth("jane", "bad")
	req.Header.Set(HeaderRealm, "Intranet")

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, `Basic realm="Intranet"`, w.Header().Get("WWW-Authenticate"))
}

func TestAuthDirectoryErrorReturns503(t *testing.T) {
	dispatcher := &stubDispatcher{err: errors.NewDetailedError(errors.ErrLDAPConnect)}
	engine := newTestRouter(t, dispatcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth-proxy", nil)
	req.SetBasicAuth("jane", "good")

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAuthForwardsOverrideHeaders(t *testing.T) {
	dispatcher := &stubDispatcher{result: &core.AuthResult{Granted: true}}
	engine := newTestRouter(t, dispatcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth-proxy", nil)
	req.SetBasicAuth("jane", "good")
	req.Header.Set(HeaderBaseDN, "ou=staff,dc=example,dc=org")
	req.Header.Set(HeaderFilter, "(uid=%(username)s)")
	req.Header.Set(HeaderGroup, "cn=dev,ou=groups,dc=example,dc=org")

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	require.NotNil(t, dispatcher.lastRequest)
	assert.Equal(t, "ou=staff,dc=example,dc=org", dispatcher.lastRequest.BaseDN)
	assert.Equal(t, "(uid=%(username)s)", dispatcher.lastRequest.SearchFilter)
	assert.Equal(t, "cn=dev,ou=groups,dc=example,dc=org", dispatcher.lastRequest.RequiredGroup)
}

func TestAuthEndpointIsConfigurable(t *testing.T) {
	gin.SetMode(gin.TestMode)

	config.SetTestFile(&config.FileSettings{
		Server: &config.ServerSection{AuthEndpoint: "/check"},
	})

	engine := gin.New()

	NewAuthHandler(&stubDispatcher{result: &core.AuthResult{Granted: true}}).Register(engine)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/check", nil)
	req.SetBasicAuth("jane", "good")

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPing(t *testing.T) {
	engine := newTestRouter(t, &stubDispatcher{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestHeadRequestIsAccepted(t *testing.T) {
	engine := newTestRouter(t, &stubDispatcher{result: &core.AuthResult{Granted: true}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodHead, "/auth-proxy", nil)
	req.SetBasicAuth("jane", "good")

	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
