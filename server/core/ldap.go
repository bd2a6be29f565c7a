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

package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mkapra/ldap-authd/server/codec"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/errors"
	"github.com/mkapra/ldap-authd/server/stats"
	"github.com/mkapra/ldap-authd/server/transport"
	"github.com/mkapra/ldap-authd/server/util"

	"github.com/go-ldap/ldap/v3"
)

// resolveDN turns the username into the distinguished name to bind as.
// When a search filter is configured it performs a subtree search with the
// service credentials; otherwise the DN template is expanded directly.
// A denial is returned when the username does not resolve to exactly one
// entry.
func (d *dispatcherImpl) resolveDN(ctx context.Context, conn *transport.Conn, request *AuthRequest) (string, *AuthResult, error) {
	baseDN := request.BaseDN
	if baseDN == "" {
		baseDN = d.conf.BaseDN
	}

	filterTemplate := request.SearchFilter
	if filterTemplate == "" {
		filterTemplate = d.conf.SearchFilter
	}

	if filterTemplate == "" {
		return util.ExpandDNTemplate(d.conf.BindTemplate, request.Username), nil, nil
	}

	filter := util.ExpandFilterTemplate(filterTemplate, request.Username)

	start := time.Now()

	entries, done, err := conn.Search(ctx, &codec.SearchRequest{
		BaseDN:     baseDN,
		Scope:      codec.ScopeWholeSubtree,
		SizeLimit:  1,
		Filter:     filter,
		Attributes: []string{"1.1"},
	})

	stats.LdapRequestDurationHist.WithLabelValues(d.conf.GetPoolName(), "search").Observe(time.Since(start).Seconds())

	if err != nil {
		return "", nil, err
	}

	switch done.Code {
	case codec.ResultSuccess, codec.ResultNoSuchObject:
	default:
		return "", nil, errors.NewDetailedError(errors.ErrProtocol).
			WithDetail(fmt.Sprintf("DN resolution search failed with result code %d: %s", done.Code, done.Diagnostic))
	}

	if len(entries) == 0 {
		util.DebugModule(
			definitions.DbgAuth,
			definitions.LogKeyGUID, request.GUID,
			definitions.LogKeyUsername, request.Username,
			definitions.LogKeyMsg, "No entry matched the user search filter",
		)

		return "", &AuthResult{Reason: errors.ErrNoSuchUser.Error()}, nil
	}

	return entries[0].DN, nil, nil
}

// bindUser performs the simple bind that actually verifies the secret.
// An explicit invalidCredentials from the directory is a denial, not an
// error.
func (d *dispatcherImpl) bindUser(ctx context.Context, conn *transport.Conn, request *AuthRequest, userDN string) (*AuthResult, error) {
	start := time.Now()

	response, err := conn.SimpleBind(ctx, userDN, request.Password)

	stats.LdapRequestDurationHist.WithLabelValues(d.conf.GetPoolName(), "bind").Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}

	switch response.Code {
	case codec.ResultSuccess:
		return nil, nil
	case codec.ResultInvalidCredentials:
		return &AuthResult{Reason: errors.ErrInvalidCredentials.Error(), UserDN: userDN}, nil
	case codec.ResultNoSuchObject:
		return &AuthResult{Reason: errors.ErrNoSuchUser.Error(), UserDN: userDN}, nil
	default:
		return nil, errors.NewDetailedError(errors.ErrProtocol).
			WithDetail(fmt.Sprintf("bind failed with result code %d: %s", response.Code, response.Diagnostic))
	}
}

// checkGroup verifies that the bound user is listed as a member of the
// required group. The check is a base-scope search at the group DN over
// the configured membership attributes.
func (d *dispatcherImpl) checkGroup(ctx context.Context, conn *transport.Conn, request *AuthRequest, userDN, groupDN string) (*AuthResult, error) {
	escapedDN := ldap.EscapeFilter(userDN)

	groupAttributes := d.conf.GetGroupAttributes()
	terms := make([]string, 0, len(groupAttributes))

	for _, attribute := range groupAttributes {
		terms = append(terms, fmt.Sprintf("(%s=%s)", attribute, escapedDN))
	}

	filter := terms[0]
	if len(terms) > 1 {
		filter = "(|" + strings.Join(terms, "") + ")"
	}

	start := time.Now()

	entries, done, err := conn.Search(ctx, &codec.SearchRequest{
		BaseDN:     groupDN,
		Scope:      codec.ScopeBaseObject,
		SizeLimit:  1,
		Filter:     filter,
		Attributes: []string{"1.1"},
	})

	stats.LdapRequestDurationHist.WithLabelValues(d.conf.GetPoolName(), "search").Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}

	switch done.Code {
	case codec.ResultSuccess, codec.ResultNoSuchObject:
	default:
		return nil, errors.NewDetailedError(errors.ErrProtocol).
			WithDetail(fmt.Sprintf("group search failed with result code %d: %s", done.Code, done.Diagnostic))
	}

	if len(entries) == 0 {
		util.DebugModule(
			definitions.DbgAuth,
			definitions.LogKeyGUID, request.GUID,
			definitions.LogKeyUsername, request.Username,
			definitions.LogKeyMsg, fmt.Sprintf("User is not a member of %q", groupDN),
		)

		return &AuthResult{Reason: errors.ErrGroupNotSatisfied.Error(), UserDN: userDN}, nil
	}

	return nil, nil
}

// restoreServiceBind rebinds with the service credentials after a user
// bind so the connection goes back into rotation in a known state. A
// failed restore poisons the connection.
func (d *dispatcherImpl) restoreServiceBind(ctx context.Context, conn *transport.Conn) {
	if d.conf.BindDN == "" || conn.IsDead() {
		return
	}

	response, err := conn.SimpleBind(ctx, d.conf.BindDN, d.conf.BindPW)
	if err != nil {
		return
	}

	if response.Code != codec.ResultSuccess {
		conn.MarkDead()
	}
}
