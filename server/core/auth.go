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

// Package core drives a single authentication attempt from credential
// input to a grant or deny decision: cache lookup, DN resolution, user
// bind and the optional group check.
package core

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/mkapra/ldap-authd/server/cache"
	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/errors"
	"github.com/mkapra/ldap-authd/server/pool"
	"github.com/mkapra/ldap-authd/server/stats"
	"github.com/mkapra/ldap-authd/server/transport"
	"github.com/mkapra/ldap-authd/server/util"
)

// AuthRequest carries one credential pair plus the per-request overrides a
// frontend may send along.
type AuthRequest struct {
	// GUID is the session identifier used to correlate log lines.
	GUID string

	Username string
	Password string

	// ClientIP is the address of the original client, for logging only.
	ClientIP string

	// BaseDN overrides the configured search base when non-empty.
	BaseDN string

	// SearchFilter overrides the configured user search filter when
	// non-empty.
	SearchFilter string

	// RequiredGroup overrides the configured group requirement when
	// non-empty.
	RequiredGroup string
}

// AuthResult is the decision for one request.
type AuthResult struct {
	Granted   bool
	Reason    string
	UserDN    string
	FromCache bool
}

// Dispatcher validates credential pairs against the directory.
type Dispatcher interface {
	// Authenticate decides one request. A returned error means the
	// decision could not be made (directory unreachable, pool exhausted);
	// a deny is a successful decision, not an error.
	Authenticate(ctx context.Context, request *AuthRequest) (*AuthResult, error)
}

type dispatcherImpl struct {
	conf      *config.LDAPConf
	ldapPool  pool.LDAPPool
	decisions cache.DecisionCache
}

var _ Dispatcher = (*dispatcherImpl)(nil)

// NewDispatcher wires the dispatcher to its pool and decision cache.
func NewDispatcher(conf *config.LDAPConf, ldapPool pool.LDAPPool, decisions cache.DecisionCache) Dispatcher {
	return &dispatcherImpl{
		conf:      conf,
		ldapPool:  ldapPool,
		decisions: decisions,
	}
}

// Authenticate runs the decision pipeline. Identical concurrent requests
// each perform their own directory round trip; completed decisions and
// unavailable outcomes are served from the cache until their TTL expires.
func (d *dispatcherImpl) Authenticate(ctx context.Context, request *AuthRequest) (*AuthResult, error) {
	if request.Username == "" || request.Password == "" {
		return &AuthResult{Reason: errors.ErrInvalidCredentials.Error()}, nil
	}

	requiredGroup := request.RequiredGroup
	if requiredGroup == "" {
		requiredGroup = d.conf.RequiredGroup
	}

	fingerprint := cache.Fingerprint(request.Username, request.Password, requiredGroup)

	if decision, ok := d.decisions.Get(fingerprint); ok {
		stats.CacheHits.Inc()

		util.DebugModule(
			definitions.DbgCache,
			definitions.LogKeyGUID, request.GUID,
			definitions.LogKeyUsername, request.Username,
			definitions.LogKeyMsg, "Decision served from cache",
		)

		if decision.Unavailable {
			return nil, errors.NewDetailedError(errors.ErrLDAPConnect).
				WithGUID(request.GUID).
				WithDetail(decision.Reason)
		}

		return &AuthResult{Granted: decision.Granted, Reason: decision.Reason, FromCache: true}, nil
	}

	stats.CacheMisses.Inc()

	result, err := d.authenticateUncached(ctx, request, requiredGroup)
	if err != nil {
		d.storeError(fingerprint, err)

		return nil, err
	}

	d.store(fingerprint, result)

	return result, nil
}

// authenticateUncached performs the directory round trips. A connection
// that dies mid-attempt earns exactly one retry on a fresh connection;
// credential and group denials are final.
func (d *dispatcherImpl) authenticateUncached(ctx context.Context, request *AuthRequest, requiredGroup string) (*AuthResult, error) {
	retried := false

	for {
		result, err := d.attempt(ctx, request, requiredGroup)
		if err != nil && !retried && stderrors.Is(err, errors.ErrConnectionDead) {
			retried = true

			util.DebugModule(
				definitions.DbgAuth,
				definitions.LogKeyGUID, request.GUID,
				definitions.LogKeyMsg, "Retrying on a fresh connection",
				definitions.LogKeyError, err,
			)

			continue
		}

		return result, err
	}
}

// attempt leases one connection and runs DN resolution, user bind and the
// optional group check against it.
func (d *dispatcherImpl) attempt(ctx context.Context, request *AuthRequest, requiredGroup string) (*AuthResult, error) {
	conn, err := d.ldapPool.Lease(ctx)
	if err != nil {
		return nil, err
	}

	result, err := d.run(ctx, conn, request, requiredGroup)

	d.restoreServiceBind(ctx, conn)
	d.ldapPool.Release(conn)

	return result, err
}

func (d *dispatcherImpl) run(ctx context.Context, conn *transport.Conn, request *AuthRequest, requiredGroup string) (*AuthResult, error) {
	userDN, denial, err := d.resolveDN(ctx, conn, request)
	if err != nil {
		return nil, err
	}

	if denial != nil {
		return denial, nil
	}

	denial, err = d.bindUser(ctx, conn, request, userDN)
	if err != nil {
		return nil, err
	}

	if denial != nil {
		return denial, nil
	}

	if requiredGroup != "" {
		denial, err = d.checkGroup(ctx, conn, request, userDN, requiredGroup)
		if err != nil {
			return nil, err
		}

		if denial != nil {
			return denial, nil
		}
	}

	return &AuthResult{Granted: true, UserDN: userDN}, nil
}

// store caches the completed decision. Grants live for the positive TTL,
// denials for the shorter negative TTL so a fixed typo does not lock a
// user out for long.
func (d *dispatcherImpl) store(fingerprint string, result *AuthResult) {
	cacheConf := config.GetFile().GetCache()

	var ttl time.Duration
	if result.Granted {
		ttl = cacheConf.GetPositiveTTL()
	} else {
		ttl = cacheConf.GetNegativeTTL()
	}

	d.decisions.Set(fingerprint, cache.Decision{Granted: result.Granted, Reason: result.Reason}, ttl)
}

// storeError caches an unavailable outcome under the negative TTL.
// Cancellations reflect the client going away, not the directory, and are
// not cached.
func (d *dispatcherImpl) storeError(fingerprint string, err error) {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return
	}

	d.decisions.Set(
		fingerprint,
		cache.Decision{Unavailable: true, Reason: err.Error()},
		config.GetFile().GetCache().GetNegativeTTL(),
	)
}
