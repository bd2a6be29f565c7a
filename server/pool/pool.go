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

// Package pool maintains a bounded set of directory connections per
// endpoint. Leases are exclusive: a connection handed to one caller is
// never visible to another until it has been released.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/errors"
	"github.com/mkapra/ldap-authd/server/stats"
	"github.com/mkapra/ldap-authd/server/transport"
	"github.com/mkapra/ldap-authd/server/util"
)

// Dialer establishes a new directory connection. It exists so tests can
// substitute an in-process directory for the real network dialer.
type Dialer func(ctx context.Context, conf *config.LDAPConf) (*transport.Conn, error)

// LDAPPool hands out exclusive directory connections up to a configured
// ceiling.
type LDAPPool interface {
	// Lease blocks until a connection is available or the lease timeout
	// expires. The returned connection is owned by the caller until it is
	// passed back through Release.
	Lease(ctx context.Context) (*transport.Conn, error)

	// Release returns a connection to the pool. A connection reported or
	// detected as dead is closed and never handed out again.
	Release(conn *transport.Conn)

	// StartHouseKeeper runs the background maintenance loop until the
	// context is cancelled.
	StartHouseKeeper(ctx context.Context)

	// Close terminates every pooled connection. Lease calls after Close
	// fail immediately.
	Close()
}

// slot is one position in the fixed-size pool. A slot may be empty (no
// connection dialed yet), hold an idle connection, or be checked out.
type slot struct {
	conn     *transport.Conn
	lastUsed time.Time
	busy     bool
}

type ldapPoolImpl struct {
	name   string
	conf   *config.LDAPConf
	dial   Dialer
	tokens chan struct{}

	mu     sync.Mutex
	slots  []*slot
	closed bool
}

var _ LDAPPool = (*ldapPoolImpl)(nil)

// NewPool creates a pool for the given endpoint configuration. The pool
// dials lazily: no connection is opened before the first lease.
func NewPool(conf *config.LDAPConf) LDAPPool {
	return NewPoolWithDialer(conf, transport.Connect)
}

// NewPoolWithDialer is NewPool with a custom dialer.
func NewPoolWithDialer(conf *config.LDAPConf, dial Dialer) LDAPPool {
	poolSize := conf.GetPoolSize()

	lp := &ldapPoolImpl{
		name:   conf.GetPoolName(),
		conf:   conf,
		dial:   dial,
		tokens: make(chan struct{}, poolSize),
		slots:  make([]*slot, poolSize),
	}

	for index := 0; index < poolSize; index++ {
		lp.slots[index] = &slot{}
		lp.tokens <- struct{}{}
	}

	stats.LdapPoolSize.WithLabelValues(lp.name).Set(float64(poolSize))

	return lp
}

// Lease acquires a pool token and hands out a connection. Waiters are
// served in arrival order. An idle connection past the validation
// threshold is probed before reuse and replaced when the probe fails.
func (l *ldapPoolImpl) Lease(ctx context.Context) (*transport.Conn, error) {
	if l.isClosed() {
		return nil, errors.NewDetailedError(errors.ErrPoolClosed).WithDetail("lease on closed pool")
	}

	waitStart := time.Now()

	leaseCtx, cancel := context.WithTimeout(ctx, l.conf.GetLeaseTimeout())

	defer cancel()

	select {
	case <-l.tokens:
	case <-leaseCtx.Done():
		stats.LdapLeaseWaitSecondsHist.WithLabelValues(l.name).Observe(time.Since(waitStart).Seconds())

		return nil, errors.NewDetailedError(errors.ErrPoolExhausted).
			WithDetail(fmt.Sprintf("no free connection within %s", l.conf.GetLeaseTimeout()))
	}

	stats.LdapLeaseWaitSecondsHist.WithLabelValues(l.name).Observe(time.Since(waitStart).Seconds())

	conn, err := l.checkout(ctx)
	if err != nil {
		l.tokens <- struct{}{}

		return nil, err
	}

	return conn, nil
}

// checkout picks an idle slot under the token the caller already holds.
// Holding a token guarantees at least one slot is not busy.
func (l *ldapPoolImpl) checkout(ctx context.Context) (*transport.Conn, error) {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return nil, errors.NewDetailedError(errors.ErrPoolClosed).WithDetail("lease on closed pool")
	}

	var chosen *slot

	// Prefer a slot that already holds a connection so the pool does not
	// dial while warm connections sit idle.
	for _, s := range l.slots {
		if s.busy {
			continue
		}

		if s.conn != nil {
			chosen = s

			break
		}

		if chosen == nil {
			chosen = s
		}
	}

	if chosen == nil {
		l.mu.Unlock()

		return nil, errors.NewDetailedError(errors.ErrInternal).WithDetail("pool token held but no free slot")
	}

	chosen.busy = true
	conn := chosen.conn
	idleFor := time.Since(chosen.lastUsed)
	l.mu.Unlock()

	if conn != nil {
		if conn.IsDead() {
			l.discard(chosen, conn)
			conn = nil
		} else if idleFor > l.conf.GetIdleThreshold() {
			conn.MarkSuspect()

			if err := conn.Ping(ctx); err != nil {
				util.DebugModule(
					definitions.DbgPool,
					definitions.LogKeyPoolName, l.name,
					definitions.LogKeyEndpoint, conn.URI(),
					definitions.LogKeyMsg, "Idle connection failed validation",
					definitions.LogKeyError, err,
				)

				l.discard(chosen, conn)
				conn = nil
			} else {
				conn.MarkHealthy()
			}
		}
	}

	if conn == nil {
		newConn, err := l.dial(ctx, l.conf)
		if err != nil {
			l.mu.Lock()
			chosen.busy = false
			l.mu.Unlock()

			return nil, err
		}

		if l.conf.BindDN != "" {
			if err := l.serviceBind(ctx, newConn); err != nil {
				newConn.Close()

				l.mu.Lock()
				chosen.busy = false
				l.mu.Unlock()

				return nil, err
			}
		}

		l.mu.Lock()
		chosen.conn = newConn
		l.mu.Unlock()

		conn = newConn

		l.updateOpenConnections()
	}

	return conn, nil
}

// serviceBind authenticates a fresh connection with the configured service
// credentials so searches are authorized before the connection enters
// rotation.
func (l *ldapPoolImpl) serviceBind(ctx context.Context, conn *transport.Conn) error {
	response, err := conn.SimpleBind(ctx, l.conf.BindDN, l.conf.BindPW)
	if err != nil {
		return err
	}

	if response.Code != 0 {
		return errors.NewDetailedError(errors.ErrLDAPConnect).
			WithDetail(fmt.Sprintf("service bind as %q failed with result code %d: %s", l.conf.BindDN, response.Code, response.Diagnostic))
	}

	return nil
}

// Release returns the connection to its slot, or closes it when it died
// while leased. The pool token is given back either way so the ceiling
// stays intact.
func (l *ldapPoolImpl) Release(conn *transport.Conn) {
	l.mu.Lock()

	var owner *slot

	for _, s := range l.slots {
		if s.conn == conn {
			owner = s

			break
		}
	}

	if owner == nil {
		l.mu.Unlock()

		// Not one of ours; refuse silently but do not leak the socket.
		if conn != nil {
			conn.Close()
		}

		return
	}

	closed := l.closed
	owner.busy = false
	owner.lastUsed = time.Now()

	if conn.IsDead() || closed {
		owner.conn = nil
	}

	l.mu.Unlock()

	if conn.IsDead() || closed {
		conn.Close()

		if !closed {
			stats.LdapStaleConnections.WithLabelValues(l.name).Inc()
		}
	}

	l.updateOpenConnections()

	if !closed {
		l.tokens <- struct{}{}
	}
}

// discard closes a connection found unusable during checkout. The slot
// stays busy; the caller dials a replacement into it.
func (l *ldapPoolImpl) discard(s *slot, conn *transport.Conn) {
	conn.Close()

	l.mu.Lock()
	s.conn = nil
	l.mu.Unlock()

	stats.LdapStaleConnections.WithLabelValues(l.name).Inc()
	l.updateOpenConnections()
}

// StartHouseKeeper periodically validates idle connections and trims the
// idle set down to the configured idle pool size.
func (l *ldapPoolImpl) StartHouseKeeper(ctx context.Context) {
	timer := time.NewTicker(definitions.DefaultHousekeeperInterval)

	for {
		select {
		case <-ctx.Done():
			timer.Stop()

			util.DebugModule(definitions.DbgPool, definitions.LogKeyPoolName, l.name, definitions.LogKeyMsg, "houseKeeper() terminated")

			return
		case <-timer.C:
			l.validateIdleConnections(ctx)
			l.closeExcessIdleConnections()
			l.updateOpenConnections()
		}
	}
}

// validateIdleConnections probes every idle connection that has sat past
// the idle threshold and drops the ones that fail.
func (l *ldapPoolImpl) validateIdleConnections(ctx context.Context) {
	for _, s := range l.slots {
		l.mu.Lock()

		if s.busy || s.conn == nil || time.Since(s.lastUsed) <= l.conf.GetIdleThreshold() {
			l.mu.Unlock()

			continue
		}

		// The token must be held before the slot turns busy, otherwise a
		// lease holding a token could find every slot taken. When no
		// token is free right now the slot is being leased; skip it.
		select {
		case <-l.tokens:
		default:
			l.mu.Unlock()

			continue
		}

		s.busy = true
		conn := s.conn
		l.mu.Unlock()

		conn.MarkSuspect()

		if err := conn.Ping(ctx); err != nil {
			util.DebugModule(
				definitions.DbgPool,
				definitions.LogKeyPoolName, l.name,
				definitions.LogKeyEndpoint, conn.URI(),
				definitions.LogKeyMsg, "Housekeeper dropped broken connection",
				definitions.LogKeyError, err,
			)

			conn.Close()

			l.mu.Lock()
			s.conn = nil
			l.mu.Unlock()

			stats.LdapStaleConnections.WithLabelValues(l.name).Inc()
		} else {
			conn.MarkHealthy()
		}

		l.mu.Lock()
		s.busy = false
		s.lastUsed = time.Now()
		l.mu.Unlock()

		l.tokens <- struct{}{}
	}
}

// closeExcessIdleConnections closes idle connections beyond the idle pool
// size, oldest first.
func (l *ldapPoolImpl) closeExcessIdleConnections() {
	idlePoolSize := l.conf.GetIdlePoolSize()

	l.mu.Lock()

	var idle []*slot

	for _, s := range l.slots {
		if !s.busy && s.conn != nil {
			idle = append(idle, s)
		}
	}

	needClosing := len(idle) - idlePoolSize

	var victims []*transport.Conn

	for index := 0; index < len(idle) && needClosing > 0; index++ {
		oldest := idle[index]

		for _, candidate := range idle[index+1:] {
			if candidate.conn != nil && candidate.lastUsed.Before(oldest.lastUsed) {
				oldest = candidate
			}
		}

		if oldest.conn == nil {
			continue
		}

		victims = append(victims, oldest.conn)
		oldest.conn = nil
		needClosing--
	}

	l.mu.Unlock()

	for _, conn := range victims {
		conn.Close()

		util.DebugModule(definitions.DbgPool, definitions.LogKeyPoolName, l.name, definitions.LogKeyMsg, "Idle connection closed")
	}
}

// updateOpenConnections refreshes the open connection gauge.
func (l *ldapPoolImpl) updateOpenConnections() {
	l.mu.Lock()

	open := 0

	for _, s := range l.slots {
		if s.conn != nil {
			open++
		}
	}

	l.mu.Unlock()

	stats.LdapOpenConnections.WithLabelValues(l.name).Set(float64(open))
}

func (l *ldapPoolImpl) isClosed() bool {
	l.mu.Lock()

	defer l.mu.Unlock()

	return l.closed
}

// Close marks the pool closed and terminates every idle connection. Leased
// connections are closed when their holders release them.
func (l *ldapPoolImpl) Close() {
	l.mu.Lock()

	if l.closed {
		l.mu.Unlock()

		return
	}

	l.closed = true

	var victims []*transport.Conn

	for _, s := range l.slots {
		if s.conn != nil && !s.busy {
			victims = append(victims, s.conn)
			s.conn = nil
		}
	}

	l.mu.Unlock()

	for _, conn := range victims {
		conn.Close()
	}

	// Drain tokens so late leases cannot slip past the closed flag by
	// winning the select.
	for {
		select {
		case <-l.tokens:
		default:
			util.DebugModule(definitions.DbgPool, definitions.LogKeyPoolName, l.name, definitions.LogKeyMsg, "Terminated")

			return
		}
	}
}
