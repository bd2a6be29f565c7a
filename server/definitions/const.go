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

package definitions

import "time"

const (
	// LogKeyGUID represents the session identifier used in log entries.
	LogKeyGUID = "session"

	// LogKeyMsg represents the message content in log entries.
	LogKeyMsg = "msg"

	// LogKeyError represents error information in log entries.
	LogKeyError = "error"

	// LogKeyInstance represents instance identification in log entries.
	LogKeyInstance = "instance"

	// LogKeyUsername represents the username being validated during a session.
	LogKeyUsername = "username"

	// LogKeyClientIP represents the IP address of the client.
	LogKeyClientIP = "client_ip"

	// LogKeyUriPath represents the URI path of a request.
	LogKeyUriPath = "uri_path"

	// LogKeyOutcome represents the final authentication outcome for a session.
	LogKeyOutcome = "outcome"

	// LogKeyLatency represents the total processing time of a request.
	LogKeyLatency = "latency"

	// LogKeyPoolName represents the LDAP connection pool a message belongs to.
	LogKeyPoolName = "pool"

	// LogKeyEndpoint represents the LDAP directory endpoint address.
	LogKeyEndpoint = "endpoint"
)

const (
	// LogLevelNone disables all log output.
	LogLevelNone = iota

	// LogLevelError is the iota constant for error logs.
	LogLevelError

	// LogLevelWarn is the iota constant for warning logs.
	LogLevelWarn

	// LogLevelInfo is the iota constant for info logs.
	LogLevelInfo

	// LogLevelDebug is the iota constant for debug logs.
	LogLevelDebug
)

// DbgModule represents a debug module identifier.
type DbgModule uint8

const (
	// DbgNone is a placeholder for no debugging.
	DbgNone DbgModule = iota

	// DbgAll enables debugging for every module.
	DbgAll

	// DbgAuth enables debugging for the request dispatcher.
	DbgAuth

	// DbgLDAP enables debugging for LDAP transport and protocol handling.
	DbgLDAP

	// DbgPool enables debugging for the LDAP connection pool.
	DbgPool

	// DbgCache enables debugging for the decision cache.
	DbgCache

	// DbgHTTP enables debugging for the HTTP listener.
	DbgHTTP
)

const (
	DbgNoneName  = "none"
	DbgAllName   = "all"
	DbgAuthName  = "auth"
	DbgLDAPName  = "ldap"
	DbgPoolName  = "pool"
	DbgCacheName = "cache"
	DbgHTTPName  = "http"
)

// ConnState is the tri-state lifecycle flag for a pooled LDAP connection.
type ConnState uint8

const (
	// ConnStateHealthy marks a connection as usable for the next lease.
	ConnStateHealthy ConnState = iota

	// ConnStateSuspect marks a connection that has been idle past the
	// validation threshold and must be probed before reuse.
	ConnStateSuspect

	// ConnStateDead marks a connection that must be discarded and never
	// handed out again.
	ConnStateDead
)

func (s ConnState) String() string {
	switch s {
	case ConnStateHealthy:
		return "healthy"
	case ConnStateSuspect:
		return "suspect"
	case ConnStateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// TLSMode selects how a directory connection is secured.
type TLSMode string

const (
	// TLSModeNone uses a plaintext connection.
	TLSModeNone TLSMode = "none"

	// TLSModeStartTLS upgrades a plaintext connection in place via the
	// StartTLS extended operation before any bind is attempted.
	TLSModeStartTLS TLSMode = "starttls"

	// TLSModeImplicit performs the TLS handshake immediately after the TCP
	// connect (ldaps).
	TLSModeImplicit TLSMode = "ldaps"
)

// StartTLSOID is the object identifier of the StartTLS extended operation.
const StartTLSOID = "1.3.6.1.4.1.1466.20037"

const (
	// InstanceName is the default instance identifier used in log entries.
	InstanceName = "ldap-authd"

	// DefaultHTTPAddress is the listen address of the HTTP frontend.
	DefaultHTTPAddress = "127.0.0.1:8888"

	// DefaultAuthEndpoint is the URI path the authentication service
	// responds on.
	DefaultAuthEndpoint = "/auth-proxy"

	// DefaultPoolSize is the connection ceiling per directory endpoint.
	DefaultPoolSize = 4

	// DefaultIdlePoolSize is the number of idle connections the housekeeper
	// leaves open.
	DefaultIdlePoolSize = 2

	// DefaultConnectTimeout bounds TCP connect plus TLS handshake.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds a single send/receive exchange.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultLeaseTimeout bounds the wait for a free pooled connection.
	DefaultLeaseTimeout = 10 * time.Second

	// DefaultIdleThreshold is the idle time after which a connection is
	// validated before reuse.
	DefaultIdleThreshold = 60 * time.Second

	// DefaultHousekeeperInterval is the period of the pool housekeeper.
	DefaultHousekeeperInterval = 30 * time.Second

	// DefaultPositiveCacheTTL is the lifetime of cached granted decisions.
	DefaultPositiveCacheTTL = 5 * time.Minute

	// DefaultNegativeCacheTTL is the lifetime of cached denied or errored
	// decisions. It is kept short so a transient directory failure is not
	// remembered as a denial for long.
	DefaultNegativeCacheTTL = 30 * time.Second

	// DefaultCacheMaxEntries caps the decision cache before LRU eviction.
	DefaultCacheMaxEntries = 4096

	// MaxMessageSize is the upper bound for a single LDAP message accepted
	// from the directory. Larger messages are rejected as malformed.
	MaxMessageSize = 1 << 20
)
