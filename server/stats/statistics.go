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

package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotalCounter counts HTTP requests per path.
	HttpRequestsTotalCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Number of HTTP requests.",
		},
		[]string{"path"})

	// HttpResponseTimeSecondsHist observes HTTP request durations per path.
	HttpResponseTimeSecondsHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_response_time_seconds",
			Help: "Duration of HTTP requests.",
		},
		[]string{"path"})

	// AuthDecisionsCounter counts authentication decisions by outcome.
	AuthDecisionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_decisions_total",
			Help: "Number of authentication decisions by outcome.",
		},
		[]string{"outcome"})

	// CacheHits counts decision cache hits.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "The total number of cache hits",
	})

	// CacheMisses counts decision cache misses.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "The total number of cache misses",
	})

	// CacheEntries tracks the current number of cached decisions.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_entries",
		Help: "The current number of cached authentication decisions",
	})

	// LdapPoolSize tracks the configured connection ceiling per pool.
	LdapPoolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ldap_pool_size",
		Help: "The configured maximum number of LDAP connections",
	}, []string{"pool"})

	// LdapOpenConnections tracks the currently open connections per pool.
	LdapOpenConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ldap_open_connections",
		Help: "The current number of open LDAP connections",
	}, []string{"pool"})

	// LdapStaleConnections tracks connections discarded as dead per pool.
	LdapStaleConnections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ldap_stale_connections_total",
		Help: "The total number of LDAP connections discarded as dead",
	}, []string{"pool"})

	// LdapLeaseWaitSecondsHist observes how long callers waited for a
	// pooled connection.
	LdapLeaseWaitSecondsHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ldap_lease_wait_seconds",
			Help: "Time spent waiting for a pooled LDAP connection.",
		},
		[]string{"pool"})

	// LdapRequestDurationHist observes the duration of LDAP round trips.
	LdapRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ldap_request_duration_seconds",
			Help: "Duration of LDAP bind and search round trips.",
		},
		[]string{"pool", "operation"})
)
