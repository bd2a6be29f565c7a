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

package config

import (
	"fmt"
	"time"

	"github.com/mkapra/ldap-authd/server/definitions"
)

// LDAPSection groups the directory endpoint definitions.
type LDAPSection struct {
	Config *LDAPConf `mapstructure:"config" validate:"required"`
}

// GetConfig returns the endpoint configuration.
func (l *LDAPSection) GetConfig() *LDAPConf {
	if l == nil {
		return nil
	}

	return l.Config
}

// LDAPConf describes one directory endpoint and the pool limits applied to
// it. It is immutable after load.
type LDAPConf struct {
	PoolName string `mapstructure:"pool_name"`

	// ServerURIs are tried in order on connect (ldap:// or ldaps://).
	ServerURIs []string `mapstructure:"server_uris" validate:"required,min=1,dive,uri"`

	StartTLS      bool   `mapstructure:"starttls"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	TLSCAFile     string `mapstructure:"tls_ca_file"`

	BaseDN string `mapstructure:"base_dn" validate:"required"`

	// BindDN/BindPW are optional service credentials used for the DN
	// resolution search and for connection validation probes.
	BindDN string `mapstructure:"bind_dn"`
	BindPW string `mapstructure:"bind_pw"`

	// BindTemplate resolves a username directly to a bind DN, e.g.
	// "uid=%s,ou=people,dc=example,dc=org".
	BindTemplate string `mapstructure:"bind_template" validate:"required_without=SearchFilter"`

	// SearchFilter resolves a username to a DN by a subtree search, e.g.
	// "(&(objectClass=person)(uid=%s))". When set it takes precedence over
	// BindTemplate.
	SearchFilter string `mapstructure:"search_filter"`

	// RequiredGroup is the DN of a group the user must be a member of. An
	// empty value disables the group check.
	RequiredGroup string `mapstructure:"required_group"`

	// GroupAttributes are the membership attributes checked on the group
	// entry.
	GroupAttributes []string `mapstructure:"group_attributes"`

	PoolSize     int `mapstructure:"pool_size" validate:"omitempty,gte=1"`
	IdlePoolSize int `mapstructure:"idle_pool_size" validate:"omitempty,gte=0"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	LeaseTimeout   time.Duration `mapstructure:"lease_timeout"`
	IdleThreshold  time.Duration `mapstructure:"idle_threshold"`
}

// String renders the endpoint for debug logging. The bind password is
// masked.
func (c *LDAPConf) String() string {
	if c == nil {
		return "LDAPConf: <nil>"
	}

	return fmt.Sprintf(
		"LDAPConf: {PoolName[%s] ServerURIs[%v] StartTLS[%v] BaseDN[%s] BindDN[%s] BindPW[<hidden>] SearchFilter[%s] BindTemplate[%s] RequiredGroup[%s]}",
		c.GetPoolName(), c.ServerURIs, c.StartTLS, c.BaseDN, c.BindDN, c.SearchFilter, c.BindTemplate, c.RequiredGroup)
}

// GetPoolName returns the configured pool name or "default".
func (c *LDAPConf) GetPoolName() string {
	if c == nil || c.PoolName == "" {
		return "default"
	}

	return c.PoolName
}

// GetGroupAttributes returns the membership attributes checked on the group
// entry, defaulting to member and uniqueMember.
func (c *LDAPConf) GetGroupAttributes() []string {
	if c == nil || len(c.GroupAttributes) == 0 {
		return []string{"member", "uniqueMember"}
	}

	return c.GroupAttributes
}

// GetPoolSize returns the connection ceiling for the endpoint.
func (c *LDAPConf) GetPoolSize() int {
	if c == nil || c.PoolSize <= 0 {
		return definitions.DefaultPoolSize
	}

	return c.PoolSize
}

// GetIdlePoolSize returns the number of idle connections the housekeeper
// keeps open.
func (c *LDAPConf) GetIdlePoolSize() int {
	if c == nil || c.IdlePoolSize <= 0 {
		return definitions.DefaultIdlePoolSize
	}

	return c.IdlePoolSize
}

// GetConnectTimeout bounds TCP connect plus TLS handshake.
func (c *LDAPConf) GetConnectTimeout() time.Duration {
	if c == nil || c.ConnectTimeout <= 0 {
		return definitions.DefaultConnectTimeout
	}

	return c.ConnectTimeout
}

// GetRequestTimeout bounds a single protocol exchange.
func (c *LDAPConf) GetRequestTimeout() time.Duration {
	if c == nil || c.RequestTimeout <= 0 {
		return definitions.DefaultRequestTimeout
	}

	return c.RequestTimeout
}

// GetLeaseTimeout bounds the wait for a free pooled connection.
func (c *LDAPConf) GetLeaseTimeout() time.Duration {
	if c == nil || c.LeaseTimeout <= 0 {
		return definitions.DefaultLeaseTimeout
	}

	return c.LeaseTimeout
}

// GetIdleThreshold returns the idle time after which a connection is
// validated before reuse.
func (c *LDAPConf) GetIdleThreshold() time.Duration {
	if c == nil || c.IdleThreshold <= 0 {
		return definitions.DefaultIdleThreshold
	}

	return c.IdleThreshold
}
