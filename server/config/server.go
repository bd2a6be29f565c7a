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
	"time"

	"github.com/mkapra/ldap-authd/server/definitions"
)

// ServerSection configures the HTTP frontend and logging.
type ServerSection struct {
	Address      string        `mapstructure:"address"`
	AuthEndpoint string        `mapstructure:"auth_endpoint"`
	Instance     string        `mapstructure:"instance"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BasicRealm   string        `mapstructure:"basic_realm"`
	Log          Log           `mapstructure:"log"`
}

// GetAddress returns the HTTP listen address.
func (s *ServerSection) GetAddress() string {
	if s == nil || s.Address == "" {
		return definitions.DefaultHTTPAddress
	}

	return s.Address
}

// GetAuthEndpoint returns the URI path the authentication service responds
// on.
func (s *ServerSection) GetAuthEndpoint() string {
	if s == nil || s.AuthEndpoint == "" {
		return definitions.DefaultAuthEndpoint
	}

	return s.AuthEndpoint
}

// GetInstance returns the instance name used in log entries.
func (s *ServerSection) GetInstance() string {
	if s == nil || s.Instance == "" {
		return definitions.InstanceName
	}

	return s.Instance
}

// GetReadTimeout returns the HTTP server read timeout.
func (s *ServerSection) GetReadTimeout() time.Duration {
	if s == nil || s.ReadTimeout <= 0 {
		return 30 * time.Second
	}

	return s.ReadTimeout
}

// GetWriteTimeout returns the HTTP server write timeout.
func (s *ServerSection) GetWriteTimeout() time.Duration {
	if s == nil || s.WriteTimeout <= 0 {
		return 30 * time.Second
	}

	return s.WriteTimeout
}

// GetBasicRealm returns the realm announced in WWW-Authenticate responses.
func (s *ServerSection) GetBasicRealm() string {
	if s == nil || s.BasicRealm == "" {
		return "Restricted"
	}

	return s.BasicRealm
}

// GetLog returns the logging settings.
func (s *ServerSection) GetLog() *Log {
	if s == nil {
		return &Log{}
	}

	return &s.Log
}

// Log configures format, verbosity and debug modules.
type Log struct {
	JSON       bool         `mapstructure:"json"`
	Color      bool         `mapstructure:"color"`
	Level      string       `mapstructure:"level" validate:"omitempty,oneof=none error warn info debug"`
	DbgModules []*DbgModule `mapstructure:"debug_modules" validate:"omitempty,dive"`
}

// GetLogLevel maps the configured level name onto the numeric log level.
func (l *Log) GetLogLevel() int {
	if l == nil {
		return definitions.LogLevelInfo
	}

	switch l.Level {
	case "none":
		return definitions.LogLevelNone
	case "error":
		return definitions.LogLevelError
	case "warn":
		return definitions.LogLevelWarn
	case "debug":
		return definitions.LogLevelDebug
	default:
		return definitions.LogLevelInfo
	}
}

// GetDebugModules returns the configured debug modules.
func (l *Log) GetDebugModules() []*DbgModule {
	if l == nil {
		return nil
	}

	return l.DbgModules
}

// DbgModule names a component whose debug messages are enabled.
type DbgModule struct {
	Name string `mapstructure:"name" validate:"required,oneof=none all auth ldap pool cache http"`
}

// GetModule maps the configured module name onto its identifier.
func (d *DbgModule) GetModule() definitions.DbgModule {
	if d == nil {
		return definitions.DbgNone
	}

	switch d.Name {
	case definitions.DbgNoneName:
		return definitions.DbgNone
	case definitions.DbgAllName:
		return definitions.DbgAll
	case definitions.DbgAuthName:
		return definitions.DbgAuth
	case definitions.DbgLDAPName:
		return definitions.DbgLDAP
	case definitions.DbgPoolName:
		return definitions.DbgPool
	case definitions.DbgCacheName:
		return definitions.DbgCache
	case definitions.DbgHTTPName:
		return definitions.DbgHTTP
	default:
		return definitions.DbgNone
	}
}
