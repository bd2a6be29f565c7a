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
	"sync/atomic"
)

// FileSettings is the root of the loaded configuration file.
type FileSettings struct {
	Server *ServerSection `mapstructure:"server" validate:"required"`
	LDAP   *LDAPSection   `mapstructure:"ldap" validate:"required"`
	Cache  *CacheSection  `mapstructure:"cache" validate:"omitempty"`
}

// GetServer returns the server section of the configuration.
func (f *FileSettings) GetServer() *ServerSection {
	if f == nil {
		return nil
	}

	return f.Server
}

// GetLDAP returns the LDAP section of the configuration.
func (f *FileSettings) GetLDAP() *LDAPSection {
	if f == nil {
		return nil
	}

	return f.LDAP
}

// GetCache returns the cache section of the configuration, falling back to
// defaults when the section is absent.
func (f *FileSettings) GetCache() *CacheSection {
	if f == nil || f.Cache == nil {
		return &CacheSection{}
	}

	return f.Cache
}

// file holds the process-wide configuration. It is replaced atomically so
// concurrent readers never observe a partially loaded configuration.
var file atomic.Pointer[FileSettings]

// GetFile returns the current process-wide configuration.
func GetFile() *FileSettings {
	return file.Load()
}

// SetTestFile replaces the process-wide configuration. It exists for tests
// and for the loader; production code must not call it after startup.
func SetTestFile(settings *FileSettings) {
	file.Store(settings)
}
