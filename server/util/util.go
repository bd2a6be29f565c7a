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

package util

import (
	"regexp"
	"runtime"

	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/log"

	"github.com/go-kit/log/level"
)

// crlfRe matches line breaks including surrounding whitespace.
var crlfRe = regexp.MustCompile(`\s*[\r\n]+\s*`)

// RemoveCRLFFromQueryOrFilter strips line breaks from a search filter so a
// multi-line configuration value becomes a single-line filter.
func RemoveCRLFFromQueryOrFilter(value string, sep string) string {
	return crlfRe.ReplaceAllString(value, sep)
}

// DebugModule logs the given key/value pairs at debug level if the named
// debug module (or "all") is enabled in the configuration.
func DebugModule(module definitions.DbgModule, keyvals ...any) {
	var moduleName string

	if config.GetFile().GetServer().GetLog().GetLogLevel() < definitions.LogLevelDebug {
		return
	}

	switch module {
	case definitions.DbgAll:
		moduleName = definitions.DbgAllName
	case definitions.DbgAuth:
		moduleName = definitions.DbgAuthName
	case definitions.DbgLDAP:
		moduleName = definitions.DbgLDAPName
	case definitions.DbgPool:
		moduleName = definitions.DbgPoolName
	case definitions.DbgCache:
		moduleName = definitions.DbgCacheName
	case definitions.DbgHTTP:
		moduleName = definitions.DbgHTTPName
	default:
		return
	}

	for index := range config.GetFile().GetServer().GetLog().GetDebugModules() {
		if !(config.GetFile().GetServer().GetLog().GetDebugModules()[index].GetModule() == definitions.DbgAll ||
			config.GetFile().GetServer().GetLog().GetDebugModules()[index].GetModule() == module) {
			continue
		}

		keyvals = append(keyvals, "debug_module")
		keyvals = append(keyvals, moduleName)

		if counter, _, _, ok := runtime.Caller(1); ok {
			keyvals = append(keyvals, "function")
			keyvals = append(keyvals, runtime.FuncForPC(counter).Name())

			level.Debug(log.Logger).Log(keyvals...)
		}

		break
	}
}
