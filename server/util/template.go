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
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// usernameMacros are the placeholders recognized in filter and DN templates.
// Both the nginx-ldap-auth style "%(username)s" and the short "%s" form are
// accepted.
var usernameMacros = []string{"%(username)s", "%s"}

// ExpandFilterTemplate substitutes the username into a search filter
// template. The username is escaped per RFC 4515 so user input can never
// change the structure of the filter.
func ExpandFilterTemplate(template, username string) string {
	escaped := ldap.EscapeFilter(username)

	expanded := template
	for _, macro := range usernameMacros {
		expanded = strings.ReplaceAll(expanded, macro, escaped)
	}

	return RemoveCRLFFromQueryOrFilter(expanded, "")
}

// ExpandDNTemplate substitutes the username into a bind DN template such as
// "uid=%s,ou=people,dc=example,dc=org". DN escaping rules differ from filter
// escaping, so ldap.EscapeDN is used here.
func ExpandDNTemplate(template, username string) string {
	escaped := ldap.EscapeDN(username)

	expanded := template
	for _, macro := range usernameMacros {
		expanded = strings.ReplaceAll(expanded, macro, escaped)
	}

	return expanded
}
