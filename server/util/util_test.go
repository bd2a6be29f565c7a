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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandFilterTemplateSubstitutesBothMacros(t *testing.T) {
	assert.Equal(t,
		"(&(objectClass=person)(uid=jane))",
		ExpandFilterTemplate("(&(objectClass=person)(uid=%(username)s))", "jane"))

	assert.Equal(t,
		"(&(objectClass=person)(uid=jane))",
		ExpandFilterTemplate("(&(objectClass=person)(uid=%s))", "jane"))
}

func TestExpandFilterTemplateEscapesFilterMetacharacters(t *testing.T) {
	expanded := ExpandFilterTemplate("(uid=%s)", "*)(uid=admin")

	assert.Equal(t, "(uid=\\2a\\29\\28uid=admin)", expanded)
}

func TestExpandFilterTemplateStripsCRLF(t *testing.T) {
	expanded := ExpandFilterTemplate("(uid=%s)\r\n", "jane")

	assert.NotContains(t, expanded, "\r")
	assert.NotContains(t, expanded, "\n")
}

func TestExpandDNTemplate(t *testing.T) {
	assert.Equal(t,
		"uid=jane,ou=people,dc=example,dc=org",
		ExpandDNTemplate("uid=%s,ou=people,dc=example,dc=org", "jane"))
}

func TestExpandDNTemplateEscapesDNSpecials(t *testing.T) {
	expanded := ExpandDNTemplate("uid=%s,ou=people,dc=example,dc=org", "jane,doe")

	assert.Equal(t, "uid=jane\\,doe,ou=people,dc=example,dc=org", expanded)
}

func TestRemoveCRLFFromQueryOrFilter(t *testing.T) {
	assert.Equal(t, "abc", RemoveCRLFFromQueryOrFilter("a\rb\nc", ""))
	assert.Equal(t, "a b c", RemoveCRLFFromQueryOrFilter("a\rb\nc", " "))
}
