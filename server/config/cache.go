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

// CacheSection configures the decision cache.
type CacheSection struct {
	MaxEntries  int           `mapstructure:"max_entries" validate:"omitempty,gte=0"`
	PositiveTTL time.Duration `mapstructure:"positive_ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
}

// GetMaxEntries caps the decision cache before LRU eviction kicks in.
func (c *CacheSection) GetMaxEntries() int {
	if c == nil || c.MaxEntries <= 0 {
		return definitions.DefaultCacheMaxEntries
	}

	return c.MaxEntries
}

// GetPositiveTTL returns the lifetime of cached granted decisions.
func (c *CacheSection) GetPositiveTTL() time.Duration {
	if c == nil || c.PositiveTTL <= 0 {
		return definitions.DefaultPositiveCacheTTL
	}

	return c.PositiveTTL
}

// GetNegativeTTL returns the lifetime of cached denied or errored
// decisions.
func (c *CacheSection) GetNegativeTTL() time.Duration {
	if c == nil || c.NegativeTTL <= 0 {
		return definitions.DefaultNegativeCacheTTL
	}

	return c.NegativeTTL
}
