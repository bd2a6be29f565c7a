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
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagBindings maps configuration keys onto command line flags. A flag set
// on the command line wins over file and environment values.
var flagBindings = map[string]string{
	"server.address":       "address",
	"server.auth_endpoint": "auth-endpoint",
}

// Load reads the configuration file, applies environment overrides,
// validates the result and installs it as the process-wide configuration.
//
// When configFile is empty the usual locations are searched; a missing file
// is not an error because every setting except the LDAP endpoint has a
// default and the endpoint may come from the environment.
func Load(configFile string) (*FileSettings, error) {
	v := viper.New()

	v.SetConfigType("yaml")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ldap-authd")
		v.AddConfigPath("/etc/ldap-authd/")
		v.AddConfigPath("$HOME/.ldap-authd")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LDAP_AUTHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, flagName := range flagBindings {
		if flag := pflag.Lookup(flagName); flag != nil && flag.Changed {
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", flagName, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError

		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
	}

	settings := &FileSettings{}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))

	if err := v.Unmarshal(settings, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}

	file.Store(settings)

	return settings, nil
}

// setDefaults registers every key that may be set through the environment
// alone. Without a registered default viper does not consider a key during
// Unmarshal even when AutomaticEnv finds it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "")
	v.SetDefault("server.auth_endpoint", "")
	v.SetDefault("server.instance", "")
	v.SetDefault("server.basic_realm", "")
	v.SetDefault("server.log.json", false)
	v.SetDefault("server.log.color", false)
	v.SetDefault("server.log.level", "")
	v.SetDefault("ldap.config.bind_dn", "")
	v.SetDefault("ldap.config.bind_pw", "")
	v.SetDefault("ldap.config.base_dn", "")
	v.SetDefault("ldap.config.bind_template", "")
	v.SetDefault("ldap.config.search_filter", "")
	v.SetDefault("ldap.config.required_group", "")
	v.SetDefault("ldap.config.server_uris", []string{})
	v.SetDefault("cache.max_entries", 0)
	v.SetDefault("cache.positive_ttl", "0s")
	v.SetDefault("cache.negative_ttl", "0s")
}

// Validate checks the structural constraints of a configuration.
func Validate(settings *FileSettings) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(settings); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	return nil
}
