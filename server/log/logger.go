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

package log

import (
	"os"
	"sync"

	"github.com/mkapra/ldap-authd/server/definitions"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-kit/log/term"
)

var (
	mu sync.Mutex

	// Logger is used for all messages that are printed to stdout.
	Logger log.Logger = log.NewNopLogger()
)

// levelColor picks the terminal color for one record from its level field.
func levelColor(keyvals ...any) term.FgBgColor {
	for i := 0; i < len(keyvals)-1; i += 2 {
		if keyvals[i] != level.Key() {
			continue
		}

		switch keyvals[i+1] {
		case level.DebugValue():
			return term.FgBgColor{Fg: term.DarkBlue}
		case level.WarnValue():
			return term.FgBgColor{Fg: term.Yellow}
		case level.ErrorValue():
			return term.FgBgColor{Fg: term.Red}
		default:
			return term.FgBgColor{}
		}
	}

	return term.FgBgColor{}
}

// levelOption maps the configured log level onto a go-kit filter option.
// Unknown levels fall back to info.
func levelOption(configLogLevel int) level.Option {
	switch configLogLevel {
	case definitions.LogLevelNone:
		return level.AllowNone()
	case definitions.LogLevelError:
		return level.AllowError()
	case definitions.LogLevelWarn:
		return level.AllowWarn()
	case definitions.LogLevelDebug:
		return level.AllowDebug()
	default:
		return level.AllowInfo()
	}
}

// SetupLogging initializes the global "Logger" object.
func SetupLogging(configLogLevel int, formatJSON bool, useColor bool, instance string) {
	mu.Lock()

	defer mu.Unlock()

	newLogger := log.NewLogfmtLogger
	if formatJSON {
		newLogger = log.NewJSONLogger
	}

	var base log.Logger

	if useColor {
		base = term.NewLogger(os.Stdout, newLogger, levelColor)
	} else {
		base = newLogger(log.NewSyncWriter(os.Stdout))
	}

	Logger = log.With(
		level.NewFilter(base, levelOption(configLogLevel)),
		"ts", log.DefaultTimestamp, "caller", log.DefaultCaller, definitions.LogKeyInstance, instance,
	)
}
