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

package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkapra/ldap-authd/server/cache"
	"github.com/mkapra/ldap-authd/server/config"
	"github.com/mkapra/ldap-authd/server/core"
	"github.com/mkapra/ldap-authd/server/definitions"
	"github.com/mkapra/ldap-authd/server/handler"
	"github.com/mkapra/ldap-authd/server/log"
	"github.com/mkapra/ldap-authd/server/pool"
	"github.com/mkapra/ldap-authd/server/router"

	"github.com/go-kit/log/level"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

// parseFlagsAndPrintVersion parses the command line and handles --version
// before any other setup work happens.
func parseFlagsAndPrintVersion() string {
	configFile := pflag.StringP("config", "c", "", "path to the configuration file")
	showVersion := pflag.Bool("version", false, "print the version and exit")

	pflag.String("address", "", "HTTP listen address")
	pflag.String("auth-endpoint", "", "URI path of the authentication endpoint")

	pflag.Parse()

	if *showVersion {
		fmt.Println("ldap-authd", version)
		os.Exit(0)
	}

	return *configFile
}

func main() {
	configFile := parseFlagsAndPrintVersion()

	if _, err := config.Load(configFile); err != nil {
		stdlog.Fatalln("Unable to load the configuration. Error:", err)
	}

	serverConf := config.GetFile().GetServer()
	logConf := serverConf.GetLog()

	log.SetupLogging(logConf.GetLogLevel(), logConf.JSON, logConf.Color, serverConf.GetInstance())

	ldapConf := config.GetFile().GetLDAP().GetConfig()
	if ldapConf == nil {
		stdlog.Fatalln("No LDAP endpoint configured")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	ldapPool := pool.NewPool(ldapConf)
	decisions := cache.NewLRU(config.GetFile().GetCache().GetMaxEntries())
	dispatcher := core.NewDispatcher(ldapConf, ldapPool, decisions)

	webRouter := router.NewRouter()

	handler.NewAuthHandler(dispatcher).Register(webRouter.Engine)
	handler.RegisterHealth(webRouter.Engine)
	handler.RegisterMetrics(webRouter.Engine)

	httpServer := &http.Server{
		Addr:         serverConf.GetAddress(),
		Handler:      webRouter.Build(),
		ReadTimeout:  serverConf.GetReadTimeout(),
		WriteTimeout: serverConf.GetWriteTimeout(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		go ldapPool.StartHouseKeeper(groupCtx)

		level.Info(log.Logger).Log(
			definitions.LogKeyMsg, "Starting HTTP server",
			"address", serverConf.GetAddress(),
			"endpoint", serverConf.GetAuthEndpoint(),
			"version", version,
		)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)

		defer shutdownCancel()

		err := httpServer.Shutdown(shutdownCtx)

		ldapPool.Close()

		return err
	})

	if err := group.Wait(); err != nil {
		level.Error(log.Logger).Log(definitions.LogKeyMsg, "Server terminated", definitions.LogKeyError, err)

		os.Exit(1)
	}

	level.Info(log.Logger).Log(definitions.LogKeyMsg, "Shutdown complete")
}
