// Command devserver runs a local Masomo API with demo accounts and schools.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/trezcool/masomo-portal/apps/devserver/account"
	echoapi "github.com/trezcool/masomo-portal/apps/devserver/echo"
	"github.com/trezcool/masomo-portal/apps/devserver/school"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/filter"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DEVSERVER : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	accounts := account.NewDirectory()
	if err := account.Seed(accounts); err != nil {
		logger.Fatal(fmt.Sprintf("seeding accounts: %v", err), err)
	}

	catalog, err := loadCatalog(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading catalog: %v", err), err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// =========================================================================
	// Start API Service

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	for _, acc := range accounts.All() {
		logger.Info(fmt.Sprintf("demo account %q (%s) password %q", acc.Username, acc.Role, account.DemoPassword))
	}

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:     conf,
		Logger:   logger,
		Accounts: accounts,
		Catalog:  catalog,
		Registry: registry,
	})

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func loadCatalog(conf *core.Config) (filter.Source, error) {
	if conf.Server.CatalogFile == "" {
		return school.Demo(), nil
	}
	f, err := os.Open(conf.Server.CatalogFile)
	if err != nil {
		return nil, errors.Wrap(err, "opening catalog file")
	}
	defer f.Close()
	return school.LoadCatalog(f)
}
