// Command portal is the command-line face of the Masomo school portal.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/filter"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/services/api"
	logsvc "github.com/trezcool/masomo-portal/services/logger"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "PORTAL : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	store, closer, err := openStore(conf, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening session store: %v", err), err)
	}

	mgr := session.NewManager(store, conf.Session.StorageKey, logger)
	client := api.NewClientFromConfig(conf, mgr, logger)

	cli := commandLine{
		conf:   conf,
		logger: logger,
		store:  store,
		mgr:    mgr,
		client: client,
		source: newFilterSource(conf, client, mgr),
		out:    os.Stdout,
	}
	err = cli.run(os.Args)
	_ = closer.Close()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

// newFilterSource caches the option lists of src until the session changes hands,
// so a user never sees the lists fetched for the previous one.
func newFilterSource(conf *core.Config, src filter.Source, mgr *session.Manager) *filter.CachedSource {
	cached := filter.NewCachedSource(src, conf.Filter.CacheSize, conf.Filter.CacheTTL)
	mgr.Subscribe(func(session.Record, bool) { cached.Purge() })
	return cached
}
