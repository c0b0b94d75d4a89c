// Inspects the governance state persisted in the configured backing store.

package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/nobletooth/govcache/pkg/config"
	"github.com/nobletooth/govcache/pkg/governance"
	"github.com/nobletooth/govcache/pkg/kvcache"
	"github.com/nobletooth/govcache/pkg/storage"
	"github.com/nobletooth/govcache/pkg/utils"
)

var printVersion = flag.Bool("print_version", false, "Print the version and exit.")

// inspect logs the governance state visible through a root cache over `store`.
func inspect(store storage.Store) error {
	cache := governance.NewRootCache(store)

	// Every table must be reversible before any layer is allowed to write.
	registry := kvcache.NewUndoRegistry()
	cache.RegisterUndoFunc(registry)
	if err := registry.Verify(storage.KnownPrefixes()...); err != nil {
		return err
	}

	governers, found := cache.GetGoverners()
	if !found {
		slog.Info("No governer list set; the genesis governer governs.",
			"genesis_governer", cache.GenesisGoverner().String())
	} else {
		ids := make([]string, 0, len(governers))
		for _, governer := range governers {
			ids = append(ids, governer.String())
		}
		slog.Info("Governer list.", "count", len(governers), "governers", ids)
	}
	slog.Info("Quorum threshold.", "need_governer_count", cache.GetNeedGovernerCount())
	return nil
}

func main() {
	config.InitFlags()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Govcache build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	store, err := storage.Open()
	if err != nil {
		slog.Error("Failed to open backing store.", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close backing store.", "error", err)
		}
	}()

	if err := inspect(store); err != nil {
		slog.Error("Failed to inspect governance state.", "error", err)
		_ = store.Close()
		os.Exit(1)
	}
}
