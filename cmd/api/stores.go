package main

import (
	"context"
	"fmt"
	"log/slog"

	"tmengine/internal/config"
	"tmengine/internal/handlers"
	"tmengine/internal/tmstore"
	"tmengine/internal/tmstore/fsstore"
	"tmengine/internal/tmstore/httpstore"
	"tmengine/internal/tmstore/memstore"
	"tmengine/internal/tmstore/qdrantstore"
)

// openedStores is the result of opening the configured stores.
type openedStores struct {
	all    []tmstore.Store
	served []tmstore.Store
	probes map[string]handlers.Pinger
}

// openStores builds a TM store for each configuration entry, in order.
func openStores(ctx context.Context, cfgs []config.StoreConfig) (*openedStores, error) {
	out := &openedStores{probes: make(map[string]handlers.Pinger)}
	for _, c := range cfgs {
		access, err := tmstore.ParseAccess(c.Access)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", c.ID, err)
		}
		partitioning, err := tmstore.ParsePartitioning(c.Partitioning)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", c.ID, err)
		}

		var store tmstore.Store
		switch c.Type {
		case config.StoreTypeMemory:
			store = memstore.New(c.ID, access, partitioning)
		case config.StoreTypeFS:
			store, err = fsstore.New(c.ID, c.Path, access, partitioning, fsstore.Codec(c.Codec))
		case config.StoreTypeHTTP:
			var client *httpstore.Client
			client, err = httpstore.NewClient(c.ID, c.URL, access, partitioning, nil)
			if err == nil {
				store = client
				out.probes[c.ID] = client
			}
		case config.StoreTypeQdrant:
			var qs *qdrantstore.Store
			qs, err = qdrantstore.New(c.ID, c.URL, c.Collection, access, partitioning)
			if err == nil {
				err = qs.EnsureCollection(ctx)
			}
			if err == nil {
				store = qs
				out.probes[c.ID] = qs
			}
		default:
			err = fmt.Errorf("unknown store type %q", c.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open store %s: %w", c.ID, err)
		}

		out.all = append(out.all, store)
		if c.Serve {
			out.served = append(out.served, store)
		}
		slog.Info("TM store ready",
			"id", c.ID,
			"type", c.Type,
			"access", access,
			"partitioning", partitioning,
			"served", c.Serve,
		)
	}
	return out, nil
}
