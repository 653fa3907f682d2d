package tm

import (
	"context"
	"slices"

	"tmengine/internal/contextutil"
	"tmengine/internal/model"
)

// BootstrapOptions controls a full reload from a store.
type BootstrapOptions struct {
	// Pairs restricts the reload; empty means every pair the store holds.
	Pairs []model.LangPair `json:"pairs,omitempty"`
	// StoreAlias tags local ownership instead of the store id.
	StoreAlias string `json:"storeAlias,omitempty"`
	DryRun     bool   `json:"dryrun,omitempty"`
}

// BootstrapResult reports what was loaded for one pair.
type BootstrapResult struct {
	SourceLang string `json:"sourceLang"`
	TargetLang string `json:"targetLang"`
	JobCount   int    `json:"jobCount"`
	TUCount    int    `json:"tuCount"`
}

// Bootstrap replaces the local jobs of every selected pair with the store's
// content. The load runs in the database's bulk mode; the TM cache is
// cleared before and after since the database handle changes. A dry run
// only lists the pairs.
func (m *Manager) Bootstrap(ctx context.Context, storeID string, opts BootstrapOptions) ([]BootstrapResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	store, err := m.GetTmStore(storeID)
	if err != nil {
		return nil, err
	}
	info := store.Info()
	if !info.Access.CanRead() {
		return nil, &ConfigError{Store: info.ID, Reason: "cannot bootstrap from a write-only store", Err: ErrAccessDenied}
	}
	pairs, err := storePairs(ctx, store, opts.Pairs)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		results := make([]BootstrapResult, 0, len(pairs))
		for _, p := range pairs {
			results = append(results, BootstrapResult{SourceLang: p.SourceLang, TargetLang: p.TargetLang})
		}
		return results, nil
	}

	ownerID := owner(store, opts.StoreAlias)
	logger.InfoContext(ctx, "starting bootstrap", "store", info.ID, "pairs", len(pairs))

	var results []BootstrapResult
	m.ClearCache()
	err = m.db.BulkLoad(ctx, func(ctx context.Context) error {
		var runErr error
		results, runErr = runPairs(ctx, m, "bootstrap", pairs, func(ctx context.Context, pair model.LangPair) (BootstrapResult, error) {
			res := BootstrapResult{SourceLang: pair.SourceLang, TargetLang: pair.TargetLang}
			toc, err := store.TOC(ctx, pair.SourceLang, pair.TargetLang)
			if err != nil {
				return res, WrapError(err, "failed to fetch toc")
			}
			blockIDs := make([]string, 0, len(toc.Blocks))
			for id := range toc.Blocks {
				blockIDs = append(blockIDs, id)
			}
			slices.Sort(blockIDs)

			dal := m.GetTM(pair.SourceLang, pair.TargetLang).dal
			if err := dal.DeletePair(ctx); err != nil {
				return res, WrapError(err, "failed to truncate pair")
			}
			for block, err := range store.Blocks(ctx, pair.SourceLang, pair.TargetLang, blockIDs) {
				if err != nil {
					return res, WrapError(err, "failed to read blocks")
				}
				for _, bj := range block.Jobs {
					if err := storeJob(ctx, dal, bj.Job(), ownerID, false); err != nil {
						return res, err
					}
					res.JobCount++
					res.TUCount += len(bj.TUs)
				}
			}
			contextutil.LoggerFromContext(ctx).InfoContext(ctx, "bootstrapped pair",
				"store", info.ID, "source_lang", pair.SourceLang, "target_lang", pair.TargetLang,
				"jobs", res.JobCount, "tus", res.TUCount)
			return res, nil
		})
		return runErr
	})
	m.ClearCache()
	return results, err
}
