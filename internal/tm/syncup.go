package tm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"tmengine/internal/contextutil"
	"tmengine/internal/model"
	"tmengine/internal/storage"
	"tmengine/internal/tmstore"
)

// SyncUpOptions controls a push to a store.
type SyncUpOptions struct {
	// Pairs restricts the push; empty means every local pair.
	Pairs []model.LangPair `json:"pairs,omitempty"`
	// StoreAlias tags local ownership instead of the store id.
	StoreAlias string `json:"storeAlias,omitempty"`
	// DeleteEmptyBlocks rewrites blocks holding orphaned or foreign jobs,
	// removing them when nothing valid is left.
	DeleteEmptyBlocks bool `json:"deleteEmptyBlocks,omitempty"`
	// IncludeUnassigned pushes local jobs not owned by any store.
	IncludeUnassigned bool `json:"includeUnassigned,omitempty"`
	// AssignUnassigned tags pushed jobs as owned by the store.
	AssignUnassigned bool `json:"assignUnassigned,omitempty"`
	DryRun           bool `json:"dryrun,omitempty"`
}

// BlockUpdate is a block to rewrite with exactly the listed jobs. It encodes
// as [blockId, [jobGuid, ...]].
type BlockUpdate struct {
	BlockID  string
	JobGUIDs []string
}

func (b BlockUpdate) MarshalJSON() ([]byte, error) {
	ids := b.JobGUIDs
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal([]any{b.BlockID, ids})
}

func (b *BlockUpdate) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("block update must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &b.BlockID); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &b.JobGUIDs)
}

// SyncUpResult is the plan for one pair and, after execution, what was done.
type SyncUpResult struct {
	SourceLang     string        `json:"sourceLang"`
	TargetLang     string        `json:"targetLang"`
	BlocksToUpdate []BlockUpdate `json:"blocksToUpdate"`
	JobsToUpdate   []string      `json:"jobsToUpdate"`
	BlocksWritten  []string      `json:"blocksWritten,omitempty"`
}

func (r SyncUpResult) pair() model.LangPair {
	return model.LangPair{SourceLang: r.SourceLang, TargetLang: r.TargetLang}
}

// SyncUp pushes local changes to a store. Plans are computed for every pair
// first; execution only performs what the plans describe and is skipped on a
// dry run.
func (m *Manager) SyncUp(ctx context.Context, storeID string, opts SyncUpOptions) ([]SyncUpResult, error) {
	store, err := m.GetTmStore(storeID)
	if err != nil {
		return nil, err
	}
	info := store.Info()
	if !opts.DryRun && !info.Access.CanWrite() {
		return nil, &ConfigError{Store: info.ID, Reason: "cannot sync up to a read-only store", Err: ErrAccessDenied}
	}
	pairs := opts.Pairs
	if len(pairs) == 0 {
		if pairs, err = m.TMPairs(ctx); err != nil {
			return nil, err
		}
	}

	plans, planErr := runPairs(ctx, m, "sync up planning", pairs, func(ctx context.Context, pair model.LangPair) (SyncUpResult, error) {
		return m.planSyncUp(ctx, store, pair, opts)
	})
	if opts.DryRun {
		return plans, planErr
	}

	index := make(map[model.LangPair]int, len(plans))
	var pending []model.LangPair
	for i, p := range plans {
		index[p.pair()] = i
		if len(p.BlocksToUpdate) > 0 || len(p.JobsToUpdate) > 0 {
			pending = append(pending, p.pair())
		}
	}
	executed, execErr := runPairs(ctx, m, "sync up", pending, func(ctx context.Context, pair model.LangPair) (SyncUpResult, error) {
		return m.executeSyncUp(ctx, store, plans[index[pair]], opts)
	})
	for _, r := range executed {
		plans[index[r.pair()]] = r
	}
	return plans, errors.Join(planErr, execErr)
}

func (m *Manager) planSyncUp(ctx context.Context, store tmstore.Store, pair model.LangPair, opts SyncUpOptions) (SyncUpResult, error) {
	logger := contextutil.LoggerFromContext(ctx)
	ownerID := owner(store, opts.StoreAlias)
	res := SyncUpResult{
		SourceLang:     pair.SourceLang,
		TargetLang:     pair.TargetLang,
		BlocksToUpdate: []BlockUpdate{},
		JobsToUpdate:   []string{},
	}

	toc, err := store.TOC(ctx, pair.SourceLang, pair.TargetLang)
	if err != nil {
		return res, WrapError(err, "failed to fetch toc")
	}
	dal := m.GetTM(pair.SourceLang, pair.TargetLang).dal
	deltas, err := dal.GetJobDeltas(ctx, toc, ownerID)
	if err != nil {
		return res, WrapError(err, "failed to compute job deltas")
	}

	var touched, owned, unassigned []string
	for _, d := range deltas {
		if !d.IsRemote() {
			switch d.TmStore {
			case ownerID:
				owned = append(owned, d.LocalJobGUID)
			case "":
				unassigned = append(unassigned, d.LocalJobGUID)
			}
			continue
		}
		foreign := d.IsLocal() && d.TmStore != "" && d.TmStore != ownerID
		switch {
		case d.Stale() && d.TmStore == ownerID:
			touched = appendUnique(touched, d.BlockID)
		case opts.DeleteEmptyBlocks && (!d.IsLocal() || foreign):
			touched = appendUnique(touched, d.BlockID)
		}
	}

	for _, blockID := range touched {
		ids, err := dal.GetValidJobIDs(ctx, toc, blockID, ownerID)
		if err != nil {
			return res, WrapError(err, "failed to compute jobs of block "+blockID)
		}
		if len(ids) == 0 && !opts.DeleteEmptyBlocks {
			continue
		}
		res.BlocksToUpdate = append(res.BlocksToUpdate, BlockUpdate{BlockID: blockID, JobGUIDs: ids})
	}

	if len(unassigned) > 0 && !opts.IncludeUnassigned {
		logger.DebugContext(ctx, "leaving unassigned jobs out of sync up",
			"store", store.Info().ID, "source_lang", pair.SourceLang, "target_lang", pair.TargetLang,
			"jobs", len(unassigned))
	}
	res.JobsToUpdate = append(res.JobsToUpdate, owned...)
	if opts.IncludeUnassigned {
		res.JobsToUpdate = append(res.JobsToUpdate, unassigned...)
	}
	logger.InfoContext(ctx, "planned sync up",
		"store", store.Info().ID, "source_lang", pair.SourceLang, "target_lang", pair.TargetLang,
		"blocks", len(res.BlocksToUpdate), "jobs", len(res.JobsToUpdate))
	return res, nil
}

func (m *Manager) executeSyncUp(ctx context.Context, store tmstore.Store, plan SyncUpResult, opts SyncUpOptions) (SyncUpResult, error) {
	logger := contextutil.LoggerFromContext(ctx).With(
		"store", store.Info().ID, "source_lang", plan.SourceLang, "target_lang", plan.TargetLang)
	ownerID := owner(store, opts.StoreAlias)
	dal := m.GetTM(plan.SourceLang, plan.TargetLang).dal
	res := plan

	err := store.Writer(ctx, plan.SourceLang, plan.TargetLang, func(write tmstore.BlockWriter) error {
		updated := make(map[string]bool)
		writeBlock := func(blockID string, guids []string) error {
			if err := write(ctx, blockID, jobsByGUID(ctx, dal, guids)); err != nil {
				return WrapError(err, "failed to write block "+blockID)
			}
			res.BlocksWritten = append(res.BlocksWritten, blockID)
			for _, guid := range guids {
				updated[guid] = true
				if opts.AssignUnassigned {
					if err := dal.SetJobTmStore(ctx, guid, ownerID); err != nil {
						return WrapError(err, "failed to assign job "+guid)
					}
				}
			}
			return nil
		}

		for _, bu := range plan.BlocksToUpdate {
			if err := writeBlock(bu.BlockID, bu.JobGUIDs); err != nil {
				return err
			}
		}

		var remaining []string
		for _, guid := range plan.JobsToUpdate {
			if !updated[guid] {
				remaining = append(remaining, guid)
			}
		}
		if len(remaining) == 0 {
			return nil
		}

		switch store.Info().Partitioning {
		case tmstore.PartitionJob:
			for _, guid := range remaining {
				if err := writeBlock(guid, []string{guid}); err != nil {
					return err
				}
			}
		case tmstore.PartitionProvider:
			groups, err := groupByProvider(ctx, dal, remaining)
			if err != nil {
				return err
			}
			for _, guids := range groups {
				if err := writeBlock(m.newBlockID(), guids); err != nil {
					return err
				}
			}
		default:
			if err := writeBlock(m.newBlockID(), remaining); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	logger.InfoContext(ctx, "synced up", "blocks_written", len(res.BlocksWritten))
	return res, nil
}

// groupByProvider splits guids by their job's translation provider, keeping
// the input order within each group and ordering groups by provider.
func groupByProvider(ctx context.Context, dal storage.TUStore, guids []string) ([][]string, error) {
	byProvider := make(map[string][]string)
	for _, guid := range guids {
		job, err := dal.GetJob(ctx, guid)
		if err != nil {
			return nil, WrapError(err, "failed to load job "+guid)
		}
		byProvider[job.TranslationProvider] = append(byProvider[job.TranslationProvider], guid)
	}
	providers := make([]string, 0, len(byProvider))
	for p := range byProvider {
		providers = append(providers, p)
	}
	slices.Sort(providers)
	groups := make([][]string, 0, len(providers))
	for _, p := range providers {
		groups = append(groups, byProvider[p])
	}
	return groups, nil
}
