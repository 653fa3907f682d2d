package tm

import (
	"context"
	"errors"

	"tmengine/internal/contextutil"
	"tmengine/internal/model"
	"tmengine/internal/storage"
	"tmengine/internal/tmstore"
)

// SyncDownOptions controls a pull from a store.
type SyncDownOptions struct {
	// Pairs restricts the pull; empty means every pair the store holds.
	Pairs []model.LangPair `json:"pairs,omitempty"`
	// StoreAlias tags local ownership instead of the store id.
	StoreAlias string `json:"storeAlias,omitempty"`
	// DeleteExtraJobs deletes local jobs owned by the store that are no
	// longer in its TOC.
	DeleteExtraJobs bool `json:"deleteExtraJobs,omitempty"`
	// EraseParentTmStore stores pulled jobs without an owner.
	EraseParentTmStore bool `json:"eraseParentTmStore,omitempty"`
	DryRun             bool `json:"dryrun,omitempty"`
}

// SyncDownResult is the plan for one pair and, after execution, what was done.
type SyncDownResult struct {
	SourceLang    string   `json:"sourceLang"`
	TargetLang    string   `json:"targetLang"`
	BlocksToStore []string `json:"blocksToStore"`
	JobsToDelete  []string `json:"jobsToDelete"`
	JobsStored    int      `json:"jobsStored"`
	JobsDeleted   int      `json:"jobsDeleted"`
}

// SyncDown pulls blocks holding new or changed jobs from a store into the
// local TM, one task per language pair.
func (m *Manager) SyncDown(ctx context.Context, storeID string, opts SyncDownOptions) ([]SyncDownResult, error) {
	store, err := m.GetTmStore(storeID)
	if err != nil {
		return nil, err
	}
	info := store.Info()
	if !info.Access.CanRead() {
		return nil, &ConfigError{Store: info.ID, Reason: "cannot sync down from a write-only store", Err: ErrAccessDenied}
	}
	pairs, err := storePairs(ctx, store, opts.Pairs)
	if err != nil {
		return nil, err
	}
	return runPairs(ctx, m, "sync down", pairs, func(ctx context.Context, pair model.LangPair) (SyncDownResult, error) {
		return m.syncDownPair(ctx, store, pair, opts)
	})
}

func (m *Manager) syncDownPair(ctx context.Context, store tmstore.Store, pair model.LangPair, opts SyncDownOptions) (SyncDownResult, error) {
	logger := contextutil.LoggerFromContext(ctx).With(
		"store", store.Info().ID, "source_lang", pair.SourceLang, "target_lang", pair.TargetLang)
	ownerID := owner(store, opts.StoreAlias)
	res := SyncDownResult{
		SourceLang:    pair.SourceLang,
		TargetLang:    pair.TargetLang,
		BlocksToStore: []string{},
		JobsToDelete:  []string{},
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

	// Local twins not owned by this store are never overwritten, even when
	// their block is fetched for another job.
	skip := make(map[string]string)
	conflicts := 0
	for _, d := range deltas {
		switch {
		case d.IsRemote() && !d.IsLocal():
			res.BlocksToStore = appendUnique(res.BlocksToStore, d.BlockID)
		case d.IsRemote() && d.TmStore != "" && d.TmStore != ownerID:
			skip[d.RemoteJobGUID] = d.TmStore
			conflicts++
			logger.WarnContext(ctx, "job is owned by another store",
				"job_guid", d.RemoteJobGUID, "owner", d.TmStore, "block_id", d.BlockID)
		case d.IsRemote() && d.TmStore == "":
			skip[d.RemoteJobGUID] = ""
			if d.Stale() {
				logger.DebugContext(ctx, "leaving unassigned local job as is",
					"job_guid", d.RemoteJobGUID, "local_updated_at", d.LocalUpdatedAt,
					"remote_updated_at", d.RemoteUpdatedAt)
			}
		case d.Stale():
			res.BlocksToStore = appendUnique(res.BlocksToStore, d.BlockID)
		case !d.IsRemote() && d.TmStore == ownerID:
			res.JobsToDelete = append(res.JobsToDelete, d.LocalJobGUID)
		}
	}
	logger.InfoContext(ctx, "planned sync down",
		"blocks", len(res.BlocksToStore), "jobs_to_delete", len(res.JobsToDelete), "conflicts", conflicts)
	if opts.DryRun {
		return res, nil
	}

	for block, err := range store.Blocks(ctx, pair.SourceLang, pair.TargetLang, res.BlocksToStore) {
		if err != nil {
			return res, WrapError(err, "failed to read blocks")
		}
		for _, bj := range block.Jobs {
			job := bj.Job()
			if other, ok := skip[job.JobGUID]; ok {
				logger.DebugContext(ctx, "skipping job not owned by this store", "job_guid", job.JobGUID, "owner", other)
				continue
			}
			if err := storeJob(ctx, dal, job, ownerID, opts.EraseParentTmStore); err != nil {
				return res, err
			}
			res.JobsStored++
		}
	}

	if opts.DeleteExtraJobs {
		for _, guid := range res.JobsToDelete {
			err := dal.DeleteJob(ctx, guid)
			if errors.Is(err, storage.ErrNotFound) {
				logger.WarnContext(ctx, "job to delete no longer exists", "job_guid", guid)
				continue
			}
			if err != nil {
				return res, WrapError(err, "failed to delete job")
			}
			res.JobsDeleted++
		}
	}
	logger.InfoContext(ctx, "synced down", "jobs_stored", res.JobsStored, "jobs_deleted", res.JobsDeleted)
	return res, nil
}

// storeJob saves a pulled job tagged with ownerID, or detached from any
// store when detach is set.
func storeJob(ctx context.Context, dal storage.TUStore, job *model.Job, ownerID string, detach bool) error {
	job.TmStore = ownerID
	if detach {
		job.TmStore = ""
	}
	if err := dal.SaveJob(ctx, job); err != nil {
		return WrapError(err, "failed to save job "+job.JobGUID)
	}
	if detach {
		if err := dal.SetJobTmStore(ctx, job.JobGUID, ""); err != nil {
			return WrapError(err, "failed to detach job "+job.JobGUID)
		}
	}
	return nil
}
