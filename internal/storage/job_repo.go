package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"

	"tmengine/internal/model"
	"tmengine/internal/normalize"
)

// SaveJob inserts or replaces a job and all of its entries. Entries are
// stamped with the job guid. An empty TmStore keeps the existing owner.
func (r *TURepo) SaveJob(ctx context.Context, job *model.Job) error {
	if job.SourceLang != r.sourceLang || job.TargetLang != r.targetLang {
		return fmt.Errorf("job %s is for %s, repository is for %s→%s",
			job.JobGUID, job.Pair(), r.sourceLang, r.targetLang)
	}
	props, err := json.Marshal(job.Props())
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (job_guid, source_lang, target_lang, status, updated_at, translation_provider, tm_store, job_props)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_guid) DO UPDATE SET
				status = excluded.status,
				updated_at = excluded.updated_at,
				translation_provider = excluded.translation_provider,
				tm_store = CASE WHEN excluded.tm_store = '' THEN jobs.tm_store ELSE excluded.tm_store END,
				job_props = excluded.job_props`,
			job.JobGUID, r.sourceLang, r.targetLang, string(job.Status), job.UpdatedAt,
			job.TranslationProvider, job.TmStore, string(props))
		if err != nil {
			return fmt.Errorf("failed to upsert job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM tus WHERE job_guid = ?", job.JobGUID); err != nil {
			return fmt.Errorf("failed to clear job entries: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR REPLACE INTO tus (source_lang, target_lang, guid, job_guid, rid, sid, nid, flat_src,
				src_text, tgt_text, inflight, q, ts, translation_provider, tu_props)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare entry insert: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()

		for _, in := range job.TUs {
			tu := *in
			tu.JobGUID = job.JobGUID
			if tu.TranslationProvider == "" {
				tu.TranslationProvider = job.TranslationProvider
			}
			tuProps, err := json.Marshal(&tu)
			if err != nil {
				return fmt.Errorf("failed to encode entry %s: %w", tu.GUID, err)
			}
			var flatSrc, tgtText sql.NullString
			if tu.NSrc != nil {
				flatSrc = sql.NullString{String: normalize.FlattenToOrdinal(tu.NSrc), Valid: true}
			}
			if tu.NTgt != nil {
				tgtText = sql.NullString{String: tu.NTgt.Plain(), Valid: true}
			}
			_, err = stmt.ExecContext(ctx,
				r.sourceLang, r.targetLang, tu.GUID, tu.JobGUID, tu.RID, tu.SID, tu.NID, flatSrc,
				tu.NSrc.Plain(), tgtText, tu.Inflight, tu.Q, tu.TS, tu.TranslationProvider, string(tuProps))
			if err != nil {
				return fmt.Errorf("failed to insert entry %s: %w", tu.GUID, err)
			}
		}
		return nil
	})
}

// GetJob returns a job with its entries and local owner.
// Returns nil and ErrNotFound if not found.
func (r *TURepo) GetJob(ctx context.Context, jobGUID string) (*model.Job, error) {
	var props, tmStore string
	err := r.db.QueryRowContext(ctx,
		"SELECT job_props, tm_store FROM jobs WHERE source_lang = ? AND target_lang = ? AND job_guid = ?",
		r.pairArgs(jobGUID)...,
	).Scan(&props, &tmStore)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal([]byte(props), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobGUID, err)
	}
	job.TmStore = tmStore
	if job.TUs, err = r.GetEntriesByJob(ctx, jobGUID); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes a job and its entries.
// Returns ErrNotFound if the job does not exist.
func (r *TURepo) DeleteJob(ctx context.Context, jobGUID string) error {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE source_lang = ? AND target_lang = ? AND job_guid = ?", r.pairArgs(jobGUID)...)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireAffected(res, jobGUID)
}

// SetJobTmStore tags a job as owned by storeID; an empty storeID detaches it.
// Returns ErrNotFound if the job does not exist.
func (r *TURepo) SetJobTmStore(ctx context.Context, jobGUID, storeID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE jobs SET tm_store = ? WHERE source_lang = ? AND target_lang = ? AND job_guid = ?",
		storeID, r.sourceLang, r.targetLang, jobGUID)
	if err != nil {
		return fmt.Errorf("failed to set job store: %w", err)
	}
	return requireAffected(res, jobGUID)
}

// DeletePair removes every job and entry of the pair.
func (r *TURepo) DeletePair(ctx context.Context) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tus WHERE source_lang = ? AND target_lang = ?", r.pairArgs()...); err != nil {
			return fmt.Errorf("failed to delete entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE source_lang = ? AND target_lang = ?", r.pairArgs()...); err != nil {
			return fmt.Errorf("failed to delete jobs: %w", err)
		}
		return nil
	})
}

type localJob struct {
	updatedAt string
	tmStore   string
}

func (r *TURepo) localJobs(ctx context.Context) (map[string]localJob, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT job_guid, updated_at, tm_store FROM jobs WHERE source_lang = ? AND target_lang = ?", r.pairArgs()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	jobs := make(map[string]localJob)
	for rows.Next() {
		var guid string
		var j localJob
		if err := rows.Scan(&guid, &j.updatedAt, &j.tmStore); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs[guid] = j
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

// GetJobDeltas compares the remote TOC with the pair's local jobs as seen by
// storeID. Rows are emitted for remote jobs missing locally, remote jobs whose
// local twin differs in timestamp or owner, and local jobs absent from the
// TOC. Jobs in sync produce no row. Remote rows come first, ordered by block id.
func (r *TURepo) GetJobDeltas(ctx context.Context, toc *model.TOC, storeID string) ([]model.DeltaRow, error) {
	local, err := r.localJobs(ctx)
	if err != nil {
		return nil, err
	}

	var deltas []model.DeltaRow
	seen := make(map[string]bool)
	for _, blockID := range sortedBlockIDs(toc) {
		for _, remote := range toc.Blocks[blockID].Jobs {
			seen[remote.JobGUID] = true
			row := model.DeltaRow{
				BlockID:         blockID,
				RemoteJobGUID:   remote.JobGUID,
				RemoteUpdatedAt: remote.UpdatedAt,
			}
			if lj, ok := local[remote.JobGUID]; ok {
				if lj.updatedAt == remote.UpdatedAt && lj.tmStore == storeID {
					continue
				}
				row.LocalJobGUID = remote.JobGUID
				row.LocalUpdatedAt = lj.updatedAt
				row.TmStore = lj.tmStore
			}
			deltas = append(deltas, row)
		}
	}

	var localOnly []string
	for guid := range local {
		if !seen[guid] {
			localOnly = append(localOnly, guid)
		}
	}
	slices.Sort(localOnly)
	for _, guid := range localOnly {
		lj := local[guid]
		deltas = append(deltas, model.DeltaRow{
			LocalJobGUID:   guid,
			LocalUpdatedAt: lj.updatedAt,
			TmStore:        lj.tmStore,
		})
	}
	return deltas, nil
}

// GetValidJobIDs returns the jobs listed for blockID in the TOC that still
// exist locally and are owned by storeID, in TOC order.
func (r *TURepo) GetValidJobIDs(ctx context.Context, toc *model.TOC, blockID, storeID string) ([]string, error) {
	if toc == nil {
		return nil, nil
	}
	block, ok := toc.Blocks[blockID]
	if !ok {
		return nil, nil
	}
	local, err := r.localJobs(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, j := range block.Jobs {
		if lj, ok := local[j.JobGUID]; ok && lj.tmStore == storeID {
			ids = append(ids, j.JobGUID)
		}
	}
	return ids, nil
}

func sortedBlockIDs(toc *model.TOC) []string {
	if toc == nil {
		return nil
	}
	ids := make([]string, 0, len(toc.Blocks))
	for id := range toc.Blocks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func requireAffected(res sql.Result, jobGUID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobGUID, ErrNotFound)
	}
	return nil
}
