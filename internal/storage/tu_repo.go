package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tmengine/internal/model"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")
)

// rankOrder is the winner rule applied to every read: translated entries
// before in-flight ones, then higher quality, then later timestamp.
// job_guid only makes the order total.
const rankOrder = "inflight ASC, q DESC, ts DESC, job_guid DESC"

// guidChunk bounds IN-list sizes well below SQLite's variable limit.
const guidChunk = 500

// TUStore defines the pair-scoped storage operations used by the TM engine.
type TUStore interface {
	GetEntries(ctx context.Context, guids []string) (map[string]*model.TU, error)
	GetEntriesByJob(ctx context.Context, jobGUID string) ([]*model.TU, error)
	GetExactMatches(ctx context.Context, flatSrc string) ([]*model.TU, error)
	GetStats(ctx context.Context) ([]StatsRow, error)
	GetQualityDistribution(ctx context.Context) ([]QualityRow, error)
	GetTranslationStatus(ctx context.Context, channel string) ([]StatusRow, error)
	GetUntranslatedContent(ctx context.Context, channel string, limit int) ([]*model.TU, error)
	Search(ctx context.Context, params SearchParams) ([]SearchResult, error)
	Lookup(ctx context.Context, params LookupParams) ([]*model.TU, error)
	DeleteEmptyJobs(ctx context.Context, dryrun bool) (*DeletePlan, error)
	DeleteOverRank(ctx context.Context, maxRank int, dryrun bool) (*DeletePlan, error)
	DeleteByQuality(ctx context.Context, q int, dryrun bool) (*DeletePlan, error)

	SaveJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobGUID string) (*model.Job, error)
	DeleteJob(ctx context.Context, jobGUID string) error
	SetJobTmStore(ctx context.Context, jobGUID, storeID string) error
	DeletePair(ctx context.Context) error
	GetJobDeltas(ctx context.Context, toc *model.TOC, storeID string) ([]model.DeltaRow, error)
	GetValidJobIDs(ctx context.Context, toc *model.TOC, blockID, storeID string) ([]string, error)
}

var _ TUStore = (*TURepo)(nil)

// TURepo provides TU and job operations for one language pair.
// It implements the TUStore interface.
type TURepo struct {
	db         *sql.DB
	sourceLang string
	targetLang string
}

// NewTURepo creates a new TURepo scoped to the given pair.
func NewTURepo(db *sql.DB, sourceLang, targetLang string) *TURepo {
	return &TURepo{db: db, sourceLang: sourceLang, targetLang: targetLang}
}

// ranked returns a CTE named "ranked" holding the pair's entries with their
// rank among the entries for the same GUID. filter is ANDed to the pair scope.
func (r *TURepo) ranked(filter string) string {
	where := "source_lang = ? AND target_lang = ?"
	if filter != "" {
		where += " AND " + filter
	}
	return `WITH ranked AS (
		SELECT rowid AS row_id, guid, job_guid, rid, sid, nid, src_text, tgt_text, inflight, q, ts,
			translation_provider, tu_props,
			ROW_NUMBER() OVER (PARTITION BY guid ORDER BY ` + rankOrder + `) AS rnk
		FROM tus WHERE ` + where + `
	)`
}

func (r *TURepo) pairArgs(args ...any) []any {
	return append([]any{r.sourceLang, r.targetLang}, args...)
}

// GetEntries returns the winning entry for each of the given GUIDs that has one.
func (r *TURepo) GetEntries(ctx context.Context, guids []string) (map[string]*model.TU, error) {
	out := make(map[string]*model.TU, len(guids))
	for start := 0; start < len(guids); start += guidChunk {
		chunk := guids[start:min(start+guidChunk, len(guids))]
		args := make([]any, len(chunk))
		for i, g := range chunk {
			args[i] = g
		}
		query := r.ranked("guid IN ("+placeholders(len(chunk))+")") +
			" SELECT tu_props FROM ranked WHERE rnk = 1"
		tus, err := r.queryTUs(ctx, query, r.pairArgs(args...)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query entries: %w", err)
		}
		for _, tu := range tus {
			out[tu.GUID] = tu
		}
	}
	return out, nil
}

// GetEntriesByJob returns every entry recorded by the given job.
func (r *TURepo) GetEntriesByJob(ctx context.Context, jobGUID string) ([]*model.TU, error) {
	tus, err := r.queryTUs(ctx,
		"SELECT tu_props FROM tus WHERE source_lang = ? AND target_lang = ? AND job_guid = ? ORDER BY rowid",
		r.pairArgs(jobGUID)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job entries: %w", err)
	}
	return tus, nil
}

// GetExactMatches returns the translated winners whose source has the given
// ordinal form, one per GUID.
func (r *TURepo) GetExactMatches(ctx context.Context, flatSrc string) ([]*model.TU, error) {
	query := r.ranked("flat_src = ? AND tgt_text IS NOT NULL") +
		" SELECT tu_props FROM ranked WHERE rnk = 1 ORDER BY q DESC, ts DESC"
	tus, err := r.queryTUs(ctx, query, r.pairArgs(flatSrc)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query exact matches: %w", err)
	}
	return tus, nil
}

// GetStats aggregates the pair's jobs and entries by provider and status.
func (r *TURepo) GetStats(ctx context.Context) ([]StatsRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT j.translation_provider, j.status, COUNT(DISTINCT j.job_guid), COUNT(t.guid), COUNT(DISTINCT t.guid)
		FROM jobs j LEFT JOIN tus t ON t.job_guid = j.job_guid
		WHERE j.source_lang = ? AND j.target_lang = ?
		GROUP BY j.translation_provider, j.status
		ORDER BY j.translation_provider, j.status`,
		r.pairArgs()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var stats []StatsRow
	for rows.Next() {
		var s StatsRow
		if err := rows.Scan(&s.TranslationProvider, &s.Status, &s.JobCount, &s.TUCount, &s.DistinctGUIDs); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return stats, nil
}

// GetQualityDistribution counts translated winners per quality score.
func (r *TURepo) GetQualityDistribution(ctx context.Context) ([]QualityRow, error) {
	query := r.ranked("tgt_text IS NOT NULL") +
		" SELECT q, COUNT(*) FROM ranked WHERE rnk = 1 GROUP BY q ORDER BY q DESC"
	rows, err := r.db.QueryContext(ctx, query, r.pairArgs()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quality distribution: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var dist []QualityRow
	for rows.Next() {
		var q QualityRow
		if err := rows.Scan(&q.Q, &q.Count); err != nil {
			return nil, fmt.Errorf("failed to scan quality row: %w", err)
		}
		dist = append(dist, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return dist, nil
}

// GetTranslationStatus joins the channel's segments with their winners.
func (r *TURepo) GetTranslationStatus(ctx context.Context, channel string) ([]StatusRow, error) {
	query := r.ranked("") + `
		SELECT s.prj, w.q,
			CASE WHEN w.guid IS NULL THEN 'untranslated' WHEN w.inflight = 1 THEN 'in flight' ELSE 'translated' END AS state,
			COUNT(*)
		FROM segments s LEFT JOIN ranked w ON w.guid = s.guid AND w.rnk = 1
		WHERE s.channel = ? AND s.source_lang = ?
		GROUP BY s.prj, w.q, state
		ORDER BY s.prj, w.q DESC, state`
	rows, err := r.db.QueryContext(ctx, query, r.pairArgs(channel, r.sourceLang)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query translation status: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var status []StatusRow
	for rows.Next() {
		var s StatusRow
		var q sql.NullInt64
		if err := rows.Scan(&s.Prj, &q, &s.State, &s.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		if q.Valid {
			v := int(q.Int64)
			s.Q = &v
		}
		status = append(status, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return status, nil
}

// GetUntranslatedContent returns the channel's source segments that have no
// entry at all for the pair. A non-positive limit means no limit.
func (r *TURepo) GetUntranslatedContent(ctx context.Context, channel string, limit int) ([]*model.TU, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT s.segment_props FROM segments s
		WHERE s.channel = ? AND s.source_lang = ?
			AND NOT EXISTS (SELECT 1 FROM tus t WHERE t.source_lang = ? AND t.target_lang = ? AND t.guid = s.guid)
		ORDER BY s.prj, s.rid, s.seq, s.sid
		LIMIT ?`
	tus, err := r.queryTUs(ctx, query, channel, r.sourceLang, r.sourceLang, r.targetLang, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query untranslated content: %w", err)
	}
	return tus, nil
}

// Search returns entries matching params together with their rank. Only
// winners are returned unless a GUID is given, in which case every candidate
// for that GUID is listed.
func (r *TURepo) Search(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if params.GUID != "" {
		add("guid = ?", params.GUID)
	} else {
		conds = append(conds, "rnk = 1")
	}
	if params.NID != "" {
		add("nid = ?", params.NID)
	}
	if params.JobGUID != "" {
		add("job_guid = ?", params.JobGUID)
	}
	if params.RID != "" {
		add("rid LIKE ?", "%"+params.RID+"%")
	}
	if params.SID != "" {
		add("sid LIKE ?", "%"+params.SID+"%")
	}
	if params.Source != "" {
		add("src_text LIKE ?", "%"+params.Source+"%")
	}
	if params.Target != "" {
		add("tgt_text LIKE ?", "%"+params.Target+"%")
	}
	if params.TranslationProvider != "" {
		add("translation_provider = ?", params.TranslationProvider)
	}
	if params.MinQ != nil {
		add("q >= ?", *params.MinQ)
	}
	if params.MaxQ != nil {
		add("q <= ?", *params.MaxQ)
	}
	if !params.IncludeInflight {
		conds = append(conds, "inflight = 0")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	query := r.ranked("") + " SELECT tu_props, rnk FROM ranked"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY rid, sid, guid, rnk LIMIT ? OFFSET ?"
	args = append(args, limit, max(params.Offset, 0))

	rows, err := r.db.QueryContext(ctx, query, r.pairArgs(args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []SearchResult
	for rows.Next() {
		var props string
		var res SearchResult
		if err := rows.Scan(&props, &res.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if res.TU, err = decodeTU(props); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return results, nil
}

// Lookup returns the winners matching every non-empty key in params.
func (r *TURepo) Lookup(ctx context.Context, params LookupParams) ([]*model.TU, error) {
	var conds []string
	var args []any
	for _, kv := range []struct{ col, val string }{
		{"guid", params.GUID}, {"nid", params.NID}, {"rid", params.RID}, {"sid", params.SID},
	} {
		if kv.val != "" {
			conds = append(conds, kv.col+" = ?")
			args = append(args, kv.val)
		}
	}
	if len(conds) == 0 {
		return nil, errors.New("lookup requires at least one of guid, nid, rid, sid")
	}
	query := r.ranked(strings.Join(conds, " AND ")) +
		" SELECT tu_props FROM ranked WHERE rnk = 1 ORDER BY rid, sid, guid"
	tus, err := r.queryTUs(ctx, query, r.pairArgs(args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup entries: %w", err)
	}
	return tus, nil
}

// DeleteEmptyJobs removes the pair's jobs that hold no entries.
func (r *TURepo) DeleteEmptyJobs(ctx context.Context, dryrun bool) (*DeletePlan, error) {
	jobs, err := r.queryStrings(ctx, `
		SELECT j.job_guid FROM jobs j
		WHERE j.source_lang = ? AND j.target_lang = ?
			AND NOT EXISTS (SELECT 1 FROM tus t WHERE t.job_guid = j.job_guid)
		ORDER BY j.job_guid`, r.pairArgs()...)
	if err != nil {
		return nil, fmt.Errorf("failed to query empty jobs: %w", err)
	}
	plan := &DeletePlan{Jobs: jobs}
	if dryrun || len(jobs) == 0 {
		return plan, nil
	}

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		for _, job := range jobs {
			if _, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE job_guid = ?", job); err != nil {
				return fmt.Errorf("failed to delete job %s: %w", job, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// DeleteOverRank removes every entry ranked below maxRank for its GUID.
func (r *TURepo) DeleteOverRank(ctx context.Context, maxRank int, dryrun bool) (*DeletePlan, error) {
	if maxRank < 1 {
		return nil, fmt.Errorf("max rank must be at least 1, got %d", maxRank)
	}
	return r.deleteEntries(ctx, r.ranked("")+" SELECT row_id, job_guid FROM ranked WHERE rnk > ?", r.pairArgs(maxRank), dryrun)
}

// DeleteByQuality removes every entry with exactly quality q.
func (r *TURepo) DeleteByQuality(ctx context.Context, q int, dryrun bool) (*DeletePlan, error) {
	return r.deleteEntries(ctx,
		"SELECT rowid, job_guid FROM tus WHERE source_lang = ? AND target_lang = ? AND q = ?",
		r.pairArgs(q), dryrun)
}

// deleteEntries deletes the tus rows selected by query, which must yield
// (rowid, job_guid).
func (r *TURepo) deleteEntries(ctx context.Context, query string, args []any, dryrun bool) (*DeletePlan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	var rowIDs []int64
	seen := make(map[string]bool)
	plan := &DeletePlan{}
	for rows.Next() {
		var id int64
		var job string
		if err := rows.Scan(&id, &job); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		rowIDs = append(rowIDs, id)
		if !seen[job] {
			seen[job] = true
			plan.Jobs = append(plan.Jobs, job)
		}
	}
	iterErr := rows.Err()
	_ = rows.Close()
	if iterErr != nil {
		return nil, fmt.Errorf("row iteration error: %w", iterErr)
	}
	plan.TUCount = len(rowIDs)
	if dryrun || len(rowIDs) == 0 {
		return plan, nil
	}

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "DELETE FROM tus WHERE rowid = ?")
		if err != nil {
			return fmt.Errorf("failed to prepare delete: %w", err)
		}
		defer func() {
			_ = stmt.Close()
		}()
		for _, id := range rowIDs {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return fmt.Errorf("failed to delete entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *TURepo) queryTUs(ctx context.Context, query string, args ...any) ([]*model.TU, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tus []*model.TU
	for rows.Next() {
		var props string
		if err := rows.Scan(&props); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		tu, err := decodeTU(props)
		if err != nil {
			return nil, err
		}
		tus = append(tus, tu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tus, nil
}

func (r *TURepo) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *TURepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func decodeTU(props string) (*model.TU, error) {
	var tu model.TU
	if err := json.Unmarshal([]byte(props), &tu); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &tu, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
