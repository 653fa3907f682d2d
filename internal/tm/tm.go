// Package tm is the translation memory engine: a query facade per language
// pair and the Manager that caches those facades and synchronizes the local
// database with remote TM stores.
package tm

import (
	"context"

	"tmengine/internal/model"
	"tmengine/internal/normalize"
	"tmengine/internal/storage"
)

// TM answers queries for one language pair.
type TM struct {
	SourceLang string
	TargetLang string

	dal storage.TUStore
}

// New creates a TM over a pair-scoped store.
func New(sourceLang, targetLang string, dal storage.TUStore) *TM {
	return &TM{SourceLang: sourceLang, TargetLang: targetLang, dal: dal}
}

// Pair returns the TM's language pair.
func (t *TM) Pair() model.LangPair {
	return model.LangPair{SourceLang: t.SourceLang, TargetLang: t.TargetLang}
}

// GetEntries returns the winning entry for each known guid.
func (t *TM) GetEntries(ctx context.Context, guids []string) (map[string]*model.TU, error) {
	return t.dal.GetEntries(ctx, guids)
}

// GetEntriesByJob returns the entries a job produced.
func (t *TM) GetEntriesByJob(ctx context.Context, jobGUID string) ([]*model.TU, error) {
	return t.dal.GetEntriesByJob(ctx, jobGUID)
}

// GetExactMatches returns winning translations of sources with the same shape
// as nsrc whose placeholders can be rendered against nsrc.
func (t *TM) GetExactMatches(ctx context.Context, nsrc normalize.String) ([]*model.TU, error) {
	candidates, err := t.dal.GetExactMatches(ctx, normalize.FlattenToOrdinal(nsrc))
	if err != nil {
		return nil, err
	}
	matches := make([]*model.TU, 0, len(candidates))
	for _, c := range candidates {
		if c.NTgt != nil && normalize.AreCompatible(nsrc, c.NTgt) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

func (t *TM) GetStats(ctx context.Context) ([]storage.StatsRow, error) {
	return t.dal.GetStats(ctx)
}

func (t *TM) GetQualityDistribution(ctx context.Context) ([]storage.QualityRow, error) {
	return t.dal.GetQualityDistribution(ctx)
}

// GetTranslationStatus summarizes a channel's segments by project, quality
// and state.
func (t *TM) GetTranslationStatus(ctx context.Context, channel string) ([]storage.StatusRow, error) {
	return t.dal.GetTranslationStatus(ctx, channel)
}

func (t *TM) GetUntranslatedContent(ctx context.Context, channel string, limit int) ([]*model.TU, error) {
	return t.dal.GetUntranslatedContent(ctx, channel, limit)
}

func (t *TM) Search(ctx context.Context, params storage.SearchParams) ([]storage.SearchResult, error) {
	return t.dal.Search(ctx, params)
}

func (t *TM) Lookup(ctx context.Context, params storage.LookupParams) ([]*model.TU, error) {
	return t.dal.Lookup(ctx, params)
}

// DeleteEmptyJobs removes jobs without entries. A dry run only reports them.
func (t *TM) DeleteEmptyJobs(ctx context.Context, dryrun bool) (*storage.DeletePlan, error) {
	return t.dal.DeleteEmptyJobs(ctx, dryrun)
}

// DeleteOverRank keeps the best maxRank entries per guid.
func (t *TM) DeleteOverRank(ctx context.Context, maxRank int, dryrun bool) (*storage.DeletePlan, error) {
	return t.dal.DeleteOverRank(ctx, maxRank, dryrun)
}

// DeleteByQuality removes entries of quality q.
func (t *TM) DeleteByQuality(ctx context.Context, q int, dryrun bool) (*storage.DeletePlan, error) {
	return t.dal.DeleteByQuality(ctx, q, dryrun)
}
