package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"tmengine/internal/contextutil"
	"tmengine/internal/model"
	"tmengine/internal/storage"
	"tmengine/internal/tm"
)

const (
	defaultSearchLimit       = 100
	maxSearchLimit           = 1000
	defaultUntranslatedLimit = 100
)

// TMService is the part of the TM manager the query handlers use.
type TMService interface {
	GetTM(sourceLang, targetLang string) *tm.TM
	TMPairs(ctx context.Context) ([]model.LangPair, error)
	ProcessJob(ctx context.Context, job *model.Job) error
	SaveChannel(ctx context.Context, channel, sourceLang string, segments []*model.TU) error
}

// TMHandler serves queries, maintenance and job intake for the local TM.
type TMHandler struct {
	manager TMService
}

// NewTMHandler creates a new TMHandler.
func NewTMHandler(manager TMService) *TMHandler {
	return &TMHandler{manager: manager}
}

// JobResponse reports the guid a processed job was stored under.
//
// swagger:model JobResponse
type JobResponse struct {
	JobGUID   string `json:"jobGuid"`
	UpdatedAt string `json:"updatedAt"`
	TUs       int    `json:"tus"`
}

// ChannelResponse reports how many segments a channel upload stored.
//
// swagger:model ChannelResponse
type ChannelResponse struct {
	Channel    string `json:"channel"`
	SourceLang string `json:"sourceLang"`
	Segments   int    `json:"segments"`
}

// tmFor returns the TM of the pair named in the route.
func (h *TMHandler) tmFor(r *http.Request) *tm.TM {
	return h.manager.GetTM(urlParam(r, "src"), urlParam(r, "tgt"))
}

// Pairs lists the language pairs with local jobs.
//
// swagger:route GET /api/pairs listPairs
func (h *TMHandler) Pairs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pairs, err := h.manager.TMPairs(ctx)
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to list language pairs")
		return
	}
	writeJSON(ctx, w, http.StatusOK, pairs)
}

// Stats aggregates jobs and entries by provider and status.
func (h *TMHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.tmFor(r).GetStats(ctx)
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to get stats")
		return
	}
	writeJSON(ctx, w, http.StatusOK, nonNil(rows))
}

// Quality returns the quality distribution of winning entries.
func (h *TMHandler) Quality(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rows, err := h.tmFor(r).GetQualityDistribution(ctx)
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to get quality distribution")
		return
	}
	writeJSON(ctx, w, http.StatusOK, nonNil(rows))
}

// Status summarizes a channel's translation state. Requires ?channel=.
func (h *TMHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	rows, err := h.tmFor(r).GetTranslationStatus(ctx, channel)
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to get translation status")
		return
	}
	writeJSON(ctx, w, http.StatusOK, nonNil(rows))
}

// Untranslated lists channel segments without a translation.
func (h *TMHandler) Untranslated(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		handleManagerError(w, ctx, err, "Invalid limit")
		return
	}
	n := defaultUntranslatedLimit
	if limit != nil && *limit > 0 {
		n = *limit
	}
	tus, err := h.tmFor(r).GetUntranslatedContent(ctx, channel, n)
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to get untranslated content")
		return
	}
	writeJSON(ctx, w, http.StatusOK, nonNil(tus))
}

// Search filters winning entries by the query parameters guid, nid, jobGuid,
// rid, sid, source, target, provider, minQ, maxQ, inflight, limit and offset.
func (h *TMHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	params := storage.SearchParams{
		GUID:                q.Get("guid"),
		NID:                 q.Get("nid"),
		JobGUID:             q.Get("jobGuid"),
		RID:                 q.Get("rid"),
		SID:                 q.Get("sid"),
		Source:              q.Get("source"),
		Target:              q.Get("target"),
		TranslationProvider: q.Get("provider"),
		IncludeInflight:     boolQuery(r, "inflight"),
		Limit:               defaultSearchLimit,
	}

	var err error
	if params.MinQ, err = intQuery(r, "minQ"); err != nil {
		handleManagerError(w, ctx, err, "Invalid minQ")
		return
	}
	if params.MaxQ, err = intQuery(r, "maxQ"); err != nil {
		handleManagerError(w, ctx, err, "Invalid maxQ")
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		handleManagerError(w, ctx, err, "Invalid limit")
		return
	}
	if limit != nil && *limit > 0 {
		params.Limit = min(*limit, maxSearchLimit)
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		handleManagerError(w, ctx, err, "Invalid offset")
		return
	}
	if offset != nil && *offset > 0 {
		params.Offset = *offset
	}

	results, err := h.tmFor(r).Search(ctx, params)
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to search")
		return
	}
	writeJSON(ctx, w, http.StatusOK, nonNil(results))
}

// Lookup returns all entries matching the exact guid, nid, rid or sid.
func (h *TMHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	params := storage.LookupParams{
		GUID: q.Get("guid"),
		NID:  q.Get("nid"),
		RID:  q.Get("rid"),
		SID:  q.Get("sid"),
	}
	if params == (storage.LookupParams{}) {
		writeError(w, http.StatusBadRequest, "one of guid, nid, rid or sid is required")
		return
	}
	tus, err := h.tmFor(r).Lookup(ctx, params)
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to look up entries")
		return
	}
	writeJSON(ctx, w, http.StatusOK, nonNil(tus))
}

// Maintenance runs a delete operation on the pair:
//
//	empty-jobs              jobs without entries
//	over-rank?maxRank=N     entries ranked below the best N per guid
//	quality?q=N             entries with quality N
//
// ?dryrun=true reports what would be removed.
func (h *TMHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)
	t := h.tmFor(r)
	dryrun := boolQuery(r, "dryrun")
	op := urlParam(r, "op")

	var (
		plan *storage.DeletePlan
		err  error
	)
	switch op {
	case "empty-jobs":
		plan, err = t.DeleteEmptyJobs(ctx, dryrun)
	case "over-rank":
		var maxRank *int
		if maxRank, err = intQuery(r, "maxRank"); err == nil {
			if maxRank == nil || *maxRank < 1 {
				writeError(w, http.StatusBadRequest, "maxRank must be at least 1")
				return
			}
			plan, err = t.DeleteOverRank(ctx, *maxRank, dryrun)
		}
	case "quality":
		var q *int
		if q, err = intQuery(r, "q"); err == nil {
			if q == nil {
				writeError(w, http.StatusBadRequest, "q is required")
				return
			}
			plan, err = t.DeleteByQuality(ctx, *q, dryrun)
		}
	default:
		writeError(w, http.StatusNotFound, "unknown maintenance operation: "+op)
		return
	}
	if err != nil {
		handleManagerError(w, ctx, err, "Failed to run maintenance")
		return
	}

	logger.InfoContext(ctx, "maintenance",
		"op", op,
		"source_lang", t.SourceLang,
		"target_lang", t.TargetLang,
		"dryrun", dryrun,
		"jobs", len(plan.Jobs),
		"tus", plan.TUCount,
	)
	writeJSON(ctx, w, http.StatusOK, plan)
}

// ProcessJob merges a completed job into the TM.
//
// swagger:route POST /api/jobs processJob
func (h *TMHandler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.manager.ProcessJob(ctx, &job); err != nil {
		handleManagerError(w, ctx, err, "Failed to process job")
		return
	}
	writeJSON(ctx, w, http.StatusCreated, JobResponse{
		JobGUID:   job.JobGUID,
		UpdatedAt: job.UpdatedAt,
		TUs:       len(job.TUs),
	})
}

// SaveChannel replaces a channel's source segments with the JSON array in
// the body.
//
// swagger:route PUT /api/channels/{channel}/{src} saveChannel
func (h *TMHandler) SaveChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel, src := urlParam(r, "channel"), urlParam(r, "src")

	var segments []*model.TU
	if err := json.NewDecoder(r.Body).Decode(&segments); err != nil {
		contextutil.LoggerFromContext(ctx).WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.manager.SaveChannel(ctx, channel, src, segments); err != nil {
		handleManagerError(w, ctx, err, "Failed to save channel")
		return
	}
	writeJSON(ctx, w, http.StatusOK, ChannelResponse{Channel: channel, SourceLang: src, Segments: len(segments)})
}

// nonNil keeps empty results encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
