package tm

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tmengine/internal/contextutil"
	"tmengine/internal/model"
	"tmengine/internal/storage"
	"tmengine/internal/taskqueue"
	"tmengine/internal/tmstore"
)

// Options configures a Manager.
type Options struct {
	// Parallelism bounds how many language pairs are processed at once.
	Parallelism int
	// Regression makes generated job and block ids sequence-numbered.
	Regression bool
}

// Manager owns the TM cache and runs synchronization against TM stores.
type Manager struct {
	db         *storage.DB
	stores     map[string]tmstore.Store
	storeIDs   []string
	queue      *taskqueue.Queue
	regression bool
	now        func() time.Time

	mu         sync.Mutex
	tms        map[model.LangPair]*TM
	generation uint64

	jobMu    sync.Mutex
	nextJob  int64
	blockSeq atomic.Int64
}

// NewManager creates a Manager over db with the given stores. Store ids are
// matched case-insensitively and must be unique.
func NewManager(db *storage.DB, stores []tmstore.Store, opts Options) (*Manager, error) {
	m := &Manager{
		db:         db,
		stores:     make(map[string]tmstore.Store, len(stores)),
		queue:      taskqueue.New(opts.Parallelism),
		regression: opts.Regression,
		now:        time.Now,
		tms:        make(map[model.LangPair]*TM),
		generation: db.Generation(),
	}
	for _, s := range stores {
		id := s.Info().ID
		key := strings.ToLower(id)
		if _, dup := m.stores[key]; dup {
			return nil, &ConfigError{Store: id, Reason: "duplicate store id", Err: ErrInvalidInput}
		}
		m.stores[key] = s
		m.storeIDs = append(m.storeIDs, id)
	}
	return m, nil
}

// GetTM returns the cached TM for a pair, creating it on first use. The cache
// is dropped whenever the database handle has been swapped.
func (m *Manager) GetTM(sourceLang, targetLang string) *TM {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen := m.db.Generation(); gen != m.generation {
		clear(m.tms)
		m.generation = gen
	}
	pair := model.LangPair{SourceLang: sourceLang, TargetLang: targetLang}
	if t, ok := m.tms[pair]; ok {
		return t
	}
	t := New(sourceLang, targetLang, m.db.TU(sourceLang, targetLang))
	m.tms[pair] = t
	return t
}

// ClearCache drops every cached TM.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.tms)
	m.generation = m.db.Generation()
}

// GenerateJobGUID returns a new job id. In regression mode ids are
// "xxx<n>" where n is the current job count, or one past the last id handed
// out when that is higher.
func (m *Manager) GenerateJobGUID(ctx context.Context) (string, error) {
	if !m.regression {
		return uuid.NewString(), nil
	}
	m.jobMu.Lock()
	defer m.jobMu.Unlock()
	count, err := m.db.JobCount(ctx)
	if err != nil {
		return "", err
	}
	n := max(int64(count), m.nextJob)
	m.nextJob = n + 1
	return fmt.Sprintf("xxx%d", n), nil
}

func (m *Manager) newBlockID() string {
	if m.regression {
		return fmt.Sprintf("blk%d", m.blockSeq.Add(1))
	}
	return uuid.NewString()
}

// GetTmStore resolves a store by case-insensitive id.
func (m *Manager) GetTmStore(id string) (tmstore.Store, error) {
	s, ok := m.stores[strings.ToLower(id)]
	if !ok {
		return nil, &ConfigError{Store: id, Reason: "no such store is configured", Err: ErrUnknownStore}
	}
	return s, nil
}

// GetTmStoreInfo describes a configured store.
func (m *Manager) GetTmStoreInfo(id string) (tmstore.Info, error) {
	s, err := m.GetTmStore(id)
	if err != nil {
		return tmstore.Info{}, err
	}
	return s.Info(), nil
}

// TmStoreInfos describes every configured store in configuration order.
func (m *Manager) TmStoreInfos() []tmstore.Info {
	infos := make([]tmstore.Info, 0, len(m.storeIDs))
	for _, id := range m.storeIDs {
		infos = append(infos, m.stores[strings.ToLower(id)].Info())
	}
	return infos
}

// TMPairs lists the language pairs with local jobs.
func (m *Manager) TMPairs(ctx context.Context) ([]model.LangPair, error) {
	raw, err := m.db.AvailablePairs(ctx)
	if err != nil {
		return nil, err
	}
	pairs := make([]model.LangPair, 0, len(raw))
	for _, p := range raw {
		pairs = append(pairs, model.LangPair{SourceLang: p[0], TargetLang: p[1]})
	}
	return pairs, nil
}

// ProcessJob merges a job's results into the TM. Missing job fields are
// filled in: the guid, the update time and entry timestamps. The job keeps
// any store it is already owned by.
func (m *Manager) ProcessJob(ctx context.Context, job *model.Job) error {
	logger := contextutil.LoggerFromContext(ctx)

	if job == nil {
		return &ValidationError{Field: "job", Message: "cannot be nil"}
	}
	if job.SourceLang == "" || job.TargetLang == "" {
		return &ValidationError{Field: "sourceLang/targetLang", Message: "cannot be empty"}
	}
	if job.JobGUID == "" {
		guid, err := m.GenerateJobGUID(ctx)
		if err != nil {
			return WrapError(err, "failed to generate job guid")
		}
		job.JobGUID = guid
	}
	now := m.now().UTC()
	if job.UpdatedAt == "" {
		job.UpdatedAt = now.Format(time.RFC3339Nano)
	}
	if job.Status == "" {
		job.Status = model.JobStatusDone
	}
	for _, tu := range job.TUs {
		if tu.GUID == "" {
			return &ValidationError{Field: "tus.guid", Message: "cannot be empty"}
		}
		if tu.TS == 0 {
			tu.TS = now.UnixMilli()
		}
	}

	if err := m.GetTM(job.SourceLang, job.TargetLang).dal.SaveJob(ctx, job); err != nil {
		logger.ErrorContext(ctx, "failed to save job", "job_guid", job.JobGUID, "error", err)
		return WrapError(err, "failed to save job")
	}
	logger.InfoContext(ctx, "processed job",
		"job_guid", job.JobGUID,
		"source_lang", job.SourceLang,
		"target_lang", job.TargetLang,
		"status", job.Status,
		"tus", len(job.TUs),
	)
	return nil
}

// SaveChannel replaces the source segments of a channel, which status and
// untranslated-content queries join against.
func (m *Manager) SaveChannel(ctx context.Context, channel, sourceLang string, segments []*model.TU) error {
	if channel == "" || sourceLang == "" {
		return &ValidationError{Field: "channel/sourceLang", Message: "cannot be empty"}
	}
	if err := m.db.SaveChannel(ctx, channel, sourceLang, segments); err != nil {
		return WrapError(err, "failed to save channel")
	}
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "saved channel",
		"channel", channel, "source_lang", sourceLang, "segments", len(segments))
	return nil
}

// Ping checks that the local database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.Handle().PingContext(ctx)
}

// storePairs returns requested, or every pair the store holds when requested
// is empty.
func storePairs(ctx context.Context, store tmstore.Store, requested []model.LangPair) ([]model.LangPair, error) {
	if len(requested) > 0 {
		return requested, nil
	}
	pairs, err := store.AvailableLangPairs(ctx)
	if err != nil {
		return nil, WrapError(err, "failed to list store language pairs")
	}
	return pairs, nil
}

// owner returns the id used to tag jobs owned by store.
func owner(store tmstore.Store, alias string) string {
	return cmp.Or(alias, store.Info().ID)
}

// runPairs runs fn for every pair on the task queue, returning results in
// pair order. Failed pairs are logged and reported in the joined error.
func runPairs[T any](ctx context.Context, m *Manager, op string, pairs []model.LangPair, fn func(ctx context.Context, pair model.LangPair) (T, error)) ([]T, error) {
	logger := contextutil.LoggerFromContext(ctx)

	tasks := make([]taskqueue.Task[T], 0, len(pairs))
	for _, pair := range pairs {
		tasks = append(tasks, taskqueue.Task[T]{
			Name: pair.String(),
			Run: func(ctx context.Context) (T, error) {
				v, err := fn(ctx, pair)
				if err != nil {
					logger.ErrorContext(ctx, op+" failed",
						"source_lang", pair.SourceLang, "target_lang", pair.TargetLang, "error", err)
				}
				return v, err
			},
		})
	}
	results, err := taskqueue.Run(ctx, m.queue, tasks)
	return taskqueue.Values(results), err
}

// jobsByGUID loads jobs lazily as a block writer pulls them.
func jobsByGUID(ctx context.Context, dal storage.TUStore, guids []string) iter.Seq2[*model.Job, error] {
	return func(yield func(*model.Job, error) bool) {
		for _, guid := range guids {
			job, err := dal.GetJob(ctx, guid)
			if err != nil {
				yield(nil, fmt.Errorf("job %s: %w", guid, err))
				return
			}
			if !yield(job, nil) {
				return
			}
		}
	}
}

// appendUnique appends id unless it is already present.
func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
