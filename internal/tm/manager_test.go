package tm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"tmengine/internal/model"
	"tmengine/internal/tmstore"
	"tmengine/internal/tmstore/memstore"
	"tmengine/internal/tmstore/mocks"
)

func TestNewManager_DuplicateStore(t *testing.T) {
	a := memstore.New("Shared", tmstore.AccessReadWrite, tmstore.PartitionJob)
	b := memstore.New("shared", tmstore.AccessReadOnly, tmstore.PartitionJob)

	db := newTestManager(t).db
	_, err := NewManager(db, []tmstore.Store{a, b}, Options{})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Store != "shared" {
		t.Errorf("NewManager() error = %v, want ConfigError for shared", err)
	}
}

func TestManager_GetTM(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionJob)
	m := newTestManager(t, store)

	first := m.GetTM("en", "fr")
	if m.GetTM("en", "fr") != first {
		t.Error("GetTM() did not return the cached TM")
	}
	if m.GetTM("fr", "en") == first {
		t.Error("GetTM() shares a TM across reversed pairs")
	}

	_, err := m.Bootstrap(ctx, "shared", BootstrapOptions{Pairs: []model.LangPair{{SourceLang: "en", TargetLang: "fr"}}})
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if m.GetTM("en", "fr") == first {
		t.Error("GetTM() served a TM bound to the handle replaced by bootstrap")
	}
}

func TestManager_GenerateJobGUID(t *testing.T) {
	ctx := context.Background()

	t.Run("regression", func(t *testing.T) {
		m := newTestManager(t)
		var got []string
		for range 2 {
			guid, err := m.GenerateJobGUID(ctx)
			if err != nil {
				t.Fatalf("GenerateJobGUID() error = %v", err)
			}
			got = append(got, guid)
		}
		if got[0] != "xxx0" || got[1] != "xxx1" {
			t.Errorf("GenerateJobGUID() = %v, want [xxx0 xxx1]", got)
		}
	})

	t.Run("regression with saved jobs", func(t *testing.T) {
		m := newTestManager(t)
		var got []string
		for i := range 3 {
			job := testJob("", "mt", "t1", testTU(fmt.Sprintf("g%d", i), 80, 1, "x"))
			if err := m.ProcessJob(ctx, job); err != nil {
				t.Fatalf("ProcessJob() error = %v", err)
			}
			got = append(got, job.JobGUID)
		}
		if diff := cmp.Diff([]string{"xxx0", "xxx1", "xxx2"}, got); diff != "" {
			t.Errorf("generated job guids mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("uuid", func(t *testing.T) {
		m := newTestManager(t)
		m.regression = false
		guid, err := m.GenerateJobGUID(ctx)
		if err != nil {
			t.Fatalf("GenerateJobGUID() error = %v", err)
		}
		if _, err := uuid.Parse(guid); err != nil {
			t.Errorf("GenerateJobGUID() = %q, not a uuid", guid)
		}
	})
}

func TestManager_Stores(t *testing.T) {
	shared := memstore.New("Shared", tmstore.AccessReadOnly, tmstore.PartitionProvider)
	m := newTestManager(t, shared, memstore.New("backup", tmstore.AccessWriteOnly, tmstore.PartitionJob))

	info, err := m.GetTmStoreInfo("SHARED")
	if err != nil {
		t.Fatalf("GetTmStoreInfo() error = %v", err)
	}
	want := tmstore.Info{ID: "Shared", Type: "memory", Access: tmstore.AccessReadOnly, Partitioning: tmstore.PartitionProvider}
	if info != want {
		t.Errorf("GetTmStoreInfo() = %+v, want %+v", info, want)
	}

	if _, err := m.GetTmStore("nope"); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("GetTmStore() error = %v, want ErrUnknownStore", err)
	}

	infos := m.TmStoreInfos()
	if len(infos) != 2 || infos[0].ID != "Shared" || infos[1].ID != "backup" {
		t.Errorf("TmStoreInfos() = %+v", infos)
	}
}

func TestManager_ProcessJob(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	job := &model.Job{SourceLang: "en", TargetLang: "fr", TUs: []*model.TU{testTU("g1", 80, 0, "a")}}
	if err := m.ProcessJob(ctx, job); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}
	if job.JobGUID != "xxx0" || job.UpdatedAt == "" || job.Status != model.JobStatusDone {
		t.Errorf("ProcessJob() left job = %+v", job)
	}
	if job.TUs[0].TS == 0 {
		t.Error("ProcessJob() did not default the entry timestamp")
	}

	saved, err := m.GetTM("en", "fr").GetEntriesByJob(ctx, "xxx0")
	if err != nil {
		t.Fatalf("GetEntriesByJob() error = %v", err)
	}
	if len(saved) != 1 || saved[0].JobGUID != "xxx0" {
		t.Errorf("GetEntriesByJob() = %+v", saved)
	}

	pairs, err := m.TMPairs(ctx)
	if err != nil {
		t.Fatalf("TMPairs() error = %v", err)
	}
	if len(pairs) != 1 || pairs[0] != (model.LangPair{SourceLang: "en", TargetLang: "fr"}) {
		t.Errorf("TMPairs() = %v", pairs)
	}

	tests := []struct {
		name string
		job  *model.Job
	}{
		{name: "nil job", job: nil},
		{name: "missing pair", job: &model.Job{JobGUID: "j"}},
		{name: "entry without guid", job: &model.Job{SourceLang: "en", TargetLang: "fr", TUs: []*model.TU{{Q: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.ProcessJob(ctx, tt.job); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ProcessJob() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestManager_AccessChecks(t *testing.T) {
	ctx := context.Background()
	pairs := []model.LangPair{{SourceLang: "en", TargetLang: "fr"}}

	newStore := func(t *testing.T, access tmstore.Access) *mocks.MockStore {
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		store.EXPECT().Info().Return(tmstore.Info{ID: "remote", Type: "mock", Access: access, Partitioning: tmstore.PartitionJob}).AnyTimes()
		return store
	}

	tests := []struct {
		name   string
		access tmstore.Access
		run    func(m *Manager) error
	}{
		{
			name:   "sync down from write-only store",
			access: tmstore.AccessWriteOnly,
			run: func(m *Manager) error {
				_, err := m.SyncDown(ctx, "remote", SyncDownOptions{Pairs: pairs, DryRun: true})
				return err
			},
		},
		{
			name:   "sync up to read-only store",
			access: tmstore.AccessReadOnly,
			run: func(m *Manager) error {
				_, err := m.SyncUp(ctx, "remote", SyncUpOptions{Pairs: pairs})
				return err
			},
		},
		{
			name:   "bootstrap from write-only store",
			access: tmstore.AccessWriteOnly,
			run: func(m *Manager) error {
				_, err := m.Bootstrap(ctx, "remote", BootstrapOptions{Pairs: pairs})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// The mock fails the test on any call other than Info.
			m := newTestManager(t, newStore(t, tt.access))
			err := tt.run(m)
			if !errors.Is(err, ErrAccessDenied) {
				t.Errorf("error = %v, want ErrAccessDenied", err)
			}
		})
	}

	t.Run("sync up dry run on read-only store only plans", func(t *testing.T) {
		store := newStore(t, tmstore.AccessReadOnly)
		store.EXPECT().TOC(gomock.Any(), "en", "fr").Return(model.NewTOC(), nil)
		m := newTestManager(t, store)
		if err := m.ProcessJob(ctx, testJob("j1", "mt", "t1", testTU("g1", 80, 1, "a"))); err != nil {
			t.Fatalf("ProcessJob() error = %v", err)
		}

		results, err := m.SyncUp(ctx, "remote", SyncUpOptions{Pairs: pairs, IncludeUnassigned: true, DryRun: true})
		if err != nil {
			t.Fatalf("SyncUp() error = %v", err)
		}
		if len(results) != 1 || len(results[0].JobsToUpdate) != 1 {
			t.Errorf("SyncUp() = %+v", results)
		}
	})

	t.Run("store failure names the pair", func(t *testing.T) {
		store := newStore(t, tmstore.AccessReadWrite)
		store.EXPECT().TOC(gomock.Any(), "en", "fr").Return(nil, errors.New("unreachable"))
		m := newTestManager(t, store)

		_, err := m.SyncDown(ctx, "remote", SyncDownOptions{Pairs: pairs})
		if err == nil || !strings.Contains(err.Error(), "en→fr") {
			t.Errorf("SyncDown() error = %v, want it to name en→fr", err)
		}
	})
}
