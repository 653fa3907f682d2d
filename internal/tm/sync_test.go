package tm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tmengine/internal/model"
	"tmengine/internal/storage"
	"tmengine/internal/tmstore"
	"tmengine/internal/tmstore/memstore"
)

// tocJobs maps every block of the store's en→fr TOC to its job guids.
func tocJobs(t *testing.T, store tmstore.Store) map[string][]string {
	t.Helper()
	toc, err := store.TOC(context.Background(), "en", "fr")
	if err != nil {
		t.Fatalf("TOC() error = %v", err)
	}
	out := make(map[string][]string, len(toc.Blocks))
	for id, b := range toc.Blocks {
		for _, j := range b.Jobs {
			out[id] = append(out[id], j.JobGUID)
		}
	}
	return out
}

func writeBlock(t *testing.T, store tmstore.Store, blockID string, jobs ...*model.Job) {
	t.Helper()
	ctx := context.Background()
	err := store.Writer(ctx, "en", "fr", func(write tmstore.BlockWriter) error {
		return write(ctx, blockID, tmstore.SliceJobs(jobs))
	})
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
}

func saveOwned(t *testing.T, m *Manager, job *model.Job, owner string) {
	t.Helper()
	job.TmStore = owner
	if err := m.GetTM("en", "fr").dal.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}
}

func TestSyncDown_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionJob)
	writeBlock(t, store, "j1", testJob("j1", "mt", "t1", testTU("g1", 80, 1, "a")))
	writeBlock(t, store, "j2", testJob("j2", "mt", "t1", testTU("g2", 80, 1, "b")))

	for _, eraseParent := range []bool{false, true} {
		t.Run(fmt.Sprintf("eraseParentTmStore=%v", eraseParent), func(t *testing.T) {
			m := newTestManager(t, store)
			opts := SyncDownOptions{DeleteExtraJobs: true, EraseParentTmStore: eraseParent}
			if _, err := m.SyncDown(ctx, "shared", opts); err != nil {
				t.Fatalf("SyncDown() error = %v", err)
			}
			second, err := m.SyncDown(ctx, "shared", opts)
			if err != nil {
				t.Fatalf("SyncDown() error = %v", err)
			}
			want := []SyncDownResult{{SourceLang: "en", TargetLang: "fr", BlocksToStore: []string{}, JobsToDelete: []string{}}}
			if diff := cmp.Diff(want, second); diff != "" {
				t.Errorf("second SyncDown() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSyncDown_FetchesWholeBlock(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionLanguage)
	var jobs []*model.Job
	for i := range 10 {
		jobs = append(jobs, testJob(fmt.Sprintf("j%d", i), "mt", "t1", testTU(fmt.Sprintf("g%d", i), 80, 1, "x")))
	}
	writeBlock(t, store, "b1", jobs...)

	m := newTestManager(t, store)
	for _, j := range jobs[:3] {
		local := *j
		saveOwned(t, m, &local, "shared")
	}

	plan, err := m.SyncDown(ctx, "shared", SyncDownOptions{DryRun: true})
	if err != nil {
		t.Fatalf("SyncDown() error = %v", err)
	}
	if diff := cmp.Diff([]string{"b1"}, plan[0].BlocksToStore); diff != "" {
		t.Errorf("BlocksToStore mismatch (-want +got):\n%s", diff)
	}
	if n, _ := m.db.JobCount(ctx); n != 3 {
		t.Errorf("dry run changed job count to %d", n)
	}

	res, err := m.SyncDown(ctx, "shared", SyncDownOptions{})
	if err != nil {
		t.Fatalf("SyncDown() error = %v", err)
	}
	if res[0].JobsStored != 10 {
		t.Errorf("JobsStored = %d, want 10", res[0].JobsStored)
	}
	if n, _ := m.db.JobCount(ctx); n != 10 {
		t.Errorf("JobCount() = %d, want 10", n)
	}
}

func TestSyncDown_OwnershipAndDeletes(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionLanguage)
	writeBlock(t, store, "b1",
		testJob("j1", "mt", "t2", testTU("g1", 80, 1, "remote")),
		testJob("j2", "mt", "t2", testTU("g2", 80, 1, "remote")),
	)

	m := newTestManager(t, store)
	saveOwned(t, m, testJob("j1", "mt", "t1", testTU("g1", 80, 1, "local")), "other")
	saveOwned(t, m, testJob("gone", "mt", "t1", testTU("g3", 80, 1, "local")), "shared")
	saveOwned(t, m, testJob("mine", "mt", "t1", testTU("g4", 80, 1, "local")), "")

	plan, err := m.SyncDown(ctx, "shared", SyncDownOptions{DeleteExtraJobs: true, DryRun: true})
	if err != nil {
		t.Fatalf("SyncDown() error = %v", err)
	}
	want := SyncDownResult{SourceLang: "en", TargetLang: "fr", BlocksToStore: []string{"b1"}, JobsToDelete: []string{"gone"}}
	if diff := cmp.Diff(want, plan[0]); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.SyncDown(ctx, "shared", SyncDownOptions{DeleteExtraJobs: true}); err != nil {
		t.Fatalf("SyncDown() error = %v", err)
	}
	dal := m.GetTM("en", "fr").dal
	if _, err := dal.GetJob(ctx, "gone"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetJob(gone) error = %v, want ErrNotFound", err)
	}
	if _, err := dal.GetJob(ctx, "mine"); err != nil {
		t.Errorf("unassigned job was deleted: %v", err)
	}
	j1, err := dal.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob(j1) error = %v", err)
	}
	if j1.TmStore != "other" || j1.UpdatedAt != "t1" {
		t.Errorf("job owned by another store was overwritten: owner %s, updatedAt %s", j1.TmStore, j1.UpdatedAt)
	}
	j2, err := dal.GetJob(ctx, "j2")
	if err != nil || j2.TmStore != "shared" {
		t.Errorf("GetJob(j2) = %+v, %v; want owner shared", j2, err)
	}
}

func TestSyncDown_KeepsUnassignedLocalJobs(t *testing.T) {
	ctx := context.Background()

	t.Run("pushed without assignment then edited", func(t *testing.T) {
		store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionJob)
		m := newTestManager(t, store)
		saveOwned(t, m, testJob("j1", "mt", "t1", testTU("g1", 80, 1, "old")), "")
		if _, err := m.SyncUp(ctx, "shared", SyncUpOptions{IncludeUnassigned: true}); err != nil {
			t.Fatalf("SyncUp() error = %v", err)
		}
		saveOwned(t, m, testJob("j1", "mt", "t2", testTU("g1", 90, 2, "new local")), "")

		res, err := m.SyncDown(ctx, "shared", SyncDownOptions{})
		if err != nil {
			t.Fatalf("SyncDown() error = %v", err)
		}
		if len(res[0].BlocksToStore) != 0 || res[0].JobsStored != 0 {
			t.Errorf("SyncDown() = %+v, want nothing stored", res[0])
		}
		j1, err := m.GetTM("en", "fr").dal.GetJob(ctx, "j1")
		if err != nil {
			t.Fatalf("GetJob() error = %v", err)
		}
		if j1.UpdatedAt != "t2" || j1.TmStore != "" {
			t.Errorf("local job = updatedAt %s owner %q, want t2 unassigned", j1.UpdatedAt, j1.TmStore)
		}
		if diff := cmp.Diff(map[string]string{"g1": "j1:new local"}, winners(t, m)); diff != "" {
			t.Errorf("winners mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("block fetched for another job", func(t *testing.T) {
		store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionLanguage)
		writeBlock(t, store, "b1",
			testJob("j1", "mt", "t1", testTU("g1", 80, 1, "old")),
			testJob("j2", "mt", "t1", testTU("g2", 80, 1, "remote")),
		)
		m := newTestManager(t, store)
		saveOwned(t, m, testJob("j1", "mt", "t2", testTU("g1", 90, 2, "new local")), "")

		res, err := m.SyncDown(ctx, "shared", SyncDownOptions{})
		if err != nil {
			t.Fatalf("SyncDown() error = %v", err)
		}
		if diff := cmp.Diff([]string{"b1"}, res[0].BlocksToStore); diff != "" {
			t.Errorf("BlocksToStore mismatch (-want +got):\n%s", diff)
		}
		if res[0].JobsStored != 1 {
			t.Errorf("JobsStored = %d, want 1", res[0].JobsStored)
		}
		want := map[string]string{"g1": "j1:new local", "g2": "j2:remote"}
		if diff := cmp.Diff(want, winners(t, m)); diff != "" {
			t.Errorf("winners mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSyncUp_Partitioning(t *testing.T) {
	ctx := context.Background()
	jobs := func() []*model.Job {
		return []*model.Job{
			testJob("j1", "mt", "t1", testTU("g1", 80, 1, "a")),
			testJob("j2", "mt", "t1", testTU("g2", 80, 1, "b")),
			testJob("j3", "human", "t1", testTU("g3", 80, 1, "c")),
		}
	}

	tests := []struct {
		name         string
		partitioning tmstore.Partitioning
		want         map[string][]string
	}{
		{
			name:         "job",
			partitioning: tmstore.PartitionJob,
			want:         map[string][]string{"j1": {"j1"}, "j2": {"j2"}, "j3": {"j3"}},
		},
		{
			name:         "provider",
			partitioning: tmstore.PartitionProvider,
			want:         map[string][]string{"blk1": {"j3"}, "blk2": {"j1", "j2"}},
		},
		{
			name:         "language",
			partitioning: tmstore.PartitionLanguage,
			want:         map[string][]string{"blk1": {"j1", "j2", "j3"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memstore.New("shared", tmstore.AccessReadWrite, tt.partitioning)
			m := newTestManager(t, store)
			for _, j := range jobs() {
				if err := m.ProcessJob(ctx, j); err != nil {
					t.Fatalf("ProcessJob() error = %v", err)
				}
			}

			opts := SyncUpOptions{IncludeUnassigned: true, AssignUnassigned: true}
			if _, err := m.SyncUp(ctx, "shared", opts); err != nil {
				t.Fatalf("SyncUp() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, tocJobs(t, store)); diff != "" {
				t.Errorf("TOC mismatch (-want +got):\n%s", diff)
			}

			again, err := m.SyncUp(ctx, "shared", SyncUpOptions{DryRun: true})
			if err != nil {
				t.Fatalf("SyncUp() error = %v", err)
			}
			if len(again[0].BlocksToUpdate) != 0 || len(again[0].JobsToUpdate) != 0 {
				t.Errorf("second SyncUp() plan = %+v, want nothing to do", again[0])
			}
		})
	}
}

func TestSyncUp_DryRunAndUnassigned(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionJob)
	m := newTestManager(t, store)
	if err := m.ProcessJob(ctx, testJob("free", "mt", "t1", testTU("g1", 80, 1, "a"))); err != nil {
		t.Fatalf("ProcessJob() error = %v", err)
	}
	saveOwned(t, m, testJob("owned", "mt", "t1", testTU("g2", 80, 1, "b")), "shared")
	saveOwned(t, m, testJob("foreign", "mt", "t1", testTU("g3", 80, 1, "c")), "other")

	tests := []struct {
		name string
		opts SyncUpOptions
		want []string
	}{
		{name: "owned only", opts: SyncUpOptions{DryRun: true}, want: []string{"owned"}},
		{name: "with unassigned", opts: SyncUpOptions{DryRun: true, IncludeUnassigned: true}, want: []string{"owned", "free"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := m.SyncUp(ctx, "shared", tt.opts)
			if err != nil {
				t.Fatalf("SyncUp() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, plan[0].JobsToUpdate); diff != "" {
				t.Errorf("JobsToUpdate mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if got := tocJobs(t, store); len(got) != 0 {
		t.Errorf("dry run wrote to the store: %v", got)
	}

	// Without assignment the pushed unassigned job stays unassigned locally.
	if _, err := m.SyncUp(ctx, "shared", SyncUpOptions{IncludeUnassigned: true}); err != nil {
		t.Fatalf("SyncUp() error = %v", err)
	}
	free, err := m.GetTM("en", "fr").dal.GetJob(ctx, "free")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if free.TmStore != "" {
		t.Errorf("free job owner = %q, want unassigned", free.TmStore)
	}
	want := map[string][]string{"free": {"free"}, "owned": {"owned"}}
	if diff := cmp.Diff(want, tocJobs(t, store)); diff != "" {
		t.Errorf("TOC mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncUp_StaleAndEmptyBlocks(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionLanguage)
	writeBlock(t, store, "b1",
		testJob("j1", "mt", "t1", testTU("g1", 80, 1, "a")),
		testJob("orphan", "mt", "t1", testTU("g2", 80, 1, "b")),
	)
	m := newTestManager(t, store)
	saveOwned(t, m, testJob("j1", "mt", "t2", testTU("g1", 90, 2, "a2")), "shared")

	plan, err := m.SyncUp(ctx, "shared", SyncUpOptions{DryRun: true})
	if err != nil {
		t.Fatalf("SyncUp() error = %v", err)
	}
	want := []BlockUpdate{{BlockID: "b1", JobGUIDs: []string{"j1"}}}
	if diff := cmp.Diff(want, plan[0].BlocksToUpdate); diff != "" {
		t.Errorf("BlocksToUpdate mismatch (-want +got):\n%s", diff)
	}

	if _, err := m.SyncUp(ctx, "shared", SyncUpOptions{}); err != nil {
		t.Fatalf("SyncUp() error = %v", err)
	}
	toc, _ := store.TOC(ctx, "en", "fr")
	if got := toc.Blocks["b1"].Jobs; len(got) != 1 || got[0].UpdatedAt != "t2" {
		t.Errorf("b1 jobs = %+v, want j1 at t2", got)
	}

	// A block left with nothing valid is removed only with DeleteEmptyBlocks.
	writeBlock(t, store, "b2", testJob("stray", "mt", "t1", testTU("g9", 80, 1, "z")))
	plan, err = m.SyncUp(ctx, "shared", SyncUpOptions{DryRun: true})
	if err != nil {
		t.Fatalf("SyncUp() error = %v", err)
	}
	if len(plan[0].BlocksToUpdate) != 0 {
		t.Errorf("BlocksToUpdate = %+v, want none without DeleteEmptyBlocks", plan[0].BlocksToUpdate)
	}
	if _, err := m.SyncUp(ctx, "shared", SyncUpOptions{DeleteEmptyBlocks: true}); err != nil {
		t.Fatalf("SyncUp() error = %v", err)
	}
	want2 := map[string][]string{"b1": {"j1"}}
	if diff := cmp.Diff(want2, tocJobs(t, store)); diff != "" {
		t.Errorf("TOC mismatch (-want +got):\n%s", diff)
	}
}

func TestSync_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("shared", tmstore.AccessReadWrite, tmstore.PartitionProvider)

	source := newTestManager(t, store)
	for _, j := range []*model.Job{
		testJob("j1", "mt", "t1", testTU("g1", 80, 2000, "a"), testTU("g2", 50, 1, "b")),
		testJob("j2", "mt", "t1", testTU("g1", 90, 1000, "c")),
		testJob("j3", "human", "t1", testTU("g2", 50, 5, "d"), testTU("g3", 70, 1, "e")),
	} {
		if err := source.ProcessJob(ctx, j); err != nil {
			t.Fatalf("ProcessJob() error = %v", err)
		}
	}
	want := map[string]string{"g1": "j2:c", "g2": "j3:d", "g3": "j3:e"}
	if diff := cmp.Diff(want, winners(t, source)); diff != "" {
		t.Fatalf("source winners mismatch (-want +got):\n%s", diff)
	}

	if _, err := source.SyncUp(ctx, "shared", SyncUpOptions{IncludeUnassigned: true, AssignUnassigned: true}); err != nil {
		t.Fatalf("SyncUp() error = %v", err)
	}

	t.Run("bootstrap", func(t *testing.T) {
		target := newTestManager(t, store)
		res, err := target.Bootstrap(ctx, "shared", BootstrapOptions{})
		if err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		wantRes := []BootstrapResult{{SourceLang: "en", TargetLang: "fr", JobCount: 3, TUCount: 5}}
		if diff := cmp.Diff(wantRes, res); diff != "" {
			t.Errorf("Bootstrap() mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(want, winners(t, target)); diff != "" {
			t.Errorf("bootstrapped winners mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("sync down", func(t *testing.T) {
		target := newTestManager(t, store)
		if _, err := target.SyncDown(ctx, "shared", SyncDownOptions{}); err != nil {
			t.Fatalf("SyncDown() error = %v", err)
		}
		if diff := cmp.Diff(want, winners(t, target)); diff != "" {
			t.Errorf("synced winners mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("bootstrap dry run", func(t *testing.T) {
		target := newTestManager(t, store)
		res, err := target.Bootstrap(ctx, "shared", BootstrapOptions{DryRun: true})
		if err != nil {
			t.Fatalf("Bootstrap() error = %v", err)
		}
		if len(res) != 1 || res[0].JobCount != 0 {
			t.Errorf("Bootstrap() dry run = %+v", res)
		}
		if n, _ := target.db.JobCount(ctx); n != 0 {
			t.Errorf("dry run loaded %d jobs", n)
		}
	})
}

func TestBlockUpdate_JSON(t *testing.T) {
	b := BlockUpdate{BlockID: "b1", JobGUIDs: []string{"j1", "j2"}}
	raw, err := b.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	if string(raw) != `["b1",["j1","j2"]]` {
		t.Errorf("MarshalJSON() = %s", raw)
	}
	var got BlockUpdate
	if err := got.UnmarshalJSON(raw); err != nil {
		t.Fatalf("UnmarshalJSON() error = %v", err)
	}
	if got.BlockID != "b1" || !slices.Equal(got.JobGUIDs, b.JobGUIDs) {
		t.Errorf("UnmarshalJSON() = %+v", got)
	}
}
