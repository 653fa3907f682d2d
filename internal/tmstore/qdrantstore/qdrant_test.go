package qdrantstore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/qdrant/go-client/qdrant"

	"tmengine/internal/model"
	"tmengine/internal/tmstore"
)

// fakeClient keeps points in memory, keyed by uuid.
type fakeClient struct {
	mu          sync.Mutex
	collections map[string]bool
	points      map[string]*qdrant.RetrievedPoint
	upsertErr   error
	// failBlock makes upserts of that block id fail.
	failBlock string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		collections: make(map[string]bool),
		points:      make(map[string]*qdrant.RetrievedPoint),
	}
}

func (f *fakeClient) CollectionExists(_ context.Context, collection string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collections[collection], nil
}

func (f *fakeClient) CreateCollection(_ context.Context, request *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[request.GetCollectionName()] = true
	return nil
}

func (f *fakeClient) Upsert(_ context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	for _, p := range request.GetPoints() {
		if f.failBlock != "" && p.GetPayload()["block_id"].GetStringValue() == f.failBlock {
			return nil, errors.New("upsert rejected")
		}
	}
	for _, p := range request.GetPoints() {
		f.points[p.GetId().GetUuid()] = &qdrant.RetrievedPoint{Id: p.GetId(), Payload: p.GetPayload()}
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Get(_ context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*qdrant.RetrievedPoint
	for _, id := range request.GetIds() {
		if p, ok := f.points[id.GetUuid()]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeClient) Scroll(_ context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind := request.GetFilter().GetMust()[0].GetField().GetMatch().GetKeyword()
	ids := make([]string, 0, len(f.points))
	for id, p := range f.points {
		if p.GetPayload()["kind"].GetStringValue() == kind {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	if request.GetOffset() != nil {
		start, _ := slices.BinarySearch(ids, request.GetOffset().GetUuid())
		ids = ids[start:]
	}
	if limit := int(request.GetLimit()); len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*qdrant.RetrievedPoint, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.points[id])
	}
	return out, nil
}

func (f *fakeClient) Delete(_ context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range request.GetPoints().GetPoints().GetIds() {
		delete(f.points, id.GetUuid())
	}
	return &qdrant.UpdateResult{}, nil
}

func testJob(guid string) *model.Job {
	return &model.Job{
		SourceLang: "en",
		TargetLang: "de",
		JobGUID:    guid,
		Status:     model.JobStatusDone,
		UpdatedAt:  "2024-03-01T00:00:00Z",
		TUs:        []*model.TU{{GUID: "g-" + guid, Q: 90, TS: 2}},
	}
}

func TestGRPCAddress(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "http port", url: "http://localhost:6333", wantHost: "localhost", wantPort: 6334},
		{name: "custom port", url: "http://qdrant.internal:7000", wantHost: "qdrant.internal", wantPort: 7001},
		{name: "no port", url: "http://qdrant", wantHost: "qdrant", wantPort: 6334},
		{name: "no host", url: "", wantHost: "localhost", wantPort: 6334},
		{name: "invalid", url: "://bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, err := grpcAddress(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("grpcAddress() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if host != tt.wantHost || port != tt.wantPort {
				t.Errorf("grpcAddress() = %s:%d, want %s:%d", host, port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestPointID_Stable(t *testing.T) {
	a := pointID("en", "de", kindBlock, "b1").GetUuid()
	if a != pointID("en", "de", kindBlock, "b1").GetUuid() {
		t.Error("pointID() not deterministic")
	}
	if a == pointID("en", "de", kindTOC, "b1").GetUuid() {
		t.Error("pointID() ignores kind")
	}
	if pointID("en", "de-AT", kindBlock, "x").GetUuid() == pointID("en", "de", kindBlock, "AT\x00x").GetUuid() {
		t.Error("pointID() collision across fields")
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := newStore("q", client, "tm", tmstore.AccessReadWrite, tmstore.PartitionJob)

	if err := s.Ping(ctx); err == nil {
		t.Error("Ping() expected error before collection exists")
	}
	if err := s.EnsureCollection(ctx); err != nil {
		t.Fatalf("EnsureCollection() error = %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	err := s.Writer(ctx, "en", "de", func(write tmstore.BlockWriter) error {
		for _, guid := range []string{"j1", "j2"} {
			if err := write(ctx, guid, tmstore.SliceJobs([]*model.Job{testJob(guid)})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}

	toc, err := s.TOC(ctx, "en", "de")
	if err != nil {
		t.Fatalf("TOC() error = %v", err)
	}
	if len(toc.Blocks) != 2 {
		t.Errorf("TOC() blocks = %d, want 2", len(toc.Blocks))
	}

	var got []*model.Job
	for block, err := range s.Blocks(ctx, "en", "de", []string{"j2"}) {
		if err != nil {
			t.Fatalf("Blocks() error = %v", err)
		}
		got = append(got, block.Jobs[0].Job())
	}
	if diff := cmp.Diff([]*model.Job{testJob("j2")}, got); diff != "" {
		t.Errorf("Blocks() mismatch (-want +got):\n%s", diff)
	}

	pairs, err := s.AvailableLangPairs(ctx)
	if err != nil {
		t.Fatalf("AvailableLangPairs() error = %v", err)
	}
	if diff := cmp.Diff([]model.LangPair{{SourceLang: "en", TargetLang: "de"}}, pairs); diff != "" {
		t.Errorf("AvailableLangPairs() mismatch (-want +got):\n%s", diff)
	}

	// An empty block removes its point and its TOC entry.
	err = s.Writer(ctx, "en", "de", func(write tmstore.BlockWriter) error {
		return write(ctx, "j1", tmstore.SliceJobs(nil))
	})
	if err != nil {
		t.Fatalf("Writer() error = %v", err)
	}
	toc, _ = s.TOC(ctx, "en", "de")
	if _, ok := toc.Blocks["j1"]; ok || len(toc.Blocks) != 1 {
		t.Errorf("TOC() after delete = %v", toc.Blocks)
	}
	for _, err := range s.Blocks(ctx, "en", "de", []string{"j1"}) {
		if !errors.Is(err, tmstore.ErrBlockNotFound) {
			t.Errorf("Blocks() error = %v, want ErrBlockNotFound", err)
		}
	}
}

func TestStore_AvailableLangPairsPaging(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	s := newStore("q", client, "tm", tmstore.AccessReadWrite, tmstore.PartitionLanguage)

	want := scrollPage + 3
	for i := range want {
		tgt := "t" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		err := s.Writer(ctx, "en", tgt, func(write tmstore.BlockWriter) error {
			return write(ctx, "b", tmstore.SliceJobs([]*model.Job{testJob("j")}))
		})
		if err != nil {
			t.Fatalf("Writer() error = %v", err)
		}
	}

	pairs, err := s.AvailableLangPairs(ctx)
	if err != nil {
		t.Fatalf("AvailableLangPairs() error = %v", err)
	}
	if len(pairs) != want {
		t.Errorf("AvailableLangPairs() = %d pairs, want %d", len(pairs), want)
	}
}

func TestStore_UpsertError(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.upsertErr = errors.New("unavailable")
	s := newStore("q", client, "tm", tmstore.AccessReadWrite, tmstore.PartitionJob)

	err := s.Writer(ctx, "en", "de", func(write tmstore.BlockWriter) error {
		return write(ctx, "j1", tmstore.SliceJobs([]*model.Job{testJob("j1")}))
	})
	if err == nil {
		t.Error("Writer() expected error")
	}
}

func TestStore_FailedBlockNotInTOC(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.failBlock = "j2"
	s := newStore("q", client, "tm", tmstore.AccessReadWrite, tmstore.PartitionJob)

	err := s.Writer(ctx, "en", "de", func(write tmstore.BlockWriter) error {
		for _, guid := range []string{"j1", "j2"} {
			if err := write(ctx, guid, tmstore.SliceJobs([]*model.Job{testJob(guid)})); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		t.Fatal("Writer() expected error")
	}

	toc, err := s.TOC(ctx, "en", "de")
	if err != nil {
		t.Fatalf("TOC() error = %v", err)
	}
	if _, ok := toc.Blocks["j1"]; !ok || len(toc.Blocks) != 1 {
		t.Errorf("TOC() blocks = %v, want only j1", toc.Blocks)
	}
}
