package fsstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tmengine/internal/model"
	"tmengine/internal/normalize"
	"tmengine/internal/tmstore"
)

func testJob(guid string) *model.Job {
	return &model.Job{
		SourceLang: "en",
		TargetLang: "fr",
		JobGUID:    guid,
		Status:     model.JobStatusDone,
		UpdatedAt:  "2024-01-01T00:00:00Z",
		TUs: []*model.TU{{
			GUID: "g-" + guid,
			NTgt: normalize.String{normalize.TextPart("Bonjour "), normalize.PhPart(normalize.KindX, "{name}")},
			Q:    80,
			TS:   1,
		}},
	}
}

func TestStore_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		file  string
	}{
		{name: "lz4", codec: CodecLZ4, file: "b%2F1.json.lz4"},
		{name: "plain", codec: CodecNone, file: "b%2F1.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, err := New("fs", t.TempDir(), tmstore.AccessReadWrite, tmstore.PartitionLanguage, tt.codec)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			jobs := []*model.Job{testJob("j1"), testJob("j2")}
			err = s.Writer(ctx, "en", "fr", func(write tmstore.BlockWriter) error {
				return write(ctx, "b/1", tmstore.SliceJobs(jobs))
			})
			if err != nil {
				t.Fatalf("Writer() error = %v", err)
			}

			files, err := s.BlockFiles("en", "fr")
			if err != nil {
				t.Fatalf("BlockFiles() error = %v", err)
			}
			if diff := cmp.Diff([]string{tt.file}, files); diff != "" {
				t.Errorf("BlockFiles() mismatch (-want +got):\n%s", diff)
			}

			toc, err := s.TOC(ctx, "en", "fr")
			if err != nil {
				t.Fatalf("TOC() error = %v", err)
			}
			if got := len(toc.Blocks["b/1"].Jobs); got != 2 {
				t.Errorf("TOC() jobs = %d, want 2", got)
			}

			for block, err := range s.Blocks(ctx, "en", "fr", []string{"b/1"}) {
				if err != nil {
					t.Fatalf("Blocks() error = %v", err)
				}
				if diff := cmp.Diff(jobs[1].TUs, block.Jobs[1].TUs); diff != "" {
					t.Errorf("block TUs mismatch (-want +got):\n%s", diff)
				}
			}

			pairs, err := s.AvailableLangPairs(ctx)
			if err != nil {
				t.Fatalf("AvailableLangPairs() error = %v", err)
			}
			if diff := cmp.Diff([]model.LangPair{{SourceLang: "en", TargetLang: "fr"}}, pairs); diff != "" {
				t.Errorf("AvailableLangPairs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_MissingData(t *testing.T) {
	ctx := context.Background()
	s, err := New("fs", t.TempDir(), tmstore.AccessReadOnly, tmstore.PartitionJob, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	toc, err := s.TOC(ctx, "en", "de")
	if err != nil {
		t.Fatalf("TOC() error = %v", err)
	}
	if len(toc.Blocks) != 0 {
		t.Errorf("TOC() of empty pair = %+v", toc)
	}
	for _, err := range s.Blocks(ctx, "en", "de", []string{"nope"}) {
		if !errors.Is(err, tmstore.ErrBlockNotFound) {
			t.Errorf("Blocks() error = %v, want ErrBlockNotFound", err)
		}
	}

	if _, err := New("fs", t.TempDir(), tmstore.AccessReadOnly, tmstore.PartitionJob, "zstd"); err == nil {
		t.Error("New() expected error for unsupported codec")
	}
}

func TestStore_FailedBlockNotInTOC(t *testing.T) {
	ctx := context.Background()
	s, err := New("fs", t.TempDir(), tmstore.AccessReadWrite, tmstore.PartitionJob, CodecNone)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = s.Writer(ctx, "en", "fr", func(write tmstore.BlockWriter) error {
		if err := write(ctx, "j1", tmstore.SliceJobs([]*model.Job{testJob("j1")})); err != nil {
			return err
		}
		// A directory where the block file belongs makes the rename fail.
		if err := os.Mkdir(s.blockPath(s.pairDir("en", "fr"), "j2"), 0o755); err != nil {
			return err
		}
		return write(ctx, "j2", tmstore.SliceJobs([]*model.Job{testJob("j2")}))
	})
	if err == nil {
		t.Fatal("Writer() expected error")
	}

	toc, err := s.TOC(ctx, "en", "fr")
	if err != nil {
		t.Fatalf("TOC() error = %v", err)
	}
	if _, ok := toc.Blocks["j1"]; !ok || len(toc.Blocks) != 1 {
		t.Errorf("TOC() blocks = %v, want only j1", toc.Blocks)
	}
}
