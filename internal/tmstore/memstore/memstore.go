// Package memstore is an in-process TM store. Blocks are kept encoded so
// readers never share memory with writers.
package memstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"tmengine/internal/model"
	"tmengine/internal/tmstore"
)

type pairData struct {
	toc    *model.TOC
	blocks map[string][]byte
}

// Store is an in-memory TM store.
type Store struct {
	info tmstore.Info

	mu    sync.RWMutex
	pairs map[model.LangPair]*pairData

	now func() string
}

var _ tmstore.Store = (*Store)(nil)

// New creates an empty store.
func New(id string, access tmstore.Access, partitioning tmstore.Partitioning) *Store {
	return &Store{
		info:  tmstore.Info{ID: id, Type: "memory", Access: access, Partitioning: partitioning},
		pairs: make(map[model.LangPair]*pairData),
		now:   func() string { return time.Now().UTC().Format(time.RFC3339Nano) },
	}
}

// Info returns the store description.
func (s *Store) Info() tmstore.Info {
	return s.info
}

// AvailableLangPairs lists pairs with at least one block.
func (s *Store) AvailableLangPairs(_ context.Context) ([]model.LangPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pairs []model.LangPair
	for p, d := range s.pairs {
		if len(d.toc.Blocks) > 0 {
			pairs = append(pairs, p)
		}
	}
	slices.SortFunc(pairs, func(a, b model.LangPair) int {
		return cmp.Or(cmp.Compare(a.SourceLang, b.SourceLang), cmp.Compare(a.TargetLang, b.TargetLang))
	})
	return pairs, nil
}

// TOC returns a copy of the pair's table of contents.
func (s *Store) TOC(_ context.Context, sourceLang, targetLang string) (*model.TOC, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.pairs[model.LangPair{SourceLang: sourceLang, TargetLang: targetLang}]
	if !ok {
		return model.NewTOC(), nil
	}
	return cloneTOC(d.toc), nil
}

// Blocks streams the requested blocks.
func (s *Store) Blocks(ctx context.Context, sourceLang, targetLang string, blockIDs []string) iter.Seq2[*model.Block, error] {
	pair := model.LangPair{SourceLang: sourceLang, TargetLang: targetLang}
	return func(yield func(*model.Block, error) bool) {
		for _, id := range blockIDs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			s.mu.RLock()
			var raw []byte
			if d, ok := s.pairs[pair]; ok {
				raw = d.blocks[id]
			}
			s.mu.RUnlock()
			if raw == nil {
				yield(nil, fmt.Errorf("block %s: %w", id, tmstore.ErrBlockNotFound))
				return
			}
			var block model.Block
			if err := json.Unmarshal(raw, &block); err != nil {
				yield(nil, fmt.Errorf("failed to decode block %s: %w", id, err))
				return
			}
			if !yield(&block, nil) {
				return
			}
		}
	}
}

// Writer opens a write session. Blocks become visible as they are written;
// the TOC is published when the session ends.
func (s *Store) Writer(ctx context.Context, sourceLang, targetLang string, body func(write tmstore.BlockWriter) error) error {
	pair := model.LangPair{SourceLang: sourceLang, TargetLang: targetLang}
	toc, err := s.TOC(ctx, sourceLang, targetLang)
	if err != nil {
		return err
	}
	session := tmstore.NewSession(toc, s.now)

	write := func(ctx context.Context, blockID string, jobs iter.Seq2[*model.Job, error]) error {
		block, err := session.Collect(blockID, jobs)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		d := s.pairData(pair)
		if block == nil {
			delete(d.blocks, blockID)
			session.Record(blockID, nil)
			return nil
		}
		raw, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("failed to encode block %s: %w", blockID, err)
		}
		d.blocks[blockID] = raw
		session.Record(blockID, block)
		return nil
	}

	commit := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pairData(pair).toc = cloneTOC(session.TOC())
		return nil
	}

	return session.Run(body, write, commit)
}

func (s *Store) pairData(pair model.LangPair) *pairData {
	d, ok := s.pairs[pair]
	if !ok {
		d = &pairData{toc: model.NewTOC(), blocks: make(map[string][]byte)}
		s.pairs[pair] = d
	}
	return d
}

func cloneTOC(toc *model.TOC) *model.TOC {
	out := &model.TOC{Version: toc.Version, Blocks: make(map[string]*model.TOCBlock, len(toc.Blocks))}
	for id, b := range toc.Blocks {
		out.Blocks[id] = &model.TOCBlock{Modified: b.Modified, Jobs: slices.Clone(b.Jobs)}
	}
	return out
}
