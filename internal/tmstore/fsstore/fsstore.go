// Package fsstore is a TM store kept in a directory tree:
//
//	<root>/<src>/<tgt>/toc.json
//	<root>/<src>/<tgt>/blocks/<blockId>.json[.lz4]
//
// Block files and the TOC are replaced atomically by rename.
package fsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"

	"tmengine/internal/model"
	"tmengine/internal/tmstore"
)

// Codec selects how block files are compressed.
type Codec string

const (
	// CodecNone stores plain JSON.
	CodecNone Codec = "none"
	// CodecLZ4 stores LZ4-framed JSON.
	CodecLZ4 Codec = "lz4"
)

const tocFile = "toc.json"

// Store is a directory-backed TM store.
type Store struct {
	info  tmstore.Info
	root  string
	codec Codec
	now   func() string
}

var _ tmstore.Store = (*Store)(nil)

// New creates a store rooted at root, creating the directory if needed.
func New(id, root string, access tmstore.Access, partitioning tmstore.Partitioning, codec Codec) (*Store, error) {
	if codec == "" {
		codec = CodecLZ4
	}
	if codec != CodecNone && codec != CodecLZ4 {
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{
		info:  tmstore.Info{ID: id, Type: "fs", Access: access, Partitioning: partitioning},
		root:  root,
		codec: codec,
		now:   func() string { return time.Now().UTC().Format(time.RFC3339Nano) },
	}, nil
}

// Info returns the store description.
func (s *Store) Info() tmstore.Info {
	return s.info
}

func (s *Store) pairDir(sourceLang, targetLang string) string {
	return filepath.Join(s.root, url.PathEscape(sourceLang), url.PathEscape(targetLang))
}

func (s *Store) blockPath(dir, blockID string) string {
	name := url.PathEscape(blockID) + ".json"
	if s.codec == CodecLZ4 {
		name += ".lz4"
	}
	return filepath.Join(dir, "blocks", name)
}

// AvailableLangPairs lists pair directories that contain a TOC.
func (s *Store) AvailableLangPairs(_ context.Context) ([]model.LangPair, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", "*", tocFile))
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}
	var pairs []model.LangPair
	for _, m := range matches {
		pairDir := filepath.Dir(m)
		src, err1 := url.PathUnescape(filepath.Base(filepath.Dir(pairDir)))
		tgt, err2 := url.PathUnescape(filepath.Base(pairDir))
		if err1 != nil || err2 != nil {
			continue
		}
		pairs = append(pairs, model.LangPair{SourceLang: src, TargetLang: tgt})
	}
	return pairs, nil
}

// TOC reads the pair's table of contents.
func (s *Store) TOC(_ context.Context, sourceLang, targetLang string) (*model.TOC, error) {
	raw, err := os.ReadFile(filepath.Join(s.pairDir(sourceLang, targetLang), tocFile))
	if errors.Is(err, os.ErrNotExist) {
		return model.NewTOC(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read toc: %w", err)
	}
	toc := model.NewTOC()
	if err := json.Unmarshal(raw, toc); err != nil {
		return nil, fmt.Errorf("failed to decode toc: %w", err)
	}
	if toc.Blocks == nil {
		toc.Blocks = make(map[string]*model.TOCBlock)
	}
	return toc, nil
}

// Blocks streams block files one at a time.
func (s *Store) Blocks(ctx context.Context, sourceLang, targetLang string, blockIDs []string) iter.Seq2[*model.Block, error] {
	dir := s.pairDir(sourceLang, targetLang)
	return func(yield func(*model.Block, error) bool) {
		for _, id := range blockIDs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			block, err := s.readBlock(dir, id)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(block, nil) {
				return
			}
		}
	}
}

func (s *Store) readBlock(dir, blockID string) (*model.Block, error) {
	raw, err := os.ReadFile(s.blockPath(dir, blockID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("block %s: %w", blockID, tmstore.ErrBlockNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", blockID, err)
	}
	data, err := decode(s.codec, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress block %s: %w", blockID, err)
	}
	var block model.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to decode block %s: %w", blockID, err)
	}
	return &block, nil
}

// Writer opens a write session. Block files are written as they arrive and
// the TOC file is rewritten once when the session ends.
func (s *Store) Writer(ctx context.Context, sourceLang, targetLang string, body func(write tmstore.BlockWriter) error) error {
	dir := s.pairDir(sourceLang, targetLang)
	if err := os.MkdirAll(filepath.Join(dir, "blocks"), 0o755); err != nil {
		return fmt.Errorf("failed to create pair directory: %w", err)
	}
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
		path := s.blockPath(dir, blockID)
		if block == nil {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to remove block %s: %w", blockID, err)
			}
			session.Record(blockID, nil)
			return nil
		}
		data, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("failed to encode block %s: %w", blockID, err)
		}
		if data, err = encode(s.codec, data); err != nil {
			return fmt.Errorf("failed to compress block %s: %w", blockID, err)
		}
		if err := writeFileAtomic(path, data); err != nil {
			return err
		}
		session.Record(blockID, block)
		return nil
	}

	commit := func() error {
		data, err := json.Marshal(session.TOC())
		if err != nil {
			return err
		}
		return writeFileAtomic(filepath.Join(dir, tocFile), data)
	}

	return session.Run(body, write, commit)
}

// BlockFiles lists the block files present for a pair, sorted.
func (s *Store) BlockFiles(sourceLang, targetLang string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.pairDir(sourceLang, targetLang), "blocks"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func encode(codec Codec, data []byte) ([]byte, error) {
	if codec == CodecNone {
		return data, nil
	}
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(codec Codec, data []byte) ([]byte, error) {
	if codec == CodecNone {
		return data, nil
	}
	reader := lz4.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
