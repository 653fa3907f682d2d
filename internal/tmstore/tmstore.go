// Package tmstore defines the contract of remote translation memory stores:
// named block stores with an access mode and a partitioning strategy.
package tmstore

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_store.go -package=mocks tmengine/internal/tmstore Store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"tmengine/internal/model"
)

// Access is what a store allows the engine to do.
type Access string

const (
	AccessReadWrite Access = "readwrite"
	AccessReadOnly  Access = "readonly"
	AccessWriteOnly Access = "writeonly"
)

// CanRead reports whether blocks may be pulled from the store.
func (a Access) CanRead() bool { return a != AccessWriteOnly }

// CanWrite reports whether blocks may be pushed to the store.
func (a Access) CanWrite() bool { return a != AccessReadOnly }

// ParseAccess validates an access mode. The empty string means readwrite.
func ParseAccess(s string) (Access, error) {
	switch a := Access(strings.ToLower(s)); a {
	case "":
		return AccessReadWrite, nil
	case AccessReadWrite, AccessReadOnly, AccessWriteOnly:
		return a, nil
	default:
		return "", fmt.Errorf("invalid access %q (must be readwrite, readonly or writeonly)", s)
	}
}

// Partitioning is how a store groups jobs into blocks.
type Partitioning string

const (
	PartitionNone     Partitioning = "none"
	PartitionJob      Partitioning = "job"
	PartitionProvider Partitioning = "provider"
	PartitionLanguage Partitioning = "language"
)

// ParsePartitioning validates a partitioning strategy. The empty string
// means language.
func ParsePartitioning(s string) (Partitioning, error) {
	switch p := Partitioning(strings.ToLower(s)); p {
	case "":
		return PartitionLanguage, nil
	case PartitionNone, PartitionJob, PartitionProvider, PartitionLanguage:
		return p, nil
	default:
		return "", fmt.Errorf("invalid partitioning %q (must be none, job, provider or language)", s)
	}
}

// Info describes a configured store.
type Info struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Access       Access       `json:"access"`
	Partitioning Partitioning `json:"partitioning"`
}

// BlockWriter writes one block of the open write session. The jobs sequence
// is consumed exactly once; an empty sequence removes the block.
type BlockWriter func(ctx context.Context, blockID string, jobs iter.Seq2[*model.Job, error]) error

// Store is a remote translation memory store.
type Store interface {
	// Info returns the store's identity, access mode and partitioning.
	Info() Info
	// AvailableLangPairs lists the language pairs the store holds.
	AvailableLangPairs(ctx context.Context) ([]model.LangPair, error)
	// TOC returns the table of contents for a pair. A pair without data
	// yields an empty TOC.
	TOC(ctx context.Context, sourceLang, targetLang string) (*model.TOC, error)
	// Blocks streams the requested blocks. The sequence is finite and not
	// restartable; iteration stops at the first error.
	Blocks(ctx context.Context, sourceLang, targetLang string, blockIDs []string) iter.Seq2[*model.Block, error]
	// Writer opens a write session for a pair and calls body with the
	// session's block writer. The session is finalized on every exit path.
	Writer(ctx context.Context, sourceLang, targetLang string, body func(write BlockWriter) error) error
}

// Session tracks the blocks written during a write session so that backends
// can commit a TOC for exactly those blocks, whatever way the body exits.
type Session struct {
	toc     *model.TOC
	changed map[string]bool
	now     func() string
}

// NewSession starts tracking changes against the store's current TOC.
func NewSession(toc *model.TOC, now func() string) *Session {
	if toc == nil {
		toc = model.NewTOC()
	}
	if toc.Blocks == nil {
		toc.Blocks = make(map[string]*model.TOCBlock)
	}
	return &Session{toc: toc, changed: make(map[string]bool), now: now}
}

// Collect drains jobs into a block. A nil block means the block was emptied
// and must be removed. The session's TOC is left untouched until Record.
func (s *Session) Collect(blockID string, jobs iter.Seq2[*model.Job, error]) (*model.Block, error) {
	block := &model.Block{BlockID: blockID, Modified: s.now()}
	for job, err := range jobs {
		if err != nil {
			return nil, fmt.Errorf("failed to read job for block %s: %w", blockID, err)
		}
		block.Jobs = append(block.Jobs, model.NewBlockJob(job))
	}
	if len(block.Jobs) == 0 {
		return nil, nil
	}
	return block, nil
}

// Record enters a block the backend has persisted into the session's TOC.
// A nil block removes the entry. Backends call it only after the block
// write or removal succeeded.
func (s *Session) Record(blockID string, block *model.Block) {
	s.changed[blockID] = true
	if block == nil {
		delete(s.toc.Blocks, blockID)
		return
	}
	entry := &model.TOCBlock{Modified: block.Modified}
	for _, bj := range block.Jobs {
		entry.Jobs = append(entry.Jobs, model.TOCJob{JobGUID: bj.JobProps.JobGUID, UpdatedAt: bj.JobProps.UpdatedAt})
	}
	s.toc.Blocks[blockID] = entry
}

// Changed returns the ids of the blocks recorded so far, sorted.
func (s *Session) Changed() []string {
	ids := make([]string, 0, len(s.changed))
	for id := range s.changed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TOC returns the session's view of the table of contents.
func (s *Session) TOC() *model.TOC {
	return s.toc
}

// Run executes body with write and then commit, joining their errors.
// commit runs even when body fails or panics, as long as some block was
// recorded.
func (s *Session) Run(body func(write BlockWriter) error, write BlockWriter, commit func() error) (err error) {
	defer func() {
		if len(s.changed) == 0 {
			return
		}
		if commitErr := commit(); commitErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to commit toc: %w", commitErr))
		}
	}()
	return body(write)
}

// SliceJobs adapts a slice to the sequence a BlockWriter consumes.
func SliceJobs(jobs []*model.Job) iter.Seq2[*model.Job, error] {
	return func(yield func(*model.Job, error) bool) {
		for _, j := range jobs {
			if !yield(j, nil) {
				return
			}
		}
	}
}

// ErrBlockNotFound is returned when a requested block does not exist.
var ErrBlockNotFound = errors.New("block not found")
