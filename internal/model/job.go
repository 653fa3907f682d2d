package model

import (
	"encoding/json"
	"fmt"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusCreated   JobStatus = "created"
	JobStatusReq       JobStatus = "req"
	JobStatusPending   JobStatus = "pending"
	JobStatusDone      JobStatus = "done"
	JobStatusBlocked   JobStatus = "blocked"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is a unit of translation work for one language pair together with the
// translation units it produced.
type Job struct {
	SourceLang          string    `json:"sourceLang"`
	TargetLang          string    `json:"targetLang"`
	JobGUID             string    `json:"jobGuid"`
	Status              JobStatus `json:"status"`
	UpdatedAt           string    `json:"updatedAt"`
	TranslationProvider string    `json:"translationProvider,omitempty"`
	TUs                 []*TU     `json:"tus,omitempty"`
	Inflight            []string  `json:"inflight,omitempty"`

	// TmStore is the local ownership tag; it never travels to a store.
	TmStore string `json:"-"`
}

// Pair returns the job's language pair.
func (j *Job) Pair() LangPair {
	return LangPair{SourceLang: j.SourceLang, TargetLang: j.TargetLang}
}

// Props returns a copy of the job without its translation units.
func (j *Job) Props() *Job {
	props := *j
	props.TUs = nil
	return &props
}

// Block is the atomic unit of remote storage.
type Block struct {
	BlockID  string      `json:"blockId"`
	Modified string      `json:"modified"`
	Jobs     []*BlockJob `json:"jobs"`
}

// BlockJob is one (jobProps, tus) entry of a block.
type BlockJob struct {
	JobProps *Job  `json:"jobProps"`
	TUs      []*TU `json:"tus"`
}

// Job reassembles the entry into a job carrying its TUs.
func (b *BlockJob) Job() *Job {
	job := b.JobProps.Props()
	job.TUs = b.TUs
	return job
}

// NewBlockJob splits a job into its block entry.
func NewBlockJob(job *Job) *BlockJob {
	return &BlockJob{JobProps: job.Props(), TUs: job.TUs}
}

// TOC is a store's directory of blocks for one language pair.
type TOC struct {
	Version int                  `json:"v"`
	Blocks  map[string]*TOCBlock `json:"blocks"`
}

// NewTOC returns an empty table of contents.
func NewTOC() *TOC {
	return &TOC{Version: 1, Blocks: make(map[string]*TOCBlock)}
}

// TOCBlock describes one block: when it was modified and what jobs it holds.
type TOCBlock struct {
	Modified string   `json:"modified"`
	Jobs     []TOCJob `json:"jobs"`
}

// TOCJob is a [jobGuid, updatedAt] entry.
type TOCJob struct {
	JobGUID   string
	UpdatedAt string
}

// MarshalJSON encodes the entry as a two-element array.
func (j TOCJob) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{j.JobGUID, j.UpdatedAt})
}

// UnmarshalJSON decodes a two-element array.
func (j *TOCJob) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("toc job entry must have 2 elements, got %d", len(pair))
	}
	j.JobGUID, j.UpdatedAt = pair[0], pair[1]
	return nil
}

// JobBlocks maps every job guid in the TOC to the block holding it.
func (t *TOC) JobBlocks() map[string]string {
	out := make(map[string]string)
	for blockID, b := range t.Blocks {
		for _, j := range b.Jobs {
			out[j.JobGUID] = blockID
		}
	}
	return out
}

// DeltaRow relates a job's remote state (per the TOC) to its local state.
// Remote-only rows have an empty LocalJobGUID, local-only rows an empty
// RemoteJobGUID and BlockID.
type DeltaRow struct {
	BlockID         string `json:"blockId,omitempty"`
	RemoteJobGUID   string `json:"remoteJobGuid,omitempty"`
	RemoteUpdatedAt string `json:"remoteUpdatedAt,omitempty"`
	LocalJobGUID    string `json:"localJobGuid,omitempty"`
	LocalUpdatedAt  string `json:"localUpdatedAt,omitempty"`
	TmStore         string `json:"tmStore,omitempty"`
}

// IsRemote reports whether the job appears in the TOC.
func (r DeltaRow) IsRemote() bool { return r.RemoteJobGUID != "" }

// IsLocal reports whether the job exists locally.
func (r DeltaRow) IsLocal() bool { return r.LocalJobGUID != "" }

// Stale reports whether a job present on both sides has diverged timestamps.
func (r DeltaRow) Stale() bool {
	return r.IsRemote() && r.IsLocal() && r.RemoteUpdatedAt != r.LocalUpdatedAt
}
