// SPDX-License-Identifier: MIT

package translate

import (
	"time"

	"github.com/submaker/submaker/internal/subtitle"
)

// Status of a cached translation entry.
type Status string

const (
	StatusInFlight Status = "in_flight"
	StatusPartial  Status = "partial"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Entry is the persisted state of one translation build. Batches complete
// in order, but the bitset keeps completeness independent of ordering
// assumptions.
type Entry struct {
	CacheKey string `json:"cacheKey"`
	BaseKey  string `json:"baseKey"`
	Language string `json:"language"`

	Status           Status `json:"status"`
	TotalBatches     int    `json:"totalBatches"`
	CompletedBatches uint64 `json:"completedBatches"` // bitset, batch i = bit i

	// Cues holds the translated cues for completed batches; untranslated
	// slots carry the source text so partial delivery stays aligned.
	Cues []subtitle.Cue `json:"cues"`

	// OwnerConfigHash records which configuration built a bypass entry.
	OwnerConfigHash string `json:"ownerConfigHash,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MaxBatches bounds TotalBatches so the bitset fits a uint64.
const MaxBatches = 64

// markBatch sets the completion bit for batch i.
func (e *Entry) markBatch(i int) {
	e.CompletedBatches |= 1 << uint(i)
}

// BatchDone reports whether batch i completed.
func (e *Entry) BatchDone(i int) bool {
	return e.CompletedBatches&(1<<uint(i)) != 0
}

// Complete reports whether every batch completed.
func (e *Entry) Complete() bool {
	if e.TotalBatches <= 0 {
		return false
	}
	return e.CompletedBatches == (uint64(1)<<uint(e.TotalBatches))-1
}

// CompletedCount returns how many batches completed.
func (e *Entry) CompletedCount() int {
	n := 0
	for i := 0; i < e.TotalBatches; i++ {
		if e.BatchDone(i) {
			n++
		}
	}
	return n
}

// TranslatedCues returns only the cues whose batch completed, so partial
// deliveries never leak untranslated source text.
func (e *Entry) TranslatedCues() []subtitle.Cue {
	if e.Complete() {
		return e.Cues
	}
	if e.TotalBatches <= 0 || len(e.Cues) == 0 {
		return nil
	}
	batchSize := (len(e.Cues) + e.TotalBatches - 1) / e.TotalBatches
	var out []subtitle.Cue
	for batch := 0; batch < e.TotalBatches; batch++ {
		if !e.BatchDone(batch) {
			continue
		}
		lo := batch * batchSize
		hi := min(lo+batchSize, len(e.Cues))
		out = append(out, e.Cues[lo:hi]...)
	}
	return out
}
