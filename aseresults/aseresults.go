// Package aseresults holds the shared variant-keyed collection of
// allele-specific expression counts built up during ingestion, and the
// per-variant aggregate that those counts accumulate into.
package aseresults

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/carbocation/ase/metastats"
)

// VariantKey identifies one genomic variant. Two keys describe the same
// variant iff chromosome, position, and both alleles match; the SNP
// identifier is carried separately on the aggregate because it is
// presentation-only.
type VariantKey struct {
	Chromosome string
	Position   int
	RefAllele  string
	AltAllele  string
}

func (k VariantKey) String() string {
	return fmt.Sprintf("%s:%d %s/%s", k.Chromosome, k.Position, k.RefAllele, k.AltAllele)
}

// SampleObservation is one sample's contribution of allelic read counts at
// one variant.
type SampleObservation struct {
	SampleID string
	RefCount int
	AltCount int

	HasBaseQuality     bool
	RefMeanBaseQuality float64
	AltMeanBaseQuality float64
}

// AseVariant accumulates the per-sample observations for one variant.
// Observations may be appended from multiple ingestion workers concurrently;
// the derived statistics are computed once, single-threaded, after ingestion
// completes and are immutable afterward.
type AseVariant struct {
	Key   VariantKey
	SnpID string

	mu           sync.Mutex
	observations []SampleObservation

	statsCalculated bool
	CountPearsonR   float64
	MetaZ           float64
	MetaP           float64
}

// AddObservation appends one sample's counts. Safe for concurrent use.
func (v *AseVariant) AddObservation(o SampleObservation) {
	v.mu.Lock()
	v.observations = append(v.observations, o)
	v.mu.Unlock()
}

// SampleCount returns the number of observations accumulated so far.
func (v *AseVariant) SampleCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.observations)
}

// Observations returns the observation sequence in append order. The
// returned slice is shared; callers must not mutate it and must not call
// this while ingestion workers are still appending.
func (v *AseVariant) Observations() []SampleObservation {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.observations
}

// CalculateStatistics derives the Pearson correlation between the ref and
// alt count vectors and the combined meta Z-score and P-value. It must be
// called exactly once, after ingestion has completed; a second call is an
// error and leaves the first result in place.
func (v *AseVariant) CalculateStatistics() error {
	if v.statsCalculated {
		return fmt.Errorf("statistics already calculated for variant %s", v.Key)
	}

	refs := make([]int, len(v.observations))
	alts := make([]int, len(v.observations))
	for i, o := range v.observations {
		refs[i] = o.RefCount
		alts[i] = o.AltCount
	}

	v.CountPearsonR = metastats.CountPearsonR(refs, alts)
	v.MetaZ, v.MetaP = metastats.CombineStouffer(refs, alts)
	v.statsCalculated = true

	return nil
}

// Results is the full mapping from variant key to aggregate. Insertion is
// atomic with respect to concurrent callers: at most one aggregate ever
// exists per key, even when two workers race on the same unseen variant.
type Results struct {
	mu       sync.Mutex
	variants map[VariantKey]*AseVariant

	sawBaseQuality atomic.Bool
}

func New() *Results {
	return &Results{variants: make(map[VariantKey]*AseVariant)}
}

// GetOrCreate returns the aggregate for key, creating and inserting an empty
// one if the key has not been seen. The snpID is recorded on first creation
// only.
func (r *Results) GetOrCreate(key VariantKey, snpID string) *AseVariant {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, exists := r.variants[key]
	if !exists {
		v = &AseVariant{Key: key, SnpID: snpID}
		r.variants[key] = v
	}

	return v
}

// AddCounts routes one observation into the right aggregate, creating it if
// needed, and records whether base-quality data has been seen anywhere.
func (r *Results) AddCounts(key VariantKey, snpID string, o SampleObservation) {
	if o.HasBaseQuality {
		r.sawBaseQuality.Store(true)
	}

	r.GetOrCreate(key, snpID).AddObservation(o)
}

// Count returns the number of distinct variants currently held.
func (r *Results) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.variants)
}

// RemoveWhere deletes every aggregate for which keep returns false and
// reports how many were removed. Single-threaded by contract; only call
// after ingestion has ended.
func (r *Results) RemoveWhere(keep func(*AseVariant) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, v := range r.variants {
		if !keep(v) {
			delete(r.variants, key)
			removed++
		}
	}

	return removed
}

// Variants returns a snapshot of the current aggregates. Only meaningful
// outside concurrent ingestion.
func (r *Results) Variants() []*AseVariant {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*AseVariant, 0, len(r.variants))
	for _, v := range r.variants {
		out = append(out, v)
	}

	return out
}

// EncounteredBaseQuality reports whether any observation anywhere carried
// base-quality data. Consulted after ingestion to decide whether the quality
// columns are emitted.
func (r *Results) EncounteredBaseQuality() bool {
	return r.sawBaseQuality.Load()
}
