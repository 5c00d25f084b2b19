// Package ingest drains a queue of per-sample count files with a pool of
// parallel workers, merging every record into the shared variant-keyed
// result store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/carbocation/ase/aseresults"
	"github.com/carbocation/ase/countfile"
)

// GenotypeLookup is the reference-panel collaborator: it reports whether the
// panel calls a sample heterozygous at a variant. When a panel is configured,
// observations at sites the panel does not call heterozygous are dropped.
type GenotypeLookup interface {
	Heterozygous(chromosome string, position int, refAllele, altAllele, sampleID string) bool
}

// Options configures a Pool.
type Options struct {
	// Threads caps the worker count; the effective count is
	// min(Threads, number of files).
	Threads int

	// SampleRemap maps study sample IDs to reference-panel sample IDs.
	// Applied before the genotype lookup and before storage.
	SampleRemap map[string]string

	// Genotypes is optional; nil disables heterozygosity filtering.
	Genotypes GenotypeLookup
}

// Pool ingests count files into a Results store. The store and the two
// progress counters are the only state shared between workers.
type Pool struct {
	results *aseresults.Results
	opts    Options

	filesLoaded atomic.Int64

	seenMu      sync.Mutex
	seenSamples map[string]struct{}
	sampleCount atomic.Int64
}

func New(results *aseresults.Results, opts Options) *Pool {
	if opts.Threads < 1 {
		opts.Threads = 1
	}

	return &Pool{
		results:     results,
		opts:        opts,
		seenSamples: make(map[string]struct{}),
	}
}

// FilesLoaded returns the number of fully ingested files. Safe to call while
// the pool is running; used for progress reporting.
func (p *Pool) FilesLoaded() int64 {
	return p.filesLoaded.Load()
}

// SamplesDetected returns the number of distinct sample IDs seen so far.
func (p *Pool) SamplesDetected() int64 {
	return p.sampleCount.Load()
}

// Run processes every file and blocks until all workers finish. The first
// worker error cancels the remaining work and is returned; a non-nil error
// means the aggregate state is incomplete and must not be used.
func (p *Pool) Run(ctx context.Context, files []string) error {
	workers := p.opts.Threads
	if len(files) < workers {
		workers = len(files)
	}

	queue := make(chan string)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		for _, file := range files {
			select {
			case queue <- file:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for file := range queue {
				if err := p.loadFile(file); err != nil {
					return fmt.Errorf("loading %s: %w", file, err)
				}
				p.filesLoaded.Add(1)
			}
			return nil
		})
	}

	return g.Wait()
}

func (p *Pool) loadFile(filename string) error {
	r, err := countfile.Open(filename)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}

		sampleID := record.SampleID
		if mapped, exists := p.opts.SampleRemap[sampleID]; exists {
			sampleID = mapped
		}

		if p.opts.Genotypes != nil && !p.opts.Genotypes.Heterozygous(record.Chromosome, record.Position, record.RefAllele, record.AltAllele, sampleID) {
			continue
		}

		key := aseresults.VariantKey{
			Chromosome: record.Chromosome,
			Position:   record.Position,
			RefAllele:  record.RefAllele,
			AltAllele:  record.AltAllele,
		}

		snpID := record.SnpID
		if snpID == "." {
			snpID = ""
		}

		p.results.AddCounts(key, snpID, aseresults.SampleObservation{
			SampleID:           sampleID,
			RefCount:           record.RefCount,
			AltCount:           record.AltCount,
			HasBaseQuality:     record.HasBaseQuality,
			RefMeanBaseQuality: record.RefMeanBaseQuality,
			AltMeanBaseQuality: record.AltMeanBaseQuality,
		})

		p.markSampleSeen(sampleID)
	}

	return nil
}

func (p *Pool) markSampleSeen(sampleID string) {
	p.seenMu.Lock()
	_, seen := p.seenSamples[sampleID]
	if !seen {
		p.seenSamples[sampleID] = struct{}{}
	}
	p.seenMu.Unlock()

	if !seen {
		p.sampleCount.Add(1)
	}
}
