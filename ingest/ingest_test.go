package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/carbocation/ase/aseresults"
)

// writeCountFiles fabricates nFiles single-sample count files that all cover
// the same variants, plus one variant private to each sample.
func writeCountFiles(t *testing.T, dir string, nFiles int) []string {
	t.Helper()

	files := make([]string, 0, nFiles)
	for s := 0; s < nFiles; s++ {
		var b strings.Builder
		for pos := 100; pos < 100+10; pos++ {
			fmt.Fprintf(&b, "1\t%d\trs%d\tA\tG\tsample%d\t%d\t%d\n", pos, pos, s, 10+s, pos%7)
		}
		fmt.Fprintf(&b, "2\t%d\t.\tC\tT\tsample%d\t5\t5\n", 1000+s, s)

		name := filepath.Join(dir, fmt.Sprintf("sample%d.ase.txt", s))
		if err := os.WriteFile(name, []byte(b.String()), 0o644); err != nil {
			t.Fatal(err)
		}
		files = append(files, name)
	}

	return files
}

// observationSet renders a store's contents into a canonical form for
// comparison across runs with different worker counts.
func observationSet(r *aseresults.Results) map[string][]string {
	out := make(map[string][]string)
	for _, v := range r.Variants() {
		var rows []string
		for _, o := range v.Observations() {
			rows = append(rows, fmt.Sprintf("%s:%d:%d", o.SampleID, o.RefCount, o.AltCount))
		}
		sort.Strings(rows)
		out[v.Key.String()] = rows
	}

	return out
}

func runPool(t *testing.T, files []string, opts Options) *Pool {
	t.Helper()

	pool := New(aseresults.New(), opts)
	if err := pool.Run(context.Background(), files); err != nil {
		t.Fatal(err)
	}

	return pool
}

func poolResults(p *Pool) *aseresults.Results {
	return p.results
}

func TestIngestCounts(t *testing.T) {
	files := writeCountFiles(t, t.TempDir(), 5)

	pool := runPool(t, files, Options{Threads: 3})
	results := poolResults(pool)

	// 10 shared variants + 5 private ones.
	if got := results.Count(); got != 15 {
		t.Fatalf("Count: got %d, want 15", got)
	}
	if got := pool.FilesLoaded(); got != 5 {
		t.Errorf("FilesLoaded: got %d, want 5", got)
	}
	if got := pool.SamplesDetected(); got != 5 {
		t.Errorf("SamplesDetected: got %d, want 5", got)
	}

	shared := results.GetOrCreate(aseresults.VariantKey{Chromosome: "1", Position: 100, RefAllele: "A", AltAllele: "G"}, "")
	if got := shared.SampleCount(); got != 5 {
		t.Errorf("Shared variant sample count: got %d, want 5", got)
	}
	if shared.SnpID != "rs100" {
		t.Errorf("SnpID: got %q, want rs100", shared.SnpID)
	}
}

// For any worker count, concurrent ingestion must produce the same final
// aggregate contents as a single-threaded run.
func TestIngestWorkerCountInvariance(t *testing.T) {
	files := writeCountFiles(t, t.TempDir(), 8)

	want := observationSet(poolResults(runPool(t, files, Options{Threads: 1})))

	for _, threads := range []int{2, 4, 16} {
		got := observationSet(poolResults(runPool(t, files, Options{Threads: threads})))

		if len(got) != len(want) {
			t.Fatalf("threads=%d: %d variants, want %d", threads, len(got), len(want))
		}
		for key, rows := range want {
			gotRows := got[key]
			if strings.Join(gotRows, ";") != strings.Join(rows, ";") {
				t.Errorf("threads=%d: variant %s: got %v, want %v", threads, key, gotRows, rows)
			}
		}
	}
}

func TestIngestSampleRemap(t *testing.T) {
	files := writeCountFiles(t, t.TempDir(), 2)

	pool := runPool(t, files, Options{
		Threads:     2,
		SampleRemap: map[string]string{"sample0": "ref0", "sample1": "ref1"},
	})

	for _, v := range poolResults(pool).Variants() {
		for _, o := range v.Observations() {
			if !strings.HasPrefix(o.SampleID, "ref") {
				t.Fatalf("sample ID %q not remapped", o.SampleID)
			}
		}
	}
}

type hetOnChr1 struct{}

func (hetOnChr1) Heterozygous(chromosome string, position int, refAllele, altAllele, sampleID string) bool {
	return chromosome == "1"
}

func TestIngestGenotypeFilter(t *testing.T) {
	files := writeCountFiles(t, t.TempDir(), 3)

	pool := runPool(t, files, Options{Threads: 2, Genotypes: hetOnChr1{}})

	for _, v := range poolResults(pool).Variants() {
		if v.Key.Chromosome != "1" {
			t.Errorf("variant %s survived the heterozygosity filter", v.Key)
		}
	}
	if got := poolResults(pool).Count(); got != 10 {
		t.Errorf("Count: got %d, want 10", got)
	}
}

func TestIngestFailsOnMalformedFile(t *testing.T) {
	dir := t.TempDir()
	files := writeCountFiles(t, dir, 3)

	bad := filepath.Join(dir, "broken.ase.txt")
	if err := os.WriteFile(bad, []byte("1\t100\trs1\tA\tG\tsampleX\tnot_a_number\t3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	files = append(files, bad)

	pool := New(aseresults.New(), Options{Threads: 4})
	if err := pool.Run(context.Background(), files); err == nil {
		t.Fatal("Malformed file did not fail the pool")
	} else if !strings.Contains(err.Error(), "broken.ase.txt") {
		t.Errorf("Error does not name the failing file: %v", err)
	}
}

func TestIngestMissingFile(t *testing.T) {
	pool := New(aseresults.New(), Options{Threads: 2})
	if err := pool.Run(context.Background(), []string{filepath.Join(t.TempDir(), "absent.txt")}); err == nil {
		t.Fatal("Missing file did not fail the pool")
	}
}
