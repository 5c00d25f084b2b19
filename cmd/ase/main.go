// ase aggregates per-sample allele-specific expression read counts across
// many count files, combines the per-sample evidence into one meta Z-score
// and P-value per variant, and writes ranked result tables under several
// multiple-testing correction policies, optionally annotated with the genes
// overlapping each variant.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/carbocation/ase/aseresults"
	"github.com/carbocation/ase/correction"
	"github.com/carbocation/ase/gtfindex"
	"github.com/carbocation/ase/ingest"
	"github.com/carbocation/ase/samplemap"
)

// Special value that is to be set using ldflags
// E.g.: go build -ldflags "-X main.builddate=`date -u +%Y-%m-%d:%H:%M:%S%Z`"
// Consider aliasing in .profile: alias gobuild='go build -ldflags "-X main.builddate=`date -u +%Y-%m-%d:%H:%M:%S%Z`"'
var builddate string

const progressInterval = 500 * time.Millisecond

func main() {
	var (
		inputGlob     string
		outputFolder  string
		threads       int
		minSamples    int
		gtfFile       string
		sampleMapFile string
		methodsFlag   string
	)

	fmt.Fprintf(os.Stderr, "This ase binary was built at: %s\n", builddate)

	flag.StringVar(&inputGlob, "input", "", "Glob matching the per-sample ASE count files to aggregate.")
	flag.StringVar(&outputFolder, "out", "", "Folder where the ase*.txt result tables will be written.")
	flag.IntVar(&threads, "threads", runtime.NumCPU(), "Maximum number of parallel ingestion workers.")
	flag.IntVar(&minSamples, "minsamples", 1, "Minimum number of samples a variant must be observed in to be reported.")
	flag.StringVar(&gtfFile, "gtf", "", "Optional GTF file used to annotate variants with overlapping gene IDs.")
	flag.StringVar(&sampleMapFile, "samplemap", "", "Optional tab-separated file mapping reference sample IDs to study sample IDs.")
	flag.StringVar(&methodsFlag, "methods", "none,bonferroni,holm,bh", "Comma-delimited multiple-testing correction methods to emit.")
	flag.Parse()

	if inputGlob == "" || outputFolder == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	methods, err := parseMethods(methodsFlag)
	if err != nil {
		log.Fatalln(err)
	}

	files, err := filepath.Glob(inputGlob)
	if err != nil {
		log.Fatalln(err)
	}
	if len(files) < 1 {
		log.Fatalf("No input files matched %s\n", inputGlob)
	}
	sort.Strings(files)

	if err := os.MkdirAll(outputFolder, 0o755); err != nil {
		log.Fatalf("Failed to create output folder %s: %v\n", outputFolder, err)
	}

	var sampleRemap map[string]string
	if sampleMapFile != "" {
		sampleRemap, err = samplemap.Read(sampleMapFile)
		if err != nil {
			log.Fatalf("Error reading sample mapping file: %v\n", err)
		}
		log.Printf("Found %d sample mappings\n", len(sampleRemap))
	}

	results := aseresults.New()
	pool := ingest.New(results, ingest.Options{Threads: threads, SampleRemap: sampleRemap})

	log.Printf("Loading %d files with up to %d workers\n", len(files), threads)

	done := make(chan error, 1)
	go func() {
		done <- pool.Run(context.Background(), files)
	}()

	// Poll worker progress until ingestion completes; any worker error is
	// fatal and the run produces no output.
	ticker := time.NewTicker(progressInterval)
	nextReport := int64(100)
	for running := true; running; {
		select {
		case err := <-done:
			if err != nil {
				log.Fatalln("Fatal error:", err)
			}
			running = false
		case <-ticker.C:
		}

		if count := pool.FilesLoaded(); count > nextReport {
			log.Printf("Loaded %d out of %d files\n", nextReport, len(files))
			nextReport += 100
		}
	}
	ticker.Stop()

	log.Printf("Loading files complete. Detected %d samples.\n", pool.SamplesDetected())

	if removed := results.RemoveWhere(func(v *aseresults.AseVariant) bool {
		return v.SampleCount() >= minSamples
	}); removed > 0 {
		log.Printf("Removed %d variants observed in fewer than %d samples\n", removed, minSamples)
	}

	variants := results.Variants()
	for _, v := range variants {
		if err := v.CalculateStatistics(); err != nil {
			log.Fatalln(err)
		}
	}

	sort.SliceStable(variants, func(i, j int) bool {
		return math.Abs(variants[i].MetaZ) > math.Abs(variants[j].MetaZ)
	})

	var annotations *gtfindex.PerChrIntervalTree
	if gtfFile != "" {
		log.Println("Started loading GTF file.")
		annotations, err = gtfindex.ReadGTF(gtfFile)
		if err != nil {
			log.Fatalf("Cannot read GTF file: %v\n", err)
		}
		log.Printf("Loaded %d annotations from GTF file.\n", annotations.Count())
	}

	encounteredBaseQuality := results.EncounteredBaseQuality()

	for _, method := range methods {
		written, err := correction.WriteResults(filepath.Join(outputFolder, method.Filename()), variants, annotations, method, encounteredBaseQuality)
		if err != nil {
			log.Fatalln(err)
		}

		if method == correction.None {
			log.Printf("Completed writing all %d ASE variants\n", written)
		} else {
			log.Printf("Completed writing %d %s significant ASE variants\n", written, method)
		}
	}

	log.Println("Program completed")
}

func parseMethods(methodsFlag string) ([]correction.Method, error) {
	var out []correction.Method
	seen := make(map[correction.Method]bool)

	for _, name := range strings.Split(methodsFlag, ",") {
		method, err := correction.ParseMethod(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if !seen[method] {
			seen[method] = true
			out = append(out, method)
		}
	}

	// The uncorrected table is always produced.
	if !seen[correction.None] {
		out = append([]correction.Method{correction.None}, out...)
	}

	return out, nil
}
