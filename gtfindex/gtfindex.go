// Package gtfindex loads gene features from a GTF file into per-chromosome
// interval trees so that variants can be annotated with the genes that
// overlap their position.
package gtfindex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/store/interval"
	"github.com/carbocation/pfx"
	"github.com/klauspost/compress/gzip"
)

// Feature is one annotated interval from a GTF file. Coordinates are 1-based
// and inclusive, as in the file format.
type Feature struct {
	Chromosome  string
	Source      string
	FeatureType string
	Start       int
	End         int
	Attributes  map[string]string

	uid uintptr
}

// GeneID returns the gene_id attribute, or the empty string when absent.
func (f *Feature) GeneID() string {
	return f.Attributes["gene_id"]
}

func (f *Feature) Overlap(b interval.IntRange) bool {
	return f.End >= b.Start && f.Start <= b.End
}

func (f *Feature) ID() uintptr {
	return f.uid
}

func (f *Feature) Range() interval.IntRange {
	return interval.IntRange{Start: f.Start, End: f.End}
}

// PerChrIntervalTree indexes features by chromosome for point-overlap
// queries. Build it once with ReadGTF or New+Insert; queries are read-only.
type PerChrIntervalTree struct {
	trees map[string]*interval.IntTree
	count int
}

func New() *PerChrIntervalTree {
	return &PerChrIntervalTree{trees: make(map[string]*interval.IntTree)}
}

// Count returns the number of indexed features.
func (t *PerChrIntervalTree) Count() int {
	return t.count
}

// Insert adds one feature to the index.
func (t *PerChrIntervalTree) Insert(f *Feature) error {
	tree, exists := t.trees[f.Chromosome]
	if !exists {
		tree = &interval.IntTree{}
		t.trees[f.Chromosome] = tree
	}

	f.uid = uintptr(t.count)
	if err := tree.Insert(f, false); err != nil {
		return pfx.Err(err)
	}
	t.count++

	return nil
}

// SearchPosition returns every feature overlapping the given 1-based
// position, in tree order.
func (t *PerChrIntervalTree) SearchPosition(chromosome string, position int) []*Feature {
	tree, exists := t.trees[chromosome]
	if !exists {
		return nil
	}

	query := &Feature{Start: position, End: position}

	hits := tree.Get(query)
	out := make([]*Feature, 0, len(hits))
	for _, hit := range hits {
		out = append(out, hit.(*Feature))
	}

	return out
}

// GeneIDs returns the deduplicated gene identifiers overlapping the given
// position. The first occurrence of each identifier wins for ordering;
// features without a gene_id are skipped.
func (t *PerChrIntervalTree) GeneIDs(chromosome string, position int) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, f := range t.SearchPosition(chromosome, position) {
		geneID := f.GeneID()
		if geneID == "" {
			continue
		}
		if _, printed := seen[geneID]; printed {
			continue
		}
		seen[geneID] = struct{}{}
		out = append(out, geneID)
	}

	return out
}

// ReadGTF builds an index from a (possibly gzipped) GTF file.
func ReadGTF(filename string) (*PerChrIntervalTree, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(filename, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, pfx.Err(err)
		}
		defer gz.Close()
		r = gz
	}

	return ParseGTF(r)
}

// ParseGTF builds an index from GTF-formatted data.
func ParseGTF(r io.Reader) (*PerChrIntervalTree, error) {
	out := New()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for i := 0; scanner.Scan(); i++ {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		row := strings.Split(line, "\t")
		if x := len(row); x < 9 {
			return nil, fmt.Errorf("GTF 0-based row %d had %d fields, expected 9", i, x)
		}

		start, err := strconv.Atoi(row[3])
		if err != nil {
			return nil, fmt.Errorf("GTF 0-based row %d: bad start %q: %v", i, row[3], err)
		}

		end, err := strconv.Atoi(row[4])
		if err != nil {
			return nil, fmt.Errorf("GTF 0-based row %d: bad end %q: %v", i, row[4], err)
		}

		attributes, err := parseAttributes(row[8])
		if err != nil {
			return nil, fmt.Errorf("GTF 0-based row %d: %v", i, err)
		}

		feature := &Feature{
			Chromosome:  row[0],
			Source:      row[1],
			FeatureType: row[2],
			Start:       start,
			End:         end,
			Attributes:  attributes,
		}

		if err := out.Insert(feature); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}

// parseAttributes splits the semicolon-delimited GTF attribute column
// (`gene_id "X"; gene_name "Y";`) into a map.
func parseAttributes(attr string) (map[string]string, error) {
	out := make(map[string]string)

	attributes := strings.Split(attr, ";")
	for i, attribute := range attributes {
		parts := strings.SplitN(strings.TrimSpace(attribute), " ", 2)
		if x := len(parts); x < 2 {
			// Line ends in a semicolon
			break
		} else if x != 2 {
			return nil, fmt.Errorf("expected 2 parts; attribute %d had %d (%+v)", i, x, parts)
		}

		out[parts[0]] = strings.Trim(parts[1], "\"")
	}

	return out, nil
}
