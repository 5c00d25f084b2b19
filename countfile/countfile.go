// Package countfile reads per-sample allele-specific expression count files.
// Each record carries a variant, a sample identity, the reference and
// alternative read counts, and optionally the mean base quality of the reads
// supporting each allele.
package countfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/klauspost/compress/gzip"
)

// Layout maps record fields to column positions. Base-quality columns are
// optional: rows shorter than ColAltBaseQuality+1 yield records without
// quality data.
type Layout struct {
	Delimiter         rune
	Comment           rune
	ColChromosome     int
	ColPosition       int
	ColSnpID          int
	ColRefAllele      int
	ColAltAllele      int
	ColSampleID       int
	ColRefCount       int
	ColAltCount       int
	ColRefBaseQuality int
	ColAltBaseQuality int
}

var Layouts = map[string]Layout{
	"ASE": {
		Delimiter:         '\t',
		Comment:           '#',
		ColChromosome:     0,
		ColPosition:       1,
		ColSnpID:          2,
		ColRefAllele:      3,
		ColAltAllele:      4,
		ColSampleID:       5,
		ColRefCount:       6,
		ColAltCount:       7,
		ColRefBaseQuality: 8,
		ColAltBaseQuality: 9,
	},
}

// Record is one parsed count tuple.
type Record struct {
	Chromosome string
	Position   int
	SnpID      string
	RefAllele  string
	AltAllele  string
	SampleID   string
	RefCount   int
	AltCount   int

	HasBaseQuality     bool
	RefMeanBaseQuality float64
	AltMeanBaseQuality float64
}

// Reader yields Records from one count file.
type Reader struct {
	csv    *csv.Reader
	layout Layout
	closer []io.Closer
}

// Open opens a (possibly gzipped) count file with the default ASE layout.
func Open(filename string) (*Reader, error) {
	return OpenWithLayout(filename, Layouts["ASE"])
}

func OpenWithLayout(filename string, layout Layout) (*Reader, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, pfx.Err(err)
	}

	out := &Reader{layout: layout, closer: []io.Closer{f}}

	var r io.Reader = f
	if strings.HasSuffix(filename, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, pfx.Err(err)
		}
		out.closer = append(out.closer, gz)
		r = gz
	}

	out.csv = newCSVReader(r, layout)

	return out, nil
}

// NewReader reads count records from r with the given layout.
func NewReader(r io.Reader, layout Layout) *Reader {
	return &Reader{csv: newCSVReader(r, layout), layout: layout}
}

func newCSVReader(r io.Reader, layout Layout) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = layout.Delimiter
	cr.Comment = layout.Comment
	cr.FieldsPerRecord = -1

	return cr
}

// Read returns the next record, or io.EOF when the file is exhausted.
func (r *Reader) Read() (Record, error) {
	row, err := r.csv.Read()
	if err != nil {
		return Record{}, err
	}

	return r.parseRow(row)
}

func (r *Reader) Close() error {
	var err error
	for i := len(r.closer) - 1; i >= 0; i-- {
		if closeErr := r.closer[i].Close(); closeErr != nil {
			err = closeErr
		}
	}

	return err
}

func (r *Reader) parseRow(row []string) (Record, error) {
	l := r.layout

	if min := maxColumn(l.ColChromosome, l.ColPosition, l.ColSnpID, l.ColRefAllele, l.ColAltAllele, l.ColSampleID, l.ColRefCount, l.ColAltCount) + 1; len(row) < min {
		return Record{}, fmt.Errorf("row has %d columns, expected at least %d: %v", len(row), min, row)
	}

	out := Record{
		Chromosome: row[l.ColChromosome],
		SnpID:      row[l.ColSnpID],
		RefAllele:  row[l.ColRefAllele],
		AltAllele:  row[l.ColAltAllele],
		SampleID:   row[l.ColSampleID],
	}

	var err error
	if out.Position, err = strconv.Atoi(row[l.ColPosition]); err != nil {
		return Record{}, fmt.Errorf("bad position %q: %v", row[l.ColPosition], err)
	}

	if out.RefCount, err = parseCount(row[l.ColRefCount]); err != nil {
		return Record{}, fmt.Errorf("bad ref count: %v", err)
	}
	if out.AltCount, err = parseCount(row[l.ColAltCount]); err != nil {
		return Record{}, fmt.Errorf("bad alt count: %v", err)
	}

	switch {
	case len(row) > maxColumn(l.ColRefBaseQuality, l.ColAltBaseQuality):
		out.HasBaseQuality = true
		if out.RefMeanBaseQuality, err = strconv.ParseFloat(row[l.ColRefBaseQuality], 64); err != nil {
			return Record{}, fmt.Errorf("bad ref base quality %q: %v", row[l.ColRefBaseQuality], err)
		}
		if out.AltMeanBaseQuality, err = strconv.ParseFloat(row[l.ColAltBaseQuality], 64); err != nil {
			return Record{}, fmt.Errorf("bad alt base quality %q: %v", row[l.ColAltBaseQuality], err)
		}
	case len(row) > minColumn(l.ColRefBaseQuality, l.ColAltBaseQuality):
		// Base-quality columns come as a pair; a row with only one of the
		// two is malformed, not quality-less.
		return Record{}, fmt.Errorf("row has %d columns, carrying one base-quality column but not both: %v", len(row), row)
	}

	return out, nil
}

func parseCount(field string) (int, error) {
	count, err := strconv.Atoi(field)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, fmt.Errorf("negative count %d", count)
	}

	return count, nil
}

func minColumn(cols ...int) int {
	out := cols[0]
	for _, c := range cols[1:] {
		if c < out {
			out = c
		}
	}

	return out
}

func maxColumn(cols ...int) int {
	out := cols[0]
	for _, c := range cols[1:] {
		if c > out {
			out = c
		}
	}

	return out
}
