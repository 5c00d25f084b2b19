// Package correction ranks finalized ASE variants by significance and
// applies a multiple-testing correction policy while writing the output
// tables.
package correction

import (
	"fmt"
	"math"
	"strings"
)

// Significance is the fixed family-wise threshold that every correction
// method is derived from.
const Significance = 0.05

// Method is the closed set of supported multiple-testing corrections.
type Method int

const (
	None Method = iota
	Nominal
	Bonferroni
	Holm
	BH
)

// Methods lists every supported method, in the order output files are
// conventionally produced.
var Methods = []Method{None, Nominal, Bonferroni, Holm, BH}

// DefaultMethods is the set emitted by default: everything except Nominal,
// matching the historical behavior of the ASE mapper.
var DefaultMethods = []Method{None, Bonferroni, Holm, BH}

func (m Method) String() string {
	switch m {
	case None:
		return "none"
	case Nominal:
		return "nominal"
	case Bonferroni:
		return "bonferroni"
	case Holm:
		return "holm"
	case BH:
		return "bh"
	}

	return fmt.Sprintf("method(%d)", int(m))
}

// Filename returns the output file name for this method: ase.txt for None,
// ase_<method>.txt otherwise.
func (m Method) Filename() string {
	if m == None {
		return "ase.txt"
	}

	return "ase_" + m.String() + ".txt"
}

// ParseMethod resolves a method name (case-insensitive).
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}

	names := make([]string, 0, len(Methods))
	for _, m := range Methods {
		names = append(names, m.String())
	}

	return None, fmt.Errorf("correction method %q is not supported; valid methods: %s", s, strings.Join(names, ", "))
}

// cutoff returns the P-value threshold for the variant at 0-based rank out
// of total tests. None never rejects.
func (m Method) cutoff(rank, total int) (float64, error) {
	switch m {
	case None:
		return math.Inf(1), nil
	case Nominal:
		return Significance, nil
	case Bonferroni:
		return Significance / float64(total), nil
	case Holm:
		return Significance / float64(total-rank), nil
	case BH:
		return (float64(rank+1) / float64(total)) * Significance, nil
	}

	return 0, ConsistencyError{Reason: fmt.Sprintf("multiple testing method %s is not supported", m)}
}

// ConsistencyError indicates that the ranking stage was handed input that
// violates its invariants, such as variants not sorted by |Z| or an unknown
// correction method. It is fatal; no output file for the affected method is
// completed.
type ConsistencyError struct {
	Reason string
}

func (e ConsistencyError) Error() string {
	return "ase processing consistency error: " + e.Reason
}
