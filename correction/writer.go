package correction

import (
	"bufio"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/montanaflynn/stats"

	"github.com/carbocation/ase/aseresults"
	"github.com/carbocation/ase/gtfindex"
)

// WriteResults walks variants, which must already be sorted by descending
// absolute meta Z-score, applies the method's per-rank cutoff, and writes
// one tab-separated row per retained variant. The scan stops at the first
// variant that fails its cutoff. It returns the number of variants written.
//
// The output is staged in a temporary file and renamed into place on
// success, so a failed run never leaves a partial file that looks complete.
func WriteResults(filename string, variants []*aseresults.AseVariant, annotations *gtfindex.PerChrIntervalTree, method Method, encounteredBaseQuality bool) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(filename), filepath.Base(filename)+".tmp")
	if err != nil {
		return 0, pfx.Err(err)
	}

	written, err := writeRows(tmp, variants, annotations, method, encounteredBaseQuality)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, pfx.Err(err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		os.Remove(tmp.Name())
		return 0, pfx.Err(err)
	}

	return written, nil
}

func writeRows(f *os.File, variants []*aseresults.AseVariant, annotations *gtfindex.PerChrIntervalTree, method Method, encounteredBaseQuality bool) (int, error) {
	w := bufio.NewWriter(f)

	header := []string{"Meta_P", "Meta_Z", "Chr", "Pos", "SnpId", "Sample_Count", "Ref_Allele", "Alt_Allele", "Count_Pearson_R"}
	if annotations != nil {
		header = append(header, "Genes")
	}
	header = append(header, "Ref_Counts", "Alt_Counts", "SampleIds")
	if encounteredBaseQuality {
		header = append(header, "Ref_MeanBaseQuality", "Alt_MeanBaseQuality", "Ref_MeanBaseQualities", "Alt_MeanBaseQualities")
	}
	if _, err := w.WriteString(strings.Join(header, "\t") + "\n"); err != nil {
		return 0, pfx.Err(err)
	}

	total := len(variants)
	counter := 0
	lastAbsoluteZ := math.Inf(1)

	for _, v := range variants {
		absZ := math.Abs(v.MetaZ)
		if absZ > lastAbsoluteZ {
			return 0, ConsistencyError{Reason: "ASE results not sorted"}
		}
		lastAbsoluteZ = absZ

		cutoff, err := method.cutoff(counter, total)
		if err != nil {
			return 0, err
		}
		if v.MetaP > cutoff {
			// Prefix-stop: the first failing variant ends the scan for
			// every method, including Holm and BH.
			break
		}
		counter++

		if err := writeRow(w, v, annotations, encounteredBaseQuality); err != nil {
			return 0, err
		}
	}

	if err := w.Flush(); err != nil {
		return 0, pfx.Err(err)
	}

	return counter, nil
}

func writeRow(w *bufio.Writer, v *aseresults.AseVariant, annotations *gtfindex.PerChrIntervalTree, encounteredBaseQuality bool) error {
	observations := v.Observations()

	snpID := v.SnpID
	if snpID == "" {
		snpID = "."
	}

	fields := []string{
		formatFloat(v.MetaP),
		formatFloat(v.MetaZ),
		v.Key.Chromosome,
		strconv.Itoa(v.Key.Position),
		snpID,
		strconv.Itoa(len(observations)),
		v.Key.RefAllele,
		v.Key.AltAllele,
		formatFloat(v.CountPearsonR),
	}

	if annotations != nil {
		fields = append(fields, strings.Join(annotations.GeneIDs(v.Key.Chromosome, v.Key.Position), ","))
	}

	refCounts := make([]string, len(observations))
	altCounts := make([]string, len(observations))
	sampleIDs := make([]string, len(observations))
	var refQualities, altQualities []float64
	for i, o := range observations {
		refCounts[i] = strconv.Itoa(o.RefCount)
		altCounts[i] = strconv.Itoa(o.AltCount)
		sampleIDs[i] = o.SampleID
		if o.HasBaseQuality {
			refQualities = append(refQualities, o.RefMeanBaseQuality)
			altQualities = append(altQualities, o.AltMeanBaseQuality)
		}
	}

	fields = append(fields, strings.Join(refCounts, ","), strings.Join(altCounts, ","), strings.Join(sampleIDs, ","))

	if encounteredBaseQuality {
		fields = append(fields,
			formatFloat(meanOrNaN(refQualities)),
			formatFloat(meanOrNaN(altQualities)),
			joinFloats(refQualities),
			joinFloats(altQualities),
		)
	}

	if _, err := w.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
		return pfx.Err(err)
	}

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinFloats(values []float64) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = formatFloat(v)
	}

	return strings.Join(out, ",")
}

func meanOrNaN(values []float64) float64 {
	mean, err := stats.Mean(stats.Float64Data(values))
	if err != nil {
		return math.NaN()
	}

	return mean
}
