package correction

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carbocation/ase/aseresults"
	"github.com/carbocation/ase/gtfindex"
)

func testVariant(pos int, p, z float64) *aseresults.AseVariant {
	v := &aseresults.AseVariant{
		Key:   aseresults.VariantKey{Chromosome: "1", Position: pos, RefAllele: "A", AltAllele: "G"},
		SnpID: "",
		MetaP: p,
		MetaZ: z,
	}
	v.AddObservation(aseresults.SampleObservation{SampleID: "s1", RefCount: 10, AltCount: 2})
	v.AddObservation(aseresults.SampleObservation{SampleID: "s2", RefCount: 8, AltCount: 3})

	return v
}

// Four variants sorted by descending |Z| with P-values 0.001, 0.01, 0.03,
// 0.2. Cutoffs at significance 0.05: NOMINAL keeps 3; BONFERRONI (0.0125)
// keeps 0.001 and 0.01; HOLM per-rank cutoffs 0.0125, 0.0167, 0.025, 0.05
// stop at 0.03 > 0.025 keeping 2; BH per-rank cutoffs 0.0125, 0.025,
// 0.0375, 0.05 stop at 0.2 > 0.05 keeping 3.
func rankedVariants() []*aseresults.AseVariant {
	return []*aseresults.AseVariant{
		testVariant(100, 0.001, 3.29),
		testVariant(200, 0.01, 2.58),
		testVariant(300, 0.03, 2.17),
		testVariant(400, 0.2, 1.28),
	}
}

func TestCorrectionCutoffs(t *testing.T) {
	for _, v := range []struct {
		Method   Method
		Retained int
	}{
		{None, 4},
		{Nominal, 3},
		{Bonferroni, 2},
		{Holm, 2},
		{BH, 3},
	} {
		outFile := filepath.Join(t.TempDir(), v.Method.Filename())
		written, err := WriteResults(outFile, rankedVariants(), nil, v.Method, false)
		if err != nil {
			t.Fatal(err)
		}
		if written != v.Retained {
			t.Errorf("%s: retained %d, want %d", v.Method, written, v.Retained)
		}

		contents, err := os.ReadFile(outFile)
		if err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSuffix(string(contents), "\n"), "\n")
		if got := len(lines) - 1; got != v.Retained {
			t.Errorf("%s: %d data rows in file, want %d", v.Method, got, v.Retained)
		}
	}
}

// The stop rule is strictly greater-than: with n=4 the Bonferroni cutoff is
// 0.0125, and a P-value exactly at the cutoff is retained.
func TestCutoffBoundaryIsRetained(t *testing.T) {
	variants := []*aseresults.AseVariant{
		testVariant(100, 0.0125, 3.0),
		testVariant(200, 0.2, 1.3),
		testVariant(300, 0.2, 1.2),
		testVariant(400, 0.2, 1.1),
	}

	written, err := WriteResults(filepath.Join(t.TempDir(), Bonferroni.Filename()), variants, nil, Bonferroni, false)
	if err != nil {
		t.Fatal(err)
	}
	if written != 1 {
		t.Errorf("retained %d, want 1", written)
	}
}

func TestUnsortedInputIsConsistencyError(t *testing.T) {
	variants := rankedVariants()
	variants[0], variants[2] = variants[2], variants[0]

	outFile := filepath.Join(t.TempDir(), "ase.txt")
	_, err := WriteResults(outFile, variants, nil, None, false)
	if err == nil {
		t.Fatal("Unsorted input did not error")
	}
	if _, ok := err.(ConsistencyError); !ok {
		t.Errorf("Expected ConsistencyError, got %T: %v", err, err)
	}

	// A failed run must not leave an output file behind.
	if _, statErr := os.Stat(outFile); !os.IsNotExist(statErr) {
		t.Error("Output file exists after a consistency failure")
	}
}

func TestHeaderColumns(t *testing.T) {
	dir := t.TempDir()

	// No annotations, no base quality.
	outFile := filepath.Join(dir, "plain.txt")
	if _, err := WriteResults(outFile, rankedVariants(), nil, None, false); err != nil {
		t.Fatal(err)
	}
	header := readHeader(t, outFile)
	if strings.Contains(header, "Genes") {
		t.Error("Genes column present without an annotation index")
	}
	if strings.Contains(header, "BaseQuality") {
		t.Error("Quality columns present without base-quality data")
	}
	if want := "Meta_P\tMeta_Z\tChr\tPos\tSnpId\tSample_Count\tRef_Allele\tAlt_Allele\tCount_Pearson_R\tRef_Counts\tAlt_Counts\tSampleIds"; header != want {
		t.Errorf("header: got %q, want %q", header, want)
	}

	// With annotations and base quality.
	idx, err := gtfindex.ParseGTF(strings.NewReader("1\tHAVANA\tgene\t50\t500\t.\t+\t.\tgene_id \"ENSG01\";\n"))
	if err != nil {
		t.Fatal(err)
	}

	variants := rankedVariants()
	variants[0].AddObservation(aseresults.SampleObservation{SampleID: "s3", RefCount: 5, AltCount: 1, HasBaseQuality: true, RefMeanBaseQuality: 31, AltMeanBaseQuality: 30})

	outFile = filepath.Join(dir, "full.txt")
	if _, err := WriteResults(outFile, variants, idx, None, true); err != nil {
		t.Fatal(err)
	}
	header = readHeader(t, outFile)
	if want := "Meta_P\tMeta_Z\tChr\tPos\tSnpId\tSample_Count\tRef_Allele\tAlt_Allele\tCount_Pearson_R\tGenes\tRef_Counts\tAlt_Counts\tSampleIds\tRef_MeanBaseQuality\tAlt_MeanBaseQuality\tRef_MeanBaseQualities\tAlt_MeanBaseQualities"; header != want {
		t.Errorf("header: got %q, want %q", header, want)
	}

	contents, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	firstRow := strings.Split(strings.Split(string(contents), "\n")[1], "\t")
	if got := firstRow[9]; got != "ENSG01" {
		t.Errorf("Genes field: got %q, want ENSG01", got)
	}
	if got := firstRow[4]; got != "." {
		t.Errorf("Missing SNP ID should print as '.', got %q", got)
	}
	// Only the one quality-carrying observation contributes to the
	// base-quality columns.
	if got := firstRow[13]; got != "31" {
		t.Errorf("Ref_MeanBaseQuality: got %q, want 31", got)
	}
	if got := firstRow[15]; got != "31" {
		t.Errorf("Ref_MeanBaseQualities: got %q, want 31", got)
	}
}

func readHeader(t *testing.T, filename string) string {
	t.Helper()

	contents, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}

	return strings.Split(string(contents), "\n")[0]
}

func TestParseMethod(t *testing.T) {
	for name, want := range map[string]Method{
		"none":       None,
		"NOMINAL":    Nominal,
		"Bonferroni": Bonferroni,
		"holm":       Holm,
		"bh":         BH,
	} {
		got, err := ParseMethod(name)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ParseMethod(%q): got %v, want %v", name, got, want)
		}
	}

	if _, err := ParseMethod("fdr"); err == nil {
		t.Error("Unknown method did not error")
	}
}

func TestFilenames(t *testing.T) {
	if got := None.Filename(); got != "ase.txt" {
		t.Errorf("None: %s", got)
	}
	if got := Bonferroni.Filename(); got != "ase_bonferroni.txt" {
		t.Errorf("Bonferroni: %s", got)
	}
}
