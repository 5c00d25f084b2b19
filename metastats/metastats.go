// Package metastats computes the per-sample and combined statistics used for
// allele-specific expression testing: an exact two-sided binomial test of the
// reference read count against an expectation of 0.5, a sample-size-weighted
// Stouffer combination of the resulting Z-scores, and the Pearson correlation
// between the reference and alternative count vectors.
package metastats

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// BinomialTwoSidedP returns the exact two-sided binomial test P-value for
// observing refCount reference reads out of refCount+altCount total reads,
// under the null hypothesis that each read carries either allele with
// probability 0.5.
func BinomialTwoSidedP(refCount, altCount int) float64 {
	n := refCount + altCount
	if n == 0 {
		return 1
	}

	b := distuv.Binomial{N: float64(n), P: 0.5}

	lower := b.CDF(float64(refCount))
	upper := 1.0
	if refCount > 0 {
		// P(X >= refCount)
		upper = b.Survival(float64(refCount - 1))
	}

	p := 2 * math.Min(lower, upper)
	if p > 1 {
		p = 1
	}

	return p
}

// SampleZ converts one sample's allelic counts into a signed Z-score.
// Positive values indicate over-expression of the reference allele.
func SampleZ(refCount, altCount int) float64 {
	if refCount == altCount {
		return 0
	}

	p := BinomialTwoSidedP(refCount, altCount)
	if p < math.SmallestNonzeroFloat64 {
		p = math.SmallestNonzeroFloat64
	}

	// Phi^-1(1-p/2) == -Phi^-1(p/2), and the lower-tail quantile keeps full
	// precision for very small p.
	z := -distuv.UnitNormal.Quantile(p / 2)
	if refCount < altCount {
		z = -z
	}

	return z
}

// CombineStouffer combines per-sample evidence into a single meta Z-score and
// two-sided P-value using weighted Stouffer combination, with each sample
// weighted by the square root of its total read count. The result is a sum
// over samples and therefore does not depend on sample order.
func CombineStouffer(refCounts, altCounts []int) (metaZ, metaP float64) {
	var num, sumSquaredWeights float64
	for i := range refCounts {
		w := math.Sqrt(float64(refCounts[i] + altCounts[i]))
		num += w * SampleZ(refCounts[i], altCounts[i])
		sumSquaredWeights += w * w
	}

	if sumSquaredWeights == 0 {
		return math.NaN(), math.NaN()
	}

	metaZ = num / math.Sqrt(sumSquaredWeights)
	return metaZ, PFromZ(metaZ)
}

// PFromZ returns the two-sided P-value for a standard normal Z-score.
func PFromZ(z float64) float64 {
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

// CountPearsonR returns the Pearson correlation coefficient between the
// reference and alternative count vectors across samples. NaN when fewer than
// two samples are present or either vector has zero variance.
func CountPearsonR(refCounts, altCounts []int) float64 {
	x := make([]float64, len(refCounts))
	y := make([]float64, len(altCounts))
	for i := range refCounts {
		x[i] = float64(refCounts[i])
		y[i] = float64(altCounts[i])
	}

	return stat.Correlation(x, y, nil)
}
