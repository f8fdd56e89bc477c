package stats

import (
	"math"
	"sort"

	"github.com/variantlabs/experiment-controller/internal/models"
)

// SignificantConfidence is the confidence percentage at or above which a
// verdict counts as significant.
const SignificantConfidence = 95.0

// maxConfidence caps the reported confidence; the CDF approximation is not
// meaningful beyond this point.
const maxConfidence = 99.9

// Evaluate runs a two-proportion z-test between the best and second-best
// variant by conversion rate and maps the z statistic to a two-tailed
// confidence percentage.
//
// Variants are ranked by conversion rate descending with a stable sort, so
// two variants with identical rates keep their declaration order. That
// tie-break is deliberate: the controller never invents a preference the
// data does not express.
//
// Small or degenerate inputs (fewer than two variants, a zero sample size,
// a zero standard error) produce a non-significant verdict with confidence
// 0 rather than an error; experiments that are still warming up hit this
// path every sweep.
func Evaluate(variants []models.Variant, statsByVariant map[string]models.VariantStats) models.SignificanceVerdict {
	ranked := make([]models.VariantStats, 0, len(variants))
	for _, v := range variants {
		if vs, ok := statsByVariant[v.ID]; ok {
			ranked = append(ranked, vs)
		}
	}
	if len(ranked) < 2 {
		return models.SignificanceVerdict{}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].ConversionRate > ranked[j].ConversionRate
	})

	candidate, runnerUp := ranked[0], ranked[1]
	verdict := models.SignificanceVerdict{
		WinnerVariantID:   candidate.VariantID,
		RunnerUpVariantID: runnerUp.VariantID,
	}

	n1 := float64(candidate.Impressions)
	n2 := float64(runnerUp.Impressions)
	if n1 == 0 || n2 == 0 {
		return verdict
	}

	p1 := candidate.ConversionRate
	p2 := runnerUp.ConversionRate
	pPool := float64(candidate.Conversions+runnerUp.Conversions) / (n1 + n2)
	se := math.Sqrt(pPool * (1 - pPool) * (1/n1 + 1/n2))
	if se == 0 {
		// All conversions or none at all; the test has nothing to say.
		return verdict
	}

	z := (p1 - p2) / se
	confidence := (1 - 2*(1-normalCDF(math.Abs(z)))) * 100
	if confidence < 0 {
		confidence = 0
	}
	if confidence > maxConfidence {
		confidence = maxConfidence
	}

	verdict.ZScore = z
	verdict.ConfidencePercent = confidence
	verdict.IsSignificant = confidence >= SignificantConfidence
	if p2 != 0 {
		improvement := (p1 - p2) / p2 * 100
		verdict.RelativeImprovementPercent = &improvement
	}
	return verdict
}

// normalCDF is the Abramowitz–Stegun rational-polynomial approximation of
// the standard normal CDF. The UI renders confidence values computed here;
// keep the constants exactly as they are so both sides agree digit for
// digit.
func normalCDF(x float64) float64 {
	t := 1 / (1 + 0.2316419*math.Abs(x))
	d := 0.3989423 * math.Exp(-x*x/2)
	prob := d * t * (0.3193815 + t*(-0.3565638+t*(1.781478+t*(-1.821256+t*1.330274))))
	if x > 0 {
		return 1 - prob
	}
	return prob
}
