// Package anomaly provides the statistical daily-spend anomaly detector.
// Detection is a pure function of the input series: no state is retained
// between calls.
package anomaly

import (
	"math"

	"github.com/opensource-finance/weaver/internal/domain"
)

// MinSample is the minimum number of positive-total days required before
// a scan produces results. Below it the sample is too small to trust and
// the scan returns empty - a valid result, not an error, so new users with
// a few days of data never trip caller-side error handling.
const MinSample = 5

// Detect scans an ordered daily-total series and flags every day whose
// total exceeds mean + k*stdev, where mean and the Bessel-corrected sample
// standard deviation are computed over the positive totals only. A k <= 0
// falls back to the default of 2.5. Observed totals and the threshold are
// rounded to 2 decimal places in the output.
func Detect(series []domain.DailyTotal, k float64) []domain.Anomaly {
	if k <= 0 {
		k = domain.DefaultAnomalyK
	}

	positives := make([]float64, 0, len(series))
	for _, dt := range series {
		if dt.Total > 0 {
			positives = append(positives, dt.Total)
		}
	}

	if len(positives) < MinSample {
		return nil
	}

	mean, stdev := meanStdev(positives)
	threshold := mean + k*stdev

	var anomalies []domain.Anomaly
	for _, dt := range series {
		if dt.Total > threshold {
			anomalies = append(anomalies, domain.Anomaly{
				Day:       dt.Day,
				Observed:  round2(dt.Total),
				Threshold: round2(threshold),
			})
		}
	}

	return anomalies
}

// PositiveCount returns how many days in the series carry a positive total.
// Reports persist it so a reader can tell an empty scan from a short sample.
func PositiveCount(series []domain.DailyTotal) int {
	n := 0
	for _, dt := range series {
		if dt.Total > 0 {
			n++
		}
	}
	return n
}

// meanStdev computes the arithmetic mean and the sample standard deviation
// (divisor n-1) of the values.
func meanStdev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	stdev := math.Sqrt(sq / float64(len(values)-1))

	return mean, stdev
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
