package normalization

// DefaultConfidenceThreshold is the mean confidence below which a record is
// flagged for review.
const DefaultConfidenceThreshold = 0.7

// AggregateConfidence returns the mean of the three step confidences and
// whether the record must be flagged: the mean is below threshold or any
// single step failed outright.
func AggregateConfidence(name, unit, rng, threshold float64) (float64, bool) {
	name, unit, rng = clamp01(name), clamp01(unit), clamp01(rng)
	mean := (name + unit + rng) / 3
	flagged := mean < threshold || name == 0 || unit == 0 || rng == 0
	return mean, flagged
}
