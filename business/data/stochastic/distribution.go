package stochastic

// Distribution is a finite histogram of non-negative probabilities over a
// contiguous integer minute range [Start, Start+len(Histogram)), plus a
// scalar Mean and a Feasibility mass in [0,1]. The histogram sums to
// approximately 1 whenever Feasibility > 0; it is not itself normalised to
// sum to 1 while a caller is accumulating into it with Add - normalize does
// that once, at the end of a merge.
type Distribution struct {
	Histogram   []float64
	Start       Mtime
	Mean        float64
	Feasibility float64
}

// Empty returns a zero-length distribution with mean 0 and feasibility 0.
func Empty(start Mtime) Distribution {
	return Distribution{Start: start}
}

// Uniform returns a flat histogram of the given width starting at start.
// A width of 0 degenerates to Empty(start).
func Uniform(start Mtime, width int) Distribution {
	if width <= 0 {
		return Empty(start)
	}
	h := make([]float64, width)
	p := 1.0 / float64(width)
	for i := range h {
		h[i] = p
	}
	return Distribution{
		Histogram:   h,
		Start:       start,
		Mean:        float64(start) + float64(width-1)/2.0,
		Feasibility: 1.0,
	}
}

// Exists reports whether d carries any information: either it has a
// non-zero mean or a non-empty histogram. An Empty() distribution that has
// only been shifted still Exists() == false as long as mean stays 0.
func (d Distribution) Exists() bool {
	return d.Mean != 0.0 || len(d.Histogram) > 0
}

// End returns the exclusive upper bound of the histogram's range.
func (d Distribution) End() Mtime {
	return d.Start + Mtime(len(d.Histogram))
}

// RecomputeMean returns the mean as derived strictly from the histogram,
// ignoring the stored Mean field. Used by tests and by Nonnegative.
func (d Distribution) RecomputeMean() float64 {
	mean := 0.0
	for i, p := range d.Histogram {
		mean += (float64(d.Start) + float64(i)) * p
	}
	return mean
}

// Quantile returns the smallest minute offset at which the cumulative
// histogram mass reaches q.
func (d Distribution) Quantile(q float64) Mtime {
	cum := 0.0
	for i, p := range d.Histogram {
		cum += p
		if cum >= q {
			return d.Start + Mtime(i)
		}
	}
	return d.End()
}

// Shift returns a copy of d with Start and Mean both incremented by delta.
func (d Distribution) Shift(delta Mtime) Distribution {
	h := make([]float64, len(d.Histogram))
	copy(h, d.Histogram)
	return Distribution{
		Histogram:   h,
		Start:       d.Start + delta,
		Mean:        d.Mean + float64(delta),
		Feasibility: d.Feasibility,
	}
}

// Add extends d's histogram to cover the union of d's and other's ranges,
// adding weight*other[i] into each bin (unless meanOnly, in which case only
// the mean is updated). If d does not yet Exist(), it first adopts other's
// Start. Add is not self-normalising: the caller tracks remaining
// probability mass and sets Feasibility once the merge is complete.
func (d *Distribution) Add(other Distribution, weight float64, meanOnly bool) {
	if meanOnly {
		d.Mean += other.Mean * weight
		return
	}
	if !d.Exists() {
		d.Start = other.Start
	}
	selfStart := d.Start
	otherStart := other.Start
	start := selfStart
	if otherStart < start {
		start = otherStart
	}
	selfEnd := selfStart + Mtime(len(d.Histogram))
	otherEnd := otherStart + Mtime(len(other.Histogram))
	end := selfEnd
	if otherEnd > end {
		end = otherEnd
	}
	selfOffset := int(selfStart - start)
	otherOffset := int(otherStart - start)
	newLen := int(end - start)
	h := make([]float64, newLen)
	for i := 0; i < newLen; i++ {
		if i >= selfOffset && i-selfOffset < len(d.Histogram) {
			h[i] += d.Histogram[i-selfOffset]
		}
		if i >= otherOffset && i-otherOffset < len(other.Histogram) {
			h[i] += other.Histogram[i-otherOffset] * weight
		}
	}
	d.Histogram = h
	d.Start = start
	d.Mean += other.Mean * weight
}

// BeforeProbability returns P(X+offset <= Y) where X is d and Y is other,
// computed as a single cumulative pass over d's histogram weighted by
// other's histogram. This is the engine's principal modelling assumption:
// it treats the two connections' delay draws as independent.
func (d Distribution) BeforeProbability(other Distribution, offset Mtime) float64 {
	selfLen := Mtime(len(d.Histogram))
	otherLen := Mtime(len(other.Histogram))
	diff := other.Start - d.Start - offset
	if diff+otherLen <= 0 {
		return 0.0
	}
	if selfLen < diff {
		return 1.0
	}
	cumulative := 0.0
	untilOtherStart := diff
	if selfLen < untilOtherStart {
		untilOtherStart = selfLen
	}
	for i := Mtime(0); i < untilOtherStart; i++ {
		cumulative += d.Histogram[i]
	}
	p := 0.0
	for j := Mtime(0); j < otherLen; j++ {
		i := diff + j
		if i < 0 {
			continue
		}
		if i < selfLen {
			cumulative += d.Histogram[i]
		}
		p += cumulative * other.Histogram[j]
	}
	if p > 1.0 {
		return 1.0
	}
	return p
}

// Normalize divides the histogram by its sum, trims bins at or below
// epsilon from both ends (advancing Start accordingly unless meanOnly),
// and divides Mean by Feasibility. A zero Feasibility is a no-op: there is
// nothing to normalise against.
func (d *Distribution) Normalize(meanOnly bool, epsilon float64) {
	if d.Feasibility == 0.0 {
		return
	}
	if !meanOnly {
		if len(d.Histogram) == 0 {
			d.Mean /= d.Feasibility
			return
		}
		sum := 0.0
		last := 0
		offset := 0
		found := false
		for i, p := range d.Histogram {
			if p > epsilon {
				if !found {
					offset = i
					d.Start += Mtime(i)
					found = true
				}
				last = i
				sum += p
			}
		}
		if sum > 0.0 {
			newLen := last - offset + 1
			h := make([]float64, newLen)
			for i := 0; i < newLen; i++ {
				h[i] = d.Histogram[i+offset] / sum
			}
			d.Histogram = h
		}
	}
	d.Mean /= d.Feasibility
}

// Bucket is one empirical sample bucket: a half-open delay range and the
// number of samples observed in it. A zero-width Range encodes cancellation
// samples and reduces the resulting distribution's Feasibility.
type Bucket struct {
	Range DelayRange
	Count int
}

// FromBuckets builds a Distribution from a contiguous sequence of sample
// buckets plus the total feasible (non-cancelled) sample count. Buckets
// must be sorted ascending by Range.Start; any gap between consecutive
// buckets is filled with zero-probability bins so the histogram stays
// contiguous.
func FromBuckets(buckets []Bucket, totalFeasibleSampleCount int) Distribution {
	total := float64(totalFeasibleSampleCount)
	var h []float64
	feasibility := 1.0
	mean := 0.0
	i := buckets[0].Range.Start
	for _, b := range buckets {
		if b.Range.Empty() {
			feasibility = total / (total + float64(b.Count))
			continue
		}
		for i < b.Range.Start {
			h = append(h, 0.0)
			i++
		}
		length := float64(b.Range.End - b.Range.Start)
		for ; i < b.Range.End; i++ {
			fraction := float64(b.Count) / total / length
			h = append(h, fraction)
			mean += float64(i) * fraction
		}
	}
	return Distribution{
		Histogram:   h,
		Start:       Mtime(buckets[0].Range.Start),
		Mean:        mean,
		Feasibility: feasibility,
	}
}

// Nonnegative folds all histogram mass at offsets below 0 into bin 0 and
// recomputes Mean. A no-op when Start is already >= 0.
func (d *Distribution) Nonnegative() {
	if d.Start >= 0 {
		return
	}
	until0 := int(-d.Start + 1)
	if until0 > len(d.Histogram) {
		until0 = len(d.Histogram)
	}
	folded := 0.0
	for _, p := range d.Histogram[:until0] {
		folded += p
	}
	h := make([]float64, 0, len(d.Histogram)-until0+1)
	h = append(h, folded)
	h = append(h, d.Histogram[until0:]...)
	d.Histogram = h
	d.Start = 0
	d.Mean = d.RecomputeMean()
}
