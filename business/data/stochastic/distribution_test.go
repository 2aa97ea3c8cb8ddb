package stochastic

import "testing"

func almostEqual(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestEmpty(t *testing.T) {
	a := Empty(0)
	if len(a.Histogram) != 0 || a.Start != 0 || a.Mean != 0 {
		t.Errorf("Empty(0) = %+v, want zero value", a)
	}
}

func TestUniformEmpty(t *testing.T) {
	a := Uniform(0, 0)
	if len(a.Histogram) != 0 || a.Start != 0 || a.Mean != 0 {
		t.Errorf("Uniform(0,0) = %+v, want zero value", a)
	}
}

func TestUniformOne(t *testing.T) {
	a := Uniform(5, 1)
	if len(a.Histogram) != 1 || a.Histogram[0] != 1.0 || a.Start != 5 || a.Mean != 5 {
		t.Errorf("Uniform(5,1) = %+v", a)
	}
}

func TestUniformFour(t *testing.T) {
	a := Uniform(2, 4)
	for _, p := range a.Histogram {
		if p != 0.25 {
			t.Errorf("Uniform(2,4).Histogram = %v, want all 0.25", a.Histogram)
		}
	}
	if a.Start != 2 || a.Mean != 3.5 || a.Mean != a.RecomputeMean() {
		t.Errorf("Uniform(2,4) = %+v", a)
	}
}

func TestMeanNegative(t *testing.T) {
	if got := Uniform(-2, 4).RecomputeMean(); got != -0.5 {
		t.Errorf("Uniform(-2,4).RecomputeMean() = %v, want -0.5", got)
	}
}

func TestAddEmpty(t *testing.T) {
	a := Empty(0)
	a.Add(Empty(0), 1.0, false)
	if len(a.Histogram) != 0 || a.Start != 0 || a.Exists() {
		t.Errorf("Empty.Add(Empty) = %+v", a)
	}
}

func TestAddEmptyApart(t *testing.T) {
	a := Empty(10)
	a.Add(Empty(5), 1.0, false)
	if len(a.Histogram) != 0 || a.Start != 5 || a.Exists() {
		t.Errorf("Empty(10).Add(Empty(5)) = %+v", a)
	}
}

func TestAddUniformOverlapping(t *testing.T) {
	a := Uniform(5, 2)
	b := Uniform(6, 4)
	a.Add(b, 0.5, false)
	want := []float64{0.5, 0.625, 0.125, 0.125, 0.125}
	if len(a.Histogram) != len(want) || a.Start != 5 {
		t.Fatalf("add_uniform_overlapping shape = %+v", a)
	}
	for i, w := range want {
		if !almostEqual(a.Histogram[i], w, 1e-9) {
			t.Errorf("histogram[%d] = %v, want %v", i, a.Histogram[i], w)
		}
	}
	if a.Mean != 9.25 {
		t.Errorf("mean = %v, want 9.25", a.Mean)
	}
}

func TestAddUniformApart(t *testing.T) {
	a := Uniform(5, 2)
	b := Uniform(8, 2)
	a.Add(b, 0.5, false)
	want := []float64{0.5, 0.5, 0.0, 0.25, 0.25}
	if a.Start != 5 || len(a.Histogram) != len(want) {
		t.Fatalf("add_uniform_apart shape = %+v", a)
	}
	for i, w := range want {
		if !almostEqual(a.Histogram[i], w, 1e-9) {
			t.Errorf("histogram[%d] = %v, want %v", i, a.Histogram[i], w)
		}
	}
}

func TestAddNegative(t *testing.T) {
	a := Uniform(0, 1)
	a.Add(Uniform(-4, 1), 1.0, false)
	if a.Start != -4 || len(a.Histogram) != 5 {
		t.Fatalf("add_negative shape = %+v", a)
	}
	if a.Histogram[0] != 1.0 || a.Histogram[4] != 1.0 {
		t.Errorf("add_negative histogram = %v", a.Histogram)
	}
	if !a.Exists() {
		t.Error("add_negative should exist")
	}
}

func TestAddTwoNegative(t *testing.T) {
	a := Uniform(-5, 2)
	a.Add(Uniform(-4, 1), 1.0, false)
	if a.Start != -5 || len(a.Histogram) != 2 {
		t.Fatalf("add_two_negative shape = %+v", a)
	}
	if a.Histogram[0] != 0.5 || a.Histogram[1] != 1.5 {
		t.Errorf("add_two_negative histogram = %v", a.Histogram)
	}
}

func TestShift(t *testing.T) {
	a := Uniform(-5, 2).Shift(3)
	if a.Start != -2 || a.Mean != -1.5 || len(a.Histogram) != 2 {
		t.Fatalf("shift = %+v", a)
	}
	if a.Histogram[0] != 0.5 || a.Histogram[1] != 0.5 {
		t.Errorf("shift histogram = %v", a.Histogram)
	}
}

func TestNormalizeWithHistogram(t *testing.T) {
	a := Uniform(5, 3)
	a.Histogram[0] = 0.1
	a.Histogram[1] = 0.3
	a.Histogram[2] = 0.1
	a.Mean = 6.0
	a.Feasibility = 0.5
	a.Normalize(false, 0.0)
	want := []float64{0.2, 0.6, 0.2}
	if a.Start != 5 || a.Mean != 12.0 || len(a.Histogram) != 3 {
		t.Fatalf("normalize = %+v", a)
	}
	for i, w := range want {
		if !almostEqual(a.Histogram[i], w, 1e-9) {
			t.Errorf("histogram[%d] = %v, want %v", i, a.Histogram[i], w)
		}
	}
}

func TestNormalizeWithFeasibilityZero(t *testing.T) {
	a := Uniform(5, 3)
	a.Histogram[0] = 0.1
	a.Histogram[1] = 0.3
	a.Histogram[2] = 0.1
	a.Mean = 6.0
	a.Feasibility = 0.0
	a.Normalize(false, 0.0)
	if a.Mean != 6.0 || a.Histogram[0] != 0.1 || a.Histogram[1] != 0.3 {
		t.Errorf("normalize with feasibility 0 changed the distribution: %+v", a)
	}
}

func TestNormalizeMeanOnly(t *testing.T) {
	a := Uniform(5, 0)
	a.Mean = 55.0
	a.Feasibility = 0.5
	a.Normalize(true, 0.0)
	if len(a.Histogram) != 0 || a.Start != 5 || a.Mean != 110.0 {
		t.Errorf("normalize mean_only = %+v", a)
	}
}

func TestNormalizeWithEpsilon(t *testing.T) {
	a := Uniform(5, 4)
	a.Histogram[0] = 0.05
	a.Histogram[1] = 0.3
	a.Histogram[2] = 0.1
	a.Histogram[3] = 0.05
	a.Mean = 3.0
	a.Feasibility = 0.5
	a.Normalize(false, 0.07)
	if a.Start != 6 || len(a.Histogram) != 2 {
		t.Fatalf("normalize with epsilon = %+v", a)
	}
	if !almostEqual(a.Histogram[0], 0.75, 1e-9) || !almostEqual(a.Histogram[1], 0.25, 1e-9) {
		t.Errorf("normalize with epsilon histogram = %v", a.Histogram)
	}
	if a.Mean != 6.0 {
		t.Errorf("normalize with epsilon mean = %v, want 6.0", a.Mean)
	}
	if !almostEqual(a.RecomputeMean(), 6.25, 1e-9) {
		t.Errorf("RecomputeMean() = %v, want 6.25", a.RecomputeMean())
	}
}

func TestBeforeApart(t *testing.T) {
	a := Uniform(5, 2)
	b := Uniform(8, 2)
	cases := []struct {
		offset Mtime
		want   float64
	}{
		{0, 1.0}, {1, 1.0}, {2, 1.0}, {3, 0.75}, {4, 0.25}, {5, 0.0},
	}
	for _, c := range cases {
		if got := a.BeforeProbability(b, c.offset); !almostEqual(got, c.want, 1e-9) {
			t.Errorf("before_apart(%d) = %v, want %v", c.offset, got, c.want)
		}
	}
}

func TestBeforeOverlap(t *testing.T) {
	a := Uniform(5, 2)
	b := Uniform(6, 2)
	cases := []struct {
		offset Mtime
		want   float64
	}{
		{0, 1.0}, {1, 0.75}, {2, 0.25}, {3, 0.0},
	}
	for _, c := range cases {
		if got := a.BeforeProbability(b, c.offset); !almostEqual(got, c.want, 1e-9) {
			t.Errorf("before_overlap(%d) = %v, want %v", c.offset, got, c.want)
		}
	}
}

func TestBeforeTriangleOverlap(t *testing.T) {
	a := Uniform(5, 3)
	a.Histogram[0] = 0.2
	a.Histogram[1] = 0.6
	a.Histogram[2] = 0.2
	b := Uniform(6, 3)
	b.Histogram[0] = 0.2
	b.Histogram[1] = 0.5
	b.Histogram[2] = 0.3
	cases := []struct {
		offset Mtime
		want   float64
	}{
		{-1, 1.0},
		{0, 0.2 + 0.6 + 0.2*(0.5+0.3)},
		{1, 0.2 + 0.6*(0.5+0.3) + 0.2*0.3},
		{2, 0.2*(0.5+0.3) + 0.6*0.3},
		{3, 0.2 * 0.3},
		{4, 0.0},
	}
	for _, c := range cases {
		if got := a.BeforeProbability(b, c.offset); !almostEqual(got, c.want, 1e-6) {
			t.Errorf("before_triangle_overlap(%d) = %v, want %v", c.offset, got, c.want)
		}
	}
}

func TestBeforeApartAfter(t *testing.T) {
	a := Uniform(8, 2)
	b := Uniform(5, 2)
	cases := []struct {
		offset Mtime
		want   float64
	}{
		{-4, 1.0}, {-3, 0.75}, {-2, 0.25}, {-1, 0.0}, {0, 0.0}, {1, 0.0}, {2, 0.0},
	}
	for _, c := range cases {
		if got := a.BeforeProbability(b, c.offset); !almostEqual(got, c.want, 1e-9) {
			t.Errorf("before_apart_after(%d) = %v, want %v", c.offset, got, c.want)
		}
	}
}

func TestFromBuckets(t *testing.T) {
	buckets := []Bucket{
		{DelayRange{-1, 3}, 50},
		{DelayRange{5, 7}, 50},
		{DelayRange{7, 7}, 22},
		{DelayRange{0, 0}, 5},
	}
	a := FromBuckets(buckets, 100)
	if len(a.Histogram) != 8 || a.Start != -1 {
		t.Fatalf("from_buckets shape = %+v", a)
	}
	if a.Mean != 3.0 {
		t.Errorf("from_buckets mean = %v, want 3.0", a.Mean)
	}
	if !almostEqual(a.Feasibility, 0.95238095238, 1e-6) {
		t.Errorf("from_buckets feasibility = %v", a.Feasibility)
	}
	want := []float64{0.125, 0.125, 0.125, 0.125, 0.0, 0.0, 0.25, 0.25}
	for i, w := range want {
		if !almostEqual(a.Histogram[i], w, 1e-6) {
			t.Errorf("histogram[%d] = %v, want %v", i, a.Histogram[i], w)
		}
	}
}

func TestFromBucketsNonnegative(t *testing.T) {
	buckets := []Bucket{
		{DelayRange{-5, -3}, 25},
		{DelayRange{-1, 3}, 50},
		{DelayRange{6, 8}, 25},
		{DelayRange{0, 0}, 5},
	}
	a := FromBuckets(buckets, 100)
	a.Nonnegative()
	if len(a.Histogram) != 8 || a.Start != 0 {
		t.Fatalf("from_buckets_nonnegative shape = %+v", a)
	}
	if a.Mean != 2.0 {
		t.Errorf("from_buckets_nonnegative mean = %v, want 2.0", a.Mean)
	}
	want := []float64{0.5, 0.125, 0.125, 0.0, 0.0, 0.0, 0.125, 0.125}
	for i, w := range want {
		if !almostEqual(a.Histogram[i], w, 1e-6) {
			t.Errorf("histogram[%d] = %v, want %v", i, a.Histogram[i], w)
		}
	}
}
