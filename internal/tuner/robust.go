package tuner

import "sort"

// Median of xs; zero for an empty slice.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := sorted(xs)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Quantiles returns the n-1 cut points dividing xs into n groups, using the
// exclusive interpolation method (the sample is treated as drawn from a
// larger population). At least two samples are required.
func Quantiles(xs []float64, n int) []float64 {
	ld := len(xs)
	if n < 1 || ld < 2 {
		return nil
	}
	s := sorted(xs)
	m := ld + 1
	out := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		j := i * m / n
		if j < 1 {
			j = 1
		} else if j > ld-1 {
			j = ld - 1
		}
		delta := i*m - j*n
		out = append(out, (s[j-1]*float64(n-delta)+s[j]*float64(delta))/float64(n))
	}
	return out
}

// P75 is the third quartile, or the median below four samples.
func P75(xs []float64) float64 {
	if len(xs) < 4 {
		return Median(xs)
	}
	return Quantiles(xs, 4)[2]
}

func sorted(xs []float64) []float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	return s
}
