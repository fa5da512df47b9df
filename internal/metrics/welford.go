package metrics

import "math"

// WelfordState tracks a running mean and variance in constant space using
// Welford's online algorithm.
type WelfordState struct {
	Count int
	Mean  float64
	M2    float64 // sum of squared distances from the mean
}

// Update folds one observation into the state
func (w *WelfordState) Update(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (x - w.Mean)
}

// StdDev is the population standard deviation, 0 below two observations
func (w *WelfordState) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}
