package bargein

import (
	"math"
	"sort"
)

// FrameDurationS is the audio duration covered by one inference frame: 512
// samples at 16 kHz, the window the detector service scores per probability.
const FrameDurationS = 0.032

// SlidingWindowMinMax scores the best sustained run in series: for every
// contiguous window of windowSize values it takes the window minimum, and
// returns the maximum of those minima. A high result means some window held a
// high probability for its entire duration.
//
// Returns -Inf when the series is shorter than the window, meaning no decision
// is possible yet. With windowSize 1 the result degenerates to the plain
// maximum of the series.
func SlidingWindowMinMax(series []float64, windowSize int) float64 {
	if windowSize < 1 || len(series) < windowSize {
		return math.Inf(-1)
	}

	// Monotonic deque of indices; the front always holds the index of the
	// current window's minimum.
	deque := make([]int, 0, windowSize)
	best := math.Inf(-1)
	for i, v := range series {
		for len(deque) > 0 && series[deque[len(deque)-1]] >= v {
			deque = deque[:len(deque)-1]
		}
		deque = append(deque, i)
		if deque[0] <= i-windowSize {
			deque = deque[1:]
		}
		if i >= windowSize-1 && series[deque[0]] > best {
			best = series[deque[0]]
		}
	}
	return best
}

// EstimateProbability returns the n-th largest value in probs, where n is the
// number of frames needed to span windowSizeS seconds of audio. Returns 0 when
// fewer than n samples exist.
//
// This is not SlidingWindowMinMax: it asks how high the n-th best single
// sample is, regardless of where in the series those samples fall, not how
// good the best contiguous run is.
func EstimateProbability(probs []float64, windowSizeS float64) float64 {
	n := int(math.Ceil(windowSizeS / FrameDurationS))
	if n < 1 {
		n = 1
	}
	if len(probs) < n {
		return 0
	}
	sorted := make([]float64, len(probs))
	copy(sorted, probs)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[n-1]
}
