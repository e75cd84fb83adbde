package serviceimpl

import "math"

const (
	labelUndefined = -2
	labelNoise     = -1
)

// dbscanCosine runs DBSCAN over cosine distance (1 - cosine similarity).
// Returns one label per vector; labelNoise marks outliers. Labels are
// assigned in scan order, so identical input yields identical labels.
// Zero-norm vectors are at distance 1 from everything and end up noise
// under any eps < 1.
func dbscanCosine(vectors [][]float32, eps float64, minSamples int) []int {
	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = labelUndefined
	}
	if n == 0 {
		return labels
	}

	units := make([][]float32, n)
	for i, vec := range vectors {
		units[i] = unitVector(vec)
	}

	next := 0
	for i := 0; i < n; i++ {
		if labels[i] != labelUndefined {
			continue
		}
		neighbors := regionQuery(units, i, eps)
		if len(neighbors) < minSamples {
			labels[i] = labelNoise
			continue
		}

		labels[i] = next
		seeds := append([]int(nil), neighbors...)
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == labelNoise {
				// Border point reachable from a core point
				labels[j] = next
			}
			if labels[j] != labelUndefined {
				continue
			}
			labels[j] = next
			jNeighbors := regionQuery(units, j, eps)
			if len(jNeighbors) >= minSamples {
				seeds = append(seeds, jNeighbors...)
			}
		}
		next++
	}
	return labels
}

// regionQuery returns the indices within eps of point i, including i
// itself, matching the neighborhood definition DBSCAN counts core points
// against.
func regionQuery(units [][]float32, i int, eps float64) []int {
	var out []int
	for j := range units {
		if cosineDistanceUnits(units[i], units[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func cosineDistanceUnits(a, b []float32) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 1.0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1.0 - dot
}

// unitVector returns nil for zero-norm input.
func unitVector(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm <= 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}
