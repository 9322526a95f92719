package opt

import (
	"fmt"
	"math"

	"cluvrp/internal/model"
)

// DistanceMatrix is a dense, symmetric table of rounded Euclidean distances.
type DistanceMatrix struct {
	n int
	d []int
}

// BuildDistanceMatrix rounds each Euclidean distance to the nearest integer,
// halves away from zero. Integer coordinates never land exactly on a half,
// so the tie rule only matters for callers feeding fractional data through
// RoundDistance directly.
func BuildDistanceMatrix(points []model.Point) (*DistanceMatrix, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no points", ErrInvalidInstance)
	}
	n := len(points)
	m := &DistanceMatrix{n: n, d: make([]int, n*n)}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := float64(points[i].X - points[j].X)
			dy := float64(points[i].Y - points[j].Y)
			v := RoundDistance(math.Sqrt(dx*dx + dy*dy))
			m.d[i*n+j] = v
			m.d[j*n+i] = v
		}
	}
	return m, nil
}

// RoundDistance is the rounding rule used for every matrix entry.
func RoundDistance(v float64) int { return int(math.Round(v)) }

// At returns the distance between points i and j.
func (m *DistanceMatrix) At(i, j int) int { return m.d[i*m.n+j] }

// Size is the number of points, depot included.
func (m *DistanceMatrix) Size() int { return m.n }
