package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cluvrp/internal/model"
)

func TestBuildDistanceMatrix(t *testing.T) {
	pts := []model.Point{{X: 0, Y: 0}, {X: 3, Y: 4}, {X: 1, Y: 1}, {X: 2, Y: 3}, {X: -1, Y: 2}}
	m, err := BuildDistanceMatrix(pts)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Size())
	assert.Equal(t, 5, m.At(0, 1))
	assert.Equal(t, 1, m.At(0, 2)) // 1.414
	assert.Equal(t, 4, m.At(0, 3)) // 3.606
	assert.Equal(t, 2, m.At(0, 4)) // 2.236
	for i := range pts {
		assert.Zero(t, m.At(i, i))
		for j := range pts {
			assert.Equal(t, m.At(i, j), m.At(j, i))
		}
	}
}

func TestBuildDistanceMatrixEmpty(t *testing.T) {
	_, err := BuildDistanceMatrix(nil)
	assert.ErrorIs(t, err, ErrInvalidInstance)
}

func TestRoundDistanceHalvesAwayFromZero(t *testing.T) {
	assert.Equal(t, 3, RoundDistance(2.5))
	assert.Equal(t, 4, RoundDistance(3.5))
	assert.Equal(t, 2, RoundDistance(2.4999))
}

// Integer offsets never produce a distance ending in exactly .5, so the tie
// rule cannot change a matrix entry.
func TestIntegerCoordinatesNeverTie(t *testing.T) {
	for dx := 0; dx <= 200; dx++ {
		for dy := 0; dy <= 200; dy++ {
			d := math.Sqrt(float64(dx*dx + dy*dy))
			_, frac := math.Modf(d)
			require.NotEqual(t, 0.5, frac, "dx=%d dy=%d", dx, dy)
		}
	}
}
