package opt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"cluvrp/internal/model"
)

// randomInstance builds a feasible instance: capacity leaves one maximal
// demand of slack per vehicle, so first-fit never needs more than k bins.
func randomInstance(seed int64, clusters, perCluster, k int) model.Instance {
	rng := rand.New(rand.NewSource(seed))
	inst := model.Instance{Name: "R", K: k, R: clusters}
	inst.Points = append(inst.Points, model.Point{X: 50, Y: 50})
	total := 0
	for c := 0; c < clusters; c++ {
		cx, cy := rng.Intn(100), rng.Intn(100)
		size := 1 + rng.Intn(perCluster)
		var members []int
		for i := 0; i < size; i++ {
			members = append(members, len(inst.Points))
			inst.Points = append(inst.Points, model.Point{X: cx + rng.Intn(15), Y: cy + rng.Intn(15)})
		}
		inst.Clusters = append(inst.Clusters, members)
		d := 1 + rng.Intn(10)
		inst.Demands = append(inst.Demands, d)
		total += d
	}
	inst.N = len(inst.Points)
	inst.Q = (total+k-1)/k + 10
	return inst
}

func mustProblem(t *testing.T, inst model.Instance) *Problem {
	t.Helper()
	p, err := NewProblem(inst)
	require.NoError(t, err)
	return p
}

func mustStrong(t *testing.T, p *Problem, seed int64) *StrongSolution {
	t.Helper()
	s, err := NewStrongSolution(p, rand.New(rand.NewSource(seed)), 0)
	require.NoError(t, err)
	return s
}

func mustWeak(t *testing.T, p *Problem, seed int64) *WeakSolution {
	t.Helper()
	s, err := NewWeakSolution(p, rand.New(rand.NewSource(seed)), 0)
	require.NoError(t, err)
	return s
}
