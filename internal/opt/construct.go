package opt

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// DefaultPackAttempts bounds the randomized first-fit retries before Pack
// falls back to first-fit-decreasing.
const DefaultPackAttempts = 1000

// Pack assigns every cluster to exactly K vehicles without exceeding Q.
// Randomized first-fit passes are tried up to attempts times; if none opens
// exactly K bins a first-fit-decreasing packing is used, or an exact search
// when that needs more than K bins. Packings with fewer than K bins are
// split until every vehicle has a cluster.
// Cluster order inside each vehicle is shuffled.
func Pack(p *Problem, rng *rand.Rand, attempts int) ([][]int, error) {
	if err := precheckCapacity(p); err != nil {
		return nil, err
	}
	if attempts <= 0 {
		attempts = DefaultPackAttempts
	}
	ids := make([]int, len(p.Clusters))
	for i := range ids {
		ids[i] = i
	}
	for a := 0; a < attempts; a++ {
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		bins := firstFit(p, ids)
		if len(bins) == p.K {
			shuffleBins(rng, bins)
			return bins, nil
		}
	}

	bins := firstFit(p, decreasingDemand(p))
	if ffd := len(bins); ffd > p.K {
		var err error
		bins, err = packExact(p, p.K, DefaultPackNodes)
		if errors.Is(err, errPackBudget) {
			return nil, fmt.Errorf("%w: first-fit-decreasing needs %d vehicles and no %d-vehicle packing was found within %d search nodes",
				ErrInfeasibleCapacity, ffd, p.K, DefaultPackNodes)
		}
		if err != nil {
			return nil, err
		}
	}
	for len(bins) < p.K {
		var splittable []int
		for b := range bins {
			if len(bins[b]) > 1 {
				splittable = append(splittable, b)
			}
		}
		// len(Clusters) >= K guarantees a candidate.
		b := splittable[rng.Intn(len(splittable))]
		i := rng.Intn(len(bins[b]))
		c := bins[b][i]
		bins[b] = append(bins[b][:i], bins[b][i+1:]...)
		bins = append(bins, []int{c})
	}
	shuffleBins(rng, bins)
	return bins, nil
}

func precheckCapacity(p *Problem) error {
	if len(p.Clusters) < p.K {
		return fmt.Errorf("%w: %d clusters for %d vehicles", ErrInfeasibleCapacity, len(p.Clusters), p.K)
	}
	for c, d := range p.Demands {
		if d > p.Q {
			return fmt.Errorf("%w: cluster %d demand %d exceeds capacity %d", ErrInfeasibleCapacity, c+1, d, p.Q)
		}
	}
	if p.total > p.K*p.Q {
		return fmt.Errorf("%w: total demand %d exceeds fleet capacity %d", ErrInfeasibleCapacity, p.total, p.K*p.Q)
	}
	return nil
}

// decreasingDemand lists cluster ids by demand, largest first, ties by id.
func decreasingDemand(p *Problem) []int {
	ids := make([]int, len(p.Clusters))
	for i := range ids {
		ids[i] = i
	}
	sort.SliceStable(ids, func(i, j int) bool {
		if p.Demands[ids[i]] != p.Demands[ids[j]] {
			return p.Demands[ids[i]] > p.Demands[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func firstFit(p *Problem, order []int) [][]int {
	var bins [][]int
	var loads []int
	for _, c := range order {
		d := p.Demands[c]
		placed := false
		for b := range bins {
			if loads[b]+d <= p.Q {
				bins[b] = append(bins[b], c)
				loads[b] += d
				placed = true
				break
			}
		}
		if !placed {
			bins = append(bins, []int{c})
			loads = append(loads, d)
		}
	}
	return bins
}

func shuffleBins(rng *rand.Rand, bins [][]int) {
	for _, b := range bins {
		rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
	}
}

// NewStrongSolution packs the clusters and gives every cluster a random
// customer order.
func NewStrongSolution(p *Problem, rng *rand.Rand, attempts int) (*StrongSolution, error) {
	routes, err := Pack(p, rng, attempts)
	if err != nil {
		return nil, err
	}
	s := &StrongSolution{Routes: routes, Customers: make([][]int, len(p.Clusters))}
	for c, members := range p.Clusters {
		cs := append([]int(nil), members...)
		rng.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
		s.Customers[c] = cs
	}
	s.Distance = s.Evaluate(p)
	return s, nil
}

// NewWeakSolution packs the clusters and shuffles each vehicle's customers as
// one sequence, so clusters start interleaved.
func NewWeakSolution(p *Problem, rng *rand.Rand, attempts int) (*WeakSolution, error) {
	routes, err := Pack(p, rng, attempts)
	if err != nil {
		return nil, err
	}
	s := &WeakSolution{Routes: routes, Tours: make([][]int, len(routes))}
	for v, r := range routes {
		var tour []int
		for _, c := range r {
			tour = append(tour, p.Clusters[c]...)
		}
		rng.Shuffle(len(tour), func(i, j int) { tour[i], tour[j] = tour[j], tour[i] })
		s.Tours[v] = tour
	}
	s.Distance = s.Evaluate(p)
	return s, nil
}

// WeakFromStrong flattens a strong solution into an equivalent weak one.
func WeakFromStrong(s *StrongSolution) *WeakSolution {
	rec := s.Record()
	return &WeakSolution{Routes: rec.Routes, Tours: rec.Tours, Distance: s.Distance}
}
