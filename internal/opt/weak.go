package opt

import (
	"math/rand"
)

// Weak-variant neighborhoods, with the same best-improvement contract as the
// strong ones.

// DefaultShakeAttempts bounds the random draws Shake makes before it
// enumerates the feasible exchanges.
const DefaultShakeAttempts = 1000

func (s *WeakSolution) tourPath(p *Problem, v int) path {
	return path{seq: s.Tours[v], head: 0, tail: 0, arc: p.Dist.At}
}

func seqCost(p *Problem, seq []int) int {
	total := 0
	for i := 1; i < len(seq); i++ {
		total += p.Dist.At(seq[i-1], seq[i])
	}
	return total
}

// extract pulls the customers of clusters out of tour. The block lists them
// cluster by cluster in the given order, each in its tour order.
func extract(p *Problem, tour []int, clusters []int) (block, rest []int) {
	buckets := make([][]int, len(clusters))
	for _, v := range tour {
		idx := -1
		for b, c := range clusters {
			if p.clusterOf[v] == c {
				idx = b
				break
			}
		}
		if idx < 0 {
			rest = append(rest, v)
			continue
		}
		buckets[idx] = append(buckets[idx], v)
	}
	for _, b := range buckets {
		block = append(block, b...)
	}
	return block, rest
}

// removal caches one extraction: the block, the remaining tour and the cost
// change of cutting the block out.
type removal struct {
	block, rest []int
	inner       int
	delta       int
}

func newRemoval(p *Problem, tour []int, clusters []int) removal {
	block, rest := extract(p, tour, clusters)
	return removal{block: block, rest: rest, inner: seqCost(p, block), delta: tourCost(p, rest) - tourCost(p, tour)}
}

// bestInsert returns the first cheapest position for block in seq.
func bestInsert(p *Problem, seq []int, block []int) (pos, delta int) {
	pa := path{seq: seq, arc: p.Dist.At}
	first, last := block[0], block[len(block)-1]
	delta = pa.insertDelta(0, first, last)
	for i := 1; i <= len(seq); i++ {
		if d := pa.insertDelta(i, first, last); d < delta {
			pos, delta = i, d
		}
	}
	return pos, delta
}

// weakCustomerSwap exchanges two customers of one vehicle tour, per vehicle.
func weakCustomerSwap(p *Problem, s *WeakSolution) int {
	gain := 0
	for v := range s.Tours {
		pa := s.tourPath(p, v)
		best, bi, bj := 0, 0, 0
		for i := 0; i < len(pa.seq); i++ {
			for j := i + 1; j < len(pa.seq); j++ {
				if d := pa.swapDelta(i, j); d < best {
					best, bi, bj = d, i, j
				}
			}
		}
		if best < 0 {
			pa.seq[bi], pa.seq[bj] = pa.seq[bj], pa.seq[bi]
			s.Distance += best
			gain -= best
		}
	}
	return gain
}

// weakCustomerRelocate moves a run of customers inside one vehicle tour, per
// vehicle.
func weakCustomerRelocate(p *Problem, s *WeakSolution) int {
	gain := 0
	for v := range s.Tours {
		pa := s.tourPath(p, v)
		best, bi, bj, bk := scanRelocate(pa)
		if best < 0 {
			moveWithin(pa.seq, bi, bj, bk)
			s.Distance += best
			gain -= best
		}
	}
	return gain
}

// weakTransfer moves the clusters Routes[From][Start:Start+Len] to vehicle
// To. Their customers travel as one block inserted before tour index At and
// the clusters go to the front of the receiving route.
type weakTransfer struct {
	From, Start, Len, To, At int
}

func (m weakTransfer) apply(p *Problem, s *WeakSolution) int {
	before := tourCost(p, s.Tours[m.From]) + tourCost(p, s.Tours[m.To])
	src := s.Routes[m.From]
	run := append([]int(nil), src[m.Start:m.Start+m.Len]...)
	block, rest := extract(p, s.Tours[m.From], run)
	s.Tours[m.From] = rest
	s.Tours[m.To] = insertAt(s.Tours[m.To], m.At, block)
	s.Routes[m.From] = append(src[:m.Start:m.Start], src[m.Start+m.Len:]...)
	s.Routes[m.To] = append(run, s.Routes[m.To]...)
	after := tourCost(p, s.Tours[m.From]) + tourCost(p, s.Tours[m.To])
	s.Distance += after - before
	return before - after
}

// weakClusterTransfer relocates a run of consecutive clusters, with all their
// customers, to another vehicle with spare capacity. The source vehicle keeps
// at least one cluster.
func weakClusterTransfer(p *Problem, s *WeakSolution) int {
	loads := make([]int, len(s.Routes))
	for v, r := range s.Routes {
		loads[v] = p.load(r)
	}
	best := 0
	var bm weakTransfer
	for i, src := range s.Routes {
		n := len(src)
		// removals[k][m] covers the run src[k:k+m].
		removals := make([][]removal, n)
		for k := 0; k < n; k++ {
			removals[k] = make([]removal, n)
			for m := 1; m < n && k+m <= n; m++ {
				removals[k][m] = newRemoval(p, s.Tours[i], src[k:k+m])
			}
		}
		for j := range s.Routes {
			if j == i {
				continue
			}
			dst := path{seq: s.Tours[j], arc: p.Dist.At}
			for k := 0; k < n; k++ {
				run := 0
				for m := 1; m < n && k+m <= n; m++ {
					run += p.Demands[src[k+m-1]]
					if loads[j]+run > p.Q {
						break
					}
					rm := removals[k][m]
					first, last := rm.block[0], rm.block[len(rm.block)-1]
					for l := 0; l <= len(dst.seq); l++ {
						if d := rm.delta + rm.inner + dst.insertDelta(l, first, last); d < best {
							best = d
							bm = weakTransfer{From: i, Start: k, Len: m, To: j, At: l}
						}
					}
				}
			}
		}
	}
	if best < 0 {
		return bm.apply(p, s)
	}
	return 0
}

// weakExchange swaps cluster Routes[V1][I1] with Routes[V2][I2]. Each block
// keeps its customer order and is inserted into the other tour, after the
// outgoing block is removed, before index At1 (vehicle V1) or At2 (V2).
type weakExchange struct {
	V1, I1, V2, I2 int
	At1, At2       int
}

func (m weakExchange) apply(p *Problem, s *WeakSolution) int {
	before := tourCost(p, s.Tours[m.V1]) + tourCost(p, s.Tours[m.V2])
	a, b := s.Routes[m.V1][m.I1], s.Routes[m.V2][m.I2]
	blockA, restA := extract(p, s.Tours[m.V1], []int{a})
	blockB, restB := extract(p, s.Tours[m.V2], []int{b})
	s.Tours[m.V1] = insertAt(restA, m.At1, blockB)
	s.Tours[m.V2] = insertAt(restB, m.At2, blockA)
	s.Routes[m.V1][m.I1], s.Routes[m.V2][m.I2] = b, a
	after := tourCost(p, s.Tours[m.V1]) + tourCost(p, s.Tours[m.V2])
	s.Distance += after - before
	return before - after
}

// weakClusterExchange swaps one cluster between two vehicles, each block
// reinserted at its cheapest position, when both stay within capacity.
func weakClusterExchange(p *Problem, s *WeakSolution) int {
	loads := make([]int, len(s.Routes))
	removals := make([][]removal, len(s.Routes))
	for v, r := range s.Routes {
		loads[v] = p.load(r)
		removals[v] = make([]removal, len(r))
		for k, c := range r {
			removals[v][k] = newRemoval(p, s.Tours[v], []int{c})
		}
	}
	best := 0
	var bm weakExchange
	for i := range s.Routes {
		for j := i + 1; j < len(s.Routes); j++ {
			for k, a := range s.Routes[i] {
				for l, b := range s.Routes[j] {
					da, db := p.Demands[a], p.Demands[b]
					if loads[i]-da+db > p.Q || loads[j]-db+da > p.Q {
						continue
					}
					ra, rb := removals[i][k], removals[j][l]
					at1, ins1 := bestInsert(p, ra.rest, rb.block)
					at2, ins2 := bestInsert(p, rb.rest, ra.block)
					d := ra.delta + rb.delta + rb.inner + ins1 + ra.inner + ins2
					if d < best {
						best = d
						bm = weakExchange{V1: i, I1: k, V2: j, I2: l, At1: at1, At2: at2}
					}
				}
			}
		}
	}
	if best < 0 {
		return bm.apply(p, s)
	}
	return 0
}

// Shake applies one random feasible cluster exchange between two vehicles,
// placing each moved block at the head of its new tour. Random draws are
// bounded by attempts; after that a feasible exchange is chosen uniformly
// from the full list. ErrNoFeasibleShake is returned when none exists.
func Shake(p *Problem, s *WeakSolution, rng *rand.Rand, attempts int) error {
	if len(s.Routes) < 2 {
		return ErrNoFeasibleShake
	}
	if attempts <= 0 {
		attempts = DefaultShakeAttempts
	}
	loads := make([]int, len(s.Routes))
	for v, r := range s.Routes {
		loads[v] = p.load(r)
	}
	feasible := func(i, k, j, l int) bool {
		a, b := s.Routes[i][k], s.Routes[j][l]
		return loads[i]-p.Demands[a]+p.Demands[b] <= p.Q && loads[j]-p.Demands[b]+p.Demands[a] <= p.Q
	}
	for n := 0; n < attempts; n++ {
		i, j := rng.Intn(len(s.Routes)), rng.Intn(len(s.Routes))
		if i == j {
			continue
		}
		k, l := rng.Intn(len(s.Routes[i])), rng.Intn(len(s.Routes[j]))
		if feasible(i, k, j, l) {
			weakExchange{V1: i, I1: k, V2: j, I2: l}.apply(p, s)
			return nil
		}
	}
	var options []weakExchange
	for i := range s.Routes {
		for j := i + 1; j < len(s.Routes); j++ {
			for k := range s.Routes[i] {
				for l := range s.Routes[j] {
					if feasible(i, k, j, l) {
						options = append(options, weakExchange{V1: i, I1: k, V2: j, I2: l})
					}
				}
			}
		}
	}
	if len(options) == 0 {
		return ErrNoFeasibleShake
	}
	options[rng.Intn(len(options))].apply(p, s)
	return nil
}
