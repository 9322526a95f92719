package opt

// Strong-variant neighborhoods. Every operator scans its whole move space
// against the current solution using score-only deltas, keeps the first
// strictly best candidate, and commits only that one. The return value is the
// distance saved (0 when nothing improved).

// customerPath is the path through cluster c between the neighbouring
// clusters' endpoints.
func (s *StrongSolution) customerPath(p *Problem, c, prev, next int) path {
	return path{seq: s.Customers[c], head: s.tail(prev), tail: s.head(next), arc: p.Dist.At}
}

// clusterPath treats each cluster of vehicle v as one node; arcs join the
// tail of one cluster to the head of the next, with -1 as the depot.
func (s *StrongSolution) clusterPath(p *Problem, v int) path {
	return path{seq: s.Routes[v], head: -1, tail: -1, arc: func(a, b int) int {
		return p.Dist.At(s.tail(a), s.head(b))
	}}
}

// neighbours returns the clusters visited before and after each cluster,
// -1 standing for the depot.
func (s *StrongSolution) neighbours(nClusters int) (prev, next []int) {
	prev = make([]int, nClusters)
	next = make([]int, nClusters)
	for _, r := range s.Routes {
		for i, c := range r {
			prev[c], next[c] = -1, -1
			if i > 0 {
				prev[c] = r[i-1]
			}
			if i+1 < len(r) {
				next[c] = r[i+1]
			}
		}
	}
	return prev, next
}

// strongCustomerSwap exchanges two customers inside one cluster, per cluster.
func strongCustomerSwap(p *Problem, s *StrongSolution) int {
	prev, next := s.neighbours(len(p.Clusters))
	gain := 0
	for c := range s.Customers {
		pa := s.customerPath(p, c, prev[c], next[c])
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

// strongCustomerRelocate moves a run of customers inside one cluster, per
// cluster.
func strongCustomerRelocate(p *Problem, s *StrongSolution) int {
	prev, next := s.neighbours(len(p.Clusters))
	gain := 0
	for c := range s.Customers {
		pa := s.customerPath(p, c, prev[c], next[c])
		best, bi, bj, bk := scanRelocate(pa)
		if best < 0 {
			moveWithin(pa.seq, bi, bj, bk)
			s.Distance += best
			gain -= best
		}
	}
	return gain
}

// scanRelocate enumerates start i, target j and run length k of an
// intra-sequence relocation.
func scanRelocate(pa path) (best, bi, bj, bk int) {
	n := len(pa.seq)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 1; i+k <= n && j+k <= n; k++ {
				if d := pa.relocateDelta(i, j, k); d < best {
					best, bi, bj, bk = d, i, j, k
				}
			}
		}
	}
	return best, bi, bj, bk
}

// strongClusterSwap exchanges two clusters inside one vehicle, per vehicle.
func strongClusterSwap(p *Problem, s *StrongSolution) int {
	gain := 0
	for v := range s.Routes {
		pa := s.clusterPath(p, v)
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

// strongClusterRelocate moves a run of clusters inside one vehicle, per
// vehicle.
func strongClusterRelocate(p *Problem, s *StrongSolution) int {
	gain := 0
	for v := range s.Routes {
		pa := s.clusterPath(p, v)
		best, bi, bj, bk := scanRelocate(pa)
		if best < 0 {
			moveWithin(pa.seq, bi, bj, bk)
			s.Distance += best
			gain -= best
		}
	}
	return gain
}

// clusterTransfer moves Routes[From][Start:Start+Len] into vehicle To so the
// run starts at index At.
type clusterTransfer struct {
	From, Start, Len, To, At int
}

func (m clusterTransfer) delta(p *Problem, s *StrongSolution) int {
	src, dst := s.clusterPath(p, m.From), s.clusterPath(p, m.To)
	return src.removeDelta(m.Start, m.Len) + dst.insertDelta(m.At, src.seq[m.Start], src.seq[m.Start+m.Len-1])
}

func (m clusterTransfer) apply(p *Problem, s *StrongSolution) {
	s.Distance += m.delta(p, s)
	src := s.Routes[m.From]
	run := append([]int(nil), src[m.Start:m.Start+m.Len]...)
	s.Routes[m.From] = append(src[:m.Start:m.Start], src[m.Start+m.Len:]...)
	s.Routes[m.To] = insertAt(s.Routes[m.To], m.At, run)
}

// strongClusterTransfer moves a run of clusters to another vehicle with
// spare capacity. The source vehicle always keeps at least one cluster.
func strongClusterTransfer(p *Problem, s *StrongSolution) int {
	loads := make([]int, len(s.Routes))
	paths := make([]path, len(s.Routes))
	for v, r := range s.Routes {
		loads[v] = p.load(r)
		paths[v] = s.clusterPath(p, v)
	}
	best := 0
	var bm clusterTransfer
	for i, src := range paths {
		for j := range src.seq {
			for k, dst := range paths {
				if k == i {
					continue
				}
				for l := 0; l <= len(dst.seq); l++ {
					run := 0
					for m := 1; j+m <= len(src.seq) && m < len(src.seq); m++ {
						run += p.Demands[src.seq[j+m-1]]
						if loads[k]+run > p.Q {
							break
						}
						d := src.removeDelta(j, m) + dst.insertDelta(l, src.seq[j], src.seq[j+m-1])
						if d < best {
							best = d
							bm = clusterTransfer{From: i, Start: j, Len: m, To: k, At: l}
						}
					}
				}
			}
		}
	}
	if best < 0 {
		bm.apply(p, s)
		return -best
	}
	return 0
}

// clusterExchange swaps Routes[V1][I1] with Routes[V2][I2]. It is its own
// inverse.
type clusterExchange struct {
	V1, I1, V2, I2 int
}

func (m clusterExchange) delta(p *Problem, s *StrongSolution) int {
	a, b := s.Routes[m.V1][m.I1], s.Routes[m.V2][m.I2]
	return s.clusterPath(p, m.V1).replaceDelta(m.I1, b) + s.clusterPath(p, m.V2).replaceDelta(m.I2, a)
}

func (m clusterExchange) apply(p *Problem, s *StrongSolution) {
	s.Distance += m.delta(p, s)
	r1, r2 := s.Routes[m.V1], s.Routes[m.V2]
	r1[m.I1], r2[m.I2] = r2[m.I2], r1[m.I1]
}

// strongClusterExchange swaps one cluster between two vehicles when both
// stay within capacity.
func strongClusterExchange(p *Problem, s *StrongSolution) int {
	loads := make([]int, len(s.Routes))
	paths := make([]path, len(s.Routes))
	for v, r := range s.Routes {
		loads[v] = p.load(r)
		paths[v] = s.clusterPath(p, v)
	}
	best := 0
	var bm clusterExchange
	for i := range paths {
		for j := i + 1; j < len(paths); j++ {
			for k, a := range paths[i].seq {
				for l, b := range paths[j].seq {
					da, db := p.Demands[a], p.Demands[b]
					if loads[i]-da+db > p.Q || loads[j]-db+da > p.Q {
						continue
					}
					if d := paths[i].replaceDelta(k, b) + paths[j].replaceDelta(l, a); d < best {
						best = d
						bm = clusterExchange{V1: i, I1: k, V2: j, I2: l}
					}
				}
			}
		}
	}
	if best < 0 {
		bm.apply(p, s)
		return -best
	}
	return 0
}
