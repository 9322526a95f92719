package opt

import (
	"fmt"

	"cluvrp/internal/model"
)

// StrongSolution visits every cluster as one contiguous block. Routes holds
// the cluster order per vehicle and Customers the visiting order inside each
// cluster, indexed by cluster id.
type StrongSolution struct {
	Routes    [][]int
	Customers [][]int
	Distance  int
}

// WeakSolution keeps clusters vehicle-exclusive but lets a vehicle interleave
// the customers of its clusters freely.
type WeakSolution struct {
	Routes   [][]int
	Tours    [][]int
	Distance int
}

func cloneRows(rows [][]int) [][]int {
	out := make([][]int, len(rows))
	for i, r := range rows {
		out[i] = append([]int(nil), r...)
	}
	return out
}

func (s *StrongSolution) Clone() *StrongSolution {
	return &StrongSolution{Routes: cloneRows(s.Routes), Customers: cloneRows(s.Customers), Distance: s.Distance}
}

func (s *WeakSolution) Clone() *WeakSolution {
	return &WeakSolution{Routes: cloneRows(s.Routes), Tours: cloneRows(s.Tours), Distance: s.Distance}
}

// head and tail return the first and last customer of cluster c, or the
// depot for the sentinel -1.
func (s *StrongSolution) head(c int) int {
	if c < 0 {
		return 0
	}
	return s.Customers[c][0]
}

func (s *StrongSolution) tail(c int) int {
	if c < 0 {
		return 0
	}
	cs := s.Customers[c]
	return cs[len(cs)-1]
}

func (s *StrongSolution) routeCost(p *Problem, route []int) int {
	total := 0
	prev := 0
	for _, c := range route {
		cs := s.Customers[c]
		total += p.Dist.At(prev, cs[0])
		for i := 1; i < len(cs); i++ {
			total += p.Dist.At(cs[i-1], cs[i])
		}
		prev = cs[len(cs)-1]
	}
	return total + p.Dist.At(prev, 0)
}

// Evaluate recomputes the total distance from scratch. It does not touch the
// cached Distance.
func (s *StrongSolution) Evaluate(p *Problem) int {
	total := 0
	for _, r := range s.Routes {
		total += s.routeCost(p, r)
	}
	return total
}

func tourCost(p *Problem, tour []int) int {
	if len(tour) == 0 {
		return 0
	}
	total := p.Dist.At(0, tour[0])
	for i := 1; i < len(tour); i++ {
		total += p.Dist.At(tour[i-1], tour[i])
	}
	return total + p.Dist.At(tour[len(tour)-1], 0)
}

func (s *WeakSolution) Evaluate(p *Problem) int {
	total := 0
	for _, t := range s.Tours {
		total += tourCost(p, t)
	}
	return total
}

// validateRoutes checks the vehicle count, capacity and that every cluster is
// assigned exactly once.
func validateRoutes(p *Problem, routes [][]int) error {
	if len(routes) != p.K {
		return fmt.Errorf("%d vehicles, want %d", len(routes), p.K)
	}
	seen := make([]bool, len(p.Clusters))
	for v, r := range routes {
		if len(r) == 0 {
			return fmt.Errorf("vehicle %d is empty", v+1)
		}
		for _, c := range r {
			if c < 0 || c >= len(p.Clusters) {
				return fmt.Errorf("vehicle %d: unknown cluster %d", v+1, c+1)
			}
			if seen[c] {
				return fmt.Errorf("cluster %d assigned twice", c+1)
			}
			seen[c] = true
		}
		if l := p.load(r); l > p.Q {
			return fmt.Errorf("vehicle %d: load %d exceeds capacity %d", v+1, l, p.Q)
		}
	}
	for c, ok := range seen {
		if !ok {
			return fmt.Errorf("cluster %d unassigned", c+1)
		}
	}
	return nil
}

// Validate reports the first broken structural invariant, or nil.
func (s *StrongSolution) Validate(p *Problem) error {
	if err := validateRoutes(p, s.Routes); err != nil {
		return err
	}
	if len(s.Customers) != len(p.Clusters) {
		return fmt.Errorf("%d customer orders, want %d", len(s.Customers), len(p.Clusters))
	}
	for c, cs := range s.Customers {
		if !samePermutation(cs, p.Clusters[c]) {
			return fmt.Errorf("cluster %d: customer order is not a permutation of its members", c+1)
		}
	}
	if d := s.Evaluate(p); d != s.Distance {
		return fmt.Errorf("cached distance %d, recomputed %d", s.Distance, d)
	}
	return nil
}

func (s *WeakSolution) Validate(p *Problem) error {
	if err := validateRoutes(p, s.Routes); err != nil {
		return err
	}
	if len(s.Tours) != len(s.Routes) {
		return fmt.Errorf("%d tours for %d vehicles", len(s.Tours), len(s.Routes))
	}
	for v, r := range s.Routes {
		var want []int
		for _, c := range r {
			want = append(want, p.Clusters[c]...)
		}
		if !samePermutation(s.Tours[v], want) {
			return fmt.Errorf("vehicle %d: tour does not match its clusters", v+1)
		}
	}
	if d := s.Evaluate(p); d != s.Distance {
		return fmt.Errorf("cached distance %d, recomputed %d", s.Distance, d)
	}
	return nil
}

func samePermutation(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	count := map[int]int{}
	for _, v := range a {
		count[v]++
	}
	for _, v := range b {
		count[v]--
		if count[v] < 0 {
			return false
		}
	}
	return true
}

// Record converts the solution to its file form.
func (s *StrongSolution) Record() model.Solution {
	tours := make([][]int, len(s.Routes))
	for v, r := range s.Routes {
		for _, c := range r {
			tours[v] = append(tours[v], s.Customers[c]...)
		}
	}
	return model.Solution{Variant: model.Strong, Distance: s.Distance, Routes: cloneRows(s.Routes), Tours: tours}
}

func (s *WeakSolution) Record() model.Solution {
	return model.Solution{Variant: model.Weak, Distance: s.Distance, Routes: cloneRows(s.Routes), Tours: cloneRows(s.Tours)}
}

// StrongFromRecord rebuilds a strong solution, splitting each vehicle tour
// into per-cluster blocks by route order.
func StrongFromRecord(p *Problem, rec model.Solution) (*StrongSolution, error) {
	s := &StrongSolution{Routes: cloneRows(rec.Routes), Customers: make([][]int, len(p.Clusters))}
	if len(rec.Tours) != len(rec.Routes) {
		return nil, fmt.Errorf("%w: %d tours for %d routes", ErrInvalidInstance, len(rec.Tours), len(rec.Routes))
	}
	for v, r := range rec.Routes {
		tour := rec.Tours[v]
		pos := 0
		for _, c := range r {
			if c < 0 || c >= len(p.Clusters) {
				return nil, fmt.Errorf("%w: unknown cluster %d", ErrInvalidInstance, c+1)
			}
			size := len(p.Clusters[c])
			if pos+size > len(tour) {
				return nil, fmt.Errorf("%w: vehicle %d tour too short", ErrInvalidInstance, v+1)
			}
			s.Customers[c] = append([]int(nil), tour[pos:pos+size]...)
			pos += size
		}
		if pos != len(tour) {
			return nil, fmt.Errorf("%w: vehicle %d tour has %d extra customers", ErrInvalidInstance, v+1, len(tour)-pos)
		}
	}
	s.Distance = s.Evaluate(p)
	if err := s.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}
	return s, nil
}

// WeakFromRecord accepts either variant's record; a strong record is a valid
// weak solution.
func WeakFromRecord(p *Problem, rec model.Solution) (*WeakSolution, error) {
	s := &WeakSolution{Routes: cloneRows(rec.Routes), Tours: cloneRows(rec.Tours)}
	s.Distance = s.Evaluate(p)
	if err := s.Validate(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstance, err)
	}
	return s, nil
}
