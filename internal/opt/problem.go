package opt

import (
	"errors"
	"fmt"

	"cluvrp/internal/model"
)

var (
	ErrInvalidInstance    = errors.New("invalid instance")
	ErrInfeasibleCapacity = errors.New("infeasible capacity")
	// ErrNoFeasibleShake means no pair of clusters on distinct vehicles can
	// be exchanged within capacity.
	ErrNoFeasibleShake = errors.New("no feasible shake")
)

// Problem is the immutable configuration shared by every search component.
type Problem struct {
	Name     string
	K        int
	Q        int
	Dist     *DistanceMatrix
	Clusters [][]int
	Demands  []int

	clusterOf []int
	total     int
}

// NewProblem validates an instance and derives the lookup tables used by the
// moves. Customers are indexed 1..N-1; index 0 is the depot.
func NewProblem(inst model.Instance) (*Problem, error) {
	dist, err := BuildDistanceMatrix(inst.Points)
	if err != nil {
		return nil, err
	}
	n := len(inst.Points)
	if inst.K < 1 {
		return nil, fmt.Errorf("%w: vehicle count %d", ErrInvalidInstance, inst.K)
	}
	if len(inst.Clusters) == 0 {
		return nil, fmt.Errorf("%w: no clusters", ErrInvalidInstance)
	}
	if len(inst.Demands) != len(inst.Clusters) {
		return nil, fmt.Errorf("%w: %d demands for %d clusters", ErrInvalidInstance, len(inst.Demands), len(inst.Clusters))
	}
	if len(inst.Clusters) < inst.K {
		return nil, fmt.Errorf("%w: %d clusters cannot fill %d vehicles", ErrInvalidInstance, len(inst.Clusters), inst.K)
	}
	p := &Problem{
		Name:      inst.Name,
		K:         inst.K,
		Q:         inst.Q,
		Dist:      dist,
		Clusters:  make([][]int, len(inst.Clusters)),
		Demands:   append([]int(nil), inst.Demands...),
		clusterOf: make([]int, n),
	}
	for i := range p.clusterOf {
		p.clusterOf[i] = -1
	}
	for c, members := range inst.Clusters {
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: cluster %d is empty", ErrInvalidInstance, c+1)
		}
		for _, v := range members {
			if v <= 0 || v >= n {
				return nil, fmt.Errorf("%w: cluster %d references customer %d", ErrInvalidInstance, c+1, v+1)
			}
			if p.clusterOf[v] != -1 {
				return nil, fmt.Errorf("%w: customer %d in clusters %d and %d", ErrInvalidInstance, v+1, p.clusterOf[v]+1, c+1)
			}
			p.clusterOf[v] = c
		}
		p.Clusters[c] = append([]int(nil), members...)
		if p.Demands[c] < 0 {
			return nil, fmt.Errorf("%w: cluster %d has negative demand", ErrInvalidInstance, c+1)
		}
		p.total += p.Demands[c]
	}
	for v := 1; v < n; v++ {
		if p.clusterOf[v] == -1 {
			return nil, fmt.Errorf("%w: customer %d belongs to no cluster", ErrInvalidInstance, v+1)
		}
	}
	return p, nil
}

// ClusterOf returns the cluster owning customer v.
func (p *Problem) ClusterOf(v int) int { return p.clusterOf[v] }

// TotalDemand is the sum of all cluster demands.
func (p *Problem) TotalDemand() int { return p.total }

func (p *Problem) load(route []int) int {
	sum := 0
	for _, c := range route {
		sum += p.Demands[c]
	}
	return sum
}
