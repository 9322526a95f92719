package opt

import (
	"fmt"
	"strings"
)

// Operator is a named best-improvement neighborhood. Apply commits at most
// the best move per scanned unit and returns the distance saved.
type Operator[S any] struct {
	Name  string
	Apply func(p *Problem, s S) int
}

// DescentStats summarises one descent to a local optimum.
type DescentStats struct {
	Gain         int
	Passes       int
	Improvements map[string]int
}

// Descend exhausts each operator in order while it keeps improving, and
// repeats the cycle until a full pass improves nothing.
func Descend[S any](p *Problem, s S, ops []Operator[S]) DescentStats {
	st := DescentStats{Improvements: map[string]int{}}
	for {
		improved := false
		for _, op := range ops {
			for {
				g := op.Apply(p, s)
				if g <= 0 {
					break
				}
				st.Gain += g
				st.Improvements[op.Name]++
				improved = true
			}
		}
		st.Passes++
		if !improved {
			return st
		}
	}
}

var strongCatalogue = map[string]func(*Problem, *StrongSolution) int{
	"move1": strongCustomerSwap,
	"move2": strongCustomerRelocate,
	"move3": strongClusterSwap,
	"move4": strongClusterRelocate,
	"move5": strongClusterTransfer,
	"move6": strongClusterExchange,
}

var weakCatalogue = map[string]func(*Problem, *WeakSolution) int{
	"move1": weakCustomerSwap,
	"move2": weakCustomerRelocate,
	"move3": weakClusterTransfer,
	"move4": weakClusterExchange,
}

var (
	DefaultStrongOrder = []string{"move1", "move2", "move3", "move4", "move5", "move6"}
	DefaultWeakOrder   = []string{"move2", "move1", "move4", "move3"}
)

func buildOperators[S any](catalogue map[string]func(*Problem, S) int, names []string) ([]Operator[S], error) {
	ops := make([]Operator[S], 0, len(names))
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		fn, ok := catalogue[key]
		if !ok {
			return nil, fmt.Errorf("unknown move %q", n)
		}
		ops = append(ops, Operator[S]{Name: key, Apply: fn})
	}
	return ops, nil
}

// StrongOperators resolves move names; nil selects DefaultStrongOrder.
func StrongOperators(names []string) ([]Operator[*StrongSolution], error) {
	if len(names) == 0 {
		names = DefaultStrongOrder
	}
	return buildOperators(strongCatalogue, names)
}

// WeakOperators resolves move names; nil selects DefaultWeakOrder.
func WeakOperators(names []string) ([]Operator[*WeakSolution], error) {
	if len(names) == 0 {
		names = DefaultWeakOrder
	}
	return buildOperators(weakCatalogue, names)
}
